package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/podweave/podweave/internal/config"
)

var (
	statusCanvas string
	statusRuns   int
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "podweave %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, queued work and recent runs",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusCanvas, "canvas", "", "limit to one canvas")
	statusCmd.Flags().IntVar(&statusRuns, "runs", 20, "number of recent runs to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	printHeader(out, "📊 podweave status")
	fmt.Fprintf(out, "Version: %s\n", version)

	path, _ := config.ConfigPath()
	_, statErr := os.Stat(path)
	fmt.Fprintf(out, "Config:  %s %s\n", check(statErr == nil), path)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "API key: %s\n", check(cfg.Model.APIKey != ""))
	fmt.Fprintf(out, "Model:   %s (%s)\n", cfg.Model.Name, cfg.Model.APIBase)

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	fmt.Fprintf(out, "Store:   %s (%s)\n", cfg.Store.Path, st.Driver())

	queued, err := st.ListQueue(statusCanvas)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nQueued (%d):\n", len(queued))
	for _, q := range queued {
		kind := "raw"
		if q.Summarized {
			kind = "summary"
		}
		if q.Joined > 1 {
			kind = fmt.Sprintf("join of %d", q.Joined)
		}
		fmt.Fprintf(out, "  [%s] %s <- %s #%d %s since %s\n", q.CanvasID, q.TargetID, q.SourceID,
			q.Position, kind, q.EnqueuedAt.Local().Format("15:04:05"))
	}

	runs, err := st.ListRuns(statusCanvas, statusRuns)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nRecent runs (%d):\n", len(runs))
	for _, r := range runs {
		line := fmt.Sprintf("  %s [%s] %-22s", r.CreatedAt.Local().Format("01-02 15:04:05"), r.CanvasID, r.Kind)
		switch {
		case r.SourceID != "" && r.TargetID != "":
			line += fmt.Sprintf(" %s -> %s", r.SourceID, r.TargetID)
		case r.TargetID != "":
			line += " " + r.TargetID
		case r.SourceID != "":
			line += " " + r.SourceID
		}
		if len(r.PodIDs) > 0 {
			line += fmt.Sprintf(" pods=%v", r.PodIDs)
		}
		if r.Reason != "" {
			line += " " + color.HiBlackString(r.Reason)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
