package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/podweave/podweave/internal/canvas"
	"github.com/podweave/podweave/internal/store"
)

var (
	canvasReplace bool
	canvasJSON    bool
)

var canvasCmd = &cobra.Command{
	Use:   "canvas",
	Short: "Manage canvases",
}

var canvasImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import a canvas definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runCanvasImport,
}

var canvasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List canvases",
	RunE:  runCanvasList,
}

var canvasShowCmd = &cobra.Command{
	Use:   "show <canvas>",
	Short: "Show pods, connections and triggers of a canvas",
	Args:  cobra.ExactArgs(1),
	RunE:  runCanvasShow,
}

var canvasDeleteCmd = &cobra.Command{
	Use:   "delete <canvas>",
	Short: "Delete a canvas and its run log",
	Args:  cobra.ExactArgs(1),
	RunE:  runCanvasDelete,
}

func init() {
	canvasImportCmd.Flags().BoolVar(&canvasReplace, "replace", false, "replace an existing canvas with the same name")
	canvasShowCmd.Flags().BoolVar(&canvasJSON, "json", false, "print the canvas as JSON")
	canvasCmd.AddCommand(canvasImportCmd, canvasListCmd, canvasShowCmd, canvasDeleteCmd)
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := ensureParent(cfg.Store.Path); err != nil {
		return nil, err
	}
	return store.Open(cfg.Store.Driver, cfg.Store.Path)
}

func runCanvasImport(cmd *cobra.Command, args []string) error {
	def, err := canvas.LoadDefinitionFile(args[0])
	if err != nil {
		return err
	}
	snap, err := def.Build()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := importSnapshot(st, def.Canvas, snap, canvasReplace); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Imported canvas %q: %d pods, %d connections, %d triggers\n",
		check(true), def.Canvas, len(snap.Pods), len(snap.Connections), len(snap.Triggers))
	return nil
}

// importSnapshot writes a built canvas through a MemoryStore so the same
// validation applies as at runtime.
func importSnapshot(st *store.Store, canvasID string, snap canvas.Snapshot, replace bool) error {
	existing, err := st.Canvases()
	if err != nil {
		return err
	}
	if slices.Contains(existing, canvasID) {
		if !replace {
			return fmt.Errorf("canvas %q already exists (use --replace)", canvasID)
		}
		if err := st.DeleteCanvas(canvasID); err != nil {
			return err
		}
	}

	mem := canvas.NewMemoryStore(st)
	for _, p := range snap.Pods {
		if err := mem.AddPod(p); err != nil {
			return err
		}
	}
	for _, t := range snap.Triggers {
		if err := mem.AddTrigger(t); err != nil {
			return err
		}
	}
	for _, c := range snap.Connections {
		if err := mem.AddConnection(c); err != nil {
			return err
		}
	}
	return nil
}

func runCanvasList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ids, err := st.Canvases()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No canvases. Import one with 'podweave canvas import <file.yaml>'.")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func runCanvasShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.Load()
	if err != nil {
		return err
	}
	mem := canvas.NewMemoryStore(nil)
	mem.Load(snap)
	if !slices.Contains(mem.Canvases(), args[0]) {
		return fmt.Errorf("canvas %q not found", args[0])
	}
	view := mem.Snapshot(args[0])
	if canvasJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	printCanvas(cmd.OutOrStdout(), args[0], view)
	return nil
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	sectionStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
	headingStyle = lipgloss.NewStyle().Bold(true)
)

func printCanvas(out io.Writer, canvasID string, snap canvas.Snapshot) {
	names := make(map[string]string)
	for _, p := range snap.Pods {
		names[p.ID] = p.Name
	}
	for _, t := range snap.Triggers {
		names[t.ID] = "⏰ " + t.Name
	}

	pods := []string{headingStyle.Render("Pods")}
	for _, p := range snap.Pods {
		var extra []string
		if p.AutoClear {
			extra = append(extra, "autoClear")
		}
		if p.Schedule != nil {
			s := "schedule " + p.Schedule.Frequency.String()
			if !p.Schedule.Enabled {
				s += " (disabled)"
			}
			extra = append(extra, s)
		}
		pods = append(pods, fmt.Sprintf("%-20s %-12s %s", p.Name, podStatusColor(p.Status), strings.Join(extra, ", ")))
	}

	conns := []string{headingStyle.Render("Connections")}
	for _, c := range snap.Connections {
		line := fmt.Sprintf("%s -> %s [%s] %s", names[c.SourceID], names[c.TargetID], c.Mode, connStatusColor(c.Status))
		if c.DecideStatus != canvas.DecideNone {
			line += fmt.Sprintf(" decide=%s", c.DecideStatus)
			if c.DecideReason != "" {
				line += fmt.Sprintf(" (%s)", c.DecideReason)
			}
		}
		conns = append(conns, line+"  "+color.HiBlackString(c.ID))
	}

	blocks := []string{
		titleStyle.Render("Canvas " + canvasID),
		sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, pods...)),
		sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, conns...)),
	}
	if len(snap.Triggers) > 0 {
		trigs := []string{headingStyle.Render("Triggers")}
		for _, t := range snap.Triggers {
			last := "never"
			if t.LastTriggeredAt != nil {
				last = t.LastTriggeredAt.Local().Format("2006-01-02 15:04:05")
			}
			trigs = append(trigs, fmt.Sprintf("%-20s %-24s %s last=%s", t.Name, t.Frequency.String(), check(t.Enabled), last))
		}
		blocks = append(blocks, sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, trigs...)))
	}
	fmt.Fprintln(out, lipgloss.JoinVertical(lipgloss.Left, blocks...))
}

func runCanvasDelete(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.DeleteCanvas(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted canvas %q\n", check(true), args[0])
	return nil
}
