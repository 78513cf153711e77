package cli

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/podweave/podweave/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"                  _                              \n" +
		"  _ __   ___   __| |_      _____  __ ___   _____ \n" +
		" | '_ \\ / _ \\ / _` \\ \\ /\\ / / _ \\/ _` \\ \\ / / _ \\\n" +
		" | |_) | (_) | (_| |\\ V  V /  __/ (_| |\\ V /  __/\n" +
		" | .__/ \\___/ \\__,_| \\_/\\_/ \\___|\\__,_| \\_/ \\___|\n" +
		" |_|\n"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "podweave",
	Short: "podweave - agent pod workflow orchestrator",
	Long:  color.CyanString(logo) + "\nSchedules agent pods and propagates their output along canvas connections.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			_ = os.Setenv("PODWEAVE_CONFIG", configPath)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.podweave/config.json)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(canvasCmd)
	rootCmd.AddCommand(fireCmd)
	rootCmd.AddCommand(resetCmd)
}
