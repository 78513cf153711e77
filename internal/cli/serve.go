package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and workflow dispatcher until interrupted",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, appOptions{resetTransient: true})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printHeader(out, "🧵 podweave serve")
	fmt.Fprintf(out, "Store:     %s (%s)\n", cfg.Store.Path, a.store.Driver())
	fmt.Fprintf(out, "Canvases:  %d\n", len(a.repo.Canvases()))
	fmt.Fprintf(out, "Scheduler: %s every %s, %d concurrent fires\n",
		check(cfg.Scheduler.Enabled), cfg.Scheduler.TickInterval, cfg.Scheduler.MaxConcurrentFires)
	fmt.Fprintf(out, "Kafka:     %s\n", check(cfg.Notify.Kafka.Enabled()))
	fmt.Fprintf(out, "Slack:     %s\n", check(cfg.Notify.Slack.Enabled()))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.start(ctx, true)

	fmt.Fprintln(out, "Running. Press Ctrl+C to stop.")
	<-ctx.Done()
	fmt.Fprintln(out, "Shutting down...")

	// Give turns already in flight a short grace period.
	grace, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-grace.Done():
	}
	return a.close()
}
