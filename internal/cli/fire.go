package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/podweave/podweave/internal/config"
	"github.com/podweave/podweave/internal/scheduler"
)

var (
	fireCanvas     string
	fireTrigger    string
	fireConnection string
	fireTimeout    time.Duration
)

var fireCmd = &cobra.Command{
	Use:   "fire",
	Short: "Fire a trigger or a connection now and wait for the chain to settle",
	Long: "Fires one trigger (by id or name) or one pod connection (by id or \"source->target\").\n" +
		"Direct connections only ever propagate this way.",
	RunE: runFire,
}

var resetCanvas string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset connection statuses and errored pods of a canvas",
	RunE:  runReset,
}

func init() {
	fireCmd.Flags().StringVar(&fireCanvas, "canvas", "", "canvas id")
	fireCmd.Flags().StringVar(&fireTrigger, "trigger", "", "trigger id or name")
	fireCmd.Flags().StringVar(&fireConnection, "connection", "", "connection id or \"source->target\"")
	fireCmd.Flags().DurationVar(&fireTimeout, "timeout", 15*time.Minute, "how long to wait for the chain to settle")
	_ = fireCmd.MarkFlagRequired("canvas")
	fireCmd.MarkFlagsMutuallyExclusive("trigger", "connection")
	fireCmd.MarkFlagsOneRequired("trigger", "connection")

	resetCmd.Flags().StringVar(&resetCanvas, "canvas", "", "canvas id")
	_ = resetCmd.MarkFlagRequired("canvas")
}

func runFire(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	unlock, err := exclusive(cfg)
	if err != nil {
		return err
	}
	defer unlock()
	a, err := newApp(cfg, appOptions{})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	a.start(ctx, false)

	fireErr := a.fire(ctx, fireCanvas, fireTrigger, fireConnection)
	if fireErr == nil {
		a.settle(fireTimeout)
	}
	cancel()
	if err := a.close(); err != nil && fireErr == nil {
		fireErr = err
	}
	if fireErr != nil {
		return fireErr
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Fired. Run 'podweave status --canvas %s' for the outcome.\n", check(true), fireCanvas)
	return nil
}

func (a *app) fire(ctx context.Context, canvasID, triggerRef, connRef string) error {
	switch {
	case triggerRef != "":
		trig, err := resolveTrigger(a.repo, canvasID, triggerRef)
		if err != nil {
			return err
		}
		return a.scheduler.FireTrigger(ctx, canvasID, trig.ID)
	case connRef != "":
		conn, err := resolveConnection(a.repo, canvasID, connRef)
		if err != nil {
			return err
		}
		return a.engine.FireConnection(ctx, canvasID, conn.ID)
	}
	return errors.New("nothing to fire: pass --trigger or --connection")
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	unlock, err := exclusive(cfg)
	if err != nil {
		return err
	}
	defer unlock()
	a, err := newApp(cfg, appOptions{})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	a.start(ctx, false)

	resetErr := a.engine.ResetWorkflow(resetCanvas)
	a.settle(5 * time.Second)
	cancel()
	if err := a.close(); err != nil && resetErr == nil {
		resetErr = err
	}
	if resetErr != nil {
		return resetErr
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Reset canvas %q\n", check(true), resetCanvas)
	return nil
}

// exclusive takes the scheduler lock so a one-shot command never runs next to
// a serving process on the same data directory.
func exclusive(cfg *config.Config) (func(), error) {
	if cfg.Scheduler.LockPath == "" {
		return func() {}, nil
	}
	lock := scheduler.NewFileLock(cfg.Scheduler.LockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("podweave serve is running on %s; stop it first", cfg.Paths.DataDir)
	}
	return func() { _ = lock.Unlock() }, nil
}
