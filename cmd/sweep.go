package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var workerMode bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Attempt every retry campaign that is due",
	Long:  "Move the scheduling clock to the current wall time, attempting due campaigns and redelivering pending events.",
	Run:   runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().BoolVar(&workerMode, "worker", false, "Run continuously using the configured sweep interval")
}

func runSweep(_ *cobra.Command, _ []string) {
	app := mustCreateApplication()
	defer app.Close()

	if !workerMode {
		runJob("sweep", func() error { return advanceToWallClock(context.Background(), app) })
		return
	}

	ctx, stop := signalContext()
	defer stop()

	scheduler, err := newSweepScheduler(ctx, app)
	if err != nil {
		logrus.WithField("job", "sweep").WithError(err).Fatal("invalid worker interval")
	}
	scheduler.Start()

	<-ctx.Done()
	logrus.WithField("job", "sweep").Info("Worker shutdown requested")
	<-scheduler.Stop().Done()
}

// newSweepScheduler advances the clock to wall time on every tick, which runs the sweep
// and bus wake hooks. A tick is skipped while the previous one is still running.
func newSweepScheduler(ctx context.Context, app *application) (*cron.Cron, error) {
	interval := app.cfg.Retry.SweepInterval
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		runJob("sweep", func() error { return advanceToWallClock(ctx, app) })
	}); err != nil {
		return nil, err
	}
	return scheduler, nil
}

func advanceToWallClock(ctx context.Context, app *application) error {
	return app.clock.AdvanceTo(ctx, time.Now())
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
