package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/orchestrator"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Start queued runs and reconcile running ones",
	Long:  "Runs one bounded poller pass and prints its summary. With --watch the pass repeats on poller.schedule until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "poll")
		if err != nil {
			return err
		}
		defer env.Close()

		watch, _ := cmd.Flags().GetBool("watch")
		if !watch {
			res, err := env.Poller.Drain(ctx)
			if err != nil {
				return eris.Wrap(err, "poll")
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		schedule, _ := cmd.Flags().GetString("schedule")
		if schedule == "" {
			schedule = cfg.Poller.Schedule
		}
		sched, err := schedulePoller(ctx, env.Poller, schedule)
		if err != nil {
			return err
		}
		defer sched.Stop()

		<-ctx.Done()
		zap.L().Info("poll: shutting down")
		return nil
	},
}

func init() {
	pollCmd.Flags().Bool("watch", false, "keep polling on a schedule")
	pollCmd.Flags().String("schedule", "", "cron schedule for --watch (default from config)")
	rootCmd.AddCommand(pollCmd)
}

// drainer is the poller surface the scheduler drives.
type drainer interface {
	Drain(ctx context.Context) (orchestrator.DrainResult, error)
}

// pollSchedule is a running poller schedule.
type pollSchedule struct {
	cron *cron.Cron

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

// Stop halts the schedule and waits for a drain already in progress, so
// the caller can close the store afterwards.
func (s *pollSchedule) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cron.Stop()
	s.inflight.Wait()
}

// begin registers a tick unless the schedule has been stopped.
func (s *pollSchedule) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.inflight.Add(1)
	return true
}

// schedulePoller runs a drain on every tick of schedule, skipping ticks
// while the previous drain is still in progress. The first drain runs
// immediately.
func schedulePoller(ctx context.Context, p drainer, schedule string) (*pollSchedule, error) {
	log := zap.L().With(zap.String("component", "scheduler"), zap.String("schedule", schedule))

	s := &pollSchedule{cron: cron.New()}
	var running sync.Mutex
	tick := func() {
		if !s.begin() {
			return
		}
		defer s.inflight.Done()
		if !running.TryLock() {
			log.Debug("previous drain still running, skipping tick")
			return
		}
		defer running.Unlock()
		if ctx.Err() != nil {
			return
		}

		res, err := p.Drain(ctx)
		if err != nil {
			log.Error("drain failed", zap.Error(err))
			return
		}
		log.Info("drain complete",
			zap.Int("started", res.Started),
			zap.Int("requeued", res.Requeued),
			zap.Int("reconciled", res.Reconciled),
			zap.Int64("elapsed_ms", res.ElapsedMS),
			zap.Bool("budget_exhausted", res.BudgetHit),
		)
	}

	if err := s.cron.AddFunc(schedule, tick); err != nil {
		return nil, eris.Wrapf(err, "scheduler: parse schedule %q", schedule)
	}
	s.cron.Start()
	go tick()

	log.Info("poller scheduled")
	return s, nil
}
