package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ajeenkya/openclaw-state-consistency/internal/bridge"
	"github.com/ajeenkya/openclaw-state-consistency/internal/confirmloop"
	"github.com/ajeenkya/openclaw-state-consistency/internal/dlqretry"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/pending"
)

const (
	defaultDLQInterval      = 5 * time.Minute
	defaultConfirmInterval  = 20 * time.Second
	defaultPollerFallback   = 15 * time.Minute
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the confirmation-loop worker, review-queue poller, and DLQ retrier under one process",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	e, err := bootstrap(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := confirmloop.NewWorker(
		e.Store,
		e.Pending,
		bridgeTransport(e),
		locateSession(e.Config.RootDir),
		e.Store.Layout().ConfirmWorkerStatePath(),
		func() time.Time { return time.Now().UTC() },
		e.Logger,
	)

	var sf singleflight.Group
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runTicker(ctx, defaultConfirmInterval, "confirm_loop", e.Logger, func() error {
			_, err, _ := sf.Do("confirm_loop", func() (any, error) {
				_, tickErr := worker.Tick(e.Config.TelegramTarget, e.Config.EntityID)
				return nil, tickErr
			})
			return err
		})
	})

	g.Go(func() error {
		interval := defaultDLQInterval
		return runTicker(ctx, interval, "dlq_retry", e.Logger, func() error {
			_, err, _ := sf.Do("dlq_retry", func() (any, error) {
				summary, retryErr := e.DLQRetry.Retry(dlqretry.Options{})
				if retryErr == nil {
					e.Logger.Info("dlq retry pass", "attempted", summary.Attempted, "resolved", summary.Resolved, "retried", summary.Retried, "permanent", summary.Permanent)
				}
				return nil, retryErr
			})
			return err
		})
	})

	g.Go(func() error {
		interval := intervalFromCron(e.Config.PollerCron, defaultPollerFallback)
		return runTicker(ctx, interval, "review_poll", e.Logger, func() error {
			_, err, _ := sf.Do("review_poll", func() (any, error) {
				result, promoteErr := e.Pending.PromoteReviewQueue(pending.PromoteFilter{
					MinConfidence: e.Config.Review.MinConfidence,
					Limit:         e.Config.Review.Limit,
					MaxPending:    e.Config.Review.MaxPending,
				})
				if promoteErr == nil && len(result.Promoted) > 0 {
					e.Logger.Info("promoted review queue", "count", len(result.Promoted), "reason", result.Reason)
				}
				if proposals, learnErr := e.Learning.Apply(e.Store, false); learnErr == nil && len(proposals) > 0 {
					e.Logger.Info("adaptive thresholds updated", "proposals", len(proposals))
				}
				return nil, promoteErr
			})
			return err
		})
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// runTicker invokes task immediately and then every interval until ctx is
// done. A failed tick is logged and retried on the next tick rather than
// tearing down the whole process: the store's atomic writes mean a failed
// tick never leaves partial state behind (spec.md §5 "Cancellation &
// timeouts").
func runTicker(ctx context.Context, interval time.Duration, name string, logger *slog.Logger, task func() error) error {
	runOnce := func() {
		start := time.Now()
		if err := task(); err != nil {
			logger.Error("periodic task failed", "task", name, "err", err)
			return
		}
		logger.Debug("periodic task ok", "task", name, "duration", time.Since(start))
	}

	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runOnce()
		}
	}
}

// bridgeTransport resolves the confirmloop.Transport to use. Without a
// Slack bot token configured, prompts and acknowledgements are logged
// instead of sent anywhere (useful for `statectl ingest`/local testing).
func bridgeTransport(e *env) confirmloop.Transport {
	token := os.Getenv("SLACK_BOT_TOKEN")
	if token == "" {
		return confirmloop.Transport{
			DispatchPrompt: func(target string, prompt model.PendingPrompt) (string, error) {
				e.Logger.Warn("no SLACK_BOT_TOKEN set, dropping prompt dispatch", "target", target, "prompt_id", prompt.PromptID)
				return "", nil
			},
			SendText: func(target, text string) error {
				e.Logger.Warn("no SLACK_BOT_TOKEN set, dropping message", "target", target)
				return nil
			},
		}
	}
	return bridge.NewSlackTransport(token, "").Transport()
}
