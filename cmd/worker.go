package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist-enrich/internal/jobs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background job worker",
	Long:  "Consumes queued collection tasks and runs the beat scheduler that triggers the daily jobs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		queueClient := asynq.NewClient(redisOpt())
		defer queueClient.Close()
		runner := jobs.NewRunner(env.Store, jobs.NewAsynqDispatcher(queueClient, cfg.Queue.Queue))

		mux := asynq.NewServeMux()
		for _, def := range jobs.Definitions() {
			body, ok := env.Bodies[def.Name]
			if !ok {
				continue
			}
			mux.HandleFunc(def.TaskType, func(ctx context.Context, task *asynq.Task) error {
				payload, err := jobs.DecodePayload(task)
				if err != nil {
					return err
				}
				return env.Tracker.Track(ctx, payload.ExecutionUUID, func(ctx context.Context) (jobs.Stats, error) {
					return body(ctx, payload.Options)
				})
			})
		}

		concurrency := cfg.Queue.Concurrency
		if concurrency <= 0 {
			concurrency = 4
		}
		queue := cfg.Queue.Queue
		if queue == "" {
			queue = "default"
		}
		srv := asynq.NewServer(redisOpt(), asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queue: 1},
		})

		// Beat scheduler: triggers go through EnqueueJob so every fire gets
		// a ledger run and respects the active-run gate.
		beat := cron.New(cron.WithLocation(env.Location))
		for _, def := range jobs.Definitions() {
			if def.BeatScheduleKey == "" {
				continue
			}
			name := def.Name
			spec, ok := jobs.BeatSpec(name)
			if !ok {
				continue
			}
			if _, err := beat.AddFunc(spec, func() {
				if _, err := runner.EnqueueJob(ctx, name, jobs.Options{}); err != nil {
					zap.L().Warn("beat trigger failed", zap.String("job", name), zap.Error(err))
				}
			}); err != nil {
				return eris.Wrapf(err, "add beat entry %s", name)
			}
		}
		beat.Start()
		defer beat.Stop()

		zap.L().Info("starting worker",
			zap.Int("concurrency", concurrency), zap.String("queue", queue))
		if err := srv.Start(mux); err != nil {
			return eris.Wrap(err, "worker start")
		}

		<-ctx.Done()
		zap.L().Info("shutting down worker")
		srv.Shutdown()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
