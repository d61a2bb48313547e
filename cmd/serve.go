package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist-enrich/internal/jobs"
	"github.com/sells-group/saleslist-enrich/internal/review"
	"github.com/sells-group/saleslist-enrich/internal/server"
	"github.com/sells-group/saleslist-enrich/internal/snapshot"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
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
		api := server.New(
			env.Store,
			runner,
			review.New(env.Store, env.Clock),
			env.Gate,
			snapshot.New(env.Store),
			env.Meter,
			env.Schedule,
			env.Clock,
		)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(cmd.Context())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
