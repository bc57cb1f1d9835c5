package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/api"
	"github.com/sells-group/leadgen/internal/export"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves the runs API, the worker callbacks, and the cron trigger. With server.poll_in_process the poller also runs on poller.schedule.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		var uploader api.Uploader
		if cfg.Export.UploadEnabled() {
			up, err := export.NewMinIOUploader(cfg.Export)
			if err != nil {
				return err
			}
			uploader = up
			zap.L().Info("export upload enabled", zap.String("bucket", cfg.Export.Bucket))
		}

		if cfg.Server.PollInProcess {
			sched, err := schedulePoller(ctx, env.Poller, cfg.Poller.Schedule)
			if err != nil {
				return err
			}
			defer sched.Stop()
		}

		h := api.NewHandlers(env.Orchestrator, env.Poller, uploader)
		return api.NewServer(cfg.Server, h).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
