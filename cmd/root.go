package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "leadgen",
	Short:         "City-scoped business lead generation",
	Long:          "Queues lead-generation runs, dispatches them to the scraping worker, enriches the leads it reports, and exports the results.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "leadgen: load config")
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			c.Log.Level = level
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "leadgen: init logger")
		}
		zap.ReplaceGlobals(zap.L().With(commandFields(cmd, cfg)...))
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
}

// commandFields tags every log line with the command and the backing store.
func commandFields(cmd *cobra.Command, c *config.Config) []zap.Field {
	return []zap.Field{
		zap.String("cmd", cmd.CommandPath()),
		zap.String("store", c.Store.Driver),
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("leadgen: command failed", zap.Error(err))
		_ = zap.L().Sync()
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
