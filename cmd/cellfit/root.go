package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/cellfit/internal/logging"
)

// app holds what every subcommand shares
type app struct {
	logLevel  string
	logFormat string

	logger *logging.Logger
	zap    *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "cellfit",
		Short: "Fit battery model parameters to measured data",
		Long: `cellfit estimates the parameters of battery models by simulating them
against measured voltage and current traces and minimising a cost function
with one of several optimisers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger(&logging.Config{
				Level:  a.logLevel,
				Format: a.logFormat,
				Output: "stderr",
			})
			if err != nil {
				return err
			}
			a.logger = logger.WithField("command", cmd.Name())
			a.zap = logging.NewZapLogger(a.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(newFitCmd(a), newSynthCmd(a), newOptimisersCmd())
	return root
}
