package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/config"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
)

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string
	settings   *config.Settings
}

func rootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "irrigation-controller",
		Short:         "Irrigation scheduling engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			if c.logLevel != "" {
				s.Log.Level = c.logLevel
			}
			logging.Init(s.Log.Level, s.Log.Format)
			c.settings = s
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		c.serveCommand(),
		c.tickCommand(),
		c.valveCommand(),
		c.scheduleCommand(),
		c.logsCommand(),
		c.archiveCommand(),
		c.simulateCommand(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
