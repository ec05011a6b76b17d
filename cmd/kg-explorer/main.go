package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cugtyt/kg-explorer/internal/config"
)

type contextKey struct{}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, cleanup := newRootCommand()
	err := root.ExecuteContext(ctx)
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand returns the command tree and a cleanup that releases the
// app built for whichever subcommand ran.
func newRootCommand() (*cobra.Command, func()) {
	var (
		configFile string
		current    *app
	)

	root := &cobra.Command{
		Use:           "kg-explorer",
		Short:         "Extract, explore and query knowledge graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.New(configFile)
			if err != nil {
				return err
			}
			bindFlag(v, "api.base_url", cmd, "api-url")
			bindFlag(v, "log.level", cmd, "log-level")

			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			logrus.SetLevel(logger.GetLevel())

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			current = a
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, a))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("api-url", "", "knowledge graph service base URL")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(),
		newGenerateCommand(),
		newSchemaCommand(),
		newQueryCommand(),
		newClearConversationCommand(),
		newExportCommand(),
		newWatchCommand(),
	)

	cleanup := func() {
		if current != nil {
			current.close()
		}
	}
	return root, cleanup
}

// bindFlag lets an explicitly set flag override file and env values.
func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		v.Set(key, f.Value.String())
	}
}

func appFrom(cmd *cobra.Command) *app {
	a, _ := cmd.Context().Value(contextKey{}).(*app)
	return a
}
