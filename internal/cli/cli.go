// Package cli builds the cropscan command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/raysh454/cropscan/internal/app"
	"github.com/raysh454/cropscan/internal/logging"
)

// options carries state shared by every subcommand of one root command.
type options struct {
	v          *viper.Viper
	configFile string
	logWriter  io.Writer
}

// NewRootCmd returns the root command with all subcommands attached. Each
// call builds an independent tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	o := &options{v: viper.New(), logWriter: os.Stderr}

	root := &cobra.Command{
		Use:               "cropscan",
		Short:             "Offline-first crop scan agent",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Long: `cropscan keeps a local history of crop disease scans and uploads the
ones captured offline to the diagnosis service once the device is back online.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.configFile, "config", "", "Path to a YAML configuration file")
	pf.String("data-dir", "", "Directory holding the scan database")
	pf.String("api-url", "", "Base URL of the diagnosis API")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (json, text)")
	for key, name := range map[string]string{
		"data_dir":     "data-dir",
		"api.base_url": "api-url",
		"log.level":    "log-level",
		"log.format":   "log-format",
	} {
		mustBind(o.v, key, pf.Lookup(name))
	}

	root.AddCommand(newServeCmd(o))
	root.AddCommand(newSyncCmd(o))
	root.AddCommand(newScansCmd(o))
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// mustBind panics on a nil flag, which only happens when a flag name is
// misspelled.
func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding %s: %v", key, err))
	}
}

// load reads the configuration and builds a logger for it.
func (o *options) load() (*app.Config, logging.Logger, error) {
	cfg, err := app.LoadConfig(o.v, o.configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Component: "cropscan",
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Writer:    o.logWriter,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return cfg, logger, nil
}

// openApp loads the configuration and wires an application that has not
// been started. The caller must Shutdown it.
func (o *options) openApp(ctx context.Context) (*app.Application, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, logger)
}

func newApp(ctx context.Context, cfg *app.Config, logger logging.Logger) (*app.Application, error) {
	a, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}

func closeApp(a *app.Application) {
	if err := a.Shutdown(context.Background()); err != nil {
		a.Logger.Warn("shutdown", logging.Err(err))
	}
}
