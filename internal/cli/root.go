// Package cli implements examctl, the operator tool for the account store.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/app"
	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/config"
	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/utilities"
)

// Opener builds the application for a command run.
type Opener func(ctx context.Context, verbose bool) (*app.App, error)

type state struct {
	open    Opener
	verbose bool
	app     *app.App
}

func Execute() error {
	return NewRootCmd(nil).Execute()
}

// NewRootCmd assembles the command tree. A nil open reads configuration from
// the environment and the --config file.
func NewRootCmd(open Opener) *cobra.Command {
	rt := &state{open: open}
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "examctl",
		Short:         "Operate the examredi account store",
		Long:          "examctl lists and inspects accounts, changes subscriptions through the entitlement ledger and creates admin accounts.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().String("config", "", "config file (any format viper reads)")
	rootCmd.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "log to stderr")
	_ = v.BindPFlag("config_file", rootCmd.PersistentFlags().Lookup("config"))

	if rt.open == nil {
		rt.open = configOpener(v)
	}

	rootCmd.AddCommand(
		newAccountsCmd(rt),
		newAdminCmd(rt),
	)
	return rootCmd
}

func configOpener(v *viper.Viper) Opener {
	return func(ctx context.Context, verbose bool) (*app.App, error) {
		cfg, err := config.LoadFrom(v)
		if err != nil {
			return nil, err
		}
		logger := zap.NewNop()
		if verbose {
			cfg.Log.Dev = true
			if logger, err = utilities.Init(cfg.Log); err != nil {
				return nil, fmt.Errorf("init logger: %w", err)
			}
		}
		a, err := app.New(ctx, cfg, logger.Sugar())
		if err != nil {
			_ = logger.Sync()
			return nil, err
		}
		a.OnClose(func() error {
			_ = logger.Sync()
			return nil
		})
		return a, nil
	}
}

// App opens the application on first use within a command.
func (rt *state) App(ctx context.Context) (*app.App, error) {
	if rt.app != nil {
		return rt.app, nil
	}
	a, err := rt.open(ctx, rt.verbose)
	if err != nil {
		return nil, err
	}
	rt.app = a
	return a, nil
}

// run wraps a RunE so the App it opened is closed on every exit path.
func (rt *state) run(fn func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := rt.close(); err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args)
	}
}

func (rt *state) close() error {
	if rt.app == nil {
		return nil
	}
	err := rt.app.Close()
	rt.app = nil
	return err
}
