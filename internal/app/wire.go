// Package app assembles the components shared by the HTTP server and the
// examctl CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/ai"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/authz"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/ledger"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/config"
	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/utilities"
)

type App struct {
	Config    config.Config
	Store     repo.Store
	Ledger    *ledger.Ledger
	Sessions  *session.Service
	Accounts  *account.Service
	Completer ai.Completer
	Gate      *authz.Gate
	Features  ai.Features

	closers []func() error
}

// New builds every component from cfg. The caller must Close the result.
func New(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := utilities.SetSnowflakeNode(cfg.SnowflakeNode); err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNode, err)
	}

	a := &App{Config: cfg}
	store, err := a.openStore(ctx, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	sessions, err := session.NewService(session.Config{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.SessionTTL,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("session service: %w", err)
	}
	a.Sessions = sessions

	a.Ledger = ledger.New(store, ledger.Policy{
		FreeDailyMessages: cfg.FreeDailyMessages,
		ProCreditGrant:    cfg.ProCreditGrant,
	}, ledger.WithLogger(logger.Named("ledger")))

	a.Accounts = account.NewService(store, sessions, account.BcryptHasher{Cost: cfg.BcryptCost},
		account.WithLogger(logger.Named("account")))

	completer, err := ai.NewCompleter(ctx, ai.GeminiConfig{
		APIKey:  cfg.AIKey,
		Model:   cfg.AIModel,
		Timeout: cfg.AITimeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	if !completer.Available() {
		logger.Warnw("API_KEY not set, AI endpoints will answer with an error")
	}
	a.Completer = completer
	a.Features = ai.DefaultFeatures(cfg.GuideCreditCost, cfg.ResearchCreditCost)
	a.Gate = authz.NewGate(a.Accounts, store, a.Ledger, logger.Named("authz"))
	return a, nil
}

func (a *App) openStore(ctx context.Context, logger *zap.SugaredLogger) (repo.Store, error) {
	switch a.Config.StoreDriver {
	case config.DriverPostgres:
		db, err := database.Connect(ctx, a.Config.Database)
		if err != nil {
			return nil, err
		}
		a.OnClose(db.Close)
		if err := database.Migrate(ctx, db.DB); err != nil {
			return nil, err
		}
		logger.Infow("account store ready", "driver", config.DriverPostgres)
		return repo.NewPostgresStore(db), nil
	case config.DriverFile:
		fs, err := repo.NewFileStore(a.Config.AccountsPath)
		if err != nil {
			return nil, err
		}
		logger.Infow("account store ready", "driver", config.DriverFile, "path", fs.Path())
		return fs, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.Config.StoreDriver)
	}
}

// OnClose registers fn to run, in reverse order of registration, on Close.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
