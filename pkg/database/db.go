package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config describes the Postgres pool. Values come from pkg/config.
type Config struct {
	DSN            string
	MaxConns       int
	Timeout        time.Duration
	TimeZone       string
	ClientEncoding string
}

// Connect opens the pool and verifies connectivity with a ping. Session
// settings travel as startup parameters so every pooled connection gets them.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	dsn, err := sessionDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func sessionDSN(cfg Config) (string, error) {
	params := map[string]string{}
	if cfg.TimeZone != "" {
		params["TimeZone"] = cfg.TimeZone
	}
	if cfg.ClientEncoding != "" {
		params["client_encoding"] = cfg.ClientEncoding
	}
	if len(params) == 0 {
		return cfg.DSN, nil
	}

	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		u, err := url.Parse(cfg.DSN)
		if err != nil {
			return "", fmt.Errorf("parse DATABASE_URL: %w", err)
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	// key=value form
	var b strings.Builder
	b.WriteString(strings.TrimSpace(cfg.DSN))
	for _, k := range []string{"TimeZone", "client_encoding"} {
		if v, ok := params[k]; ok {
			b.WriteString(" " + k + "=" + quoteLiteral(v))
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// quoteLiteral escapes single quotes and backslashes and wraps the value in
// single quotes, the quoting lib/pq expects in key=value connection strings.
func quoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
