package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/entity"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

var _ Store = (*PostgresStore)(nil)

// PostgresStore provides account data access using sqlx. The schema lives in
// pkg/database/migrations.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore { return &PostgresStore{db: db} }

type accountRow struct {
	ID                string `db:"id"`
	Name              string `db:"name"`
	Email             string `db:"email"`
	PasswordHash      string `db:"password_hash"`
	Subscription      string `db:"subscription"`
	Role              string `db:"role"`
	AICredits         int    `db:"ai_credits"`
	DailyMessageCount int    `db:"daily_message_count"`
	LastMessageDate   string `db:"last_message_date"`
}

func (r accountRow) toEntity() (*entity.Account, error) {
	return fromRecord(accountRecord(r))
}

const selectAccount = `SELECT id, name, email, password_hash, subscription, role,
		ai_credits, daily_message_count, last_message_date
	  FROM accounts`

func (s *PostgresStore) Get(ctx context.Context, id string) (*entity.Account, error) {
	var row accountRow
	if err := s.db.GetContext(ctx, &row, selectAccount+` WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return row.toEntity()
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*entity.Account, error) {
	var row accountRow
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.db.GetContext(ctx, &row, selectAccount+` WHERE lower(email)=$1`, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	return row.toEntity()
}

func (s *PostgresStore) List(ctx context.Context) ([]*entity.Account, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, selectAccount+` ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]*entity.Account, 0, len(rows))
	for _, row := range rows {
		a, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Upsert writes the whole record in one statement. Role is fixed at insert
// time and never updated.
func (s *PostgresStore) Upsert(ctx context.Context, a entity.Account) error {
	const q = `INSERT INTO accounts (id, name, email, password_hash, subscription, role,
		ai_credits, daily_message_count, last_message_date)
	  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	  ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		email = EXCLUDED.email,
		password_hash = EXCLUDED.password_hash,
		subscription = EXCLUDED.subscription,
		ai_credits = EXCLUDED.ai_credits,
		daily_message_count = EXCLUDED.daily_message_count,
		last_message_date = EXCLUDED.last_message_date,
		updated_at = NOW()`
	_, err := s.db.ExecContext(ctx, q,
		a.ID,
		a.Name,
		strings.ToLower(strings.TrimSpace(a.Email)),
		a.PasswordHash,
		string(a.Subscription),
		string(a.Role),
		a.AICredits,
		a.DailyMessageCount,
		a.LastMessageDate,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}
