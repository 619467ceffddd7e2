package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/utilities"
)

// PasswordHasher defines the minimal hashing interface.
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateEmail     = repo.ErrDuplicateEmail
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Result is returned by Register and Login.
type Result struct {
	Account   *entity.Account
	Token     string
	ExpiresAt time.Time
}

// Service handles registration, login and session validation.
type Service struct {
	store    repo.Store
	sessions *session.Service
	hasher   PasswordHasher
	newID    func() string
	now      func() time.Time
	logger   *zap.SugaredLogger

	dummyOnce sync.Once
	dummyHash string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

func WithLogger(l *zap.SugaredLogger) Option { return func(s *Service) { s.logger = l } }

func NewService(store repo.Store, sessions *session.Service, hasher PasswordHasher, opts ...Option) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	s := &Service{
		store:    store,
		sessions: sessions,
		hasher:   hasher,
		newID:    utilities.NewSnowflakeID,
		now:      time.Now,
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type registration struct {
	name, email, password string
}

func validateRegistration(name, email, password string) (registration, error) {
	r := registration{
		name:     strings.TrimSpace(name),
		email:    strings.ToLower(strings.TrimSpace(email)),
		password: password,
	}
	switch {
	case r.name == "":
		return r, &ValidationError{Field: "name", Message: "is required"}
	case r.email == "":
		return r, &ValidationError{Field: "email", Message: "is required"}
	case r.password == "":
		return r, &ValidationError{Field: "password", Message: "is required"}
	case !strings.Contains(r.email, "@"):
		return r, &ValidationError{Field: "email", Message: "is not a valid address"}
	}
	return r, nil
}

// Register creates a free user account and signs a session for it.
func (s *Service) Register(ctx context.Context, name, email, password string) (*Result, error) {
	a, err := s.create(ctx, name, email, password, entity.RoleUser)
	if err != nil {
		return nil, err
	}
	return s.issue(a)
}

// CreateAdmin creates an account whose role is admin. Roles never change
// afterwards, so this is the only way an admin comes to exist.
func (s *Service) CreateAdmin(ctx context.Context, name, email, password string) (*entity.Account, error) {
	return s.create(ctx, name, email, password, entity.RoleAdmin)
}

func (s *Service) create(ctx context.Context, name, email, password string, role entity.Role) (*entity.Account, error) {
	in, err := validateRegistration(name, email, password)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.FindByEmail(ctx, in.email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	a := entity.Account{
		ID:                s.newID(),
		Name:              in.name,
		Email:             in.email,
		PasswordHash:      hash,
		Subscription:      entity.SubscriptionFree,
		Role:              role,
		AICredits:         0,
		DailyMessageCount: 0,
		LastMessageDate:   entity.Today(s.now()),
	}
	// the store re-checks email uniqueness atomically
	if err := s.store.Upsert(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Infow("account created", "account_id", a.ID, "role", a.Role)
	return &a, nil
}

// Login checks credentials. Unknown email and wrong password are
// indistinguishable, including in time spent.
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	a, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.hasher.Verify(s.dummy(), password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.hasher.Verify(a.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(a)
}

// ValidateSession checks a bearer token without touching the store.
func (s *Service) ValidateSession(token string) (session.Identity, error) {
	return s.sessions.Validate(token)
}

func (s *Service) issue(a *entity.Account) (*Result, error) {
	token, exp, err := s.sessions.Issue(a.ID, a.Email)
	if err != nil {
		return nil, err
	}
	return &Result{Account: a, Token: token, ExpiresAt: exp}, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("examredi-timing-equaliser")
		if err != nil {
			s.logger.Warnw("dummy hash failed", "err", err)
		}
		s.dummyHash = h
	})
	return s.dummyHash
}
