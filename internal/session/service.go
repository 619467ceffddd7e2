package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTTL = 30 * 24 * time.Hour

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrMissingSecret  = errors.New("session secret is empty")
)

// Claims binds a token to one account. Subject carries the account id.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Identity is what a validated token proves about the caller.
type Identity struct {
	AccountID string
	Email     string
	ExpiresAt time.Time
}

type Config struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// Service issues and verifies HS256 session tokens. Validation never touches
// the account store.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Service{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    cfg.Now,
		parser: jwt.NewParser(opts...),
	}, nil
}

func (s *Service) TTL() time.Duration { return s.ttl }

// Issue signs a token for the account that expires after the configured TTL.
func (s *Service) Issue(accountID, email string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, exp, nil
}

// Validate checks signature, issuer and expiry. Every failure is reported as
// ErrInvalidSession.
func (s *Service) Validate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidSession
	}
	claims := &Claims{}
	parsed, err := s.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}
	return Identity{
		AccountID: claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
