package token

import (
	"crypto/rand"
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultTTL    = 24 * time.Hour
	DefaultIssuer = "locker-service"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNoSecret     = errors.New("token secret is empty")
)

// Config holds signing parameters for session tokens.
type Config struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	// Ephemeral is set when Secret was generated for this process only.
	Ephemeral bool
}

// ConfigFromEnv reads JWT_SECRET and TOKEN_TTL (a Go duration string).
// Without JWT_SECRET a random secret is generated, so tokens stop working
// after a restart and are not accepted by other instances.
func ConfigFromEnv() Config {
	cfg := Config{Secret: []byte(os.Getenv("JWT_SECRET")), TTL: DefaultTTL, Issuer: DefaultIssuer}
	if len(cfg.Secret) == 0 {
		cfg.Secret = make([]byte, 32)
		_, _ = rand.Read(cfg.Secret)
		cfg.Ephemeral = true
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TTL = d
		}
	}
	return cfg
}

// Claims identify the logged-in user by email.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Service issues and validates HS256 session tokens.
type Service struct {
	cfg   Config
	clock clockwork.Clock
}

func NewService(cfg Config, clock clockwork.Clock) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{cfg: cfg, clock: clock}, nil
}

// Issue signs a token for the user and returns it with its expiry.
func (s *Service) Issue(userID, email string) (string, time.Time, error) {
	now := s.clock.Now()
	exp := now.Add(s.cfg.TTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: email,
	})
	signed, err := tok.SignedString(s.cfg.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Validate checks signature, issuer and expiry and returns the claims.
func (s *Service) Validate(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !tok.Valid || claims.Email == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
