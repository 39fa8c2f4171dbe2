package user

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-locker-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-locker-go/pkg/utilities"
)

// PasswordHasher defines minimal hashing interface.
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
}

// PlainHasher stores passwords as given. It is the default so existing data
// keeps working; it offers no protection at rest.
type PlainHasher struct{}

func (PlainHasher) Hash(pw string) (string, string, error) { return pw, "plain", nil }
func (PlainHasher) Verify(hash, pw string) bool           { return ConstantTimeCompare(hash, pw) }

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", cost), nil
}
func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// HasherFromEnv picks the hasher named by PASSWORD_HASHER (plain or bcrypt).
func HasherFromEnv() PasswordHasher {
	if strings.EqualFold(os.Getenv("PASSWORD_HASHER"), "bcrypt") {
		return BcryptHasher{Cost: 12}
	}
	return PlainHasher{}
}

// verifierFor matches the algorithm a row was written with, so rows survive a hasher switch.
func verifierFor(algo string) PasswordHasher {
	if strings.HasPrefix(algo, "bcrypt") {
		return BcryptHasher{}
	}
	return PlainHasher{}
}

// UserService implements registration, credential checks and password resets.
type UserService struct {
	db     *record.DB
	hasher PasswordHasher
	clock  clockwork.Clock
}

func NewUserService(db *record.DB, hasher PasswordHasher, clock clockwork.Clock) *UserService {
	if hasher == nil {
		hasher = PlainHasher{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &UserService{db: db, hasher: hasher, clock: clock}
}

var (
	ErrNotFound           = errors.New("user not found")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDisabled           = errors.New("user disabled")
	ErrInvalidInput       = errors.New("name, email, phone and password are required")
)

// Register creates an Active user. Email uniqueness is an exact string match.
func (s *UserService) Register(ctx context.Context, name, email, phone, password string) (*entity.User, error) {
	if name == "" || email == "" || phone == "" || password == "" {
		return nil, ErrInvalidInput
	}
	hash, algo, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	var created entity.User
	err = s.db.Update(ctx, []record.Table{record.Users}, func(tx *record.Tx) error {
		users, err := userrepo.NewUserRepo(tx)
		if err != nil {
			return err
		}
		if users.GetByEmail(email) != nil {
			return ErrDuplicateEmail
		}
		created = entity.User{
			ID:           utilities.NewSnowflakeID(),
			Name:         name,
			Email:        email,
			Phone:        phone,
			Password:     hash,
			PasswordAlgo: algo,
			RegisteredAt: s.clock.Now().UTC(),
			Status:       entity.StatusActive,
		}
		users.Create(created)
		return users.Save()
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Authenticate checks email and password and stamps LastLoginAt on success.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*entity.User, error) {
	var out entity.User
	err := s.db.Update(ctx, []record.Table{record.Users}, func(tx *record.Tx) error {
		users, err := userrepo.NewUserRepo(tx)
		if err != nil {
			return err
		}
		u := users.GetByEmail(email)
		if u == nil || !verifierFor(u.PasswordAlgo).Verify(u.Password, password) {
			return ErrInvalidCredentials
		}
		if u.Status == entity.StatusInactive {
			return ErrDisabled
		}
		now := s.clock.Now().UTC()
		u.LastLoginAt = &now
		out = *u
		return users.Save()
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetPassword overwrites the password of the first user registered with phone.
func (s *UserService) ResetPassword(ctx context.Context, phone, newPassword string) (*entity.User, error) {
	if newPassword == "" {
		return nil, ErrInvalidInput
	}
	hash, algo, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}
	var out entity.User
	err = s.db.Update(ctx, []record.Table{record.Users}, func(tx *record.Tx) error {
		users, err := userrepo.NewUserRepo(tx)
		if err != nil {
			return err
		}
		u := users.GetByPhone(phone)
		if u == nil {
			return ErrNotFound
		}
		u.Password = hash
		u.PasswordAlgo = algo
		out = *u
		return users.Save()
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return s.find(ctx, func(r *userrepo.UserRepo) *entity.User { return r.GetByEmail(email) })
}

func (s *UserService) GetByPhone(ctx context.Context, phone string) (*entity.User, error) {
	return s.find(ctx, func(r *userrepo.UserRepo) *entity.User { return r.GetByPhone(phone) })
}

func (s *UserService) List(ctx context.Context) ([]entity.User, error) {
	var out []entity.User
	err := s.db.View(ctx, []record.Table{record.Users}, func(tx *record.Tx) error {
		users, err := userrepo.NewUserRepo(tx)
		if err != nil {
			return err
		}
		out = users.List()
		return nil
	})
	return out, err
}

func (s *UserService) find(ctx context.Context, pick func(*userrepo.UserRepo) *entity.User) (*entity.User, error) {
	var out *entity.User
	err := s.db.View(ctx, []record.Table{record.Users}, func(tx *record.Tx) error {
		users, err := userrepo.NewUserRepo(tx)
		if err != nil {
			return err
		}
		if u := pick(users); u != nil {
			cp := *u
			out = &cp
			return nil
		}
		return ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConstantTimeCompare helper
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
