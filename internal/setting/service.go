package setting

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/setting/entity"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/setting/repo"
)

// sentinel errors for common failure modes
var (
	ErrNotFound   = errors.New("setting not found")
	ErrKeyEmpty   = errors.New("key is required")
	ErrNotNumeric = errors.New("setting value is not an integer")
)

// Service reads and writes system settings.
type Service struct {
	db     *record.DB
	clock  clockwork.Clock
	logger *zap.SugaredLogger
}

// NewService constructs a Service. logger may be nil.
func NewService(db *record.DB, clock clockwork.Clock, logger *zap.SugaredLogger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{db: db, clock: clock, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]entity.Setting, error) {
	var out []entity.Setting
	err := s.db.View(ctx, []record.Table{record.Settings}, func(tx *record.Tx) error {
		r, err := repo.NewRepo(tx)
		if err != nil {
			return err
		}
		out = r.List()
		return nil
	})
	return out, err
}

func (s *Service) Get(ctx context.Context, key string) (*entity.Setting, error) {
	var out *entity.Setting
	err := s.db.View(ctx, []record.Table{record.Settings}, func(tx *record.Tx) error {
		r, err := repo.NewRepo(tx)
		if err != nil {
			return err
		}
		st := r.Get(key)
		if st == nil {
			return ErrNotFound
		}
		cp := *st
		out = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set creates or updates key. An empty description keeps the existing one.
func (s *Service) Set(ctx context.Context, key, value, description string) (*entity.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrKeyEmpty
	}
	var out entity.Setting
	err := s.db.Update(ctx, []record.Table{record.Settings}, func(tx *record.Tx) error {
		r, err := repo.NewRepo(tx)
		if err != nil {
			return err
		}
		if description == "" {
			if cur := r.Get(key); cur != nil {
				description = cur.Description
			}
		}
		out = entity.Setting{Key: key, Value: value, Description: description, UpdatedAt: s.clock.Now().UTC()}
		r.Upsert(out)
		return r.Save()
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Int parses key as a base-10 integer.
func (s *Service) Int(ctx context.Context, key string) (int, error) {
	st, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(st.Value))
	if err != nil {
		return 0, ErrNotNumeric
	}
	return n, nil
}

// MaxOTPExpiry caps the configured OTP window.
const MaxOTPExpiry = 7 * 24 * time.Hour

// OTPExpiry returns the configured OTP window, or zero when the setting is
// missing or not a positive integer so the issuer falls back to its default.
// Larger values than MaxOTPExpiry are clamped.
func (s *Service) OTPExpiry(ctx context.Context) time.Duration {
	n, err := s.Int(ctx, entity.KeyOTPExpirySeconds)
	if err != nil || n <= 0 {
		if err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warnw("otp expiry setting unusable", "err", err)
		}
		return 0
	}
	if n > int(MaxOTPExpiry/time.Second) {
		s.logger.Warnw("otp expiry setting too large, clamped", "seconds", n, "max", MaxOTPExpiry)
		return MaxOTPExpiry
	}
	return time.Duration(n) * time.Second
}
