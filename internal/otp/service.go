package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ovaphlow/pitchfork/service-locker-go/internal/otp/entity"
	otprepo "github.com/ovaphlow/pitchfork/service-locker-go/internal/otp/repo"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	"github.com/ovaphlow/pitchfork/service-locker-go/pkg/utilities"
)

// DefaultWindow is used when no ExpirySource is configured.
const DefaultWindow = 30 * time.Second

var (
	// ErrInvalidCode is returned by OTP-gated operations. It does
	// not say whether the code was wrong, expired or already used.
	ErrInvalidCode = errors.New("invalid or expired code")
	ErrNotFound    = errors.New("no active code for phone")
	ErrPhoneEmpty  = errors.New("phone is required")
)

var (
	codeFloor = big.NewInt(10_000_000)
	codeSpan  = big.NewInt(90_000_000)
)

// ExpirySource supplies the validity window for newly issued codes.
type ExpirySource interface {
	OTPExpiry(ctx context.Context) time.Duration
}

// Issuer issues and verifies single-use codes, one live code per phone.
type Issuer struct {
	db     *record.DB
	clock  clockwork.Clock
	expiry ExpirySource
	rand   io.Reader
}

func NewIssuer(db *record.DB, clock clockwork.Clock, expiry ExpirySource) *Issuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Issuer{db: db, clock: clock, expiry: expiry, rand: rand.Reader}
}

func (s *Issuer) window(ctx context.Context) time.Duration {
	if s.expiry == nil {
		return DefaultWindow
	}
	if w := s.expiry.OTPExpiry(ctx); w > 0 {
		return w
	}
	return DefaultWindow
}

// Issue creates an 8-digit code for phone and discards any earlier code for it.
func (s *Issuer) Issue(ctx context.Context, phone, purpose string) (*entity.OTP, error) {
	if phone == "" {
		return nil, ErrPhoneEmpty
	}
	if purpose == "" {
		purpose = entity.PurposeGeneral
	}
	code, err := s.generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	window := s.window(ctx)
	now := s.clock.Now().UTC()
	o := entity.OTP{
		ID:        utilities.NewSnowflakeID(),
		Phone:     phone,
		Code:      code,
		ExpiresAt: now.Add(window),
		Purpose:   purpose,
		CreatedAt: now,
	}
	err = s.db.Update(ctx, []record.Table{record.OTPs}, func(tx *record.Tx) error {
		otps, err := otprepo.NewOTPRepo(tx)
		if err != nil {
			return err
		}
		otps.Replace(o)
		return otps.Save()
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Verify consumes the code if it matches phone, is unused and unexpired.
// Any other outcome returns false and leaves the table untouched; the error
// is only set when storage fails.
func (s *Issuer) Verify(ctx context.Context, phone, code string) (bool, error) {
	ok := false
	err := s.db.Update(ctx, []record.Table{record.OTPs}, func(tx *record.Tx) error {
		otps, err := otprepo.NewOTPRepo(tx)
		if err != nil {
			return err
		}
		o := otps.Find(phone, code)
		if o == nil || !o.Live(s.clock.Now()) {
			return nil
		}
		o.Used = true
		ok = true
		return otps.Save()
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Active returns the live code for phone.
func (s *Issuer) Active(ctx context.Context, phone string) (*entity.OTP, error) {
	var out *entity.OTP
	err := s.db.View(ctx, []record.Table{record.OTPs}, func(tx *record.Tx) error {
		otps, err := otprepo.NewOTPRepo(tx)
		if err != nil {
			return err
		}
		o := otps.GetByPhone(phone)
		if o == nil || !o.Live(s.clock.Now()) {
			return ErrNotFound
		}
		cp := *o
		out = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Issuer) List(ctx context.Context) ([]entity.OTP, error) {
	var out []entity.OTP
	err := s.db.View(ctx, []record.Table{record.OTPs}, func(tx *record.Tx) error {
		otps, err := otprepo.NewOTPRepo(tx)
		if err != nil {
			return err
		}
		out = otps.List()
		return nil
	})
	return out, err
}

// Purge deletes used and expired records. Verification already rejects them,
// so purging only reclaims space.
func (s *Issuer) Purge(ctx context.Context) (int, error) {
	removed := 0
	err := s.db.Update(ctx, []record.Table{record.OTPs}, func(tx *record.Tx) error {
		otps, err := otprepo.NewOTPRepo(tx)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		removed = otps.RemoveWhere(func(o entity.OTP) bool { return !o.Live(now) })
		if removed == 0 {
			return nil
		}
		return otps.Save()
	})
	return removed, err
}

// generateCode draws uniformly from 10000000..99999999.
func (s *Issuer) generateCode() (string, error) {
	n, err := rand.Int(s.rand, codeSpan)
	if err != nil {
		return "", err
	}
	return n.Add(n, codeFloor).String(), nil
}
