package rental

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-locker-go/internal/locker"
	lockerentity "github.com/ovaphlow/pitchfork/service-locker-go/internal/locker/entity"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/otp"
	otpentity "github.com/ovaphlow/pitchfork/service-locker-go/internal/otp/entity"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/setting"
	settingentity "github.com/ovaphlow/pitchfork/service-locker-go/internal/setting/entity"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/transaction"
	txentity "github.com/ovaphlow/pitchfork/service-locker-go/internal/transaction/entity"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/user"
	userentity "github.com/ovaphlow/pitchfork/service-locker-go/internal/user/entity"
)

// DefaultLockerCount is the pool size used when LOCKER_COUNT is not stored yet.
const DefaultLockerCount = 20

// Service sequences the user, locker, otp and setting services and records
// one transaction for every successful state change. Failed operations
// record nothing.
type Service struct {
	db       *record.DB
	users    *user.UserService
	lockers  *locker.Registry
	otps     *otp.Issuer
	log      *transaction.Log
	settings *setting.Service
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
	slipLoc  *time.Location
}

// NewService wires the domain services over db. hasher, clock and logger may be nil.
func NewService(db *record.DB, hasher user.PasswordHasher, clock clockwork.Clock, logger *zap.SugaredLogger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	settings := setting.NewService(db, clock, logger)
	return &Service{
		db:       db,
		users:    user.NewUserService(db, hasher, clock),
		lockers:  locker.NewRegistry(db, clock),
		otps:     otp.NewIssuer(db, clock, settings),
		log:      transaction.NewLog(db, clock),
		settings: settings,
		clock:    clock,
		logger:   logger,
		slipLoc:  time.UTC,
	}
}

// Issuer exposes the OTP issuer, e.g. for the purge scheduler.
func (s *Service) Issuer() *otp.Issuer { return s.otps }

func (s *Service) defaults(lockerCount int) (map[record.Table][]byte, error) {
	lockers, err := json.Marshal(lockerentity.DefaultPool(lockerCount))
	if err != nil {
		return nil, err
	}
	settings, err := json.Marshal(settingentity.Defaults(s.clock.Now().UTC()))
	if err != nil {
		return nil, err
	}
	return map[record.Table][]byte{
		record.Lockers:  lockers,
		record.Settings: settings,
	}, nil
}

// Seed initialises every table that has never been written: the locker pool,
// the default settings, and empty users, otps and transactions.
func (s *Service) Seed(ctx context.Context) error {
	count := DefaultLockerCount
	if n, err := s.settings.Int(ctx, settingentity.KeyLockerCount); err == nil && n > 0 {
		count = n
	} else if errors.Is(err, record.ErrStorageUnavailable) {
		return err
	}
	defaults, err := s.defaults(count)
	if err != nil {
		return err
	}
	return s.db.Seed(ctx, defaults)
}

// ClearAll drops all data and restores the initial pool and settings.
func (s *Service) ClearAll(ctx context.Context) error {
	defaults, err := s.defaults(DefaultLockerCount)
	if err != nil {
		return err
	}
	if err := s.db.Reset(ctx, defaults); err != nil {
		return err
	}
	s.logger.Infow("all data cleared")
	return nil
}

// appendLog records a successful action. The primary change is already
// committed, so a failure here is only logged.
func (s *Service) appendLog(ctx context.Context, email, lockerID, action, code, notes string) {
	if _, err := s.log.Append(ctx, email, lockerID, action, code, txentity.StatusSuccess, notes); err != nil {
		s.logger.Warnw("transaction append failed", "action", action, "locker", lockerID, "err", err)
	}
}

func (s *Service) Register(ctx context.Context, name, email, phone, password string) (*userentity.User, error) {
	u, err := s.users.Register(ctx, name, email, phone, password)
	if err != nil {
		return nil, err
	}
	s.appendLog(ctx, u.Email, "", txentity.ActionRegister, "", "User registered")
	return u, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*userentity.User, error) {
	u, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.appendLog(ctx, u.Email, u.LockerID, txentity.ActionLogin, "", "User logged in")
	return u, nil
}

// emailForPhone resolves the owner of phone for transaction records. Codes can
// be issued for unregistered phones, in which case the email is empty.
func (s *Service) emailForPhone(ctx context.Context, phone string) string {
	u, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return ""
	}
	return u.Email
}

func (s *Service) IssueOTP(ctx context.Context, phone, purpose string) (*otpentity.OTP, error) {
	o, err := s.otps.Issue(ctx, phone, purpose)
	if err != nil {
		return nil, err
	}
	s.appendLog(ctx, s.emailForPhone(ctx, phone), "", txentity.ActionOTPIssue, o.Code, "OTP issued for "+o.Purpose)
	return o, nil
}

// VerifyOTP reports whether code is live for phone and consumes it if so.
func (s *Service) VerifyOTP(ctx context.Context, phone, code string) (bool, error) {
	ok, err := s.otps.Verify(ctx, phone, code)
	if err != nil || !ok {
		return false, err
	}
	s.appendLog(ctx, s.emailForPhone(ctx, phone), "", txentity.ActionOTPVerify, code, "OTP verified")
	return true, nil
}

func (s *Service) ResetPassword(ctx context.Context, phone, newPassword string) error {
	u, err := s.users.ResetPassword(ctx, phone, newPassword)
	if err != nil {
		return err
	}
	s.appendLog(ctx, u.Email, "", txentity.ActionPasswordReset, "", "Password reset")
	return nil
}

// consume verifies code and maps a rejected code to otp.ErrInvalidCode.
func (s *Service) consume(ctx context.Context, phone, code string) error {
	ok, err := s.otps.Verify(ctx, phone, code)
	if err != nil {
		return err
	}
	if !ok {
		return otp.ErrInvalidCode
	}
	return nil
}

// ResetPasswordWithOTP resets the password of the user registered with phone
// after consuming a live code for that phone.
func (s *Service) ResetPasswordWithOTP(ctx context.Context, phone, code, newPassword string) error {
	if newPassword == "" {
		return user.ErrInvalidInput
	}
	if _, err := s.users.GetByPhone(ctx, phone); err != nil {
		return err
	}
	if err := s.consume(ctx, phone, code); err != nil {
		return err
	}
	u, err := s.users.ResetPassword(ctx, phone, newPassword)
	if err != nil {
		return err
	}
	s.appendLog(ctx, u.Email, "", txentity.ActionPasswordReset, code, "Password reset with OTP")
	return nil
}

func (s *Service) AssignLocker(ctx context.Context, userEmail, lockerID string) (*lockerentity.Locker, error) {
	l, err := s.lockers.Assign(ctx, userEmail, lockerID)
	if err != nil {
		return nil, err
	}
	s.appendLog(ctx, userEmail, lockerID, txentity.ActionAssign, "", "Locker assigned to user")
	return l, nil
}

func (s *Service) ReleaseLocker(ctx context.Context, lockerID string) (*lockerentity.Locker, error) {
	prev, err := s.lockers.Release(ctx, lockerID)
	if err != nil {
		return nil, err
	}
	s.appendLog(ctx, prev.UserEmail, lockerID, txentity.ActionRelease, "", "Locker released")
	return s.lockers.Get(ctx, lockerID)
}

func (s *Service) OpenLocker(ctx context.Context, lockerID string) (*lockerentity.Locker, error) {
	return s.stamp(ctx, lockerID, "", txentity.ActionOpen)
}

func (s *Service) CloseLocker(ctx context.Context, lockerID string) (*lockerentity.Locker, error) {
	return s.stamp(ctx, lockerID, "", txentity.ActionClose)
}

// OpenLockerWithOTP opens lockerID after consuming a live code for phone. An
// unknown locker is rejected before the code is touched.
func (s *Service) OpenLockerWithOTP(ctx context.Context, phone, code, lockerID string) (*lockerentity.Locker, error) {
	return s.gatedStamp(ctx, phone, code, lockerID, txentity.ActionOpen)
}

func (s *Service) CloseLockerWithOTP(ctx context.Context, phone, code, lockerID string) (*lockerentity.Locker, error) {
	return s.gatedStamp(ctx, phone, code, lockerID, txentity.ActionClose)
}

func (s *Service) gatedStamp(ctx context.Context, phone, code, lockerID, action string) (*lockerentity.Locker, error) {
	if _, err := s.lockers.Get(ctx, lockerID); err != nil {
		return nil, err
	}
	if err := s.consume(ctx, phone, code); err != nil {
		return nil, err
	}
	return s.stamp(ctx, lockerID, code, action)
}

func (s *Service) stamp(ctx context.Context, lockerID, code, action string) (*lockerentity.Locker, error) {
	var (
		l     *lockerentity.Locker
		err   error
		notes string
	)
	switch action {
	case txentity.ActionOpen:
		l, err = s.lockers.Open(ctx, lockerID)
		notes = "Locker opened"
	case txentity.ActionClose:
		l, err = s.lockers.Close(ctx, lockerID)
		notes = "Locker closed"
	default:
		return nil, fmt.Errorf("unsupported locker action %q", action)
	}
	if err != nil {
		return nil, err
	}
	s.appendLog(ctx, l.UserEmail, lockerID, action, code, notes)
	return l, nil
}

func (s *Service) User(ctx context.Context, email string) (*userentity.User, error) {
	return s.users.GetByEmail(ctx, email)
}

func (s *Service) ListUsers(ctx context.Context) ([]userentity.User, error) {
	return s.users.List(ctx)
}

func (s *Service) Locker(ctx context.Context, lockerID string) (*lockerentity.Locker, error) {
	return s.lockers.Get(ctx, lockerID)
}

func (s *Service) ListLockers(ctx context.Context) ([]lockerentity.Locker, error) {
	return s.lockers.List(ctx)
}

func (s *Service) ListAvailableLockers(ctx context.Context) ([]lockerentity.Locker, error) {
	return s.lockers.ListAvailable(ctx)
}

// LockerByUser returns the locker currently held by email.
func (s *Service) LockerByUser(ctx context.Context, email string) (*lockerentity.Locker, error) {
	return s.lockers.GetByUser(ctx, email)
}

func (s *Service) ListOTPs(ctx context.Context) ([]otpentity.OTP, error) {
	return s.otps.List(ctx)
}

func (s *Service) ListTransactions(ctx context.Context) ([]txentity.Transaction, error) {
	return s.log.List(ctx)
}

func (s *Service) UserHistory(ctx context.Context, email string) ([]txentity.Transaction, error) {
	return s.log.ByUser(ctx, email)
}

func (s *Service) LockerHistory(ctx context.Context, lockerID string) ([]txentity.Transaction, error) {
	return s.log.ByLocker(ctx, lockerID)
}

func (s *Service) Settings(ctx context.Context) ([]settingentity.Setting, error) {
	return s.settings.List(ctx)
}

func (s *Service) Setting(ctx context.Context, key string) (*settingentity.Setting, error) {
	return s.settings.Get(ctx, key)
}

// UpdateSetting stores key=value on behalf of actorEmail.
func (s *Service) UpdateSetting(ctx context.Context, actorEmail, key, value, description string) (*settingentity.Setting, error) {
	st, err := s.settings.Set(ctx, key, value, description)
	if err != nil {
		return nil, err
	}
	s.appendLog(ctx, actorEmail, "", txentity.ActionSettingUpdate, "", st.Key+"="+st.Value)
	return st, nil
}

// Stats returns the record count of each table keyed by table name.
func (s *Service) Stats(ctx context.Context) (map[string]int, error) {
	counts, err := s.db.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(counts))
	for t, n := range counts {
		out[string(t)] = n
	}
	return out, nil
}

// PurgeExpiredOTPs removes used and expired codes.
func (s *Service) PurgeExpiredOTPs(ctx context.Context) (int, error) {
	return s.otps.Purge(ctx)
}

// OTPSlip renders the live code of phone as a printable PDF.
func (s *Service) OTPSlip(ctx context.Context, phone string) ([]byte, error) {
	o, err := s.otps.Active(ctx, phone)
	if err != nil {
		return nil, err
	}
	return otp.RenderSlip(*o, s.slipLoc)
}
