package transaction

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/transaction/entity"
	txrepo "github.com/ovaphlow/pitchfork/service-locker-go/internal/transaction/repo"
	"github.com/ovaphlow/pitchfork/service-locker-go/pkg/utilities"
)

// Log is the audit trail. Records are only ever appended.
type Log struct {
	db    *record.DB
	clock clockwork.Clock
}

func NewLog(db *record.DB, clock clockwork.Clock) *Log {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Log{db: db, clock: clock}
}

// Append stores one record and returns it.
func (l *Log) Append(ctx context.Context, userEmail, lockerID, action, otp, status, notes string) (*entity.Transaction, error) {
	t := entity.Transaction{
		ID:        utilities.NewSnowflakeID(),
		UserEmail: userEmail,
		LockerID:  lockerID,
		Action:    action,
		Timestamp: l.clock.Now().UTC(),
		OTP:       otp,
		Status:    status,
		Notes:     notes,
	}
	err := l.db.Update(ctx, []record.Table{record.Transactions}, func(tx *record.Tx) error {
		r, err := txrepo.NewTransactionRepo(tx)
		if err != nil {
			return err
		}
		return r.Append(t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (l *Log) List(ctx context.Context) ([]entity.Transaction, error) {
	return l.filter(ctx, nil)
}

func (l *Log) ByUser(ctx context.Context, email string) ([]entity.Transaction, error) {
	return l.filter(ctx, func(t entity.Transaction) bool { return t.UserEmail == email })
}

func (l *Log) ByLocker(ctx context.Context, lockerID string) ([]entity.Transaction, error) {
	return l.filter(ctx, func(t entity.Transaction) bool { return t.LockerID == lockerID })
}

func (l *Log) filter(ctx context.Context, match func(entity.Transaction) bool) ([]entity.Transaction, error) {
	var out []entity.Transaction
	err := l.db.View(ctx, []record.Table{record.Transactions}, func(tx *record.Tx) error {
		r, err := txrepo.NewTransactionRepo(tx)
		if err != nil {
			return err
		}
		out = r.Filter(match)
		return nil
	})
	return out, err
}
