package repo

import (
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/otp/entity"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
)

// OTPRepo is the otps table loaded inside a record transaction.
type OTPRepo struct {
	tx   *record.Tx
	rows []entity.OTP
}

func NewOTPRepo(tx *record.Tx) (*OTPRepo, error) {
	rows, err := record.Get[entity.OTP](tx, record.OTPs)
	if err != nil {
		return nil, err
	}
	return &OTPRepo{tx: tx, rows: rows}, nil
}

func (r *OTPRepo) List() []entity.OTP {
	return append([]entity.OTP(nil), r.rows...)
}

// Find returns the record matching both phone and code.
func (r *OTPRepo) Find(phone, code string) *entity.OTP {
	for i := range r.rows {
		if r.rows[i].Phone == phone && r.rows[i].Code == code {
			return &r.rows[i]
		}
	}
	return nil
}

func (r *OTPRepo) GetByPhone(phone string) *entity.OTP {
	for i := range r.rows {
		if r.rows[i].Phone == phone {
			return &r.rows[i]
		}
	}
	return nil
}

// Replace drops every record for o.Phone and appends o.
func (r *OTPRepo) Replace(o entity.OTP) {
	kept := r.rows[:0]
	for _, row := range r.rows {
		if row.Phone != o.Phone {
			kept = append(kept, row)
		}
	}
	r.rows = append(kept, o)
}

// RemoveWhere deletes matching records and returns how many were removed.
func (r *OTPRepo) RemoveWhere(match func(entity.OTP) bool) int {
	kept := r.rows[:0]
	for _, row := range r.rows {
		if !match(row) {
			kept = append(kept, row)
		}
	}
	n := len(r.rows) - len(kept)
	r.rows = kept
	return n
}

func (r *OTPRepo) Save() error {
	return record.Put(r.tx, record.OTPs, r.rows)
}
