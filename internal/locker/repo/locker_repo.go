package repo

import (
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/locker/entity"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
)

// LockerRepo is the lockers table loaded inside a record transaction.
type LockerRepo struct {
	tx   *record.Tx
	rows []entity.Locker
}

func NewLockerRepo(tx *record.Tx) (*LockerRepo, error) {
	rows, err := record.Get[entity.Locker](tx, record.Lockers)
	if err != nil {
		return nil, err
	}
	return &LockerRepo{tx: tx, rows: rows}, nil
}

func (r *LockerRepo) List() []entity.Locker {
	return append([]entity.Locker(nil), r.rows...)
}

func (r *LockerRepo) ListByStatus(status string) []entity.Locker {
	out := []entity.Locker{}
	for _, l := range r.rows {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out
}

func (r *LockerRepo) GetByID(id string) *entity.Locker {
	for i := range r.rows {
		if r.rows[i].ID == id {
			return &r.rows[i]
		}
	}
	return nil
}

func (r *LockerRepo) GetByUser(email string) *entity.Locker {
	if email == "" {
		return nil
	}
	for i := range r.rows {
		if r.rows[i].UserEmail == email {
			return &r.rows[i]
		}
	}
	return nil
}

func (r *LockerRepo) Save() error {
	return record.Put(r.tx, record.Lockers, r.rows)
}
