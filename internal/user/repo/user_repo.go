package repo

import (
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/user/entity"
)

// UserRepo is the users table loaded inside a record transaction. Pointers
// returned by the getters alias the loaded rows; call Save to persist changes.
type UserRepo struct {
	tx   *record.Tx
	rows []entity.User
}

// NewUserRepo loads the users table from tx.
func NewUserRepo(tx *record.Tx) (*UserRepo, error) {
	rows, err := record.Get[entity.User](tx, record.Users)
	if err != nil {
		return nil, err
	}
	return &UserRepo{tx: tx, rows: rows}, nil
}

func (r *UserRepo) List() []entity.User {
	return append([]entity.User(nil), r.rows...)
}

// GetByEmail is an exact, case-sensitive match.
func (r *UserRepo) GetByEmail(email string) *entity.User {
	for i := range r.rows {
		if r.rows[i].Email == email {
			return &r.rows[i]
		}
	}
	return nil
}

// GetByPhone returns the first user registered with phone.
func (r *UserRepo) GetByPhone(phone string) *entity.User {
	for i := range r.rows {
		if r.rows[i].Phone == phone {
			return &r.rows[i]
		}
	}
	return nil
}

func (r *UserRepo) Create(u entity.User) {
	r.rows = append(r.rows, u)
}

func (r *UserRepo) Save() error {
	return record.Put(r.tx, record.Users, r.rows)
}
