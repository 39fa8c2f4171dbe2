package repo

import (
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/setting/entity"
)

// Repo is the settings table loaded inside a record transaction.
type Repo struct {
	tx   *record.Tx
	rows []entity.Setting
}

func NewRepo(tx *record.Tx) (*Repo, error) {
	rows, err := record.Get[entity.Setting](tx, record.Settings)
	if err != nil {
		return nil, err
	}
	return &Repo{tx: tx, rows: rows}, nil
}

func (r *Repo) List() []entity.Setting {
	return append([]entity.Setting(nil), r.rows...)
}

func (r *Repo) Get(key string) *entity.Setting {
	for i := range r.rows {
		if r.rows[i].Key == key {
			return &r.rows[i]
		}
	}
	return nil
}

// Upsert replaces the row with the same key or appends a new one.
func (r *Repo) Upsert(s entity.Setting) {
	if cur := r.Get(s.Key); cur != nil {
		*cur = s
		return
	}
	r.rows = append(r.rows, s)
}

func (r *Repo) Save() error {
	return record.Put(r.tx, record.Settings, r.rows)
}
