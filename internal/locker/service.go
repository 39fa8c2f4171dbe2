package locker

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"

	"github.com/ovaphlow/pitchfork/service-locker-go/internal/locker/entity"
	lockerrepo "github.com/ovaphlow/pitchfork/service-locker-go/internal/locker/repo"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-locker-go/internal/user/repo"
)

var (
	ErrLockerNotFound     = errors.New("locker not found")
	ErrLockerNotAvailable = errors.New("locker not available")
	ErrLockerNotOccupied  = errors.New("locker not occupied")
	ErrUserHasLocker      = errors.New("user already holds a locker")
)

// Registry tracks locker occupancy and keeps Locker.UserEmail and
// User.LockerID in step.
type Registry struct {
	db    *record.DB
	clock clockwork.Clock
}

func NewRegistry(db *record.DB, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{db: db, clock: clock}
}

func (r *Registry) List(ctx context.Context) ([]entity.Locker, error) {
	return r.view(ctx, func(l *lockerrepo.LockerRepo) []entity.Locker { return l.List() })
}

func (r *Registry) ListAvailable(ctx context.Context) ([]entity.Locker, error) {
	return r.view(ctx, func(l *lockerrepo.LockerRepo) []entity.Locker {
		return l.ListByStatus(entity.StatusAvailable)
	})
}

func (r *Registry) Get(ctx context.Context, id string) (*entity.Locker, error) {
	return r.find(ctx, func(l *lockerrepo.LockerRepo) *entity.Locker { return l.GetByID(id) })
}

// GetByUser returns the locker held by email.
func (r *Registry) GetByUser(ctx context.Context, email string) (*entity.Locker, error) {
	return r.find(ctx, func(l *lockerrepo.LockerRepo) *entity.Locker { return l.GetByUser(email) })
}

// Assign moves an Available locker to Occupied for userEmail and records the
// locker on the user. Both rows are written together or not at all.
func (r *Registry) Assign(ctx context.Context, userEmail, lockerID string) (*entity.Locker, error) {
	var out entity.Locker
	err := r.db.Update(ctx, []record.Table{record.Lockers, record.Users}, func(tx *record.Tx) error {
		lockers, err := lockerrepo.NewLockerRepo(tx)
		if err != nil {
			return err
		}
		users, err := userrepo.NewUserRepo(tx)
		if err != nil {
			return err
		}
		l := lockers.GetByID(lockerID)
		if l == nil {
			return ErrLockerNotFound
		}
		if l.Status != entity.StatusAvailable {
			return ErrLockerNotAvailable
		}
		u := users.GetByEmail(userEmail)
		if u == nil {
			return user.ErrNotFound
		}
		if u.LockerID != "" || lockers.GetByUser(userEmail) != nil {
			return ErrUserHasLocker
		}
		now := r.clock.Now().UTC()
		l.Status = entity.StatusOccupied
		l.UserEmail = userEmail
		l.AssignedAt = &now
		u.LockerID = lockerID
		out = *l
		if err := lockers.Save(); err != nil {
			return err
		}
		return users.Save()
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Release returns an Occupied locker to the pool and clears its owner's LockerID.
func (r *Registry) Release(ctx context.Context, lockerID string) (*entity.Locker, error) {
	var out entity.Locker
	err := r.db.Update(ctx, []record.Table{record.Lockers, record.Users}, func(tx *record.Tx) error {
		lockers, err := lockerrepo.NewLockerRepo(tx)
		if err != nil {
			return err
		}
		users, err := userrepo.NewUserRepo(tx)
		if err != nil {
			return err
		}
		l := lockers.GetByID(lockerID)
		if l == nil {
			return ErrLockerNotFound
		}
		if l.Status != entity.StatusOccupied {
			return ErrLockerNotOccupied
		}
		out = *l
		if u := users.GetByEmail(l.UserEmail); u != nil && u.LockerID == lockerID {
			u.LockerID = ""
		}
		l.Status = entity.StatusAvailable
		l.UserEmail = ""
		l.AssignedAt = nil
		if err := lockers.Save(); err != nil {
			return err
		}
		return users.Save()
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Open stamps LastOpenedAt. Occupancy is not affected.
func (r *Registry) Open(ctx context.Context, lockerID string) (*entity.Locker, error) {
	return r.stamp(ctx, lockerID, func(l *entity.Locker) {
		now := r.clock.Now().UTC()
		l.LastOpenedAt = &now
	})
}

// Close stamps LastClosedAt.
func (r *Registry) Close(ctx context.Context, lockerID string) (*entity.Locker, error) {
	return r.stamp(ctx, lockerID, func(l *entity.Locker) {
		now := r.clock.Now().UTC()
		l.LastClosedAt = &now
	})
}

func (r *Registry) stamp(ctx context.Context, lockerID string, apply func(*entity.Locker)) (*entity.Locker, error) {
	var out entity.Locker
	err := r.db.Update(ctx, []record.Table{record.Lockers}, func(tx *record.Tx) error {
		lockers, err := lockerrepo.NewLockerRepo(tx)
		if err != nil {
			return err
		}
		l := lockers.GetByID(lockerID)
		if l == nil {
			return ErrLockerNotFound
		}
		apply(l)
		out = *l
		return lockers.Save()
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Registry) view(ctx context.Context, pick func(*lockerrepo.LockerRepo) []entity.Locker) ([]entity.Locker, error) {
	var out []entity.Locker
	err := r.db.View(ctx, []record.Table{record.Lockers}, func(tx *record.Tx) error {
		lockers, err := lockerrepo.NewLockerRepo(tx)
		if err != nil {
			return err
		}
		out = pick(lockers)
		return nil
	})
	return out, err
}

func (r *Registry) find(ctx context.Context, pick func(*lockerrepo.LockerRepo) *entity.Locker) (*entity.Locker, error) {
	var out *entity.Locker
	err := r.db.View(ctx, []record.Table{record.Lockers}, func(tx *record.Tx) error {
		lockers, err := lockerrepo.NewLockerRepo(tx)
		if err != nil {
			return err
		}
		if l := pick(lockers); l != nil {
			cp := *l
			out = &cp
			return nil
		}
		return ErrLockerNotFound
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
