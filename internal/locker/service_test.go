package locker

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-locker-go/internal/locker/entity"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/user"
)

type fixture struct {
	db    *record.DB
	reg   *Registry
	users *user.UserService
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := record.NewDB(record.NewMemoryStore())
	require.NoError(t, db.Update(ctx, []record.Table{record.Lockers}, func(tx *record.Tx) error {
		return record.Put(tx, record.Lockers, entity.DefaultPool(20))
	}))
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	f := &fixture{db: db, reg: NewRegistry(db, clock), users: user.NewUserService(db, nil, clock), clock: clock}
	_, err := f.users.Register(ctx, "Ann", "a@x.com", "555", "pw")
	require.NoError(t, err)
	_, err = f.users.Register(ctx, "Bob", "b@x.com", "556", "pw")
	require.NoError(t, err)
	return f
}

func TestDefaultPool(t *testing.T) {
	pool := entity.DefaultPool(20)
	require.Len(t, pool, 20)
	assert.Equal(t, "L001", pool[0].ID)
	assert.Equal(t, "L020", pool[19].ID)
	assert.Equal(t, "Floor 1", pool[4].Location)
	assert.Equal(t, "Floor 2", pool[5].Location)
	assert.Equal(t, "Floor 4", pool[19].Location)
	assert.Equal(t, entity.SizeSmall, pool[9].Size)
	assert.Equal(t, entity.SizeLarge, pool[10].Size)
	for _, l := range pool {
		assert.Equal(t, entity.StatusAvailable, l.Status)
		assert.Empty(t, l.UserEmail)
	}
}

func TestListAvailable_Initial(t *testing.T) {
	f := newFixture(t)
	avail, err := f.reg.ListAvailable(context.Background())
	require.NoError(t, err)
	assert.Len(t, avail, 20)
}

func TestAssign_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	l, err := f.reg.Assign(ctx, "a@x.com", "L001")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusOccupied, l.Status)
	assert.Equal(t, "a@x.com", l.UserEmail)
	require.NotNil(t, l.AssignedAt)
	assert.Equal(t, f.clock.Now(), *l.AssignedAt)

	avail, err := f.reg.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Len(t, avail, 19)
	for _, a := range avail {
		assert.NotEqual(t, "L001", a.ID)
	}

	u, err := f.users.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "L001", u.LockerID)

	held, err := f.reg.GetByUser(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "L001", held.ID)
}

func TestAssign_Failures_LeaveStateUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.reg.Assign(ctx, "a@x.com", "L001")
	require.NoError(t, err)
	before, err := f.db.Snapshot(ctx)
	require.NoError(t, err)

	_, err = f.reg.Assign(ctx, "b@x.com", "L001")
	assert.ErrorIs(t, err, ErrLockerNotAvailable)
	_, err = f.reg.Assign(ctx, "b@x.com", "L999")
	assert.ErrorIs(t, err, ErrLockerNotFound)
	_, err = f.reg.Assign(ctx, "ghost@x.com", "L002")
	assert.ErrorIs(t, err, user.ErrNotFound)
	_, err = f.reg.Assign(ctx, "a@x.com", "L002")
	assert.ErrorIs(t, err, ErrUserHasLocker)

	after, err := f.db.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOpenClose_StampOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	l, err := f.reg.Open(ctx, "L003")
	require.NoError(t, err)
	require.NotNil(t, l.LastOpenedAt)
	assert.Nil(t, l.LastClosedAt)
	assert.Equal(t, entity.StatusAvailable, l.Status)

	f.clock.Advance(time.Minute)
	l, err = f.reg.Close(ctx, "L003")
	require.NoError(t, err)
	require.NotNil(t, l.LastClosedAt)
	assert.True(t, l.LastClosedAt.After(*l.LastOpenedAt))

	_, err = f.reg.Open(ctx, "nope")
	assert.ErrorIs(t, err, ErrLockerNotFound)
	_, err = f.reg.Close(ctx, "nope")
	assert.ErrorIs(t, err, ErrLockerNotFound)
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.Release(ctx, "L005")
	assert.ErrorIs(t, err, ErrLockerNotOccupied)

	_, err = f.reg.Assign(ctx, "b@x.com", "L005")
	require.NoError(t, err)
	prev, err := f.reg.Release(ctx, "L005")
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", prev.UserEmail)

	l, err := f.reg.Get(ctx, "L005")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAvailable, l.Status)
	assert.Empty(t, l.UserEmail)
	assert.Nil(t, l.AssignedAt)

	u, err := f.users.GetByEmail(ctx, "b@x.com")
	require.NoError(t, err)
	assert.Empty(t, u.LockerID)

	// user may take a new locker afterwards
	_, err = f.reg.Assign(ctx, "b@x.com", "L006")
	require.NoError(t, err)
}
