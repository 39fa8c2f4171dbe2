package record

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// failingStore fails every Replace after the first replaceOK calls.
type failingStore struct {
	*MemoryStore
	loadErr   error
	replaceOK int
	calls     int
}

func (f *failingStore) Load(ctx context.Context, t Table) ([]byte, int64, error) {
	if f.loadErr != nil {
		return nil, 0, f.loadErr
	}
	return f.MemoryStore.Load(ctx, t)
}

func (f *failingStore) Replace(ctx context.Context, writes ...Write) error {
	f.calls++
	if f.calls > f.replaceOK {
		return errors.New("quota exceeded")
	}
	return f.MemoryStore.Replace(ctx, writes...)
}

func TestUpdate_CommitsAllDirtyTablesTogether(t *testing.T) {
	ctx := context.Background()
	db := NewDB(NewMemoryStore())

	err := db.Update(ctx, []Table{Users, Lockers}, func(tx *Tx) error {
		require.NoError(t, Put(tx, Users, []row{{ID: "u1"}}))
		return Put(tx, Lockers, []row{{ID: "L001"}})
	})
	require.NoError(t, err)

	err = db.View(ctx, []Table{Users, Lockers}, func(tx *Tx) error {
		users, err := Get[row](tx, Users)
		require.NoError(t, err)
		lockers, err := Get[row](tx, Lockers)
		require.NoError(t, err)
		assert.Equal(t, []row{{ID: "u1"}}, users)
		assert.Equal(t, []row{{ID: "L001"}}, lockers)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdate_CallbackErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	db := NewDB(NewMemoryStore())
	boom := errors.New("boom")

	err := db.Update(ctx, []Table{Users}, func(tx *Tx) error {
		require.NoError(t, Put(tx, Users, []row{{ID: "u1"}}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, v, err := db.Store().Load(ctx, Users)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Zero(t, v)
}

func TestUpdate_StoreFailureIsStorageUnavailable(t *testing.T) {
	db := NewDB(&failingStore{MemoryStore: NewMemoryStore()})
	err := db.Update(context.Background(), []Table{Users}, func(tx *Tx) error {
		return Put(tx, Users, []row{{ID: "u1"}})
	})
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestGet_CorruptPayloadIsStorageUnavailable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Replace(ctx, Write{Table: Users, Payload: []byte("{not json")}))
	db := NewDB(store)

	err := db.View(ctx, []Table{Users}, func(tx *Tx) error {
		_, err := Get[row](tx, Users)
		return err
	})
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestTx_ScopeAndReadOnly(t *testing.T) {
	ctx := context.Background()
	db := NewDB(NewMemoryStore())

	err := db.View(ctx, []Table{Users}, func(tx *Tx) error {
		_, err := Get[row](tx, Lockers)
		assert.ErrorIs(t, err, ErrOutOfScope)
		return Put(tx, Users, []row{})
	})
	require.ErrorIs(t, err, ErrReadOnly)

	err = db.Update(ctx, []Table{"bogus"}, func(tx *Tx) error { return nil })
	require.ErrorIs(t, err, ErrUnknownTable)
}

func TestUpdate_SerialisesConcurrentReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	db := NewDB(NewMemoryStore())
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Update(ctx, []Table{Settings, Users}, func(tx *Tx) error {
				rows, err := Get[row](tx, Settings)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					rows = []row{{ID: "counter"}}
				}
				rows[0].Count++
				return Put(tx, Settings, rows)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	err := db.View(ctx, []Table{Settings}, func(tx *Tx) error {
		rows, err := Get[row](tx, Settings)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, workers, rows[0].Count)
		return nil
	})
	require.NoError(t, err)
}

// interleavingStore runs other once, right before the first commit reaches
// the backend, the way a second instance sharing the backend would.
type interleavingStore struct {
	*MemoryStore
	other func()
	once  sync.Once
}

func (s *interleavingStore) Replace(ctx context.Context, writes ...Write) error {
	s.once.Do(s.other)
	return s.MemoryStore.Replace(ctx, writes...)
}

func incrementCounter(tx *Tx) error {
	rows, err := Get[row](tx, Settings)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		rows = []row{{ID: "counter"}}
	}
	rows[0].Count++
	return Put(tx, Settings, rows)
}

func TestUpdate_RerunsAfterConflictingWriteFromAnotherDB(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryStore()
	other := NewDB(shared)
	store := &interleavingStore{MemoryStore: shared}
	store.other = func() {
		require.NoError(t, other.Update(ctx, []Table{Settings}, incrementCounter))
	}
	db := NewDB(store)

	runs := 0
	err := db.Update(ctx, []Table{Settings}, func(tx *Tx) error {
		runs++
		return incrementCounter(tx)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)

	err = db.View(ctx, []Table{Settings}, func(tx *Tx) error {
		rows, err := Get[row](tx, Settings)
		require.NoError(t, err)
		assert.Equal(t, 2, rows[0].Count)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdate_ReadOnlyTablesAreVersionChecked(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryStore()
	require.NoError(t, NewDB(shared).Seed(ctx, nil))
	other := NewDB(shared)
	store := &interleavingStore{MemoryStore: shared}
	store.other = func() {
		require.NoError(t, other.Update(ctx, []Table{Users}, func(tx *Tx) error {
			return Put(tx, Users, []row{{ID: "late"}})
		}))
	}
	db := NewDB(store)

	var seen []int
	err := db.Update(ctx, []Table{Users, Lockers}, func(tx *Tx) error {
		users, err := Get[row](tx, Users)
		if err != nil {
			return err
		}
		seen = append(seen, len(users))
		return Put(tx, Lockers, []row{{ID: "L001", Count: len(users)}})
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, seen)
}

func TestUpdate_GivesUpAfterRepeatedConflicts(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryStore()
	other := NewDB(shared)
	db := NewDB(shared)

	runs := 0
	err := db.Update(ctx, []Table{Settings}, func(tx *Tx) error {
		runs++
		if err := incrementCounter(tx); err != nil {
			return err
		}
		// every attempt is overtaken before it commits
		return other.Update(ctx, []Table{Settings}, incrementCounter)
	})
	require.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, commitAttempts, runs)
}

func TestMemoryStore_RejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Replace(ctx, Write{Table: Users, Payload: []byte(`[]`)}))
	_, v, err := s.Load(ctx, Users)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	err = s.Replace(ctx,
		Write{Table: Lockers, Payload: []byte(`[{"id":"L001"}]`)},
		Write{Table: Users, Payload: []byte(`[{"id":"u"}]`), Version: 0},
	)
	require.ErrorIs(t, err, ErrConflict)
	p, _, err := s.Load(ctx, Lockers)
	require.NoError(t, err)
	assert.Nil(t, p, "a rejected batch writes nothing")

	require.ErrorIs(t, s.Replace(ctx, Write{Table: Users, Version: 0, CheckOnly: true}), ErrConflict)
	require.NoError(t, s.Replace(ctx, Write{Table: Users, Version: 1, CheckOnly: true}))
	_, v, err = s.Load(ctx, Users)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "a check does not bump the version")
}

func TestApply_WaitsForLocalUpdate(t *testing.T) {
	ctx := context.Background()
	db := NewDB(NewMemoryStore())

	inside := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- db.Update(ctx, []Table{Users}, func(tx *Tx) error {
			if _, err := Get[row](tx, Users); err != nil {
				return err
			}
			close(inside)
			// give Apply a chance to run while the lock is held
			time.Sleep(20 * time.Millisecond)
			return Put(tx, Users, []row{{ID: "local"}})
		})
	}()
	<-inside
	// loaded at version 0, but the local Update commits first
	err := db.Apply(ctx, Write{Table: Users, Payload: []byte(`[{"id":"remote"}]`)})
	require.ErrorIs(t, err, ErrConflict)
	require.NoError(t, <-done)
}

func TestSeedResetSnapshotStats(t *testing.T) {
	ctx := context.Background()
	db := NewDB(NewMemoryStore())
	defaults := map[Table][]byte{Lockers: []byte(`[{"id":"L001"},{"id":"L002"}]`)}

	require.NoError(t, db.Seed(ctx, defaults))
	require.NoError(t, db.Update(ctx, []Table{Users}, func(tx *Tx) error {
		return Put(tx, Users, []row{{ID: "u1"}})
	}))
	// seeding again must not clobber existing data
	require.NoError(t, db.Seed(ctx, defaults))

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[Lockers])
	assert.Equal(t, 1, stats[Users])
	assert.Equal(t, 0, stats[OTPs])

	require.NoError(t, db.Reset(ctx, defaults))
	snap, err := db.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, len(Tables))
	assert.JSONEq(t, `[]`, string(snap[Users]))
	assert.JSONEq(t, `[{"id":"L001"},{"id":"L002"}]`, string(snap[Lockers]))
}

func TestParseTable(t *testing.T) {
	tbl, err := ParseTable("otps")
	require.NoError(t, err)
	assert.Equal(t, OTPs, tbl)

	_, err = ParseTable("OTPs")
	assert.ErrorIs(t, err, ErrUnknownTable)
}
