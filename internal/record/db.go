package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrReadOnly    = errors.New("record: write in read-only transaction")
	ErrOutOfScope  = errors.New("record: table not locked by transaction")
	emptyArrayJSON = []byte("[]")
)

// commitAttempts bounds how often Update reruns its callback after ErrConflict.
const commitAttempts = 5

// DB serialises access to a Store. Every Update holds the write lock of each
// table it touches for its whole read-modify-write cycle, so two callers in
// this process can never interleave on the same table. Writers in other
// processes are caught by the store's version check on commit.
type DB struct {
	store Store
	locks map[Table]*sync.RWMutex
}

func NewDB(store Store) *DB {
	locks := make(map[Table]*sync.RWMutex, len(Tables))
	for _, t := range Tables {
		locks[t] = &sync.RWMutex{}
	}
	return &DB{store: store, locks: locks}
}

// Store exposes the backend, e.g. to serve it over HTTP.
func (db *DB) Store() Store { return db.store }

// Tx is the view of the locked tables handed to an Update or View callback.
type Tx struct {
	ctx      context.Context
	store    Store
	writable bool
	tables   []Table
	scope    map[Table]bool
	cache    map[Table][]byte
	versions map[Table]int64
	dirty    map[Table]bool
}

// Context returns the context of the enclosing Update or View.
func (tx *Tx) Context() context.Context { return tx.ctx }

func (tx *Tx) load(t Table) ([]byte, error) {
	if !tx.scope[t] {
		return nil, fmt.Errorf("%w: %s", ErrOutOfScope, t)
	}
	if p, ok := tx.cache[t]; ok {
		return p, nil
	}
	p, v, err := tx.store.Load(tx.ctx, t)
	if err != nil {
		return nil, unavailable("load "+string(t), err)
	}
	tx.cache[t] = p
	tx.versions[t] = v
	return p, nil
}

// stage replaces the cached content of t, loading it first so the commit
// carries the version the new content was based on.
func (tx *Tx) stage(t Table, p []byte) error {
	if _, ok := tx.versions[t]; !ok {
		if _, err := tx.load(t); err != nil {
			return err
		}
	}
	tx.cache[t] = p
	tx.dirty[t] = true
	return nil
}

// writes builds the commit batch. Tables that were only read are sent as
// version checks so a decision based on them cannot go stale.
func (tx *Tx) writes() []Write {
	if len(tx.dirty) == 0 {
		return nil
	}
	out := make([]Write, 0, len(tx.tables))
	for _, t := range tx.tables {
		v, loaded := tx.versions[t]
		switch {
		case tx.dirty[t]:
			out = append(out, Write{Table: t, Payload: tx.cache[t], Version: v})
		case loaded:
			out = append(out, Write{Table: t, Version: v, CheckOnly: true})
		}
	}
	return out
}

// Get decodes table t into a slice of T. A never-written table yields an empty slice.
func Get[T any](tx *Tx, t Table) ([]T, error) {
	p, err := tx.load(t)
	if err != nil {
		return nil, err
	}
	rows := []T{}
	if len(p) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(p, &rows); err != nil {
		return nil, unavailable("decode "+string(t), err)
	}
	return rows, nil
}

// Put stages rows as the new content of table t; it is written when the Update commits.
func Put[T any](tx *Tx, t Table, rows []T) error {
	if !tx.writable {
		return ErrReadOnly
	}
	if !tx.scope[t] {
		return fmt.Errorf("%w: %s", ErrOutOfScope, t)
	}
	if rows == nil {
		rows = []T{}
	}
	p, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	return tx.stage(t, p)
}

// Update runs fn with write access to tables. Staged writes are committed in
// one Store.Replace only when fn returns nil; otherwise nothing is written.
// When the store reports ErrConflict, fn runs again on fresh data, so it must
// not have side effects outside tx.
func (db *DB) Update(ctx context.Context, tables []Table, fn func(tx *Tx) error) error {
	ordered, err := db.lock(tables, true)
	if err != nil {
		return err
	}
	defer db.unlock(ordered, true)

	for attempt := 1; ; attempt++ {
		tx := db.newTx(ctx, ordered, true)
		if err := fn(tx); err != nil {
			return err
		}
		writes := tx.writes()
		if len(writes) == 0 {
			return nil
		}
		err := db.store.Replace(ctx, writes...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return unavailable("commit", err)
		}
		if attempt == commitAttempts {
			return err
		}
	}
}

// Apply commits a batch prepared elsewhere, e.g. by an instance using this one
// as its RemoteStore, under the same table locks local Updates hold.
func (db *DB) Apply(ctx context.Context, writes ...Write) error {
	tables := make([]Table, 0, len(writes))
	for _, w := range writes {
		tables = append(tables, w.Table)
	}
	ordered, err := db.lock(tables, true)
	if err != nil {
		return err
	}
	defer db.unlock(ordered, true)
	return db.store.Replace(ctx, writes...)
}

// View runs fn with read access to tables.
func (db *DB) View(ctx context.Context, tables []Table, fn func(tx *Tx) error) error {
	ordered, err := db.lock(tables, false)
	if err != nil {
		return err
	}
	defer db.unlock(ordered, false)
	return fn(db.newTx(ctx, ordered, false))
}

// Seed writes payload into every table that has never been written.
func (db *DB) Seed(ctx context.Context, defaults map[Table][]byte) error {
	return db.Update(ctx, Tables, func(tx *Tx) error {
		for _, t := range Tables {
			p, err := tx.load(t)
			if err != nil {
				return err
			}
			if p != nil {
				continue
			}
			def, ok := defaults[t]
			if !ok {
				def = emptyArrayJSON
			}
			if err := tx.stage(t, def); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reset overwrites every table with its default payload (empty when absent from defaults).
func (db *DB) Reset(ctx context.Context, defaults map[Table][]byte) error {
	return db.Update(ctx, Tables, func(tx *Tx) error {
		for _, t := range Tables {
			def, ok := defaults[t]
			if !ok {
				def = emptyArrayJSON
			}
			if err := tx.stage(t, def); err != nil {
				return err
			}
		}
		return nil
	})
}

// Snapshot returns the raw JSON of every table, read under one consistent set of locks.
func (db *DB) Snapshot(ctx context.Context) (map[Table]json.RawMessage, error) {
	out := make(map[Table]json.RawMessage, len(Tables))
	err := db.View(ctx, Tables, func(tx *Tx) error {
		for _, t := range Tables {
			p, err := tx.load(t)
			if err != nil {
				return err
			}
			if len(p) == 0 {
				p = emptyArrayJSON
			}
			out[t] = json.RawMessage(p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats counts the records of every table.
func (db *DB) Stats(ctx context.Context) (map[Table]int, error) {
	out := make(map[Table]int, len(Tables))
	err := db.View(ctx, Tables, func(tx *Tx) error {
		for _, t := range Tables {
			rows, err := Get[json.RawMessage](tx, t)
			if err != nil {
				return err
			}
			out[t] = len(rows)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) newTx(ctx context.Context, tables []Table, writable bool) *Tx {
	scope := make(map[Table]bool, len(tables))
	for _, t := range tables {
		scope[t] = true
	}
	return &Tx{
		ctx:      ctx,
		store:    db.store,
		writable: writable,
		tables:   tables,
		scope:    scope,
		cache:    make(map[Table][]byte, len(tables)),
		versions: make(map[Table]int64, len(tables)),
		dirty:    make(map[Table]bool, len(tables)),
	}
}

// lock acquires table locks in a fixed order so concurrent Updates cannot deadlock.
func (db *DB) lock(tables []Table, write bool) ([]Table, error) {
	seen := make(map[Table]bool, len(tables))
	ordered := make([]Table, 0, len(tables))
	for _, t := range tables {
		if _, ok := db.locks[t]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTable, t)
		}
		if !seen[t] {
			seen[t] = true
			ordered = append(ordered, t)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	for _, t := range ordered {
		if write {
			db.locks[t].Lock()
		} else {
			db.locks[t].RLock()
		}
	}
	return ordered, nil
}

func (db *DB) unlock(tables []Table, write bool) {
	for i := len(tables) - 1; i >= 0; i-- {
		if write {
			db.locks[tables[i]].Unlock()
		} else {
			db.locks[tables[i]].RUnlock()
		}
	}
}
