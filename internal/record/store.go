// Package record persists the five locker tables as whole JSON collections and
// serialises read-modify-write cycles over them.
package record

import (
	"context"
	"errors"
	"fmt"
)

// Table names one persisted collection.
type Table string

const (
	Users        Table = "users"
	Lockers      Table = "lockers"
	OTPs         Table = "otps"
	Transactions Table = "transactions"
	Settings     Table = "settings"
)

// Tables lists every collection in lock order.
var Tables = []Table{Lockers, OTPs, Settings, Transactions, Users}

var (
	// ErrStorageUnavailable marks any failure of the underlying medium, including
	// payloads that can no longer be decoded. Callers must not assume partial success.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrUnknownTable       = errors.New("unknown table")
	// ErrConflict means a table changed after the writer loaded it, usually
	// because another instance shares the backend.
	ErrConflict = errors.New("record: table changed since it was loaded")
)

// ParseTable validates a table name coming from outside the process.
func ParseTable(name string) (Table, error) {
	for _, t := range Tables {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTable, name)
}

// Write replaces one table with Payload, a JSON array. Version is the table
// version the writer loaded. A CheckOnly write asserts Version without
// changing the table.
type Write struct {
	Table     Table
	Payload   []byte
	Version   int64
	CheckOnly bool
}

// Store is the load/replace contract every backend implements.
// Load returns a nil payload and version 0 for a table that was never written.
// Replace applies all writes or none of them. It fails with ErrConflict when
// any write's Version differs from the stored one, and bumps the version of
// every table it changes.
type Store interface {
	Load(ctx context.Context, t Table) ([]byte, int64, error)
	Replace(ctx context.Context, writes ...Write) error
	Close() error
}

func unavailable(op string, err error) error {
	if errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

func conflict(w Write) error {
	return fmt.Errorf("%w: %s is no longer at version %d", ErrConflict, w.Table, w.Version)
}
