package record

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newPostgresMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return NewSQLStore(sqlx.NewDb(raw, "postgres")), mock
}

func TestSQLStore_Postgres_Load(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectQuery(`(?s)^SELECT payload, version FROM records WHERE name = \$1$`).
		WithArgs("lockers").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "version"}).AddRow([]byte(`[{"id":"L001"}]`), 7))

	p, v, err := s.Load(context.Background(), Lockers)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"L001"}]`, string(p))
	assert.Equal(t, int64(7), v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Postgres_LoadMissingIsNil(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectQuery(`SELECT payload, version FROM records`).
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "version"}))

	p, v, err := s.Load(context.Background(), Users)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Zero(t, v)
}

func TestSQLStore_Postgres_ReplaceInOneTransaction(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`(?s)^UPDATE records SET payload = \$1, version = version \+ 1, updated_at = \$2 WHERE name = \$3 AND version = \$4$`).
		WithArgs(`[{"id":"L001"}]`, sqlmock.AnyArg(), "lockers", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^INSERT INTO records \(name, payload, version, updated_at\) VALUES \(\$1, \$2, 1, \$3\) ON CONFLICT \(name\) DO NOTHING$`).
		WithArgs("otps", `[]`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE records SET version = version WHERE name = \$1 AND version = \$2$`).
		WithArgs("users", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Replace(context.Background(),
		Write{Table: Lockers, Payload: []byte(`[{"id":"L001"}]`), Version: 3},
		Write{Table: OTPs, Payload: []byte(`[]`)},
		Write{Table: Users, Version: 5, CheckOnly: true},
	)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Postgres_StaleVersionRollsBack(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE records SET payload`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE records SET payload`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Replace(context.Background(),
		Write{Table: Lockers, Payload: []byte(`[]`), Version: 2},
		Write{Table: Users, Payload: []byte(`[]`), Version: 2},
	)
	require.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Postgres_ReplaceRollsBackOnError(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE records`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE records`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Replace(context.Background(),
		Write{Table: Lockers, Payload: []byte(`[]`), Version: 1},
		Write{Table: Users, Payload: []byte(`[]`), Version: 1},
	)
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	raw, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	raw.SetMaxOpenConns(1)
	s := NewSQLStore(raw)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.EnsureTable(ctx))
	require.NoError(t, s.EnsureTable(ctx))

	p, v, err := s.Load(ctx, OTPs)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Zero(t, v)

	require.NoError(t, s.Replace(ctx, Write{Table: OTPs, Payload: []byte(`[{"id":"1"}]`)}))
	require.NoError(t, s.Replace(ctx, Write{Table: OTPs, Payload: []byte(`[{"id":"2"}]`), Version: 1}))
	// both writers loaded version 1; only the first may commit
	require.ErrorIs(t, s.Replace(ctx, Write{Table: OTPs, Payload: []byte(`[{"id":"3"}]`), Version: 1}), ErrConflict)
	require.ErrorIs(t, s.Replace(ctx, Write{Table: OTPs, Payload: []byte(`[{"id":"3"}]`)}), ErrConflict)
	require.ErrorIs(t, s.Replace(ctx, Write{Table: Users, Version: 4, CheckOnly: true}), ErrConflict)

	p, v, err = s.Load(ctx, OTPs)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"2"}]`, string(p))
	assert.Equal(t, int64(2), v)

	db := NewDB(s)
	require.NoError(t, db.Update(ctx, []Table{Users, Lockers}, func(tx *Tx) error {
		if err := Put(tx, Users, []row{{ID: "u"}}); err != nil {
			return err
		}
		return Put(tx, Lockers, []row{{ID: "L"}})
	}))
	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[Users])
	assert.Equal(t, 1, stats[Lockers])
}
