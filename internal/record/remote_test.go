package record

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRemotePair(t *testing.T) (*RemoteStore, *MemoryStore) {
	t.Helper()
	backing := NewMemoryStore()
	h := NewHandler(NewDB(backing), zap.NewNop().Sugar())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/records/{table}", h.Load)
	mux.HandleFunc("POST /api/records", h.Replace)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewRemoteStore(srv.URL+"/api/", srv.Client()), backing
}

func TestRemoteStore_LoadMissingIsNil(t *testing.T) {
	rs, _ := newRemotePair(t)
	p, v, err := rs.Load(context.Background(), Users)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Zero(t, v)
}

func TestRemoteStore_ReplaceThenLoad(t *testing.T) {
	ctx := context.Background()
	rs, backing := newRemotePair(t)

	require.NoError(t, rs.Replace(ctx,
		Write{Table: Users, Payload: []byte(`[{"id":"u1"}]`)},
		Write{Table: Lockers, Payload: nil},
	))

	p, v, err := rs.Load(ctx, Users)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"u1"}]`, string(p))
	assert.Equal(t, int64(1), v)

	p, _, err = backing.Load(ctx, Lockers)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(p))
}

func TestRemoteStore_StaleBatchIsConflict(t *testing.T) {
	ctx := context.Background()
	rs, backing := newRemotePair(t)
	require.NoError(t, backing.Replace(ctx, Write{Table: Lockers, Payload: []byte(`[{"id":"L001"}]`)}))

	err := rs.Replace(ctx, Write{Table: Lockers, Payload: []byte(`[]`)})
	require.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)

	err = rs.Replace(ctx,
		Write{Table: Users, Payload: []byte(`[{"id":"u1"}]`)},
		Write{Table: Lockers, Version: 0, CheckOnly: true},
	)
	require.ErrorIs(t, err, ErrConflict)
	p, _, err := backing.Load(ctx, Users)
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, rs.Replace(ctx,
		Write{Table: Users, Payload: []byte(`[{"id":"u1"}]`)},
		Write{Table: Lockers, Version: 1, CheckOnly: true},
	))
}

func TestRemoteStore_WorksBehindDB(t *testing.T) {
	ctx := context.Background()
	rs, _ := newRemotePair(t)
	db := NewDB(rs)

	require.NoError(t, db.Update(ctx, []Table{Transactions}, func(tx *Tx) error {
		return Put(tx, Transactions, []row{{ID: "t1"}, {ID: "t2"}})
	}))
	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[Transactions])
}

func TestRemoteStore_ServerDownIsStorageUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rs := NewRemoteStore(url, nil)
	_, _, err := rs.Load(context.Background(), Users)
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestHandler_RejectsBadBatches(t *testing.T) {
	h := NewHandler(NewDB(NewMemoryStore()), zap.NewNop().Sugar())

	cases := map[string]string{
		"not json":      `{`,
		"unknown table": `{"writes":[{"table":"nope","payload":[]}]}`,
		"not an array":  `{"writes":[{"table":"users","payload":{"a":1}}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Replace(rec, httptest.NewRequest(http.MethodPost, "/records", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
