package record

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// Handler serves a DB's store over HTTP so another instance can use it through RemoteStore.
type Handler struct {
	db     *DB
	logger *zap.SugaredLogger
}

func NewHandler(db *DB, logger *zap.SugaredLogger) *Handler {
	return &Handler{db: db, logger: logger}
}

// Load serves GET /records/{table}. The table version is sent as the ETag.
// Reads take no lock; a stale read fails the version check when written back.
func (h *Handler) Load(w http.ResponseWriter, r *http.Request) {
	t, err := ParseTable(r.PathValue("table"))
	if err != nil {
		http.Error(w, "unknown table", http.StatusNotFound)
		return
	}
	p, v, err := h.db.Store().Load(r.Context(), t)
	if err != nil {
		h.logger.Warnw("record load failed", "table", t, "err", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	if p == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(v, 10)))
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(p)
}

// Replace serves POST /records with a batch of table writes. Each write names
// the version it was based on; a stale batch is rejected with 412.
func (h *Handler) Replace(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid record batch", "err", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	writes := make([]Write, 0, len(req.Writes))
	for _, ww := range req.Writes {
		t, err := ParseTable(ww.Table)
		if err != nil {
			http.Error(w, "unknown table", http.StatusBadRequest)
			return
		}
		if ww.CheckOnly {
			writes = append(writes, Write{Table: t, Version: ww.Version, CheckOnly: true})
			continue
		}
		var rows []json.RawMessage
		if err := json.Unmarshal(ww.Payload, &rows); err != nil {
			http.Error(w, "payload must be a JSON array", http.StatusBadRequest)
			return
		}
		writes = append(writes, Write{Table: t, Payload: ww.Payload, Version: ww.Version})
	}
	if err := h.db.Apply(r.Context(), writes...); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrConflict):
			h.logger.Debugw("record batch is stale", "err", err)
			http.Error(w, "table changed since it was loaded", http.StatusPreconditionFailed)
			return
		case errors.Is(err, ErrStorageUnavailable):
			status = http.StatusServiceUnavailable
		}
		h.logger.Warnw("record replace failed", "err", err)
		http.Error(w, "replace failed", status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
