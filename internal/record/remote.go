package record

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// RemoteStore talks to the /records endpoints of another locker service.
type RemoteStore struct {
	base   string
	client *http.Client
}

// RemoteConfigFromEnv returns the base URL from REMOTE_STORE_URL.
func RemoteConfigFromEnv() string {
	return os.Getenv("REMOTE_STORE_URL")
}

// NewRemoteStore builds a client for base, e.g. http://host:8431/locker-api.
// A nil client gets a 10s timeout default.
func NewRemoteStore(base string, client *http.Client) *RemoteStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteStore{base: strings.TrimRight(base, "/"), client: client}
}

func (r *RemoteStore) Load(ctx context.Context, t Table) ([]byte, int64, error) {
	op := "load " + string(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/records/"+url.PathEscape(string(t)), nil)
	if err != nil {
		return nil, 0, unavailable(op, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, unavailable(op, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, 0, nil
	case http.StatusOK:
	default:
		return nil, 0, unavailable(op, fmt.Errorf("remote status %d", resp.StatusCode))
	}
	v, err := strconv.ParseInt(strings.Trim(resp.Header.Get("ETag"), `"`), 10, 64)
	if err != nil {
		return nil, 0, unavailable(op, fmt.Errorf("bad version etag: %w", err))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, unavailable(op, err)
	}
	return body, v, nil
}

func (r *RemoteStore) Replace(ctx context.Context, writes ...Write) error {
	if len(writes) == 0 {
		return nil
	}
	body, err := json.Marshal(batchRequest{Writes: toWireWrites(writes)})
	if err != nil {
		return unavailable("replace", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/records", bytes.NewReader(body))
	if err != nil {
		return unavailable("replace", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return unavailable("replace", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: remote rejected stale batch", ErrConflict)
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return unavailable("replace", fmt.Errorf("remote status %d", resp.StatusCode))
	}
	return nil
}

func (r *RemoteStore) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// wireWrite carries the payload as raw JSON instead of base64.
type wireWrite struct {
	Table     string          `json:"table"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Version   int64           `json:"version"`
	CheckOnly bool            `json:"check_only,omitempty"`
}

type batchRequest struct {
	Writes []wireWrite `json:"writes"`
}

func toWireWrites(writes []Write) []wireWrite {
	out := make([]wireWrite, 0, len(writes))
	for _, w := range writes {
		if w.CheckOnly {
			out = append(out, wireWrite{Table: string(w.Table), Version: w.Version, CheckOnly: true})
			continue
		}
		p := w.Payload
		if len(p) == 0 {
			p = []byte("[]")
		}
		out = append(out, wireWrite{Table: string(w.Table), Payload: p, Version: w.Version})
	}
	return out
}
