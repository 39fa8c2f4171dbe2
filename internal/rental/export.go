package rental

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	lockerentity "github.com/ovaphlow/pitchfork/service-locker-go/internal/locker/entity"
	otpentity "github.com/ovaphlow/pitchfork/service-locker-go/internal/otp/entity"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	settingentity "github.com/ovaphlow/pitchfork/service-locker-go/internal/setting/entity"
	txentity "github.com/ovaphlow/pitchfork/service-locker-go/internal/transaction/entity"
	userentity "github.com/ovaphlow/pitchfork/service-locker-go/internal/user/entity"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"

	isoLayout = "2006-01-02T15:04:05.000Z07:00"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// Export is the JSON form of a full snapshot.
type Export struct {
	ExportedAt time.Time                       `json:"exported_at"`
	Tables     map[record.Table]json.RawMessage `json:"tables"`
}

// sheet is one table in the spreadsheet layout.
type sheet struct {
	name    string
	columns []string
	rows    [][]string
}

// ExportAll serialises every table from one consistent snapshot. It returns
// the payload and its content type.
func (s *Service) ExportAll(ctx context.Context, format string) ([]byte, string, error) {
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		return nil, "", ErrUnsupportedFormat
	}
	snap, err := s.db.Snapshot(ctx)
	if err != nil {
		return nil, "", err
	}
	if format == FormatJSON {
		out, err := json.Marshal(Export{ExportedAt: s.clock.Now().UTC(), Tables: snap})
		if err != nil {
			return nil, "", err
		}
		return out, "application/json", nil
	}
	sheets, err := sheetsFromSnapshot(snap)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for i, sh := range sheets {
		if i > 0 {
			_ = w.Write([]string{""})
		}
		_ = w.Write([]string{sh.name})
		_ = w.Write(sh.columns)
		_ = w.WriteAll(sh.rows)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "text/csv", nil
}

func decodeTable[T any](snap map[record.Table]json.RawMessage, t record.Table) ([]T, error) {
	var rows []T
	if err := json.Unmarshal(snap[t], &rows); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", record.ErrStorageUnavailable, t, err)
	}
	return rows, nil
}

func sheetsFromSnapshot(snap map[record.Table]json.RawMessage) ([]sheet, error) {
	users, err := decodeTable[userentity.User](snap, record.Users)
	if err != nil {
		return nil, err
	}
	lockers, err := decodeTable[lockerentity.Locker](snap, record.Lockers)
	if err != nil {
		return nil, err
	}
	otps, err := decodeTable[otpentity.OTP](snap, record.OTPs)
	if err != nil {
		return nil, err
	}
	txs, err := decodeTable[txentity.Transaction](snap, record.Transactions)
	if err != nil {
		return nil, err
	}
	settings, err := decodeTable[settingentity.Setting](snap, record.Settings)
	if err != nil {
		return nil, err
	}

	us := sheet{name: "Users", columns: []string{"ID", "Name", "Email", "Phone", "Password", "LockerID", "RegistrationDate", "LastLogin", "Status"}}
	for _, u := range users {
		us.rows = append(us.rows, []string{u.ID, u.Name, u.Email, u.Phone, u.Password, u.LockerID, iso(u.RegisteredAt), isoPtr(u.LastLoginAt), u.Status})
	}
	ls := sheet{name: "Lockers", columns: []string{"LockerID", "Status", "UserEmail", "AssignedDate", "LastOpened", "LastClosed", "Location", "Size"}}
	for _, l := range lockers {
		ls.rows = append(ls.rows, []string{l.ID, l.Status, l.UserEmail, isoPtr(l.AssignedAt), isoPtr(l.LastOpenedAt), isoPtr(l.LastClosedAt), l.Location, l.Size})
	}
	ot := sheet{name: "OTPs", columns: []string{"ID", "Phone", "OTP", "Expiry", "Type", "Used", "CreatedAt"}}
	for _, o := range otps {
		ot.rows = append(ot.rows, []string{o.ID, o.Phone, o.Code, iso(o.ExpiresAt), o.Purpose, strconv.FormatBool(o.Used), iso(o.CreatedAt)})
	}
	ts := sheet{name: "Transactions", columns: []string{"ID", "UserEmail", "LockerID", "Action", "Timestamp", "OTP", "Status", "Notes"}}
	for _, t := range txs {
		ts.rows = append(ts.rows, []string{t.ID, t.UserEmail, t.LockerID, t.Action, iso(t.Timestamp), t.OTP, t.Status, t.Notes})
	}
	ss := sheet{name: "Settings", columns: []string{"Key", "Value", "Description", "UpdatedAt"}}
	for _, st := range settings {
		ss.rows = append(ss.rows, []string{st.Key, st.Value, st.Description, iso(st.UpdatedAt)})
	}
	return []sheet{us, ls, ot, ts, ss}, nil
}

func iso(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(isoLayout)
}

func isoPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return iso(*t)
}
