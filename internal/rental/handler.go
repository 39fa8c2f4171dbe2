package rental

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-locker-go/internal/locker"
	lockerentity "github.com/ovaphlow/pitchfork/service-locker-go/internal/locker/entity"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/otp"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/setting"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/user"
	userentity "github.com/ovaphlow/pitchfork/service-locker-go/internal/user/entity"
)

var (
	ErrNotOwner        = errors.New("locker belongs to another user")
	ErrUnauthenticated = errors.New("authentication required")
)

// Handler exposes the rental operations over HTTP.
type Handler struct {
	svc    *Service
	tokens *token.Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, tokens *token.Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, tokens: tokens, logger: logger}
}

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) ok(w http.ResponseWriter, status int, data any) {
	h.writeJSON(w, status, Response{Success: true, Data: data})
}

func (h *Handler) fail(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, Response{Success: false, Message: msg})
}

// writeError maps domain errors onto status codes. Unknown errors are 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, user.ErrDuplicateEmail),
		errors.Is(err, locker.ErrLockerNotAvailable),
		errors.Is(err, locker.ErrLockerNotOccupied),
		errors.Is(err, locker.ErrUserHasLocker),
		errors.Is(err, record.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, user.ErrInvalidCredentials),
		errors.Is(err, otp.ErrInvalidCode),
		errors.Is(err, ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, user.ErrDisabled), errors.Is(err, ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, user.ErrNotFound),
		errors.Is(err, locker.ErrLockerNotFound),
		errors.Is(err, otp.ErrNotFound),
		errors.Is(err, setting.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, user.ErrInvalidInput),
		errors.Is(err, otp.ErrPhoneEmpty),
		errors.Is(err, setting.ErrKeyEmpty),
		errors.Is(err, ErrUnsupportedFormat):
		status = http.StatusBadRequest
	case errors.Is(err, record.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}
	switch status {
	case http.StatusInternalServerError:
		h.logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		h.fail(w, status, "internal error")
	case http.StatusServiceUnavailable:
		h.logger.Errorw("storage unavailable", "method", r.Method, "path", r.URL.Path, "err", err)
		h.fail(w, status, record.ErrStorageUnavailable.Error())
	default:
		h.logger.Debugw("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
		h.fail(w, status, err.Error())
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		h.fail(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func (h *Handler) claims(w http.ResponseWriter, r *http.Request) (*token.Claims, bool) {
	c, ok := token.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, r, ErrUnauthenticated)
		return nil, false
	}
	return c, true
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.ok(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RegisterRequest request body for the register endpoint.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.svc.Register(r.Context(), req.Name, req.Email, req.Phone, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusCreated, u.View())
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token used by the locker routes.
type LoginResponse struct {
	User      userentity.PublicView `json:"user"`
	Token     string                `json:"token"`
	ExpiresAt time.Time             `json:"expires_at"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	raw, exp, err := h.tokens.Issue(u.ID, u.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, LoginResponse{User: u.View(), Token: raw, ExpiresAt: exp})
}

// Me returns the caller and the locker they hold, if any.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	c, ok := h.claims(w, r)
	if !ok {
		return
	}
	u, err := h.svc.User(r.Context(), c.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := map[string]any{"user": u.View()}
	if l, err := h.svc.LockerByUser(r.Context(), c.Email); err == nil {
		out["locker"] = l
	} else if !errors.Is(err, locker.ErrLockerNotFound) {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, out)
}

func (h *Handler) MyTransactions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.claims(w, r)
	if !ok {
		return
	}
	txs, err := h.svc.UserHistory(r.Context(), c.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, txs)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]userentity.PublicView, 0, len(users))
	for _, u := range users {
		out = append(out, u.View())
	}
	h.ok(w, http.StatusOK, out)
}

// OTPRequest is used to issue a code.
type OTPRequest struct {
	Phone   string `json:"phone"`
	Purpose string `json:"purpose"`
}

// OTPResponse exposes the code so it can be shown or printed; there is no SMS
// delivery, see OTPSlip.
type OTPResponse struct {
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) IssueOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.svc.IssueOTP(r.Context(), req.Phone, req.Purpose)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusCreated, OTPResponse{Phone: o.Phone, Code: o.Code, Purpose: o.Purpose, ExpiresAt: o.ExpiresAt})
}

// VerifyRequest carries a code to check.
type VerifyRequest struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	valid, err := h.svc.VerifyOTP(r.Context(), req.Phone, req.OTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := Response{Success: valid, Data: map[string]bool{"valid": valid}}
	if !valid {
		resp.Message = otp.ErrInvalidCode.Error()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListOTPs(w http.ResponseWriter, r *http.Request) {
	otps, err := h.svc.ListOTPs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, otps)
}

// OTPSlip streams the live code of a phone as a PDF.
func (h *Handler) OTPSlip(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")
	pdf, err := h.svc.OTPSlip(r.Context(), phone)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": "otp_" + phone + ".pdf"})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// PasswordResetRequest resets a password with a code sent to the phone.
type PasswordResetRequest struct {
	Phone    string `json:"phone"`
	OTP      string `json:"otp"`
	Password string `json:"password"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Phone == "" || req.OTP == "" || req.Password == "" {
		h.fail(w, http.StatusBadRequest, "phone, otp and password are required")
		return
	}
	if err := h.svc.ResetPasswordWithOTP(r.Context(), req.Phone, req.OTP, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Message: "password updated"})
}

// ListLockers returns all lockers, or only free ones with ?status=available.
func (h *Handler) ListLockers(w http.ResponseWriter, r *http.Request) {
	var (
		lockers []lockerentity.Locker
		err     error
	)
	if strings.EqualFold(r.URL.Query().Get("status"), lockerentity.StatusAvailable) {
		lockers, err = h.svc.ListAvailableLockers(r.Context())
	} else {
		lockers, err = h.svc.ListLockers(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, lockers)
}

func (h *Handler) GetLocker(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.Locker(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, l)
}

func (h *Handler) LockerTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.svc.LockerHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, txs)
}

// AssignLocker gives the locker to the caller.
func (h *Handler) AssignLocker(w http.ResponseWriter, r *http.Request) {
	c, ok := h.claims(w, r)
	if !ok {
		return
	}
	l, err := h.svc.AssignLocker(r.Context(), c.Email, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, l)
}

// owned checks that the caller holds the locker named in the path.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (string, bool) {
	c, ok := h.claims(w, r)
	if !ok {
		return "", false
	}
	id := r.PathValue("id")
	l, err := h.svc.Locker(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	if l.UserEmail != c.Email {
		h.writeError(w, r, ErrNotOwner)
		return "", false
	}
	return id, true
}

// GateRequest is the optional OTP for open and close.
type GateRequest struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

func (h *Handler) OpenLocker(w http.ResponseWriter, r *http.Request) {
	h.stamp(w, r, h.svc.OpenLocker, h.svc.OpenLockerWithOTP)
}

func (h *Handler) CloseLocker(w http.ResponseWriter, r *http.Request) {
	h.stamp(w, r, h.svc.CloseLocker, h.svc.CloseLockerWithOTP)
}

type (
	plainStamp func(ctx context.Context, lockerID string) (*lockerentity.Locker, error)
	gatedStamp func(ctx context.Context, phone, code, lockerID string) (*lockerentity.Locker, error)
)

func (h *Handler) stamp(w http.ResponseWriter, r *http.Request, plain plainStamp, gated gatedStamp) {
	id, ok := h.owned(w, r)
	if !ok {
		return
	}
	// the body is optional; an empty one, chunked or not, means no code
	var req GateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		h.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	var (
		l   *lockerentity.Locker
		err error
	)
	if req.OTP != "" {
		l, err = gated(r.Context(), req.Phone, req.OTP, id)
	} else {
		l, err = plain(r.Context(), id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, l)
}

func (h *Handler) ReleaseLocker(w http.ResponseWriter, r *http.Request) {
	id, ok := h.owned(w, r)
	if !ok {
		return
	}
	l, err := h.svc.ReleaseLocker(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, l)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.svc.ListTransactions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, txs)
}

func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.Settings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, settings)
}

func (h *Handler) GetSetting(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Setting(r.Context(), r.PathValue("key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, st)
}

// SettingRequest updates one setting.
type SettingRequest struct {
	Value       string `json:"value"`
	Description string `json:"description"`
}

func (h *Handler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	c, ok := h.claims(w, r)
	if !ok {
		return
	}
	var req SettingRequest
	if !h.decode(w, r, &req) {
		return
	}
	st, err := h.svc.UpdateSetting(r.Context(), c.Email, r.PathValue("key"), req.Value, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, st)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, stats)
}

// Export downloads every table, as JSON by default or CSV with ?format=csv.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	body, contentType, err := h.svc.ExportAll(r.Context(), format)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if format == "" {
		format = FormatJSON
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="locker_database.`+format+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) ClearAll(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.claims(w, r); !ok {
		return
	}
	if err := h.svc.ClearAll(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Message: "all data cleared"})
}

func (h *Handler) PurgeOTPs(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.PurgeExpiredOTPs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, map[string]int{"removed": n})
}
