package entity

import "time"

const (
	PurposeGeneral       = "general"
	PurposePasswordReset = "password_reset"
	PurposeOpen          = "open"
	PurposeClose         = "close"
)

// OTP is one issued code. At most one record exists per phone.
type OTP struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Purpose   string    `json:"purpose"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

// Live reports whether the code can still be verified at now.
func (o OTP) Live(now time.Time) bool {
	return !o.Used && now.Before(o.ExpiresAt)
}
