package entity

import "time"

const (
	ActionRegister      = "REGISTER"
	ActionLogin         = "LOGIN"
	ActionOTPIssue      = "OTP_ISSUE"
	ActionOTPVerify     = "OTP_VERIFY"
	ActionPasswordReset = "PASSWORD_RESET"
	ActionAssign        = "ASSIGN"
	ActionOpen          = "OPEN"
	ActionClose         = "CLOSE"
	ActionRelease       = "RELEASE"
	ActionSettingUpdate = "SETTING_UPDATE"

	StatusSuccess = "Success"
	StatusFailure = "Failure"
)

// Transaction is an immutable audit record.
type Transaction struct {
	ID        string    `json:"id"`
	UserEmail string    `json:"user_email"`
	LockerID  string    `json:"locker_id,omitempty"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	OTP       string    `json:"otp,omitempty"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
}
