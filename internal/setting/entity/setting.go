package entity

import "time"

const (
	KeyOTPExpirySeconds = "OTP_EXPIRY_SECONDS"
	KeyMaxLoginAttempts = "MAX_LOGIN_ATTEMPTS"
	KeyLockerCount      = "LOCKER_COUNT"
	KeySystemStatus     = "SYSTEM_STATUS"
)

// Setting is a string key/value pair. Values are stored as text and parsed by
// the consumer.
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Defaults returns the rows a fresh store starts with.
func Defaults(now time.Time) []Setting {
	return []Setting{
		{Key: KeyOTPExpirySeconds, Value: "30", Description: "OTP expiry time in seconds", UpdatedAt: now},
		{Key: KeyMaxLoginAttempts, Value: "3", Description: "Maximum login attempts before lockout", UpdatedAt: now},
		{Key: KeyLockerCount, Value: "20", Description: "Total number of lockers", UpdatedAt: now},
		{Key: KeySystemStatus, Value: "ACTIVE", Description: "Current system status", UpdatedAt: now},
	}
}
