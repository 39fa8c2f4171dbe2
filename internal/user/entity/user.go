package entity

import "time"

const (
	StatusActive   = "Active"
	StatusInactive = "Inactive"
)

// User is one row of the users table.
// Password holds whatever the configured hasher produced; with the default
// plain hasher that is the password itself.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone"`
	Password     string     `json:"password"`
	PasswordAlgo string     `json:"password_algo,omitempty"`
	LockerID     string     `json:"locker_id"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	Status       string     `json:"status"`
}

// PublicView is the projection returned to API callers (no password material).
type PublicView struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone"`
	LockerID     string     `json:"locker_id"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	Status       string     `json:"status"`
}

func (u User) View() PublicView {
	return PublicView{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Phone:        u.Phone,
		LockerID:     u.LockerID,
		RegisteredAt: u.RegisteredAt,
		LastLoginAt:  u.LastLoginAt,
		Status:       u.Status,
	}
}
