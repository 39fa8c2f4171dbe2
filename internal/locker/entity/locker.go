package entity

import (
	"fmt"
	"time"
)

const (
	StatusAvailable = "Available"
	StatusOccupied  = "Occupied"

	SizeSmall = "Small"
	SizeLarge = "Large"
)

// Locker is one row of the lockers table. Status is Occupied exactly when
// UserEmail is set. LastOpenedAt/LastClosedAt are activity stamps only.
type Locker struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	UserEmail    string     `json:"user_email"`
	AssignedAt   *time.Time `json:"assigned_at,omitempty"`
	LastOpenedAt *time.Time `json:"last_opened_at,omitempty"`
	LastClosedAt *time.Time `json:"last_closed_at,omitempty"`
	Location     string     `json:"location"`
	Size         string     `json:"size"`
}

// DefaultPool returns n available lockers L001..Lnnn, five per floor, the
// first half Small and the rest Large.
func DefaultPool(n int) []Locker {
	out := make([]Locker, 0, n)
	for i := 1; i <= n; i++ {
		size := SizeLarge
		if i <= n/2 {
			size = SizeSmall
		}
		out = append(out, Locker{
			ID:       fmt.Sprintf("L%03d", i),
			Status:   StatusAvailable,
			Location: fmt.Sprintf("Floor %d", (i+4)/5),
			Size:     size,
		})
	}
	return out
}
