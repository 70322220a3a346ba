package reservation

import (
	"context"
	"time"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusConfirmed       Status = "confirmed"
	StatusPendingApproval Status = "pending_approval"
	StatusCancelled       Status = "cancelled"
	StatusCompleted       Status = "completed"
	StatusNoShow          Status = "no_show"
)

// ActiveStatuses are the statuses that still hold a table on their date.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusPendingApproval}

func (s Status) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// Reservation is a read-only projection of a booked table. Nothing in this
// module writes reservations.
type Reservation struct {
	ID           string    `json:"id"`
	Date         time.Time `json:"date"`
	Time         string    `json:"time"` // HH:MM, restaurant-local
	CustomerName string    `json:"customer_name"`
	PartySize    int       `json:"party_size"`
	Status       Status    `json:"status"`
}

// Lookup lists reservations. It has no write methods.
type Lookup interface {
	// ListActive returns reservations with an active status on or after from.
	ListActive(ctx context.Context, restaurantID string, from time.Time) ([]Reservation, error)
}
