package availability

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/availability-orchestrator/internal/domain/reservation"
)

type Creator string

const (
	CreatedBySystem   Creator = "system"
	CreatedByOperator Creator = "operator"
)

// CalendarException overrides the weekly schedule for one date. It is unique
// per (RestaurantID, Date).
type CalendarException struct {
	ID           uuid.UUID `json:"id"`
	RestaurantID string    `json:"restaurant_id"`
	Date         time.Time `json:"date"`
	IsOpen       bool      `json:"is_open"`
	OpenTime     string    `json:"open_time,omitempty"`
	CloseTime    string    `json:"close_time,omitempty"`
	Reason       string    `json:"reason"`
	CreatedBy    Creator   `json:"created_by"`
}

// Merge applies an upsert of next over an existing exception for the same
// date. Reason and hours are overwritten; IsOpen only ever moves to true.
func (e CalendarException) Merge(next CalendarException) CalendarException {
	out := e
	out.Reason = next.Reason
	out.CreatedBy = next.CreatedBy
	if next.IsOpen {
		out.IsOpen = true
		out.OpenTime = next.OpenTime
		out.CloseTime = next.CloseTime
	} else if !e.IsOpen {
		out.OpenTime = next.OpenTime
		out.CloseTime = next.CloseTime
	}
	return out
}

// ReservationConflict groups reservations that would land on a newly closed
// weekday, by exact date.
type ReservationConflict struct {
	Weekday         time.Weekday                         `json:"-"`
	DisplayName     string                               `json:"weekday"`
	ConflictsByDate map[string][]reservation.Reservation `json:"conflicts_by_date"`
}

// Dates returns the conflicting dates in ascending order.
func (c ReservationConflict) Dates() []string {
	return sortedKeys(c.ConflictsByDate)
}

// Validate checks that every date key parses and falls on c.Weekday.
func (c ReservationConflict) Validate() error {
	for key := range c.ConflictsByDate {
		d, err := ParseDate(key)
		if err != nil {
			return err
		}
		if d.Weekday() != c.Weekday {
			return fmt.Errorf("date %s is a %s, not a %s", key, WeekdayName(d.Weekday()), WeekdayName(c.Weekday))
		}
	}
	return nil
}

func (c ReservationConflict) ReservationCount() int {
	n := 0
	for _, rs := range c.ConflictsByDate {
		n += len(rs)
	}
	return n
}
