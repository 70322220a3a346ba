package availability

import "time"

type EventType string

const (
	EventStaleMarked          EventType = "stale_marked"
	EventStaleCleared         EventType = "stale_cleared"
	EventRegenerationDone     EventType = "regeneration_completed"
	EventRegenerationZero     EventType = "regeneration_zero_result"
	EventRegenerationFailed   EventType = "regeneration_failed"
	EventAlreadyRunning       EventType = "regeneration_already_running"
	EventConfirmationRequired EventType = "confirmation_required"
	EventDaysProtected        EventType = "days_protected"
)

// Event is what the orchestration core emits for presentation adapters.
type Event struct {
	Type         EventType             `json:"type"`
	RestaurantID string                `json:"restaurant_id"`
	At           time.Time             `json:"at"`
	Description  string                `json:"description,omitempty"`
	Change       *ChangeEvent          `json:"change,omitempty"`
	Outcome      *RegenerationOutcome  `json:"outcome,omitempty"`
	Conflicts    []ReservationConflict `json:"conflicts,omitempty"`
	Protected    []CalendarException   `json:"protected,omitempty"`
	Code         string                `json:"code,omitempty"`
	Error        string                `json:"error,omitempty"`
	Hint         string                `json:"hint,omitempty"`
}
