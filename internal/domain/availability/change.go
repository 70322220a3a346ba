package availability

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeKind names the configuration area a change touched.
type ChangeKind string

const (
	TableChange        ChangeKind = "TableChange"
	ScheduleChange     ChangeKind = "ScheduleChange"
	PolicyChange       ChangeKind = "PolicyChange"
	SpecialEventChange ChangeKind = "SpecialEventChange"
)

func (k ChangeKind) Valid() bool {
	switch k {
	case TableChange, ScheduleChange, PolicyChange, SpecialEventChange:
		return true
	}
	return false
}

func ParseChangeKind(s string) (ChangeKind, error) {
	k := ChangeKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown change kind %q", s)
	}
	return k, nil
}

type ChangeAction string

const (
	ActionNone          ChangeAction = ""
	ActionAdded         ChangeAction = "added"
	ActionRemoved       ChangeAction = "removed"
	ActionModified      ChangeAction = "modified"
	ActionStatusChanged ChangeAction = "status_changed"
)

func (a ChangeAction) Valid() bool {
	switch a {
	case ActionNone, ActionAdded, ActionRemoved, ActionModified, ActionStatusChanged:
		return true
	}
	return false
}

// ChangeEvent is a recorded configuration mutation. Details is opaque to
// this module.
type ChangeEvent struct {
	Kind       ChangeKind      `json:"kind"`
	Action     ChangeAction    `json:"action,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// StaleFlag marks a restaurant whose generated slots no longer match its
// configuration.
type StaleFlag struct {
	Active    bool         `json:"active"`
	LastEvent *ChangeEvent `json:"last_event"`
}

// Describe returns the operator-facing sentence for a change.
func Describe(kind ChangeKind, action ChangeAction) string {
	switch kind {
	case TableChange:
		switch action {
		case ActionAdded:
			return "A table was added. Availability must be regenerated to include it."
		case ActionRemoved:
			return "A table was removed. Availability must be regenerated to drop its slots."
		case ActionStatusChanged:
			return "A table was activated or deactivated. Availability must be regenerated."
		default:
			return "Table configuration changed. Availability must be regenerated."
		}
	case ScheduleChange:
		return "Opening hours changed. Availability must be regenerated to match the new schedule."
	case PolicyChange:
		return "Reservation policy changed. Availability must be regenerated to apply it."
	case SpecialEventChange:
		switch action {
		case ActionAdded:
			return "A special event or closure was added. Availability must be regenerated."
		case ActionRemoved:
			return "A special event or closure was removed. Availability must be regenerated."
		default:
			return "Special events changed. Availability must be regenerated."
		}
	}
	return "Configuration changed. Availability must be regenerated."
}
