package availability

import (
	"fmt"
	"time"
)

// Mode selects which of the three generation service operations a run uses.
type Mode string

const (
	ModeGenerate             Mode = "generate"
	ModeCleanupOnly          Mode = "cleanup_only"
	ModeCleanupAndRegenerate Mode = "cleanup_and_regenerate"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeGenerate, ModeCleanupOnly, ModeCleanupAndRegenerate:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want generate, cleanup_only or cleanup_and_regenerate)", s)
}

// Creates reports whether the mode asks for new slots.
func (m Mode) Creates() bool { return m != ModeCleanupOnly }

type OutcomeStatus string

const (
	StatusCompleted         OutcomeStatus = "completed"
	StatusZeroResult        OutcomeStatus = "zero_result"
	StatusAlreadyRunning    OutcomeStatus = "already_running"
	StatusNeedsConfirmation OutcomeStatus = "needs_confirmation"
)

// ZeroResultCause explains a successful run that created no slots.
type ZeroResultCause string

const (
	AllDaysClosed           ZeroResultCause = "all_days_closed"
	NoMatchingConfiguration ZeroResultCause = "no_matching_configuration"
)

// RegenerationOutcome is produced once per coordinator run. A cached copy is
// for display only.
type RegenerationOutcome struct {
	RestaurantID    string          `json:"restaurant_id"`
	Mode            Mode            `json:"mode"`
	Status          OutcomeStatus   `json:"status"`
	SlotsCreated    int             `json:"slots_created"`
	SlotsDeleted    int             `json:"slots_deleted"`
	SlotsPreserved  int             `json:"slots_preserved"`
	TotalSlotsAfter int             `json:"total_slots_after"`
	Period          Period          `json:"period"`
	ProtectedDays   int             `json:"protected_days"`
	ZeroResult      ZeroResultCause `json:"zero_result,omitempty"`
	CompletedAt     time.Time       `json:"completed_at"`
}

// Succeeded reports whether the run reached the generation service and
// finished without error.
func (o RegenerationOutcome) Succeeded() bool {
	return o.Status == StatusCompleted || o.Status == StatusZeroResult
}
