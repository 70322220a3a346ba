package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SlotInventory answers whether a restaurant has any generated slots.
type SlotInventory interface {
	ArtifactsExist(ctx context.Context, restaurantID string) (bool, error)
}

// StaleFlagStore persists stale flags keyed by restaurant id.
type StaleFlagStore interface {
	Load(ctx context.Context, restaurantID string) (StaleFlag, bool, error)
	Save(ctx context.Context, restaurantID string, flag StaleFlag) error
	Delete(ctx context.Context, restaurantID string) error
	Keys(ctx context.Context) ([]string, error)
}

// ExceptionStore holds calendar exceptions. UpsertBatch is all-or-nothing and
// applies CalendarException.Merge on conflicting dates.
type ExceptionStore interface {
	UpsertBatch(ctx context.Context, exceptions []CalendarException) error
	ListUpcoming(ctx context.Context, restaurantID string, from time.Time) ([]CalendarException, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type GenerationRequest struct {
	RestaurantID string
	Start        time.Time
	End          time.Time
}

// GenerationResult is the generation service reply. Pointer fields are
// optional in the wire format.
type GenerationResult struct {
	Success         bool   `json:"success"`
	SlotsCreated    *int   `json:"slotsCreated,omitempty"`
	SlotsDeleted    *int   `json:"slotsDeleted,omitempty"`
	SlotsPreserved  *int   `json:"slotsPreserved,omitempty"`
	TotalSlotsAfter *int   `json:"totalSlotsAfter,omitempty"`
	TableCount      *int   `json:"tableCount,omitempty"`
	OpenDays        *int   `json:"openDays,omitempty"`
	Code            string `json:"code,omitempty"`
	Error           string `json:"error,omitempty"`
	Hint            string `json:"hint,omitempty"`
}

// GenerationService is the remote slot engine. It never touches reservation
// rows and never deletes a slot with a reservation attached.
// CleanupAndRegenerate is a single server-side transaction.
type GenerationService interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
	CleanupOnly(ctx context.Context, req GenerationRequest) (GenerationResult, error)
	CleanupAndRegenerate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}

type PolicySource interface {
	Policy(ctx context.Context, restaurantID string) (Policy, error)
}

// ScheduleSource reads the weekly opening hours. HasOpenDays reports whether
// any weekday is open, ignoring calendar exceptions.
type ScheduleSource interface {
	WeeklyHours(ctx context.Context, restaurantID string) (WeeklyHours, error)
	HasOpenDays(ctx context.Context, restaurantID string) (bool, error)
}

// TableSource counts the tables slots can be generated for.
type TableSource interface {
	ActiveTableCount(ctx context.Context, restaurantID string) (int, error)
}

// OutcomeCache keeps the last outcome per restaurant for display.
type OutcomeCache interface {
	Put(ctx context.Context, outcome RegenerationOutcome) error
	Get(ctx context.Context, restaurantID string) (RegenerationOutcome, bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func (r GenerationResult) Created() int   { return intValue(r.SlotsCreated) }
func (r GenerationResult) Deleted() int   { return intValue(r.SlotsDeleted) }
func (r GenerationResult) Preserved() int { return intValue(r.SlotsPreserved) }
func (r GenerationResult) Total() int     { return intValue(r.TotalSlotsAfter) }
