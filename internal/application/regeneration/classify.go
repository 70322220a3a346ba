package regeneration

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/example/availability-orchestrator/internal/domain/availability"
)

// Service error codes that map to dedicated failures.
const (
	codeNoActiveTables = "NO_ACTIVE_TABLES"
	codeNoOpenDays     = "NO_OPEN_DAYS"
)

const (
	hintNoActiveTables = "Activate at least one table before generating availability."
	hintNoOpenDays     = "Open at least one weekday or add an open special date."
)

// classifyRejection turns an unsuccessful service reply into a typed error.
// The explicit code wins; older service versions only send a message.
func classifyRejection(res availability.GenerationResult) *availability.RegenerationError {
	msg := strings.ToLower(res.Error)
	base := availability.RegenerationError{Reason: res.Error, Hint: res.Hint}

	switch {
	case strings.EqualFold(res.Code, codeNoActiveTables),
		res.Code == "" && res.TableCount != nil && *res.TableCount == 0,
		res.Code == "" && strings.Contains(msg, "no active tables"):
		base.Code = availability.ErrNoActiveTables
		if base.Hint == "" {
			base.Hint = hintNoActiveTables
		}
	case strings.EqualFold(res.Code, codeNoOpenDays),
		res.Code == "" && (strings.Contains(msg, "no open days") || strings.Contains(msg, "all days closed")):
		base.Code = availability.ErrNoOpenDays
		if base.Hint == "" {
			base.Hint = hintNoOpenDays
		}
	default:
		base.Code = availability.ErrAGSRejected
		if base.Reason == "" {
			base.Reason = "request rejected without a reason"
		}
	}
	return &base
}

// zeroCause explains a successful run that created no slots. The service's
// openDays metadata is used when present; otherwise the restaurant's
// schedule and exceptions over the period are checked.
func (c *Coordinator) zeroCause(ctx context.Context, restaurantID string, res availability.GenerationResult, period availability.Period) availability.ZeroResultCause {
	if res.OpenDays != nil {
		if *res.OpenDays == 0 {
			return availability.AllDaysClosed
		}
		return availability.NoMatchingConfiguration
	}
	if c.Schedules == nil {
		return availability.NoMatchingConfiguration
	}

	hours, err := c.Schedules.WeeklyHours(ctx, restaurantID)
	if err != nil {
		c.Logger.Warn("load schedule for zero-result classification failed",
			zap.String("restaurant_id", restaurantID), zap.Error(err))
		return availability.NoMatchingConfiguration
	}
	overrides := map[string]bool{}
	if c.Exceptions != nil {
		exceptions, err := c.Exceptions.ListUpcoming(ctx, restaurantID, period.Start)
		if err != nil {
			c.Logger.Warn("load exceptions for zero-result classification failed",
				zap.String("restaurant_id", restaurantID), zap.Error(err))
			return availability.NoMatchingConfiguration
		}
		for _, e := range exceptions {
			overrides[availability.DateKey(e.Date)] = e.IsOpen
		}
	}

	for _, d := range period.Dates() {
		open, ok := overrides[availability.DateKey(d)]
		if !ok {
			open = hours.IsOpen(d.Weekday())
		}
		if open {
			return availability.NoMatchingConfiguration
		}
	}
	return availability.AllDaysClosed
}
