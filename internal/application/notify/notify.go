// Package notify turns orchestration events into operator-facing messages.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/example/availability-orchestrator/internal/domain/availability"
	"github.com/example/availability-orchestrator/internal/logging"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Message is what an operator sees for one event.
type Message struct {
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Body     string   `json:"body,omitempty"`
	Hint     string   `json:"hint,omitempty"`
}

// Render describes an event. Zero results and AlreadyRunning are
// informational, never errors.
func Render(e availability.Event) Message {
	switch e.Type {
	case availability.EventStaleMarked:
		return Message{
			Severity: SeverityWarning,
			Title:    "Availability needs regeneration",
			Body:     e.Description,
		}
	case availability.EventStaleCleared:
		return Message{Severity: SeverityInfo, Title: "Availability is up to date"}
	case availability.EventRegenerationDone:
		return Message{Severity: SeverityInfo, Title: "Availability regenerated", Body: summary(e.Outcome)}
	case availability.EventRegenerationZero:
		m := Message{Severity: SeverityInfo, Title: "No slots were created"}
		if e.Outcome != nil && e.Outcome.ZeroResult == availability.AllDaysClosed {
			m.Body = "Every day in the period is closed."
			m.Hint = "Open at least one weekday or add an open special date."
		} else {
			m.Body = "Open days exist but no slot matched the current tables and hours."
			m.Hint = "Check table capacities, opening hours and slot duration."
		}
		return m
	case availability.EventAlreadyRunning:
		return Message{
			Severity: SeverityInfo,
			Title:    "A regeneration is already running",
			Body:     "No action was taken. Try again in a moment.",
		}
	case availability.EventConfirmationRequired:
		return Message{
			Severity: SeverityWarning,
			Title:    "Closing these days affects existing reservations",
			Body:     conflictSummary(e.Conflicts),
			Hint:     "Confirm to keep those dates open with special hours, then regenerate.",
		}
	case availability.EventDaysProtected:
		return Message{
			Severity: SeverityInfo,
			Title:    fmt.Sprintf("%d date(s) kept open for existing reservations", len(e.Protected)),
			Body:     protectedSummary(e.Protected),
		}
	case availability.EventRegenerationFailed:
		return Message{
			Severity: SeverityError,
			Title:    failureTitle(e.Code),
			Body:     e.Error,
			Hint:     e.Hint,
		}
	}
	return Message{Severity: SeverityInfo, Title: string(e.Type)}
}

func summary(o *availability.RegenerationOutcome) string {
	if o == nil {
		return ""
	}
	parts := []string{}
	if o.Mode.Creates() {
		parts = append(parts, fmt.Sprintf("%d created", o.SlotsCreated))
	}
	if o.Mode != availability.ModeGenerate {
		parts = append(parts, fmt.Sprintf("%d deleted", o.SlotsDeleted), fmt.Sprintf("%d preserved", o.SlotsPreserved))
	}
	s := strings.Join(parts, ", ")
	if o.ProtectedDays > 0 {
		s += fmt.Sprintf("; %d date(s) protected", o.ProtectedDays)
	}
	return s
}

func conflictSummary(conflicts []availability.ReservationConflict) string {
	lines := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		lines = append(lines, fmt.Sprintf("%s: %d reservation(s) on %s",
			c.DisplayName, c.ReservationCount(), strings.Join(c.Dates(), ", ")))
	}
	return strings.Join(lines, "\n")
}

func protectedSummary(exceptions []availability.CalendarException) string {
	dates := make([]string, 0, len(exceptions))
	for _, e := range exceptions {
		dates = append(dates, availability.DateKey(e.Date))
	}
	return strings.Join(dates, ", ")
}

func failureTitle(code string) string {
	switch code {
	case "policy_incomplete":
		return "Booking policy is incomplete"
	case "no_active_tables":
		return "No active tables"
	case "no_open_days":
		return "No open days in the period"
	case "ags_rejected":
		return "Regeneration was rejected"
	case "ags_unavailable":
		return "Availability service is unavailable"
	case "exception_upsert_failed":
		return "Could not keep reserved dates open"
	}
	return "Regeneration failed"
}

// LogPresenter logs every event as a rendered message.
type LogPresenter struct {
	Logger *zap.Logger
}

func (p LogPresenter) Publish(_ context.Context, e availability.Event) error {
	m := Render(e)
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("restaurant_id", e.RestaurantID),
		zap.String("body", m.Body),
	}
	if m.Hint != "" {
		fields = append(fields, zap.String("hint", m.Hint))
	}
	logger := logging.OrNop(p.Logger)
	switch m.Severity {
	case SeverityError:
		logger.Error(m.Title, fields...)
	case SeverityWarning:
		logger.Warn(m.Title, fields...)
	default:
		logger.Info(m.Title, fields...)
	}
	return nil
}

// Fanout publishes each event to every publisher and joins their errors.
type Fanout []availability.EventPublisher

func (f Fanout) Publish(ctx context.Context, e availability.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
