// Package protection keeps reserved dates open when a schedule change would
// close their weekday.
package protection

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/example/availability-orchestrator/internal/domain/availability"
	"github.com/example/availability-orchestrator/internal/domain/reservation"
	"github.com/example/availability-orchestrator/internal/logging"
)

// maxNamesInReason caps how many customers a reason lists before summarising.
const maxNamesInReason = 5

type Protector struct {
	reservations reservation.Lookup
	exceptions   availability.ExceptionStore
	defaults     availability.DayHours
	location     *time.Location
	clock        clockwork.Clock
	logger       *zap.Logger
}

type Option func(*Protector)

func WithClock(c clockwork.Clock) Option { return func(p *Protector) { p.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(p *Protector) { p.logger = l } }

// WithLocation sets the restaurant timezone used to decide what "today" is.
func WithLocation(loc *time.Location) Option { return func(p *Protector) { p.location = loc } }

// New creates a Protector. defaults supplies the hours of a protected date
// whose weekday had none before the change.
func New(reservations reservation.Lookup, exceptions availability.ExceptionStore, defaults availability.DayHours, opts ...Option) *Protector {
	p := &Protector{
		reservations: reservations,
		exceptions:   exceptions,
		defaults:     defaults,
		location:     time.UTC,
		clock:        clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = logging.OrNop(p.logger)
	return p
}

func (p *Protector) today() time.Time {
	return availability.CivilDate(p.clock.Now().In(p.location))
}

// FindConflicts returns, per newly closed weekday, the active upcoming
// reservations that fall on it, grouped by date. current is the schedule in
// effect; when nil, every weekday closed in proposed counts as newly closed.
// Without closures no reservation lookup is made.
func (p *Protector) FindConflicts(ctx context.Context, restaurantID string, proposed, current availability.WeeklyHours) ([]availability.ReservationConflict, error) {
	closed := availability.NewlyClosed(current, proposed)
	if len(closed) == 0 {
		return []availability.ReservationConflict{}, nil
	}
	closedSet := make(map[time.Weekday]bool, len(closed))
	for _, d := range closed {
		closedSet[d] = true
	}

	today := p.today()
	rs, err := p.reservations.ListActive(ctx, restaurantID, today)
	if err != nil {
		return nil, fmt.Errorf("list active reservations for %s: %w", restaurantID, err)
	}

	todayKey := availability.DateKey(today)
	byDay := make(map[time.Weekday]map[string][]reservation.Reservation)
	for _, r := range rs {
		if !r.Status.Active() {
			continue
		}
		key := availability.DateKey(r.Date)
		if key < todayKey {
			continue
		}
		wd := availability.CivilDate(r.Date).Weekday()
		if !closedSet[wd] {
			continue
		}
		if byDay[wd] == nil {
			byDay[wd] = make(map[string][]reservation.Reservation)
		}
		byDay[wd][key] = append(byDay[wd][key], r)
	}

	out := []availability.ReservationConflict{}
	for _, wd := range closed {
		dates, ok := byDay[wd]
		if !ok {
			continue
		}
		for _, list := range dates {
			sort.SliceStable(list, func(i, j int) bool { return list[i].Time < list[j].Time })
		}
		out = append(out, availability.ReservationConflict{
			Weekday:         wd,
			DisplayName:     availability.WeekdayName(wd),
			ConflictsByDate: dates,
		})
	}

	if len(out) > 0 {
		p.logger.Info("schedule change conflicts with reservations",
			zap.String("restaurant_id", restaurantID),
			zap.Int("weekdays", len(out)))
	}
	return out, nil
}

// Protect writes one open exception per conflicting date, using the
// weekday's original hours, in a single atomic batch. On a store failure
// nothing is written and the error matches availability.ErrExceptionUpsertFailed.
func (p *Protector) Protect(ctx context.Context, restaurantID string, conflicts []availability.ReservationConflict, original availability.WeeklyHours) ([]availability.CalendarException, error) {
	byDate := make(map[string]availability.CalendarException)
	for _, c := range conflicts {
		hours := p.hoursFor(original, c.Weekday)
		for key, rs := range c.ConflictsByDate {
			d, err := availability.ParseDate(key)
			if err != nil {
				return nil, err
			}
			byDate[key] = availability.CalendarException{
				ID:           uuid.New(),
				RestaurantID: restaurantID,
				Date:         d,
				IsOpen:       true,
				OpenTime:     hours.Open,
				CloseTime:    hours.Close,
				Reason:       reasonFor(rs),
				CreatedBy:    availability.CreatedBySystem,
			}
		}
	}
	if len(byDate) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(byDate))
	for k := range byDate {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	exceptions := make([]availability.CalendarException, 0, len(keys))
	for _, k := range keys {
		exceptions = append(exceptions, byDate[k])
	}

	if err := p.exceptions.UpsertBatch(ctx, exceptions); err != nil {
		return nil, fmt.Errorf("%w: %w", availability.ErrExceptionUpsertFailed, err)
	}

	p.logger.Info("protected reserved dates",
		zap.String("restaurant_id", restaurantID),
		zap.Strings("dates", keys))
	return exceptions, nil
}

func (p *Protector) hoursFor(original availability.WeeklyHours, wd time.Weekday) availability.DayHours {
	h, ok := original[wd]
	if !ok || h.Closed || h.Open == "" || h.Close == "" {
		return p.defaults
	}
	return h
}

func reasonFor(rs []reservation.Reservation) string {
	seen := make(map[string]bool, len(rs))
	var names []string
	for _, r := range rs {
		n := strings.TrimSpace(r.CustomerName)
		if n == "" {
			n = "reservation " + r.ID
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) > maxNamesInReason {
		extra := len(names) - maxNamesInReason
		names = append(names[:maxNamesInReason], fmt.Sprintf("and %d more", extra))
	}
	return "Kept open for existing reservations: " + strings.Join(names, ", ")
}
