// Package regeneration drives the availability generation service.
//
// Each run uses exactly one of three modes and at most one run is in flight
// per restaurant; a second caller gets an AlreadyRunning outcome instead of
// waiting. The stale flag is cleared only after the service confirms
// success.
package regeneration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/example/availability-orchestrator/internal/domain/availability"
	"github.com/example/availability-orchestrator/internal/flight"
	"github.com/example/availability-orchestrator/internal/logging"
	"github.com/example/availability-orchestrator/internal/metrics"
)

// StaleClearer is the part of the change detector the coordinator needs.
// ClearHeld is called while the coordinator holds the restaurant's guard.
type StaleClearer interface {
	ClearHeld(ctx context.Context, restaurantID string) error
}

// ConflictProtector is the part of the protection workflow a protected run
// needs.
type ConflictProtector interface {
	FindConflicts(ctx context.Context, restaurantID string, proposed, current availability.WeeklyHours) ([]availability.ReservationConflict, error)
	Protect(ctx context.Context, restaurantID string, conflicts []availability.ReservationConflict, original availability.WeeklyHours) ([]availability.CalendarException, error)
}

// Deps are the collaborators of a Coordinator. Service, Policies and Guard
// are required.
type Deps struct {
	Service    availability.GenerationService
	Policies   availability.PolicySource
	Guard      *flight.Guard
	Stale      StaleClearer
	Protector  ConflictProtector
	Schedules  availability.ScheduleSource
	Tables     availability.TableSource
	Exceptions availability.ExceptionStore
	Cache      availability.OutcomeCache
	Publisher  availability.EventPublisher
	Metrics    *metrics.RegenerationMetrics
	Clock      clockwork.Clock
	Logger     *zap.Logger
}

type Coordinator struct {
	Deps
}

func New(d Deps) (*Coordinator, error) {
	if d.Service == nil {
		return nil, errors.New("regeneration: generation service is required")
	}
	if d.Policies == nil {
		return nil, errors.New("regeneration: policy source is required")
	}
	if d.Guard == nil {
		return nil, errors.New("regeneration: guard is required")
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	d.Logger = logging.OrNop(d.Logger)
	return &Coordinator{Deps: d}, nil
}

// Generate creates slots for the period without deleting anything.
func (c *Coordinator) Generate(ctx context.Context, restaurantID string, start, end time.Time) (availability.RegenerationOutcome, error) {
	return c.Run(ctx, availability.ModeGenerate, restaurantID, start, end)
}

// CleanupOnly deletes slots without reservations. It never creates slots.
func (c *Coordinator) CleanupOnly(ctx context.Context, restaurantID string, start, end time.Time) (availability.RegenerationOutcome, error) {
	return c.Run(ctx, availability.ModeCleanupOnly, restaurantID, start, end)
}

// CleanupAndRegenerate deletes free slots and generates new ones in one
// service-side transaction.
func (c *Coordinator) CleanupAndRegenerate(ctx context.Context, restaurantID string, start, end time.Time) (availability.RegenerationOutcome, error) {
	return c.Run(ctx, availability.ModeCleanupAndRegenerate, restaurantID, start, end)
}

// Run executes one mode for the restaurant. If a run is already in flight
// for it, Run returns an outcome with StatusAlreadyRunning and a nil error
// without calling the service. Failures are *availability.RegenerationError.
func (c *Coordinator) Run(ctx context.Context, mode availability.Mode, restaurantID string, start, end time.Time) (availability.RegenerationOutcome, error) {
	period, err := validate(mode, restaurantID, start, end)
	if err != nil {
		return availability.RegenerationOutcome{}, err
	}

	release, ok := c.Guard.TryAcquire(restaurantID)
	if !ok {
		return c.alreadyRunning(ctx, mode, restaurantID, period), nil
	}
	defer release()

	if err := c.preflight(ctx, mode, restaurantID, period); err != nil {
		return availability.RegenerationOutcome{}, err
	}
	return c.execute(ctx, mode, restaurantID, period, 0)
}

// ProtectedRun is a run preceded by conflict protection for a weekly
// schedule change.
type ProtectedRun struct {
	RestaurantID string
	Mode         availability.Mode
	Start        time.Time
	End          time.Time
	// Proposed is the new weekly schedule; Current the one it replaces.
	Proposed availability.WeeklyHours
	Current  availability.WeeklyHours
	// Confirmed is set once the operator has accepted the listed conflicts.
	Confirmed bool
}

// RunWithProtection finds reservations on newly closed weekdays before
// regenerating. Unconfirmed conflicts return StatusNeedsConfirmation and no
// write happens. Confirmed conflicts are protected with open exceptions
// first; if that fails the service is not called.
func (c *Coordinator) RunWithProtection(ctx context.Context, r ProtectedRun) (availability.RegenerationOutcome, []availability.ReservationConflict, error) {
	if c.Protector == nil {
		return availability.RegenerationOutcome{}, nil, errors.New("regeneration: protected run requires a conflict protector")
	}
	period, err := validate(r.Mode, r.RestaurantID, r.Start, r.End)
	if err != nil {
		return availability.RegenerationOutcome{}, nil, err
	}

	release, ok := c.Guard.TryAcquire(r.RestaurantID)
	if !ok {
		return c.alreadyRunning(ctx, r.Mode, r.RestaurantID, period), nil, nil
	}
	defer release()

	if err := c.preflight(ctx, r.Mode, r.RestaurantID, period); err != nil {
		return availability.RegenerationOutcome{}, nil, err
	}

	conflicts, err := c.Protector.FindConflicts(ctx, r.RestaurantID, r.Proposed, r.Current)
	if err != nil {
		return availability.RegenerationOutcome{}, nil, fmt.Errorf("find conflicts: %w", err)
	}

	if len(conflicts) > 0 && !r.Confirmed {
		out := availability.RegenerationOutcome{
			RestaurantID: r.RestaurantID,
			Mode:         r.Mode,
			Status:       availability.StatusNeedsConfirmation,
			Period:       period,
		}
		c.publish(ctx, availability.Event{
			Type:         availability.EventConfirmationRequired,
			RestaurantID: r.RestaurantID,
			At:           c.Clock.Now().UTC(),
			Conflicts:    conflicts,
			Outcome:      &out,
		})
		return out, conflicts, nil
	}

	protected := 0
	if len(conflicts) > 0 {
		exceptions, err := c.Protector.Protect(ctx, r.RestaurantID, conflicts, r.Current)
		if err != nil {
			rerr := asUpsertFailure(err)
			c.fail(ctx, r.Mode, r.RestaurantID, rerr, 0)
			return availability.RegenerationOutcome{}, conflicts, rerr
		}
		protected = len(exceptions)
		c.Metrics.ObserveProtected(protected)
		c.publish(ctx, availability.Event{
			Type:         availability.EventDaysProtected,
			RestaurantID: r.RestaurantID,
			At:           c.Clock.Now().UTC(),
			Protected:    exceptions,
		})
	}

	out, err := c.execute(ctx, r.Mode, r.RestaurantID, period, protected)
	return out, conflicts, err
}

// LastOutcome returns the cached outcome of the restaurant's last run.
func (c *Coordinator) LastOutcome(ctx context.Context, restaurantID string) (availability.RegenerationOutcome, bool, error) {
	if c.Cache == nil {
		return availability.RegenerationOutcome{}, false, nil
	}
	return c.Cache.Get(ctx, restaurantID)
}

// Running reports whether an operation holds the restaurant.
func (c *Coordinator) Running(restaurantID string) bool {
	return c.Guard.Busy(restaurantID)
}

// DefaultPeriod returns today through the policy's advance booking horizon,
// or fallbackDays when the policy has none.
func (c *Coordinator) DefaultPeriod(ctx context.Context, restaurantID string, loc *time.Location, fallbackDays int) (availability.Period, error) {
	if loc == nil {
		loc = time.UTC
	}
	p, err := c.Policies.Policy(ctx, restaurantID)
	if err != nil {
		return availability.Period{}, fmt.Errorf("load policy for %s: %w", restaurantID, err)
	}
	days := p.AdvanceBookingDays
	if days <= 0 {
		days = fallbackDays
	}
	start := availability.CivilDate(c.Clock.Now().In(loc))
	return availability.NewPeriod(start, start.AddDate(0, 0, days))
}

func validate(mode availability.Mode, restaurantID string, start, end time.Time) (availability.Period, error) {
	if _, err := availability.ParseMode(string(mode)); err != nil {
		return availability.Period{}, err
	}
	if strings.TrimSpace(restaurantID) == "" {
		return availability.Period{}, errors.New("restaurant id is required")
	}
	return availability.NewPeriod(start, end)
}

func (c *Coordinator) alreadyRunning(ctx context.Context, mode availability.Mode, restaurantID string, period availability.Period) availability.RegenerationOutcome {
	out := availability.RegenerationOutcome{
		RestaurantID: restaurantID,
		Mode:         mode,
		Status:       availability.StatusAlreadyRunning,
		Period:       period,
	}
	c.Metrics.ObserveAlreadyRunning()
	c.Logger.Info("regeneration already running", zap.String("restaurant_id", restaurantID), zap.String("mode", string(mode)))
	c.publish(ctx, availability.Event{
		Type:         availability.EventAlreadyRunning,
		RestaurantID: restaurantID,
		At:           c.Clock.Now().UTC(),
		Outcome:      &out,
	})
	return out
}

// preflight runs the local checks of a creating mode before any remote
// call or write.
func (c *Coordinator) preflight(ctx context.Context, mode availability.Mode, restaurantID string, period availability.Period) error {
	if !mode.Creates() {
		return nil
	}
	err := c.checkPolicy(ctx, restaurantID)
	if err == nil {
		err = c.checkTables(ctx, restaurantID)
	}
	if err == nil {
		err = c.checkOpenDays(ctx, restaurantID, period)
	}
	if err != nil {
		c.fail(ctx, mode, restaurantID, err, 0)
	}
	return err
}

// execute runs one mode. The caller holds the restaurant's guard and has
// passed preflight.
func (c *Coordinator) execute(ctx context.Context, mode availability.Mode, restaurantID string, period availability.Period, protected int) (availability.RegenerationOutcome, error) {
	req := availability.GenerationRequest{RestaurantID: restaurantID, Start: period.Start, End: period.End}
	began := c.Clock.Now()
	var (
		res availability.GenerationResult
		err error
	)
	switch mode {
	case availability.ModeGenerate:
		res, err = c.Service.Generate(ctx, req)
	case availability.ModeCleanupOnly:
		res, err = c.Service.CleanupOnly(ctx, req)
	case availability.ModeCleanupAndRegenerate:
		res, err = c.Service.CleanupAndRegenerate(ctx, req)
	}
	elapsed := c.Clock.Since(began)

	if err != nil {
		rerr := &availability.RegenerationError{Code: availability.ErrAGSUnavailable, Err: err}
		c.fail(ctx, mode, restaurantID, rerr, elapsed)
		return availability.RegenerationOutcome{}, rerr
	}
	if !res.Success {
		rerr := classifyRejection(res)
		c.fail(ctx, mode, restaurantID, rerr, elapsed)
		return availability.RegenerationOutcome{}, rerr
	}

	out := availability.RegenerationOutcome{
		RestaurantID:    restaurantID,
		Mode:            mode,
		Status:          availability.StatusCompleted,
		SlotsCreated:    res.Created(),
		SlotsDeleted:    res.Deleted(),
		SlotsPreserved:  res.Preserved(),
		TotalSlotsAfter: res.Total(),
		Period:          period,
		ProtectedDays:   protected,
		CompletedAt:     c.Clock.Now().UTC(),
	}
	if !mode.Creates() {
		out.SlotsCreated = 0
	} else if out.SlotsCreated == 0 {
		out.Status = availability.StatusZeroResult
		out.ZeroResult = c.zeroCause(ctx, restaurantID, res, period)
	}

	if c.Stale != nil {
		if err := c.Stale.ClearHeld(ctx, restaurantID); err != nil {
			c.Logger.Warn("clear stale flag after regeneration failed",
				zap.String("restaurant_id", restaurantID), zap.Error(err))
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Put(ctx, out); err != nil {
			c.Logger.Warn("cache regeneration outcome failed",
				zap.String("restaurant_id", restaurantID), zap.Error(err))
		}
	}

	c.Metrics.ObserveRun(string(mode), string(out.Status), elapsed)
	c.Logger.Info("regeneration finished",
		zap.String("restaurant_id", restaurantID),
		zap.String("mode", string(mode)),
		zap.String("status", string(out.Status)),
		zap.Int("slots_created", out.SlotsCreated),
		zap.Int("slots_deleted", out.SlotsDeleted),
		zap.Int("slots_preserved", out.SlotsPreserved),
		zap.Int("protected_days", out.ProtectedDays),
		zap.Duration("elapsed", elapsed))

	evType := availability.EventRegenerationDone
	if out.Status == availability.StatusZeroResult {
		evType = availability.EventRegenerationZero
	}
	c.publish(ctx, availability.Event{
		Type:         evType,
		RestaurantID: restaurantID,
		At:           out.CompletedAt,
		Outcome:      &out,
	})
	return out, nil
}

func (c *Coordinator) checkPolicy(ctx context.Context, restaurantID string) error {
	p, err := c.Policies.Policy(ctx, restaurantID)
	if err != nil && !errors.Is(err, availability.ErrNotFound) {
		return fmt.Errorf("load policy for %s: %w", restaurantID, err)
	}
	if missing := p.Missing(); len(missing) > 0 {
		return &availability.RegenerationError{
			Code:    availability.ErrPolicyIncomplete,
			Missing: missing,
			Hint:    "Configure the advance booking horizon and slot duration before generating availability.",
		}
	}
	return nil
}

// checkTables rejects a restaurant without active tables. A failed lookup
// is logged and left to the service to decide.
func (c *Coordinator) checkTables(ctx context.Context, restaurantID string) error {
	if c.Tables == nil {
		return nil
	}
	n, err := c.Tables.ActiveTableCount(ctx, restaurantID)
	if err != nil {
		c.Logger.Warn("count active tables failed", zap.String("restaurant_id", restaurantID), zap.Error(err))
		return nil
	}
	if n == 0 {
		return &availability.RegenerationError{
			Code:   availability.ErrNoActiveTables,
			Reason: "restaurant has no active tables",
			Hint:   hintNoActiveTables,
		}
	}
	return nil
}

// checkOpenDays rejects a restaurant whose weekly schedule is fully closed
// and that has no open exception inside the period.
func (c *Coordinator) checkOpenDays(ctx context.Context, restaurantID string, period availability.Period) error {
	if c.Schedules == nil {
		return nil
	}
	open, err := c.Schedules.HasOpenDays(ctx, restaurantID)
	if err != nil {
		c.Logger.Warn("check open days failed", zap.String("restaurant_id", restaurantID), zap.Error(err))
		return nil
	}
	if open {
		return nil
	}
	if c.Exceptions != nil {
		exceptions, err := c.Exceptions.ListUpcoming(ctx, restaurantID, period.Start)
		if err != nil {
			c.Logger.Warn("load exceptions for open-day check failed", zap.String("restaurant_id", restaurantID), zap.Error(err))
			return nil
		}
		for _, e := range exceptions {
			if e.IsOpen && !e.Date.After(period.End) {
				return nil
			}
		}
	}
	return &availability.RegenerationError{
		Code:   availability.ErrNoOpenDays,
		Reason: "every weekday is closed",
		Hint:   hintNoOpenDays,
	}
}

func (c *Coordinator) fail(ctx context.Context, mode availability.Mode, restaurantID string, err error, elapsed time.Duration) {
	code := availability.CodeOf(err)
	if code == "" {
		code = "error"
	}
	c.Metrics.ObserveRun(string(mode), code, elapsed)
	c.Logger.Warn("regeneration failed",
		zap.String("restaurant_id", restaurantID),
		zap.String("mode", string(mode)),
		zap.String("code", code),
		zap.Error(err))

	ev := availability.Event{
		Type:         availability.EventRegenerationFailed,
		RestaurantID: restaurantID,
		At:           c.Clock.Now().UTC(),
		Code:         code,
		Error:        err.Error(),
	}
	var rerr *availability.RegenerationError
	if errors.As(err, &rerr) {
		ev.Hint = rerr.Hint
	}
	c.publish(ctx, ev)
}

func (c *Coordinator) publish(ctx context.Context, e availability.Event) {
	if c.Publisher == nil {
		return
	}
	if err := c.Publisher.Publish(ctx, e); err != nil {
		c.Logger.Warn("publish event failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

func asUpsertFailure(err error) error {
	var rerr *availability.RegenerationError
	if errors.As(err, &rerr) {
		return rerr
	}
	return &availability.RegenerationError{
		Code: availability.ErrExceptionUpsertFailed,
		Hint: "No slots were changed. Retry once the calendar store is reachable.",
		Err:  err,
	}
}
