// Package staleness tracks whether a restaurant's generated availability
// still matches its configuration.
//
// A restaurant moves Clean -> Stale when a change is recorded while slots
// exist, and Stale -> Clean on Clear. Changes recorded before any slot has
// been generated are ignored: there is nothing to go stale.
package staleness

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/example/availability-orchestrator/internal/domain/availability"
	"github.com/example/availability-orchestrator/internal/flight"
	"github.com/example/availability-orchestrator/internal/logging"
	"github.com/example/availability-orchestrator/internal/metrics"
)

type Detector struct {
	inventory availability.SlotInventory
	store     availability.StaleFlagStore
	guard     *flight.Guard
	publisher availability.EventPublisher
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *metrics.StalenessMetrics

	mu    sync.RWMutex
	flags map[string]availability.StaleFlag
}

type Option func(*Detector)

func WithClock(c clockwork.Clock) Option { return func(d *Detector) { d.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(d *Detector) { d.logger = l } }

func WithMetrics(m *metrics.StalenessMetrics) Option { return func(d *Detector) { d.metrics = m } }

func WithPublisher(p availability.EventPublisher) Option {
	return func(d *Detector) { d.publisher = p }
}

// New creates a Detector. guard must be the same Guard the regeneration
// coordinator uses so a change and a run for one restaurant never interleave.
func New(inventory availability.SlotInventory, store availability.StaleFlagStore, guard *flight.Guard, opts ...Option) *Detector {
	d := &Detector{
		inventory: inventory,
		store:     store,
		guard:     guard,
		clock:     clockwork.NewRealClock(),
		flags:     make(map[string]availability.StaleFlag),
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = logging.OrNop(d.logger)
	if d.guard == nil {
		d.guard = flight.New()
	}
	return d
}

func (d *Detector) ArtifactsExist(ctx context.Context, restaurantID string) (bool, error) {
	ok, err := d.inventory.ArtifactsExist(ctx, restaurantID)
	if err != nil {
		return false, fmt.Errorf("slot existence for %s: %w", restaurantID, err)
	}
	return ok, nil
}

// RecordChange marks the restaurant stale if it has generated slots and
// returns the operator-facing description. It returns "" when the change
// was ignored because no slots exist. The in-memory flag is set before the
// store write, so a store error still leaves the restaurant Stale.
func (d *Detector) RecordChange(ctx context.Context, restaurantID string, kind availability.ChangeKind, action availability.ChangeAction, details any) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown change kind %q", kind)
	}
	if !action.Valid() {
		return "", fmt.Errorf("unknown change action %q", action)
	}

	release, err := d.guard.Acquire(ctx, restaurantID)
	if err != nil {
		return "", fmt.Errorf("waiting for %s: %w", restaurantID, err)
	}
	defer release()

	exist, err := d.ArtifactsExist(ctx, restaurantID)
	if err != nil {
		return "", err
	}
	if !exist {
		d.logger.Debug("change ignored, no generated availability",
			zap.String("restaurant_id", restaurantID), zap.String("kind", string(kind)))
		return "", nil
	}

	var raw json.RawMessage
	if details != nil {
		raw, err = json.Marshal(details)
		if err != nil {
			return "", fmt.Errorf("encode change details: %w", err)
		}
	}
	ev := availability.ChangeEvent{
		Kind:       kind,
		Action:     action,
		Details:    raw,
		OccurredAt: d.clock.Now().UTC(),
	}
	flag := availability.StaleFlag{Active: true, LastEvent: &ev}

	d.mu.Lock()
	d.flags[restaurantID] = flag
	active := d.activeLocked()
	d.mu.Unlock()
	d.metrics.ObserveTransition("marked", active)

	desc := availability.Describe(kind, action)
	d.logger.Info("availability marked stale",
		zap.String("restaurant_id", restaurantID),
		zap.String("kind", string(kind)),
		zap.String("action", string(action)))
	d.publish(ctx, availability.Event{
		Type:         availability.EventStaleMarked,
		RestaurantID: restaurantID,
		At:           ev.OccurredAt,
		Description:  desc,
		Change:       &ev,
	})

	if err := d.store.Save(ctx, restaurantID, flag); err != nil {
		return desc, fmt.Errorf("persist stale flag for %s: %w", restaurantID, err)
	}
	return desc, nil
}

// OnTableChange records a table change with details {action, table}.
func (d *Detector) OnTableChange(ctx context.Context, restaurantID string, action availability.ChangeAction, table any) (string, error) {
	return d.RecordChange(ctx, restaurantID, availability.TableChange, action, map[string]any{
		"action": action,
		"table":  table,
	})
}

func (d *Detector) OnScheduleChange(ctx context.Context, restaurantID string, hours availability.WeeklyHours) (string, error) {
	return d.RecordChange(ctx, restaurantID, availability.ScheduleChange, availability.ActionModified, map[string]any{
		"hours": hours,
	})
}

func (d *Detector) OnPolicyChange(ctx context.Context, restaurantID string, policy any) (string, error) {
	return d.RecordChange(ctx, restaurantID, availability.PolicyChange, availability.ActionModified, map[string]any{
		"policy": policy,
	})
}

func (d *Detector) OnSpecialEventChange(ctx context.Context, restaurantID string, action availability.ChangeAction, event any) (string, error) {
	return d.RecordChange(ctx, restaurantID, availability.SpecialEventChange, action, map[string]any{
		"action": action,
		"event":  event,
	})
}

// Clear resets the restaurant to Clean and removes its persisted flag. It is
// idempotent and waits for any change or run in flight for the restaurant.
func (d *Detector) Clear(ctx context.Context, restaurantID string) error {
	release, err := d.guard.Acquire(ctx, restaurantID)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", restaurantID, err)
	}
	defer release()
	return d.ClearHeld(ctx, restaurantID)
}

// ClearHeld is Clear for callers already holding the restaurant's guard.
func (d *Detector) ClearHeld(ctx context.Context, restaurantID string) error {
	d.mu.Lock()
	_, was := d.flags[restaurantID]
	delete(d.flags, restaurantID)
	active := d.activeLocked()
	d.mu.Unlock()

	if was {
		d.metrics.ObserveTransition("cleared", active)
		d.logger.Info("availability stale flag cleared", zap.String("restaurant_id", restaurantID))
		d.publish(ctx, availability.Event{
			Type:         availability.EventStaleCleared,
			RestaurantID: restaurantID,
			At:           d.clock.Now().UTC(),
		})
	}

	if err := d.store.Delete(ctx, restaurantID); err != nil {
		return fmt.Errorf("delete stale flag for %s: %w", restaurantID, err)
	}
	return nil
}

// CurrentState returns the in-memory flag. It never touches the store.
func (d *Detector) CurrentState(restaurantID string) availability.StaleFlag {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.flags[restaurantID]
	if !ok {
		return availability.StaleFlag{}
	}
	return f
}

// ActiveRestaurants lists restaurants currently Stale, sorted.
func (d *Detector) ActiveRestaurants() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.flags))
	for id, f := range d.flags {
		if f.Active {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Hydrate loads every persisted flag into memory. Call it once at startup,
// before serving reads, then run Revalidate in the background.
func (d *Detector) Hydrate(ctx context.Context) error {
	keys, err := d.store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list stale flags: %w", err)
	}
	loaded := make(map[string]availability.StaleFlag, len(keys))
	for _, k := range keys {
		f, ok, err := d.store.Load(ctx, k)
		if err != nil {
			return fmt.Errorf("load stale flag for %s: %w", k, err)
		}
		if ok && f.Active {
			loaded[k] = f
		}
	}

	d.mu.Lock()
	for k, f := range loaded {
		d.flags[k] = f
	}
	active := d.activeLocked()
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.Active.Set(float64(active))
	}

	d.logger.Info("stale flags hydrated", zap.Int("count", len(loaded)))
	return nil
}

// Revalidate force-clears flags of restaurants that no longer have any
// generated slots, which happens when availability was reset elsewhere.
// Restaurants with an operation in flight are skipped. Lookup errors keep
// the flag and are reported together.
func (d *Detector) Revalidate(ctx context.Context) error {
	var failed []string
	for _, id := range d.ActiveRestaurants() {
		if err := d.revalidateOne(ctx, id); err != nil {
			d.logger.Warn("stale flag revalidation failed", zap.String("restaurant_id", id), zap.Error(err))
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("revalidate stale flags: %d restaurant(s) failed: %v", len(failed), failed)
	}
	return nil
}

func (d *Detector) revalidateOne(ctx context.Context, id string) error {
	release, ok := d.guard.TryAcquire(id)
	if !ok {
		return nil
	}
	defer release()

	exist, err := d.ArtifactsExist(ctx, id)
	if err != nil {
		return err
	}
	if exist {
		return nil
	}
	d.logger.Info("clearing stale flag, no generated availability", zap.String("restaurant_id", id))
	return d.ClearHeld(ctx, id)
}

func (d *Detector) activeLocked() int {
	n := 0
	for _, f := range d.flags {
		if f.Active {
			n++
		}
	}
	return n
}

func (d *Detector) publish(ctx context.Context, e availability.Event) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, e); err != nil {
		d.logger.Warn("publish event failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}
