// Package memstore holds in-process implementations of the availability
// ports, used for single-process deployments and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/availability-orchestrator/internal/domain/availability"
)

// FlagStore is an availability.StaleFlagStore backed by a map.
type FlagStore struct {
	mu    sync.RWMutex
	flags map[string]availability.StaleFlag
}

func NewFlagStore() *FlagStore {
	return &FlagStore{flags: make(map[string]availability.StaleFlag)}
}

func (s *FlagStore) Load(_ context.Context, restaurantID string) (availability.StaleFlag, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flags[restaurantID]
	return f, ok, nil
}

func (s *FlagStore) Save(_ context.Context, restaurantID string, flag availability.StaleFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[restaurantID] = flag
	return nil
}

func (s *FlagStore) Delete(_ context.Context, restaurantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, restaurantID)
	return nil
}

func (s *FlagStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.flags))
	for k := range s.flags {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// OutcomeCache keeps the last outcome per restaurant.
type OutcomeCache struct {
	mu   sync.RWMutex
	last map[string]availability.RegenerationOutcome
}

func NewOutcomeCache() *OutcomeCache {
	return &OutcomeCache{last: make(map[string]availability.RegenerationOutcome)}
}

func (c *OutcomeCache) Put(_ context.Context, o availability.RegenerationOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[o.RestaurantID] = o
	return nil
}

func (c *OutcomeCache) Get(_ context.Context, restaurantID string) (availability.RegenerationOutcome, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.last[restaurantID]
	return o, ok, nil
}

// ExceptionStore is an availability.ExceptionStore backed by a map keyed by
// restaurant and date. FailNext makes the next UpsertBatch fail without
// writing anything.
type ExceptionStore struct {
	mu       sync.Mutex
	byKey    map[string]availability.CalendarException
	FailNext error
}

func NewExceptionStore() *ExceptionStore {
	return &ExceptionStore{byKey: make(map[string]availability.CalendarException)}
}

func exceptionKey(restaurantID string, date time.Time) string {
	return restaurantID + "|" + availability.DateKey(date)
}

func (s *ExceptionStore) UpsertBatch(_ context.Context, exceptions []availability.CalendarException) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailNext; err != nil {
		s.FailNext = nil
		return err
	}

	next := make(map[string]availability.CalendarException, len(s.byKey)+len(exceptions))
	for k, v := range s.byKey {
		next[k] = v
	}
	for _, e := range exceptions {
		if e.RestaurantID == "" {
			return fmt.Errorf("exception for %s has no restaurant", availability.DateKey(e.Date))
		}
		e.Date = availability.CivilDate(e.Date)
		k := exceptionKey(e.RestaurantID, e.Date)
		if cur, ok := next[k]; ok {
			next[k] = cur.Merge(e)
			continue
		}
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		next[k] = e
	}
	s.byKey = next
	return nil
}

func (s *ExceptionStore) ListUpcoming(_ context.Context, restaurantID string, from time.Time) ([]availability.CalendarException, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fromKey := availability.DateKey(from)
	var out []availability.CalendarException
	for _, e := range s.byKey {
		if e.RestaurantID == restaurantID && availability.DateKey(e.Date) >= fromKey {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *ExceptionStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.byKey {
		if e.ID == id {
			delete(s.byKey, k)
			return nil
		}
	}
	return availability.ErrNotFound
}

// Recorder is an availability.EventPublisher that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []availability.Event
}

func (r *Recorder) Publish(_ context.Context, e availability.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []availability.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]availability.Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []availability.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]availability.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
