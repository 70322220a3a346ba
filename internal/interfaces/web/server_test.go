package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/availability-orchestrator/internal/application/protection"
	"github.com/example/availability-orchestrator/internal/application/regeneration"
	"github.com/example/availability-orchestrator/internal/application/staleness"
	"github.com/example/availability-orchestrator/internal/domain/availability"
	"github.com/example/availability-orchestrator/internal/domain/reservation"
	"github.com/example/availability-orchestrator/internal/flight"
	"github.com/example/availability-orchestrator/internal/infrastructure/memstore"
	"github.com/example/availability-orchestrator/internal/metrics"
)

// --- Mock implementations ---

type mockService struct {
	mu    sync.Mutex
	calls int
	fn    func() (availability.GenerationResult, error)
}

func (m *mockService) reply() (availability.GenerationResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn()
	}
	n := 42
	return availability.GenerationResult{Success: true, SlotsCreated: &n}, nil
}

func (m *mockService) Generate(context.Context, availability.GenerationRequest) (availability.GenerationResult, error) {
	return m.reply()
}

func (m *mockService) CleanupOnly(context.Context, availability.GenerationRequest) (availability.GenerationResult, error) {
	return m.reply()
}

func (m *mockService) CleanupAndRegenerate(context.Context, availability.GenerationRequest) (availability.GenerationResult, error) {
	return m.reply()
}

type mockPolicies struct{ policy availability.Policy }

func (m mockPolicies) Policy(context.Context, string) (availability.Policy, error) {
	return m.policy, nil
}

type mockInventory struct{}

func (mockInventory) ArtifactsExist(context.Context, string) (bool, error) { return true, nil }

type mockSchedules struct{ hours availability.WeeklyHours }

func (m mockSchedules) WeeklyHours(context.Context, string) (availability.WeeklyHours, error) {
	return m.hours, nil
}

func (m mockSchedules) HasOpenDays(context.Context, string) (bool, error) {
	return m.hours.AnyOpen(), nil
}

type mockLookup struct{ reservations []reservation.Reservation }

func (m mockLookup) ListActive(context.Context, string, time.Time) ([]reservation.Reservation, error) {
	return m.reservations, nil
}

type fixture struct {
	handler    http.Handler
	service    *mockService
	detector   *staleness.Detector
	exceptions *memstore.ExceptionStore
	guard      *flight.Guard
}

var now = time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, policy availability.Policy) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(now)
	f := &fixture{
		service:    &mockService{},
		exceptions: memstore.NewExceptionStore(),
		guard:      flight.New(),
	}
	f.detector = staleness.New(mockInventory{}, memstore.NewFlagStore(), f.guard, staleness.WithClock(clock))
	schedules := mockSchedules{hours: availability.WeeklyHours{
		time.Monday:  {Open: "11:30", Close: "22:00"},
		time.Tuesday: {Open: "11:30", Close: "22:00"},
	}}
	protector := protection.New(mockLookup{reservations: []reservation.Reservation{
		{ID: "a", Date: time.Date(2025, 10, 6, 0, 0, 0, 0, time.UTC), Time: "19:00", CustomerName: "Ada", PartySize: 2, Status: reservation.StatusConfirmed},
	}}, f.exceptions, availability.DayHours{Open: "12:00", Close: "21:00"}, protection.WithClock(clock))

	coord, err := regeneration.New(regeneration.Deps{
		Service:    f.service,
		Policies:   mockPolicies{policy: policy},
		Guard:      f.guard,
		Stale:      f.detector,
		Protector:  protector,
		Schedules:  schedules,
		Exceptions: f.exceptions,
		Cache:      memstore.NewOutcomeCache(),
		Clock:      clock,
	})
	require.NoError(t, err)

	reg := metrics.NewRegistry()
	metrics.NewRegenerationMetrics(reg)
	f.handler = New(Options{
		Stale:       f.detector,
		Regen:       coord,
		Protector:   protector,
		Schedules:   schedules,
		Metrics:     metrics.Handler(reg),
		HorizonDays: 14,
		Health: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
		},
	}).Handler()
	return f
}

var fullPolicy = availability.Policy{AdvanceBookingDays: 30, SlotDurationMinutes: 15}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, fullPolicy)
	rec := do(t, f.handler, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)
}

func TestHealthz_Degraded(t *testing.T) {
	h := New(Options{Health: map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}}).Handler()
	rec := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, fullPolicy)
	rec := do(t, f.handler, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChangeThenRegenerateClearsStale(t *testing.T) {
	f := newFixture(t, fullPolicy)

	rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/changes", map[string]any{
		"kind": "TableChange", "action": "added", "details": map[string]string{"id": "T9"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	change := decode[changeResponse](t, rec)
	assert.True(t, change.Stale)
	assert.NotEmpty(t, change.Description)

	rec = do(t, f.handler, http.MethodGet, "/restaurants/r1/stale", nil)
	flag := decode[availability.StaleFlag](t, rec)
	assert.True(t, flag.Active)
	require.NotNil(t, flag.LastEvent)
	assert.JSONEq(t, `{"id":"T9"}`, string(flag.LastEvent.Details))

	rec = do(t, f.handler, http.MethodPost, "/restaurants/r1/regenerations", map[string]any{
		"mode": "cleanup_and_regenerate", "start": "2025-10-01", "end": "2025-10-31",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[regenerationResponse](t, rec)
	assert.Equal(t, availability.StatusCompleted, resp.Outcome.Status)
	assert.Equal(t, 42, resp.Outcome.SlotsCreated)

	rec = do(t, f.handler, http.MethodGet, "/restaurants/r1/stale", nil)
	assert.False(t, decode[availability.StaleFlag](t, rec).Active)

	rec = do(t, f.handler, http.MethodGet, "/restaurants/r1/regenerations/last", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecordChange_BadInput(t *testing.T) {
	f := newFixture(t, fullPolicy)
	rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/changes", map[string]any{"kind": "MenuChange"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.handler, http.MethodPost, "/restaurants/r1/changes", map[string]any{"kind": "TableChange", "action": "renamed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearStale(t *testing.T) {
	f := newFixture(t, fullPolicy)
	_, err := f.detector.RecordChange(context.Background(), "r1", availability.PolicyChange, availability.ActionNone, nil)
	require.NoError(t, err)

	rec := do(t, f.handler, http.MethodDelete, "/restaurants/r1/stale", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.detector.CurrentState("r1").Active)
}

func TestRegenerate_ErrorStatusCodes(t *testing.T) {
	t.Run("policy incomplete", func(t *testing.T) {
		f := newFixture(t, availability.Policy{})
		rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/regenerations", map[string]any{"mode": "generate", "start": "2025-10-01", "end": "2025-10-31"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		body := decode[errorBody](t, rec)
		assert.Equal(t, "policy_incomplete", body.Code)
		assert.ElementsMatch(t, []string{"advance_booking_days", "slot_duration_minutes"}, body.Missing)
		assert.Zero(t, f.service.calls)
	})

	t.Run("service unavailable", func(t *testing.T) {
		f := newFixture(t, fullPolicy)
		f.service.fn = func() (availability.GenerationResult, error) {
			return availability.GenerationResult{}, errors.New("dial tcp: refused")
		}
		rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/regenerations", map[string]any{"start": "2025-10-01", "end": "2025-10-31"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "ags_unavailable", decode[errorBody](t, rec).Code)
	})

	t.Run("rejected", func(t *testing.T) {
		f := newFixture(t, fullPolicy)
		f.service.fn = func() (availability.GenerationResult, error) {
			return availability.GenerationResult{Code: "NO_OPEN_DAYS", Error: "no open days"}, nil
		}
		rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/regenerations", map[string]any{"start": "2025-10-01", "end": "2025-10-31"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "no_open_days", decode[errorBody](t, rec).Code)
	})

	t.Run("invalid period", func(t *testing.T) {
		f := newFixture(t, fullPolicy)
		rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/regenerations", map[string]any{"start": "2025-10-31", "end": "2025-10-01"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown mode", func(t *testing.T) {
		f := newFixture(t, fullPolicy)
		rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/regenerations", map[string]any{"mode": "rebuild"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRegenerate_AlreadyRunningIsConflict(t *testing.T) {
	f := newFixture(t, fullPolicy)
	release, ok := f.guard.TryAcquire("r1")
	require.True(t, ok)
	defer release()

	rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/regenerations", map[string]any{"start": "2025-10-01", "end": "2025-10-31"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, availability.StatusAlreadyRunning, decode[regenerationResponse](t, rec).Outcome.Status)
	assert.Zero(t, f.service.calls)
}

func TestRegenerate_DefaultPeriod(t *testing.T) {
	f := newFixture(t, fullPolicy)
	rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/regenerations", map[string]any{"mode": "generate"})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[regenerationResponse](t, rec).Outcome
	assert.Equal(t, "2025-10-01", availability.DateKey(out.Period.Start))
	assert.Equal(t, "2025-10-31", availability.DateKey(out.Period.End))
}

func TestRegenerate_ProtectedFlow(t *testing.T) {
	f := newFixture(t, fullPolicy)
	closeMonday := map[string]any{"monday": map[string]any{"closed": true}}

	rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/regenerations", map[string]any{
		"start": "2025-10-01", "end": "2025-10-31", "proposed_hours": closeMonday,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[regenerationResponse](t, rec)
	assert.Equal(t, availability.StatusNeedsConfirmation, resp.Outcome.Status)
	require.Len(t, resp.Conflicts, 1)
	assert.Zero(t, f.service.calls)

	rec = do(t, f.handler, http.MethodPost, "/restaurants/r1/regenerations", map[string]any{
		"start": "2025-10-01", "end": "2025-10-31", "proposed_hours": closeMonday, "confirmed": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode[regenerationResponse](t, rec)
	assert.Equal(t, availability.StatusCompleted, resp.Outcome.Status)
	assert.Equal(t, 1, resp.Outcome.ProtectedDays)

	stored, err := f.exceptions.ListUpcoming(context.Background(), "r1", now)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].IsOpen)
	assert.Equal(t, "11:30", stored[0].OpenTime)
}

func TestConflictsAndProtect(t *testing.T) {
	f := newFixture(t, fullPolicy)

	rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/schedule/conflicts", map[string]any{
		"proposed_hours": map[string]any{"tuesday": map[string]any{"closed": true}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conflicts":[]}`, rec.Body.String())

	rec = do(t, f.handler, http.MethodPost, "/restaurants/r1/schedule/conflicts", map[string]any{
		"proposed_hours": map[string]any{"monday": map[string]any{"closed": true}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var preview struct {
		Conflicts []availability.ReservationConflict `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	require.Len(t, preview.Conflicts, 1)

	rec = do(t, f.handler, http.MethodPost, "/restaurants/r1/schedule/protect", map[string]any{
		"conflicts": preview.Conflicts,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var protected struct {
		Exceptions []availability.CalendarException `json:"exceptions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &protected))
	require.Len(t, protected.Exceptions, 1)
	assert.Equal(t, "12:00", protected.Exceptions[0].OpenTime, "no original hours given, defaults apply")
}

func TestProtect_UpsertFailure(t *testing.T) {
	f := newFixture(t, fullPolicy)
	f.exceptions.FailNext = errors.New("deadlock")

	rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/schedule/protect", map[string]any{
		"conflicts": []map[string]any{{
			"weekday":           "monday",
			"conflicts_by_date": map[string]any{"2025-10-06": []map[string]any{{"id": "a", "customer_name": "Ada"}}},
		}},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "exception_upsert_failed", decode[errorBody](t, rec).Code)
}

func TestProtect_RejectsDateOnAnotherWeekday(t *testing.T) {
	f := newFixture(t, fullPolicy)

	rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/schedule/protect", map[string]any{
		"conflicts": []map[string]any{{
			"weekday":           "monday",
			"conflicts_by_date": map[string]any{"2025-10-07": []map[string]any{{"id": "a", "customer_name": "Ada"}}},
		}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorBody](t, rec).Error, "tuesday")

	stored, err := f.exceptions.ListUpcoming(context.Background(), "r1", now)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestLastOutcome_NotFound(t *testing.T) {
	f := newFixture(t, fullPolicy)
	rec := do(t, f.handler, http.MethodGet, "/restaurants/r9/regenerations/last", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_ZeroResultIsOK(t *testing.T) {
	f := newFixture(t, fullPolicy)
	f.service.fn = func() (availability.GenerationResult, error) {
		zero := 0
		return availability.GenerationResult{Success: true, SlotsCreated: &zero, OpenDays: &zero}, nil
	}
	rec := do(t, f.handler, http.MethodPost, "/restaurants/r1/regenerations", map[string]any{"start": "2025-10-01", "end": "2025-10-31"})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[regenerationResponse](t, rec).Outcome
	assert.Equal(t, availability.StatusZeroResult, out.Status)
	assert.Equal(t, availability.AllDaysClosed, out.ZeroResult)
}
