package protection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/availability-orchestrator/internal/domain/availability"
	"github.com/example/availability-orchestrator/internal/domain/reservation"
	"github.com/example/availability-orchestrator/internal/infrastructure/memstore"
)

// --- Mock implementations ---

type mockLookup struct {
	listActiveFn func(ctx context.Context, restaurantID string, from time.Time) ([]reservation.Reservation, error)
	calls        int
}

func (m *mockLookup) ListActive(ctx context.Context, restaurantID string, from time.Time) ([]reservation.Reservation, error) {
	m.calls++
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx, restaurantID, from)
	}
	return nil, nil
}

func day(s string) time.Time {
	t, err := time.Parse(availability.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// 2025-10-01 is a Wednesday.
var today = time.Date(2025, 10, 1, 10, 0, 0, 0, time.UTC)

var original = availability.WeeklyHours{
	time.Monday:    {Open: "11:30", Close: "22:00"},
	time.Tuesday:   {Open: "11:30", Close: "22:00"},
	time.Wednesday: {Open: "11:30", Close: "22:00"},
	time.Thursday:  {Open: "11:30", Close: "22:00"},
	time.Friday:    {Open: "11:30", Close: "23:00"},
	time.Saturday:  {Open: "10:00", Close: "23:00"},
	time.Sunday:    {Closed: true},
}

var defaults = availability.DayHours{Open: "12:00", Close: "21:00"}

func newProtector(lookup reservation.Lookup, store availability.ExceptionStore) *Protector {
	return New(lookup, store, defaults, WithClock(clockwork.NewFakeClockAt(today)))
}

func fixtures() []reservation.Reservation {
	return []reservation.Reservation{
		{ID: "a", Date: day("2025-10-06"), Time: "19:00", CustomerName: "Ada Lovelace", PartySize: 2, Status: reservation.StatusConfirmed},
		{ID: "b", Date: day("2025-10-06"), Time: "12:30", CustomerName: "Grace Hopper", PartySize: 4, Status: reservation.StatusPending},
		{ID: "c", Date: day("2025-10-13"), Time: "20:00", CustomerName: "Alan Turing", PartySize: 3, Status: reservation.StatusPendingApproval},
		{ID: "d", Date: day("2025-10-07"), Time: "19:00", CustomerName: "Tuesday Guest", PartySize: 2, Status: reservation.StatusConfirmed},
		{ID: "e", Date: day("2025-10-20"), Time: "19:00", CustomerName: "Cancelled Guest", PartySize: 2, Status: reservation.StatusCancelled},
		{ID: "f", Date: day("2025-09-29"), Time: "19:00", CustomerName: "Past Guest", PartySize: 2, Status: reservation.StatusConfirmed},
	}
}

func TestFindConflicts_NoClosuresSkipsLookup(t *testing.T) {
	lookup := &mockLookup{}
	p := newProtector(lookup, memstore.NewExceptionStore())

	proposed := availability.WeeklyHours{time.Monday: {Open: "12:00", Close: "22:00"}}
	got, err := p.FindConflicts(context.Background(), "r1", proposed, original)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 0, lookup.calls)
}

func TestFindConflicts_AlreadyClosedDayIsNotNewlyClosed(t *testing.T) {
	lookup := &mockLookup{}
	p := newProtector(lookup, memstore.NewExceptionStore())

	proposed := availability.WeeklyHours{time.Sunday: {Closed: true}}
	got, err := p.FindConflicts(context.Background(), "r1", proposed, original)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, lookup.calls)
}

func TestFindConflicts_GroupsByExactDate(t *testing.T) {
	var gotFrom time.Time
	lookup := &mockLookup{listActiveFn: func(_ context.Context, _ string, from time.Time) ([]reservation.Reservation, error) {
		gotFrom = from
		return fixtures(), nil
	}}
	p := newProtector(lookup, memstore.NewExceptionStore())

	proposed := availability.WeeklyHours{time.Monday: {Closed: true}}
	got, err := p.FindConflicts(context.Background(), "r1", proposed, original)
	require.NoError(t, err)

	assert.Equal(t, "2025-10-01", availability.DateKey(gotFrom))
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, time.Monday, c.Weekday)
	assert.Equal(t, "monday", c.DisplayName)
	assert.Equal(t, []string{"2025-10-06", "2025-10-13"}, c.Dates())
	require.Len(t, c.ConflictsByDate["2025-10-06"], 2)
	assert.Equal(t, "b", c.ConflictsByDate["2025-10-06"][0].ID, "sorted by time")
	assert.Equal(t, "c", c.ConflictsByDate["2025-10-13"][0].ID)
	assert.Equal(t, 3, c.ReservationCount())
}

func TestFindConflicts_MultipleWeekdaysInWeekOrder(t *testing.T) {
	lookup := &mockLookup{listActiveFn: func(context.Context, string, time.Time) ([]reservation.Reservation, error) {
		return fixtures(), nil
	}}
	p := newProtector(lookup, memstore.NewExceptionStore())

	proposed := availability.WeeklyHours{time.Tuesday: {Closed: true}, time.Monday: {Closed: true}}
	got, err := p.FindConflicts(context.Background(), "r1", proposed, original)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, time.Monday, got[0].Weekday)
	assert.Equal(t, time.Tuesday, got[1].Weekday)
	assert.Equal(t, []string{"2025-10-07"}, got[1].Dates())
}

func TestFindConflicts_LookupError(t *testing.T) {
	lookup := &mockLookup{listActiveFn: func(context.Context, string, time.Time) ([]reservation.Reservation, error) {
		return nil, errors.New("db gone")
	}}
	p := newProtector(lookup, memstore.NewExceptionStore())

	_, err := p.FindConflicts(context.Background(), "r1", availability.WeeklyHours{time.Monday: {Closed: true}}, nil)
	assert.Error(t, err)
}

func TestProtect_OneOpenExceptionPerDate(t *testing.T) {
	ctx := context.Background()
	lookup := &mockLookup{listActiveFn: func(context.Context, string, time.Time) ([]reservation.Reservation, error) {
		return fixtures(), nil
	}}
	store := memstore.NewExceptionStore()
	p := newProtector(lookup, store)

	conflicts, err := p.FindConflicts(ctx, "r1", availability.WeeklyHours{time.Monday: {Closed: true}}, original)
	require.NoError(t, err)

	created, err := p.Protect(ctx, "r1", conflicts, original)
	require.NoError(t, err)
	require.Len(t, created, 2)
	for _, e := range created {
		assert.True(t, e.IsOpen)
		assert.Equal(t, "11:30", e.OpenTime)
		assert.Equal(t, "22:00", e.CloseTime)
		assert.Equal(t, availability.CreatedBySystem, e.CreatedBy)
		assert.Equal(t, "r1", e.RestaurantID)
	}
	assert.Equal(t, "Kept open for existing reservations: Ada Lovelace, Grace Hopper", created[0].Reason)
	assert.Equal(t, "Kept open for existing reservations: Alan Turing", created[1].Reason)

	stored, err := store.ListUpcoming(ctx, "r1", today)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "2025-10-06", availability.DateKey(stored[0].Date))
	assert.Equal(t, "2025-10-13", availability.DateKey(stored[1].Date))
}

func TestProtect_Idempotent(t *testing.T) {
	ctx := context.Background()
	lookup := &mockLookup{listActiveFn: func(context.Context, string, time.Time) ([]reservation.Reservation, error) {
		return fixtures(), nil
	}}
	store := memstore.NewExceptionStore()
	p := newProtector(lookup, store)
	conflicts, err := p.FindConflicts(ctx, "r1", availability.WeeklyHours{time.Monday: {Closed: true}}, original)
	require.NoError(t, err)

	_, err = p.Protect(ctx, "r1", conflicts, original)
	require.NoError(t, err)
	first, _ := store.ListUpcoming(ctx, "r1", today)

	_, err = p.Protect(ctx, "r1", conflicts, original)
	require.NoError(t, err)
	second, _ := store.ListUpcoming(ctx, "r1", today)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.True(t, second[i].IsOpen)
	}
}

func TestProtect_ManualOpenExceptionNotDowngraded(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewExceptionStore()
	require.NoError(t, store.UpsertBatch(ctx, []availability.CalendarException{{
		RestaurantID: "r1", Date: day("2025-10-06"), IsOpen: true,
		OpenTime: "09:00", CloseTime: "15:00", Reason: "brunch", CreatedBy: availability.CreatedByOperator,
	}}))
	p := newProtector(&mockLookup{}, store)

	conflicts := []availability.ReservationConflict{{
		Weekday: time.Monday, DisplayName: "monday",
		ConflictsByDate: map[string][]reservation.Reservation{
			"2025-10-06": {{ID: "a", CustomerName: "Ada", Status: reservation.StatusConfirmed}},
		},
	}}
	_, err := p.Protect(ctx, "r1", conflicts, original)
	require.NoError(t, err)

	stored, _ := store.ListUpcoming(ctx, "r1", today)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].IsOpen)
	assert.Equal(t, "Kept open for existing reservations: Ada", stored[0].Reason)
}

func TestProtect_DefaultHoursWhenDayHadNone(t *testing.T) {
	ctx := context.Background()
	p := newProtector(&mockLookup{}, memstore.NewExceptionStore())

	conflicts := []availability.ReservationConflict{{
		Weekday: time.Sunday, DisplayName: "sunday",
		ConflictsByDate: map[string][]reservation.Reservation{
			"2025-10-05": {{ID: "x", Status: reservation.StatusConfirmed}},
		},
	}}
	created, err := p.Protect(ctx, "r1", conflicts, original)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "12:00", created[0].OpenTime)
	assert.Equal(t, "21:00", created[0].CloseTime)
	assert.Equal(t, "Kept open for existing reservations: reservation x", created[0].Reason)
}

func TestProtect_BatchFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewExceptionStore()
	store.FailNext = errors.New("constraint violation")
	p := newProtector(&mockLookup{}, store)

	conflicts := []availability.ReservationConflict{{
		Weekday: time.Monday,
		ConflictsByDate: map[string][]reservation.Reservation{
			"2025-10-06": {{ID: "a", CustomerName: "Ada"}},
			"2025-10-13": {{ID: "b", CustomerName: "Bob"}},
		},
	}}
	_, err := p.Protect(ctx, "r1", conflicts, original)
	require.Error(t, err)
	assert.ErrorIs(t, err, availability.ErrExceptionUpsertFailed)

	stored, _ := store.ListUpcoming(ctx, "r1", today)
	assert.Empty(t, stored)
}

func TestProtect_NoConflictsNoWrite(t *testing.T) {
	store := memstore.NewExceptionStore()
	store.FailNext = errors.New("should not be called")
	p := newProtector(&mockLookup{}, store)

	created, err := p.Protect(context.Background(), "r1", nil, original)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestReasonFor_Summarises(t *testing.T) {
	var rs []reservation.Reservation
	for _, n := range []string{"G", "F", "E", "D", "C", "B", "A", "A"} {
		rs = append(rs, reservation.Reservation{CustomerName: n})
	}
	assert.Equal(t, "Kept open for existing reservations: A, B, C, D, E, and 2 more", reasonFor(rs))
}
