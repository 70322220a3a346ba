package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/example/availability-orchestrator/internal/db"
	"github.com/example/availability-orchestrator/internal/domain/availability"
)

type PolicyRepo struct{ db *db.DB }

func NewPolicyRepo(d *db.DB) *PolicyRepo { return &PolicyRepo{db: d} }

// Policy returns availability.ErrNotFound when the restaurant has no row.
func (r *PolicyRepo) Policy(ctx context.Context, restaurantID string) (availability.Policy, error) {
	var p availability.Policy
	err := r.db.QueryRow(ctx, `
SELECT advance_booking_days, slot_duration_minutes
FROM booking_policies WHERE restaurant_id=$1`, restaurantID).
		Scan(&p.AdvanceBookingDays, &p.SlotDurationMinutes)
	if db.IsNotFound(err) {
		return availability.Policy{}, availability.ErrNotFound
	}
	if err != nil {
		return availability.Policy{}, fmt.Errorf("load policy: %w", err)
	}
	return p, nil
}

// ScheduleRepo reads the weekly opening hours.
type ScheduleRepo struct{ db *db.DB }

func NewScheduleRepo(d *db.DB) *ScheduleRepo { return &ScheduleRepo{db: d} }

// WeeklyHours returns the configured days. Days without a row are absent
// from the map and count as closed.
func (r *ScheduleRepo) WeeklyHours(ctx context.Context, restaurantID string) (availability.WeeklyHours, error) {
	rows, err := r.db.Query(ctx, `
SELECT weekday, closed, open_time, close_time
FROM weekly_hours WHERE restaurant_id=$1`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := availability.WeeklyHours{}
	for rows.Next() {
		var wd int16
		var h availability.DayHours
		if err := rows.Scan(&wd, &h.Closed, &h.Open, &h.Close); err != nil {
			return nil, err
		}
		out[time.Weekday(wd)] = h
	}
	return out, rows.Err()
}

func (r *ScheduleRepo) HasOpenDays(ctx context.Context, restaurantID string) (bool, error) {
	var open bool
	err := r.db.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM weekly_hours WHERE restaurant_id=$1 AND NOT closed)`, restaurantID).
		Scan(&open)
	return open, db.WrapNotFound(err)
}

// TableRepo reads the restaurant's tables.
type TableRepo struct{ db *db.DB }

func NewTableRepo(d *db.DB) *TableRepo { return &TableRepo{db: d} }

func (r *TableRepo) ActiveTableCount(ctx context.Context, restaurantID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM restaurant_tables WHERE restaurant_id=$1 AND active`, restaurantID,
	).Scan(&n)
	return n, db.WrapNotFound(err)
}
