// Package postgres holds the pgx-backed repositories of the orchestrator.
// Reservations, policies and weekly hours are owned by other services and
// are only read here.
package postgres

import (
	"context"

	"github.com/example/availability-orchestrator/internal/db"
)

// SlotRepo answers questions about generated availability slots.
type SlotRepo struct{ db *db.DB }

func NewSlotRepo(d *db.DB) *SlotRepo { return &SlotRepo{db: d} }

func (r *SlotRepo) ArtifactsExist(ctx context.Context, restaurantID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM availability_slots WHERE restaurant_id=$1)`, restaurantID,
	).Scan(&exists)
	return exists, db.WrapNotFound(err)
}

// Count returns the number of generated slots of the restaurant.
func (r *SlotRepo) Count(ctx context.Context, restaurantID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM availability_slots WHERE restaurant_id=$1`, restaurantID,
	).Scan(&n)
	return n, db.WrapNotFound(err)
}
