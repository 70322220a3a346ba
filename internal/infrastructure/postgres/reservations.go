package postgres

import (
	"context"
	"time"

	"github.com/example/availability-orchestrator/internal/db"
	"github.com/example/availability-orchestrator/internal/domain/availability"
	"github.com/example/availability-orchestrator/internal/domain/reservation"
)

// ReservationRepo is a read-only view over reservations.
type ReservationRepo struct{ db *db.DB }

func NewReservationRepo(d *db.DB) *ReservationRepo { return &ReservationRepo{db: d} }

func activeStatusNames() []string {
	out := make([]string, len(reservation.ActiveStatuses))
	for i, s := range reservation.ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

func (r *ReservationRepo) ListActive(ctx context.Context, restaurantID string, from time.Time) ([]reservation.Reservation, error) {
	rows, err := r.db.Query(ctx, `
SELECT id, reservation_date, reservation_time, customer_name, party_size, status
FROM reservations
WHERE restaurant_id=$1
  AND reservation_date >= $2
  AND status = ANY($3)
ORDER BY reservation_date, reservation_time`,
		restaurantID, availability.CivilDate(from), activeStatusNames())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reservation.Reservation
	for rows.Next() {
		var res reservation.Reservation
		var status string
		if err := rows.Scan(&res.ID, &res.Date, &res.Time, &res.CustomerName, &res.PartySize, &status); err != nil {
			return nil, err
		}
		res.Status = reservation.Status(status)
		res.Date = availability.CivilDate(res.Date)
		out = append(out, res)
	}
	return out, rows.Err()
}
