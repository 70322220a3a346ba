package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/example/availability-orchestrator/internal/db"
	"github.com/example/availability-orchestrator/internal/domain/availability"
)

// upsertException keeps calendar_exceptions in line with
// CalendarException.Merge: reason and hours follow the new row, is_open
// never goes from true to false.
const upsertException = `
INSERT INTO calendar_exceptions (id, restaurant_id, exception_date, is_open, open_time, close_time, reason, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (restaurant_id, exception_date) DO UPDATE SET
	is_open = calendar_exceptions.is_open OR EXCLUDED.is_open,
	open_time = CASE
		WHEN EXCLUDED.is_open OR NOT calendar_exceptions.is_open THEN EXCLUDED.open_time
		ELSE calendar_exceptions.open_time END,
	close_time = CASE
		WHEN EXCLUDED.is_open OR NOT calendar_exceptions.is_open THEN EXCLUDED.close_time
		ELSE calendar_exceptions.close_time END,
	reason = EXCLUDED.reason,
	created_by = EXCLUDED.created_by,
	updated_at = now()`

type ExceptionRepo struct{ db *db.DB }

func NewExceptionRepo(d *db.DB) *ExceptionRepo { return &ExceptionRepo{db: d} }

// UpsertBatch writes all exceptions in one transaction.
func (r *ExceptionRepo) UpsertBatch(ctx context.Context, exceptions []availability.CalendarException) error {
	b := &pgx.Batch{}
	for _, e := range exceptions {
		if e.RestaurantID == "" {
			return fmt.Errorf("exception for %s has no restaurant", availability.DateKey(e.Date))
		}
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		createdBy := e.CreatedBy
		if createdBy == "" {
			createdBy = availability.CreatedBySystem
		}
		b.Queue(upsertException, id, e.RestaurantID, availability.CivilDate(e.Date), e.IsOpen,
			e.OpenTime, e.CloseTime, e.Reason, string(createdBy))
	}
	return r.db.ExecBatch(ctx, b)
}

func (r *ExceptionRepo) ListUpcoming(ctx context.Context, restaurantID string, from time.Time) ([]availability.CalendarException, error) {
	rows, err := r.db.Query(ctx, `
SELECT id, restaurant_id, exception_date, is_open, open_time, close_time, reason, created_by
FROM calendar_exceptions
WHERE restaurant_id=$1 AND exception_date >= $2
ORDER BY exception_date`, restaurantID, availability.CivilDate(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.CalendarException
	for rows.Next() {
		var e availability.CalendarException
		var createdBy string
		if err := rows.Scan(&e.ID, &e.RestaurantID, &e.Date, &e.IsOpen, &e.OpenTime, &e.CloseTime, &e.Reason, &createdBy); err != nil {
			return nil, err
		}
		e.CreatedBy = availability.Creator(createdBy)
		e.Date = availability.CivilDate(e.Date)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ExceptionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	var deleted uuid.UUID
	err := r.db.QueryRow(ctx, `DELETE FROM calendar_exceptions WHERE id=$1 RETURNING id`, id).Scan(&deleted)
	if db.IsNotFound(err) {
		return availability.ErrNotFound
	}
	return err
}
