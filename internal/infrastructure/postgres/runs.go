package postgres

import (
	"context"

	"github.com/example/availability-orchestrator/internal/db"
	"github.com/example/availability-orchestrator/internal/domain/availability"
)

// RunRepo keeps a history of regeneration outcomes and serves the latest
// one as the outcome cache.
type RunRepo struct{ db *db.DB }

func NewRunRepo(d *db.DB) *RunRepo { return &RunRepo{db: d} }

const runColumns = `restaurant_id, mode, status, slots_created, slots_deleted, slots_preserved, total_slots_after, period_start, period_end, protected_days, zero_result, completed_at`

func (r *RunRepo) Put(ctx context.Context, o availability.RegenerationOutcome) error {
	return r.db.Exec(ctx, `INSERT INTO regeneration_runs(`+runColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.RestaurantID, string(o.Mode), string(o.Status), o.SlotsCreated, o.SlotsDeleted, o.SlotsPreserved,
		o.TotalSlotsAfter, o.Period.Start, o.Period.End, o.ProtectedDays, string(o.ZeroResult), o.CompletedAt)
}

func (r *RunRepo) Get(ctx context.Context, restaurantID string) (availability.RegenerationOutcome, bool, error) {
	o, err := scanRun(r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM regeneration_runs
WHERE restaurant_id=$1 ORDER BY completed_at DESC, id DESC LIMIT 1`, restaurantID))
	if db.IsNotFound(err) {
		return availability.RegenerationOutcome{}, false, nil
	}
	if err != nil {
		return availability.RegenerationOutcome{}, false, err
	}
	return o, true, nil
}

// History returns up to limit outcomes, newest first.
func (r *RunRepo) History(ctx context.Context, restaurantID string, limit int) ([]availability.RegenerationOutcome, error) {
	rows, err := r.db.Query(ctx, `SELECT `+runColumns+` FROM regeneration_runs
WHERE restaurant_id=$1 ORDER BY completed_at DESC, id DESC LIMIT $2`, restaurantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.RegenerationOutcome
	for rows.Next() {
		o, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanRun(row db.Row) (availability.RegenerationOutcome, error) {
	var (
		o                        availability.RegenerationOutcome
		mode, status, zeroResult string
	)
	err := row.Scan(&o.RestaurantID, &mode, &status, &o.SlotsCreated, &o.SlotsDeleted, &o.SlotsPreserved,
		&o.TotalSlotsAfter, &o.Period.Start, &o.Period.End, &o.ProtectedDays, &zeroResult, &o.CompletedAt)
	if err != nil {
		return availability.RegenerationOutcome{}, err
	}
	o.Mode = availability.Mode(mode)
	o.Status = availability.OutcomeStatus(status)
	o.ZeroResult = availability.ZeroResultCause(zeroResult)
	o.Period.Start = availability.CivilDate(o.Period.Start)
	o.Period.End = availability.CivilDate(o.Period.End)
	o.CompletedAt = o.CompletedAt.UTC()
	return o, nil
}
