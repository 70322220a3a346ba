// Package sqlitestore persists stale flags and last outcomes in a local
// SQLite file for single-node deployments.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/availability-orchestrator/internal/domain/availability"
)

const schema = `
CREATE TABLE IF NOT EXISTS stale_flags (
	restaurant_id TEXT PRIMARY KEY,
	flag TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS last_outcomes (
	restaurant_id TEXT PRIMARY KEY,
	outcome TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// Store is both an availability.StaleFlagStore and, through Outcomes, an
// availability.OutcomeCache.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path with WAL journaling.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Load(ctx context.Context, restaurantID string) (availability.StaleFlag, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT flag FROM stale_flags WHERE restaurant_id = ?`, restaurantID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return availability.StaleFlag{}, false, nil
	}
	if err != nil {
		return availability.StaleFlag{}, false, fmt.Errorf("load stale flag: %w", err)
	}
	var flag availability.StaleFlag
	if err := json.Unmarshal([]byte(data), &flag); err != nil {
		return availability.StaleFlag{}, false, fmt.Errorf("decode stale flag for %s: %w", restaurantID, err)
	}
	return flag, true, nil
}

func (s *Store) Save(ctx context.Context, restaurantID string, flag availability.StaleFlag) error {
	data, err := json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("encode stale flag: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO stale_flags (restaurant_id, flag, updated_at) VALUES (?, ?, ?)
ON CONFLICT(restaurant_id) DO UPDATE SET flag = excluded.flag, updated_at = excluded.updated_at`,
		restaurantID, string(data), time.Now().UTC())
	return err
}

func (s *Store) Delete(ctx context.Context, restaurantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stale_flags WHERE restaurant_id = ?`, restaurantID)
	return err
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT restaurant_id FROM stale_flags ORDER BY restaurant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Outcomes returns the outcome cache sharing this database.
func (s *Store) Outcomes() *OutcomeCache { return &OutcomeCache{db: s.db} }

type OutcomeCache struct {
	db *sql.DB
}

func (c *OutcomeCache) Put(ctx context.Context, o availability.RegenerationOutcome) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
INSERT INTO last_outcomes (restaurant_id, outcome, updated_at) VALUES (?, ?, ?)
ON CONFLICT(restaurant_id) DO UPDATE SET outcome = excluded.outcome, updated_at = excluded.updated_at`,
		o.RestaurantID, string(data), time.Now().UTC())
	return err
}

func (c *OutcomeCache) Get(ctx context.Context, restaurantID string) (availability.RegenerationOutcome, bool, error) {
	var data string
	err := c.db.QueryRowContext(ctx, `SELECT outcome FROM last_outcomes WHERE restaurant_id = ?`, restaurantID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return availability.RegenerationOutcome{}, false, nil
	}
	if err != nil {
		return availability.RegenerationOutcome{}, false, fmt.Errorf("load outcome: %w", err)
	}
	var o availability.RegenerationOutcome
	if err := json.Unmarshal([]byte(data), &o); err != nil {
		return availability.RegenerationOutcome{}, false, fmt.Errorf("decode outcome for %s: %w", restaurantID, err)
	}
	return o, true, nil
}
