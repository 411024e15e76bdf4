package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// schema creates the pending-locations table. Timestamps are stored as
// Unix milliseconds to match the wire format.
const schema = `
CREATE TABLE IF NOT EXISTS pending_locations (
	event_id      TEXT PRIMARY KEY,
	lat           REAL NOT NULL,
	lon           REAL NOT NULL,
	accuracy      REAL NOT NULL DEFAULT 0,
	altitude      REAL NOT NULL DEFAULT 0,
	bearing       REAL NOT NULL DEFAULT 0,
	speed         REAL NOT NULL DEFAULT 0,
	speed_kmh     REAL NOT NULL DEFAULT 0,
	is_moving     INTEGER NOT NULL DEFAULT 0,
	battery_level INTEGER,
	captured_at   INTEGER NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	sent          INTEGER NOT NULL DEFAULT 0,
	enqueued_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_locations_unsent
	ON pending_locations (sent, enqueued_at);
`

// SQLiteRepository is a durable Repository backed by an on-device SQLite
// database.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the queue database at the given path.
// Use ":memory:" for an ephemeral queue in tests.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}

	// The queue has exactly two writers (tracking loop, upload worker);
	// a single connection sidesteps SQLITE_BUSY entirely.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate queue database: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Append implements Repository.
func (r *SQLiteRepository) Append(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO pending_locations
			(event_id, lat, lon, accuracy, altitude, bearing, speed, speed_kmh,
			 is_moving, battery_level, captured_at, retry_count, sent, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.EventID,
		rec.Lat,
		rec.Lon,
		rec.Accuracy,
		rec.Altitude,
		rec.Bearing,
		rec.Speed,
		rec.SpeedKmh,
		boolToInt(rec.IsMoving),
		rec.BatteryLevel,
		rec.Time.UnixMilli(),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// GetUnsent implements Repository.
func (r *SQLiteRepository) GetUnsent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT event_id, lat, lon, accuracy, altitude, bearing, speed, speed_kmh,
		       is_moving, battery_level, captured_at, retry_count, sent
		FROM pending_locations
		WHERE sent = 0
		ORDER BY enqueued_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsent records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var isMoving, sent int
		var capturedAt int64
		err := rows.Scan(
			&rec.EventID,
			&rec.Lat,
			&rec.Lon,
			&rec.Accuracy,
			&rec.Altitude,
			&rec.Bearing,
			&rec.Speed,
			&rec.SpeedKmh,
			&isMoving,
			&rec.BatteryLevel,
			&capturedAt,
			&rec.RetryCount,
			&sent,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.IsMoving = isMoving != 0
		rec.Sent = sent != 0
		rec.Time = time.UnixMilli(capturedAt)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// MarkSent implements Repository.
func (r *SQLiteRepository) MarkSent(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	query := `UPDATE pending_locations SET sent = 1 WHERE event_id IN (` +
		placeholders(len(eventIDs)) + `)`

	_, err := r.db.ExecContext(ctx, query, idArgs(eventIDs)...)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// IncrementRetry implements Repository.
func (r *SQLiteRepository) IncrementRetry(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	query := `UPDATE pending_locations SET retry_count = retry_count + 1 WHERE event_id IN (` +
		placeholders(len(eventIDs)) + `)`

	_, err := r.db.ExecContext(ctx, query, idArgs(eventIDs)...)
	if err != nil {
		return fmt.Errorf("increment retry: %w", err)
	}
	return nil
}

// Cleanup implements Repository.
func (r *SQLiteRepository) Cleanup(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pending_locations WHERE sent = 1`)
	if err != nil {
		return 0, fmt.Errorf("cleanup sent records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Stats implements Repository.
func (r *SQLiteRepository) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	var oldest sql.NullInt64

	query := `SELECT COUNT(*), MIN(captured_at) FROM pending_locations WHERE sent = 0`
	if err := r.db.QueryRowContext(ctx, query).Scan(&stats.Pending, &oldest); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = time.UnixMilli(oldest.Int64)
	}
	return stats, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)
