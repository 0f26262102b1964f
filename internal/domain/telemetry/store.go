package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRecordNotFound is returned when a record id does not exist.
var ErrRecordNotFound = errors.New("processed agent data record not found")

// StoredRecord is one persisted row of the processed_agent_data table.
type StoredRecord struct {
	ID        int64     `json:"id"`
	RoadState string    `json:"road_state"`
	UserID    int64     `json:"user_id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists processed agent data and serves the CRUDL surface over it.
// It is the durable sink for the batch pipeline: InsertBatch writes one flush
// in a single multi-row statement.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const storedColumns = "id, road_state, user_id, x, y, z, latitude, longitude, timestamp"

// InsertBatch persists a drained batch. The whole batch goes in one statement
// so a flush is all-or-nothing at the storage boundary.
func (s *Store) InsertBatch(ctx context.Context, batch []ProcessedAgentData) error {
	if len(batch) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO processed_agent_data (road_state, user_id, x, y, z, latitude, longitude, timestamp) VALUES ")

	args := make([]any, 0, len(batch)*8)
	for i, rec := range batch {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			string(rec.RoadState),
			rec.AgentData.UserID,
			rec.AgentData.Accelerometer.X,
			rec.AgentData.Accelerometer.Y,
			rec.AgentData.Accelerometer.Z,
			rec.AgentData.GPS.Latitude,
			rec.AgentData.GPS.Longitude,
			rec.AgentData.Timestamp.Format(time.RFC3339Nano),
		)
	}

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, id int64) (*StoredRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+storedColumns+" FROM processed_agent_data WHERE id = ?", id)
	rec, err := scanStoredRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

// List retrieves records ordered by id with pagination.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+storedColumns+" FROM processed_agent_data ORDER BY id LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := make([]*StoredRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanStoredRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("list records: %w", scanErr)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// Update replaces a record's fields and returns the updated row.
func (s *Store) Update(ctx context.Context, id int64, rec ProcessedAgentData) (*StoredRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE processed_agent_data
		 SET road_state = ?, user_id = ?, x = ?, y = ?, z = ?, latitude = ?, longitude = ?, timestamp = ?
		 WHERE id = ?`,
		string(rec.RoadState),
		rec.AgentData.UserID,
		rec.AgentData.Accelerometer.X,
		rec.AgentData.Accelerometer.Y,
		rec.AgentData.Accelerometer.Z,
		rec.AgentData.GPS.Latitude,
		rec.AgentData.GPS.Longitude,
		rec.AgentData.Timestamp.Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("update record %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update record %d: %w", id, err)
	}
	if affected == 0 {
		return nil, ErrRecordNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes a record and returns the row as it was before deletion.
func (s *Store) Delete(ctx context.Context, id int64) (*StoredRecord, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM processed_agent_data WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("delete record %d: %w", id, err)
	}
	return rec, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanStoredRecord(sc scanner) (*StoredRecord, error) {
	var rec StoredRecord
	var ts string
	if err := sc.Scan(
		&rec.ID, &rec.RoadState, &rec.UserID,
		&rec.X, &rec.Y, &rec.Z,
		&rec.Latitude, &rec.Longitude, &ts,
	); err != nil {
		return nil, err
	}
	parsed, err := ParseTimestamp(ts)
	if err != nil {
		return nil, fmt.Errorf("stored timestamp %q: %w", ts, err)
	}
	rec.Timestamp = parsed
	return &rec, nil
}
