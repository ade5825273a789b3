package rollup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/listenlab/artistrank/pkg/postgres"
)

// PostgresSnapshotStore persists an audit row per rollup cycle. The result
// payload is stored as JSONB so the cycle shape can evolve without
// migrations.
type PostgresSnapshotStore struct {
	client *postgres.Client
}

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS rollup_snapshots (
    id           BIGSERIAL PRIMARY KEY,
    bucket_index TEXT NOT NULL,
    status       TEXT NOT NULL,
    result       JSONB,
    error        TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_rollup_snapshots_bucket
    ON rollup_snapshots (bucket_index);
CREATE INDEX IF NOT EXISTS idx_rollup_snapshots_created
    ON rollup_snapshots (created_at DESC);
`

// NewPostgresSnapshotStore creates the store and ensures the audit table
// exists.
func NewPostgresSnapshotStore(ctx context.Context, client *postgres.Client) (*PostgresSnapshotStore, error) {
	if _, err := client.DB.ExecContext(ctx, snapshotSchema); err != nil {
		return nil, fmt.Errorf("creating rollup snapshot schema: %w", err)
	}
	return &PostgresSnapshotStore{client: client}, nil
}

// Save records the outcome of one cycle. Failed cycles are recorded with
// the error text and whatever partial result exists.
func (s *PostgresSnapshotStore) Save(ctx context.Context, result *CycleResult, runErr error) error {
	status := "success"
	bucketIndex := ""
	var payload []byte
	var errText sql.NullString

	if result != nil {
		bucketIndex = result.BucketIndex
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encoding cycle result: %w", err)
		}
		payload = data
	}
	if runErr != nil {
		status = "failure"
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rollup_snapshots (bucket_index, status, result, error) VALUES ($1, $2, $3, $4)`,
			bucketIndex, status, nullableJSON(payload), errText,
		)
		if err != nil {
			return fmt.Errorf("inserting rollup snapshot: %w", err)
		}
		return nil
	})
}

// Recent returns the latest snapshots, newest first.
func (s *PostgresSnapshotStore) Recent(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT id, bucket_index, status, COALESCE(result, 'null'::jsonb), COALESCE(error, ''), created_at
		   FROM rollup_snapshots ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying rollup snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var snap Snapshot
		var raw []byte
		if err := rows.Scan(&snap.ID, &snap.BucketIndex, &snap.Status, &raw, &snap.Error, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning rollup snapshot: %w", err)
		}
		if string(raw) != "null" {
			var result CycleResult
			if err := json.Unmarshal(raw, &result); err == nil {
				snap.Result = &result
			}
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// Snapshot is one persisted cycle audit row.
type Snapshot struct {
	ID          int64        `json:"id"`
	BucketIndex string       `json:"bucket_index"`
	Status      string       `json:"status"`
	Result      *CycleResult `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
