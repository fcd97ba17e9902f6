package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists usage records to a single-file SQLite database. It is
// the default durable backing when ledger.path is configured.
type SQLiteStore struct {
	db *sql.DB
}

const usageSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id            TEXT PRIMARY KEY,
	timestamp     INTEGER NOT NULL,
	tier          TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost          REAL NOT NULL DEFAULT 0,
	estimated_cost REAL NOT NULL DEFAULT 0,
	routing_reason TEXT,
	cache_hit     INTEGER NOT NULL DEFAULT 0,
	cancelled     INTEGER NOT NULL DEFAULT 0,
	latency_ms    INTEGER NOT NULL DEFAULT 0,
	method        TEXT,
	client_id     TEXT,
	metadata_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_client ON usage_records(client_id, timestamp);
`

// OpenSQLite opens (creating if needed) the ledger database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// The ledger has one writer goroutine; a single connection avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(usageSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append inserts one record. Replaying an id overwrites the previous row, so
// retries after partial failures are safe.
func (s *SQLiteStore) Append(rec UsageRecord) error {
	var metadataJSON []byte
	if len(rec.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode record metadata: %w", err)
		}
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO usage_records
		(id, timestamp, tier, input_tokens, output_tokens, cost, estimated_cost,
		 routing_reason, cache_hit, cancelled, latency_ms, method, client_id, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixMilli(), rec.Tier, rec.InputTokens, rec.OutputTokens,
		rec.Cost, rec.EstimatedCost, rec.RoutingReason, boolToInt(rec.CacheHit),
		boolToInt(rec.Cancelled), rec.LatencyMs, rec.Method, rec.ClientID, string(metadataJSON))
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// Query returns records in [start, end), optionally filtered by client,
// oldest first.
func (s *SQLiteStore) Query(start, end time.Time, clientID string) ([]UsageRecord, error) {
	query := `
		SELECT id, timestamp, tier, input_tokens, output_tokens, cost, estimated_cost,
		       routing_reason, cache_hit, cancelled, latency_ms, method, client_id, metadata_json
		FROM usage_records
		WHERE timestamp >= ? AND timestamp < ?`
	args := []interface{}{start.UnixMilli(), end.UnixMilli()}
	if clientID != "" {
		query += " AND client_id = ?"
		args = append(args, clientID)
	}
	query += " ORDER BY timestamp ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		var ts int64
		var cacheHit, cancelled int
		var reason, method, client, metadataJSON sql.NullString

		if err := rows.Scan(&rec.ID, &ts, &rec.Tier, &rec.InputTokens, &rec.OutputTokens,
			&rec.Cost, &rec.EstimatedCost, &reason, &cacheHit, &cancelled,
			&rec.LatencyMs, &method, &client, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		rec.Timestamp = time.UnixMilli(ts)
		rec.RoutingReason = reason.String
		rec.Method = method.String
		rec.ClientID = client.String
		rec.CacheHit = cacheHit != 0
		rec.Cancelled = cancelled != 0
		if metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode record metadata: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteBefore removes records older than the cutoff and returns how many
// rows went away.
func (s *SQLiteStore) DeleteBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec("DELETE FROM usage_records WHERE timestamp < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old usage records: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
