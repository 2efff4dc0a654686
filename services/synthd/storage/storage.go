package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

// Storage wraps the synthd persistence layer: raw oracle samples, aggregated
// snapshots, and a relational mirror of the request audit trail. The KV
// ledgers remain authoritative; this store exists for operator queries.
type Storage struct {
	db *sql.DB
}

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("synthd storage path must be configured")

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSample persists a raw price quote from a single source.
func (s *Storage) RecordSample(ctx context.Context, source string, rate *big.Rat, observed, recorded time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if rate == nil {
		return fmt.Errorf("sample missing rate")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO oracle_samples(source, rate, observed_at, recorded_at)
        VALUES(?, ?, ?, ?)
    `, strings.ToLower(strings.TrimSpace(source)), rate.FloatString(18), observed.UTC().Unix(), recorded.UTC())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// RecordSnapshot stores the aggregated median snapshot.
func (s *Storage) RecordSnapshot(ctx context.Context, median string, feeders []string, proofID string, ts time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO oracle_snapshots(median_rate, feeders, proof_id, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, strings.TrimSpace(median), strings.Join(feeders, ","), proofID, ts.UTC().Unix(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Snapshot captures the latest oracle aggregate.
type Snapshot struct {
	MedianRate     string
	Feeders        []string
	ProofID        string
	ObservedAtUnix int64
	RecordedAt     time.Time
}

// LatestSnapshot returns the most recent aggregated median.
func (s *Storage) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	result := Snapshot{}
	if s == nil {
		return result, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT median_rate, feeders, proof_id, observed_at, recorded_at
        FROM oracle_snapshots
        ORDER BY id DESC
        LIMIT 1
    `)
	var feeders string
	if err := row.Scan(&result.MedianRate, &feeders, &result.ProofID, &result.ObservedAtUnix, &result.RecordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, fmt.Errorf("snapshot not found")
		}
		return result, fmt.Errorf("query snapshot: %w", err)
	}
	if feeders != "" {
		result.Feeders = strings.Split(feeders, ",")
	}
	return result, nil
}

// RequestRecord mirrors the KV request ledger for relational queries.
type RequestRecord struct {
	ID            string
	Action        string
	Amount        string
	Requester     string
	Status        string
	SettledAmount string
	CreatedAt     int64
	UpdatedAt     time.Time
}

// RecordRequest inserts the audit mirror row for a freshly issued request.
func (s *Storage) RecordRequest(ctx context.Context, rec RequestRecord) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return fmt.Errorf("request id required")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO request_audit(id, action, amount, requester, status, settled_amount, created_at, updated_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(id) DO NOTHING
    `, id, strings.ToLower(rec.Action), rec.Amount, strings.ToLower(rec.Requester), rec.Status, rec.SettledAmount, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert request audit: %w", err)
	}
	return nil
}

// UpdateRequestStatus records the terminal outcome on the audit mirror.
func (s *Storage) UpdateRequestStatus(ctx context.Context, id, status, settledAmount string) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("request id required")
	}
	_, err := s.db.ExecContext(ctx, `
        UPDATE request_audit
        SET status = ?, settled_amount = ?, updated_at = CURRENT_TIMESTAMP
        WHERE id = ?
    `, status, settledAmount, id)
	if err != nil {
		return fmt.Errorf("update request audit: %w", err)
	}
	return nil
}

// GetRequest loads the audit mirror row for the supplied id.
func (s *Storage) GetRequest(ctx context.Context, id string) (RequestRecord, error) {
	rec := RequestRecord{}
	if s == nil {
		return rec, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT id, action, amount, requester, status, settled_amount, created_at, updated_at
        FROM request_audit
        WHERE id = ?
    `, strings.TrimSpace(id))
	if err := row.Scan(&rec.ID, &rec.Action, &rec.Amount, &rec.Requester, &rec.Status, &rec.SettledAmount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, fmt.Errorf("request %s not found", strings.TrimSpace(id))
		}
		return rec, fmt.Errorf("query request audit: %w", err)
	}
	return rec, nil
}

// RecordPayout persists a completed withdrawal claim for reconciliation with
// the settlement provider's statements.
func (s *Storage) RecordPayout(ctx context.Context, requester string, amount *big.Int, when time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("payout amount must be positive")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO settlement_payouts(requester, amount, paid_at)
        VALUES(?, ?, ?)
    `, strings.ToLower(strings.TrimSpace(requester)), amount.String(), when.UTC())
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS oracle_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    rate TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_samples_ts ON oracle_samples(observed_at);

CREATE TABLE IF NOT EXISTS oracle_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    median_rate TEXT NOT NULL,
    feeders TEXT NOT NULL,
    proof_id TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_snapshots_ts ON oracle_snapshots(observed_at);

CREATE TABLE IF NOT EXISTS request_audit (
    id TEXT PRIMARY KEY,
    action TEXT NOT NULL,
    amount TEXT NOT NULL,
    requester TEXT NOT NULL,
    status TEXT NOT NULL,
    settled_amount TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_audit_status ON request_audit(status);

CREATE TABLE IF NOT EXISTS settlement_payouts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    requester TEXT NOT NULL,
    amount TEXT NOT NULL,
    paid_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settlement_payouts_requester ON settlement_payouts(requester);
`
