package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is one row of the materialized contract event log. Ledger is nil
// while the event is pending confirmation and 0 for synthetic back-fills.
type Event struct {
	ID         int64          `json:"id"`
	OrgID      uint64         `json:"org_id"`
	Kind       string         `json:"kind"`
	Payload    map[string]any `json:"payload"`
	Ledger     *uint32        `json:"ledger,omitempty"`
	TxHash     string         `json:"tx_hash"`
	ObservedAt time.Time      `json:"observed_at"`
	Verified   bool           `json:"verified"`
}

// ListOptions narrows and pages ListEvents results.
type ListOptions struct {
	Kinds  []string
	Limit  int
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// AddEvent inserts an event row. (tx_hash, kind, org_id) is the dedup key:
// a duplicate insert is absorbed and reported with inserted=false.
func (s *Store) AddEvent(ctx context.Context, kind string, orgID uint64, payload map[string]any, ledger *uint32, txHash string, verified bool) (bool, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	var ledgerArg any
	if ledger != nil {
		ledgerArg = int64(*ledger)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (org_id, kind, payload, ledger, tx_hash, observed_at, verified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tx_hash, kind, org_id) DO NOTHING`,
		orgID, kind, string(payloadJSON), ledgerArg, txHash, time.Now().Unix(), verified)
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return rows > 0, nil
}

// AddPendingEvent records a client-notified event awaiting on-chain
// confirmation: verified=false, no ledger yet.
func (s *Store) AddPendingEvent(ctx context.Context, orgID uint64, kind string, payload map[string]any, txHash string) (bool, error) {
	return s.AddEvent(ctx, kind, orgID, payload, nil, txHash, false)
}

// MarkVerified promotes every row with the given tx hash to canonical and
// records its confirmation ledger.
func (s *Store) MarkVerified(ctx context.Context, txHash string, ledger uint32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET verified = 1, ledger = ? WHERE tx_hash = ?`,
		int64(ledger), txHash)
	if err != nil {
		return fmt.Errorf("failed to mark events verified: %w", err)
	}
	return nil
}

// DeletePending removes unverified rows for a tx the chain reported failed.
// Verified rows with the same hash are left alone.
func (s *Store) DeletePending(ctx context.Context, txHash string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE tx_hash = ? AND verified = 0`, txHash)
	if err != nil {
		return fmt.Errorf("failed to delete pending events: %w", err)
	}
	return nil
}

// ListEvents returns events for an org, newest first (ledger desc, then id
// desc), plus the total matching count for pagination. The page size is
// capped at 100 rows.
func (s *Store) ListEvents(ctx context.Context, orgID uint64, opts ListOptions) ([]Event, int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	where := "WHERE org_id = ?"
	args := []any{orgID}
	if len(opts.Kinds) > 0 {
		where += " AND kind IN (?" + strings.Repeat(", ?", len(opts.Kinds)-1) + ")"
		for _, k := range opts.Kinds {
			args = append(args, k)
		}
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	query := `SELECT id, org_id, kind, payload, ledger, tx_hash, observed_at, verified
		FROM events ` + where + `
		ORDER BY ledger DESC, id DESC
		LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// ListUnverified returns the oldest pending events, up to limit.
func (s *Store) ListUnverified(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, kind, payload, ledger, tx_hash, observed_at, verified
		 FROM events WHERE verified = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unverified events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// EventsCount returns the total number of stored events.
func (s *Store) EventsCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			ev          Event
			payloadText string
			ledger      sql.NullInt64
			observedAt  int64
		)
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.Kind, &payloadText, &ledger, &ev.TxHash, &observedAt, &ev.Verified); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if ledger.Valid {
			l := uint32(ledger.Int64)
			ev.Ledger = &l
		}
		ev.ObservedAt = time.Unix(observedAt, 0).UTC()
		if err := json.Unmarshal([]byte(payloadText), &ev.Payload); err != nil {
			// A corrupt payload should not hide the event itself.
			ev.Payload = map[string]any{"_raw": payloadText}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return events, nil
}
