// Package ledger reads coding heartbeats from the external append-only activity ledger.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultPageSize bounds a single fetch.
	DefaultPageSize = 10000
	// DefaultKeyLength is the length of the participant identifier embedded at
	// the end of the ledger's composite user key.
	DefaultKeyLength = 11
)

// Record is one heartbeat as stored in the ledger.
type Record struct {
	ID              int64
	ExternalUserKey string
	Time            time.Time
}

// querier is the subset of pgxpool.Pool used by Ledger.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Ledger provides read-only access to the heartbeats table.
type Ledger struct {
	db       querier
	pageSize int
}

// New constructs a Ledger backed by the provided pool.
func New(pool *pgxpool.Pool, pageSize int) *Ledger {
	return newLedger(pool, pageSize)
}

func newLedger(db querier, pageSize int) *Ledger {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Ledger{db: db, pageSize: pageSize}
}

// FetchSince returns heartbeats with an identifier greater than cursor, newest first.
// The page holds the oldest records past the cursor so that advancing the cursor to
// the page maximum never skips entries.
func (l *Ledger) FetchSince(ctx context.Context, cursor int64) ([]Record, error) {
	const query = `SELECT id, user_id, time FROM (
            SELECT id, user_id, time FROM heartbeats WHERE id > $1 ORDER BY id ASC LIMIT $2
        ) page ORDER BY id DESC`

	rows, err := l.db.Query(ctx, query, cursor, l.pageSize)
	if err != nil {
		return nil, fmt.Errorf("query heartbeats: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ExternalUserKey, &rec.Time); err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		rec.Time = rec.Time.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate heartbeats: %w", err)
	}
	return records, nil
}

// PageSize returns the configured page bound.
func (l *Ledger) PageSize() int {
	return l.pageSize
}
