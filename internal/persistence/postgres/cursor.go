package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"example.com/sockathon/internal/domain"
)

// LoadCursor implements domain.CursorRepository. An unknown cursor starts at zero.
func (r *Repository) LoadCursor(ctx context.Context, name string) (int64, error) {
	var cursor int64
	err := r.pool.QueryRow(ctx, `SELECT last_id FROM sync_cursors WHERE name = $1`, name).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return cursor, err
}

// PendingRecords implements domain.CursorRepository.
func (r *Repository) PendingRecords(ctx context.Context, name string) ([]domain.PendingRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT participant_id, record_id, recorded_at
        FROM sync_retries WHERE cursor_name = $1 ORDER BY record_id`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PendingRecord, 0)
	for rows.Next() {
		var rec domain.PendingRecord
		if err := rows.Scan(&rec.ParticipantID, &rec.RecordID, &rec.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AdvanceCursor implements domain.CursorRepository in a single transaction.
// The cursor never moves backwards and a retry entry is only replaced by a
// newer record.
func (r *Repository) AdvanceCursor(ctx context.Context, name string, cursor int64, failed, synced []domain.PendingRecord) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `INSERT INTO sync_cursors (name, last_id, updated_at) VALUES ($1, $2, NOW())
        ON CONFLICT (name) DO UPDATE SET
            last_id = GREATEST(sync_cursors.last_id, EXCLUDED.last_id),
            updated_at = NOW()`, name, cursor)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, rec := range synced {
		batch.Queue(`DELETE FROM sync_retries WHERE cursor_name = $1 AND participant_id = $2 AND record_id <= $3`,
			name, rec.ParticipantID, rec.RecordID)
	}
	for _, rec := range failed {
		batch.Queue(`INSERT INTO sync_retries (cursor_name, participant_id, record_id, recorded_at, updated_at)
            VALUES ($1,$2,$3,$4,NOW())
            ON CONFLICT (cursor_name, participant_id) DO UPDATE SET
                record_id = EXCLUDED.record_id,
                recorded_at = EXCLUDED.recorded_at,
                updated_at = NOW()
            WHERE sync_retries.record_id < EXCLUDED.record_id`,
			name, rec.ParticipantID, rec.RecordID, rec.RecordedAt)
	}
	if batch.Len() > 0 {
		if err = tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
