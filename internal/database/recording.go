package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/database/models"
)

// recordingRepo implements RecordingRepository.
type recordingRepo struct {
	db *DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *DB) RecordingRepository {
	return &recordingRepo{db: db}
}

// Create inserts a recording.
func (r *recordingRepo) Create(ctx context.Context, rec *models.Recording) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`INSERT INTO recordings (channel_id, call_id, digits, file_path, size_bytes, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		rec.ChannelID, rec.CallID, rec.Digits, rec.FilePath, rec.SizeBytes, rec.DurationMS, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("inserting recording: %w", err)
	}
	return nil
}

// GetByID returns a recording by ID, or nil if it does not exist.
func (r *recordingRepo) GetByID(ctx context.Context, id int64) (*models.Recording, error) {
	var rec models.Recording
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT id, channel_id, call_id, digits, file_path, size_bytes, duration_ms, created_at
		 FROM recordings WHERE id = ?`), id,
	).Scan(&rec.ID, &rec.ChannelID, &rec.CallID, &rec.Digits, &rec.FilePath,
		&rec.SizeBytes, &rec.DurationMS, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying recording: %w", err)
	}
	return &rec, nil
}

// List returns recordings newest first, along with the total count.
func (r *recordingRepo) List(ctx context.Context, filter ListFilter) ([]models.Recording, int, error) {
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, r.db.rebind(
		`SELECT id, channel_id, call_id, digits, file_path, size_bytes, duration_ms, created_at
		 FROM recordings ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		filter.limit(), filter.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing recordings: %w", err)
	}
	defer rows.Close()

	var out []models.Recording
	for rows.Next() {
		var rec models.Recording
		if err := rows.Scan(&rec.ID, &rec.ChannelID, &rec.CallID, &rec.Digits, &rec.FilePath,
			&rec.SizeBytes, &rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning recording row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating recording rows: %w", err)
	}

	return out, int(total), nil
}

// Count returns the number of stored recordings.
func (r *recordingRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM recordings").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting recordings: %w", err)
	}
	return n, nil
}

// DeleteBefore removes recordings created before cutoff and returns the
// file paths they referenced so the audio can be removed as well.
func (r *recordingRepo) DeleteBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	cutoff = cutoff.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning recording cleanup: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, r.db.rebind(
		`SELECT file_path FROM recordings WHERE created_at < ?`), cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying expired recordings: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning expired recording: %w", err)
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired recordings: %w", err)
	}
	if len(paths) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, r.db.rebind(
		`DELETE FROM recordings WHERE created_at < ?`), cutoff); err != nil {
		return nil, fmt.Errorf("deleting expired recordings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing recording cleanup: %w", err)
	}
	return paths, nil
}
