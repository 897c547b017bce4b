package database

import (
	"context"
	"fmt"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/database/models"
)

// callRepo implements CallRepository.
type callRepo struct {
	db *DB
}

// NewCallRepository creates a new CallRepository.
func NewCallRepository(db *DB) CallRepository {
	return &callRepo{db: db}
}

// Create inserts a new call detail record.
func (r *callRepo) Create(ctx context.Context, call *models.Call) error {
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`INSERT INTO calls (call_id, channel_id, caller, destination, started_at, hangup_cause)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		call.CallID, call.ChannelID, call.Caller, call.Destination, call.StartedAt, call.HangupCause,
	).Scan(&call.ID)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}
	return nil
}

// MarkAnswered stamps the answer time of the call on channelID.
func (r *callRepo) MarkAnswered(ctx context.Context, channelID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE calls SET answered_at = ? WHERE channel_id = ?`), at, channelID)
	if err != nil {
		return fmt.Errorf("marking call answered: %w", err)
	}
	return nil
}

// MarkEnded stamps the end time and hang-up cause of the call on channelID.
func (r *callRepo) MarkEnded(ctx context.Context, channelID string, at time.Time, cause string) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE calls SET ended_at = ?, hangup_cause = ? WHERE channel_id = ?`), at, cause, channelID)
	if err != nil {
		return fmt.Errorf("marking call ended: %w", err)
	}
	return nil
}

// List returns the most recent calls first, along with the total count.
func (r *callRepo) List(ctx context.Context, filter ListFilter) ([]models.Call, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting calls: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, r.db.rebind(
		`SELECT id, call_id, channel_id, caller, destination, started_at,
		 answered_at, ended_at, hangup_cause
		 FROM calls ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`),
		filter.limit(), filter.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing calls: %w", err)
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		var c models.Call
		if err := rows.Scan(&c.ID, &c.CallID, &c.ChannelID, &c.Caller, &c.Destination,
			&c.StartedAt, &c.AnsweredAt, &c.EndedAt, &c.HangupCause); err != nil {
			return nil, 0, fmt.Errorf("scanning call row: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call rows: %w", err)
	}

	return calls, total, nil
}
