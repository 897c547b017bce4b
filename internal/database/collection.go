package database

import (
	"context"
	"fmt"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/database/models"
)

// collectionRepo implements CollectionRepository.
type collectionRepo struct {
	db *DB
}

// NewCollectionRepository creates a new CollectionRepository.
func NewCollectionRepository(db *DB) CollectionRepository {
	return &collectionRepo{db: db}
}

// Create inserts a digit collection outcome.
func (r *collectionRepo) Create(ctx context.Context, c *models.DigitCollection) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`INSERT INTO digit_collections (channel_id, call_id, application, var_name,
		 requested, timeout_ms, digits, result, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		c.ChannelID, c.CallID, c.Application, c.VarName, c.Requested, c.TimeoutMS,
		c.Digits, c.Result, c.Reason, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("inserting digit collection: %w", err)
	}
	return nil
}

// List returns collections matching the filter, newest first, along with
// the total count.
func (r *collectionRepo) List(ctx context.Context, filter CollectionListFilter) ([]models.DigitCollection, int, error) {
	where := "1=1"
	args := []any{}
	if filter.Result != "" {
		where += " AND result = ?"
		args = append(args, filter.Result)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, r.db.rebind("SELECT COUNT(*) FROM digit_collections WHERE "+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting digit collections: %w", err)
	}

	query := `SELECT id, channel_id, call_id, application, var_name, requested,
		 timeout_ms, digits, result, reason, created_at
		 FROM digit_collections WHERE ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.limit(), filter.Offset)

	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing digit collections: %w", err)
	}
	defer rows.Close()

	var out []models.DigitCollection
	for rows.Next() {
		var c models.DigitCollection
		if err := rows.Scan(&c.ID, &c.ChannelID, &c.CallID, &c.Application, &c.VarName,
			&c.Requested, &c.TimeoutMS, &c.Digits, &c.Result, &c.Reason, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning digit collection row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating digit collection rows: %w", err)
	}

	return out, total, nil
}

// CountByResult returns the number of collections per result string.
func (r *collectionRepo) CountByResult(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT result, COUNT(*) FROM digit_collections GROUP BY result`)
	if err != nil {
		return nil, fmt.Errorf("counting digit collections by result: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var result string
		var n int64
		if err := rows.Scan(&result, &n); err != nil {
			return nil, fmt.Errorf("scanning result count: %w", err)
		}
		counts[result] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result counts: %w", err)
	}
	return counts, nil
}
