package database

import (
	"context"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/database/models"
)

// CallRepository manages call detail records.
type CallRepository interface {
	Create(ctx context.Context, call *models.Call) error
	MarkAnswered(ctx context.Context, channelID string, at time.Time) error
	MarkEnded(ctx context.Context, channelID string, at time.Time, cause string) error
	List(ctx context.Context, filter ListFilter) ([]models.Call, int, error)
}

// CollectionRepository manages digit collection outcomes.
type CollectionRepository interface {
	Create(ctx context.Context, c *models.DigitCollection) error
	List(ctx context.Context, filter CollectionListFilter) ([]models.DigitCollection, int, error)
	CountByResult(ctx context.Context) (map[string]int64, error)
}

// RecordingRepository manages captured recordings.
type RecordingRepository interface {
	Create(ctx context.Context, rec *models.Recording) error
	GetByID(ctx context.Context, id int64) (*models.Recording, error)
	List(ctx context.Context, filter ListFilter) ([]models.Recording, int, error)
	Count(ctx context.Context) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// ListFilter holds pagination parameters.
type ListFilter struct {
	Limit  int
	Offset int
}

// CollectionListFilter holds filtering and pagination for digit collections.
type CollectionListFilter struct {
	ListFilter
	Result string
}

// Store bundles the repositories backed by one connection.
type Store struct {
	Calls       CallRepository
	Collections CollectionRepository
	Recordings  RecordingRepository
}

// NewStore creates the repositories for db.
func NewStore(db *DB) *Store {
	return &Store{
		Calls:       NewCallRepository(db),
		Collections: NewCollectionRepository(db),
		Recordings:  NewRecordingRepository(db),
	}
}

const defaultListLimit = 50

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}
