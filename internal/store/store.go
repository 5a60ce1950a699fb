package store

import (
	"time"
)

// Store is the persistence interface for query history.
// Defined at the consumer side per Go conventions.
type Store interface {
	// Query history
	RecordQuery(r *QueryRecord) error
	GetQuery(id string) (*QueryRecord, error)
	ListQueries(f QueryFilter) ([]QueryRecord, error)

	// Analytics
	GetAverageQueryDuration(dataspace string) (time.Duration, int, error)

	// Maintenance
	Cleanup(olderThan time.Time) (int64, error)
}

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// QueryRecord is the metadata of one executed query. Rows are never stored.
type QueryRecord struct {
	ID           string
	QueryID      string
	SQL          string
	Dataspace    string
	WorkloadName string
	Source       string
	Status       string
	RowCount     int64
	Polls        int
	Pages        int
	Error        string
	DurationMs   int64
	CreatedAt    time.Time
}

// QueryFilter specifies criteria for listing query history.
type QueryFilter struct {
	Status    string
	Dataspace string
	Limit     int
	Since     time.Time
}
