package notify

import (
	"context"
	"fmt"

	"github.com/btouchard/dcsql/internal/query"
)

// Event represents a query lifecycle notification.
type Event struct {
	Type    string // "query.submitted", "query.running", "query.fetching", "query.completed", "query.failed"
	QueryID string
	Message string
}

// Notifier sends query lifecycle notifications to whoever issued the query.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// QueryObserver turns query progress into Events for a Notifier.
// It implements query.Observer.
type QueryObserver struct {
	n Notifier
}

// NewQueryObserver returns an observer that forwards to n.
func NewQueryObserver(n Notifier) *QueryObserver {
	return &QueryObserver{n: n}
}

func (o *QueryObserver) Observe(ctx context.Context, p query.Progress) {
	o.n.Notify(ctx, Event{
		Type:    "query." + string(p.Phase),
		QueryID: p.QueryID,
		Message: describe(p),
	})
}

func describe(p query.Progress) string {
	switch p.Phase {
	case query.PhaseSubmitted:
		return "query submitted"
	case query.PhaseRunning:
		return fmt.Sprintf("waiting for query to complete (poll %d)", p.Polls)
	case query.PhaseFetching:
		return fmt.Sprintf("fetched %d of %d rows", p.Collected, p.RowCount)
	case query.PhaseCompleted:
		return fmt.Sprintf("query completed with %d rows", p.RowCount)
	case query.PhaseFailed:
		if p.Err != nil {
			return p.Err.Error()
		}
		return "query failed"
	default:
		return string(p.Phase)
	}
}
