package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/dcsql/internal/query"
)

// Runner executes a query. *query.Client implements it.
type Runner interface {
	Run(ctx context.Context, sql string, opts query.Options) (*query.Result, error)
}

// Recorder wraps a Runner and writes one history record per Run.
// Recording failures are logged and never affect the query outcome.
type Recorder struct {
	next             Runner
	store            Store
	source           string
	defaultDataspace string
	now              func() time.Time
}

// NewRecorder returns a Recorder that tags records with source ("cli",
// "shell" or "mcp"). defaultDataspace is recorded when a Run leaves it empty.
func NewRecorder(next Runner, s Store, source, defaultDataspace string) *Recorder {
	return &Recorder{
		next:             next,
		store:            s,
		source:           source,
		defaultDataspace: defaultDataspace,
		now:              time.Now,
	}
}

func (r *Recorder) Run(ctx context.Context, sql string, opts query.Options) (*query.Result, error) {
	start := r.now()
	res, err := r.next.Run(ctx, sql, opts)

	rec := &QueryRecord{
		ID:           uuid.NewString(),
		SQL:          sql,
		Dataspace:    opts.Dataspace,
		WorkloadName: opts.WorkloadName,
		Source:       r.source,
		CreatedAt:    start,
		DurationMs:   r.now().Sub(start).Milliseconds(),
	}
	if rec.Dataspace == "" {
		rec.Dataspace = r.defaultDataspace
	}

	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
	} else {
		rec.Status = StatusSucceeded
		rec.QueryID = res.QueryID
		rec.RowCount = res.RowCount
		rec.Polls = res.Polls
		rec.Pages = res.Pages
	}

	if serr := r.store.RecordQuery(rec); serr != nil {
		slog.Warn("failed to record query history", "error", serr)
	}

	return res, err
}

// StartCleanupLoop prunes history older than retention, once immediately
// and then every interval, until ctx is done.
func StartCleanupLoop(ctx context.Context, s Store, retention, interval time.Duration) {
	prune := func() {
		n, err := s.Cleanup(time.Now().Add(-retention))
		if err != nil {
			slog.Warn("query history cleanup failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("pruned query history", "removed", n)
		}
	}

	prune()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			prune()
		case <-ctx.Done():
			return
		}
	}
}
