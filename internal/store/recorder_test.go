package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/dcsql/internal/query"
)

type fakeRunner struct {
	res *query.Result
	err error
}

func (f *fakeRunner) Run(context.Context, string, query.Options) (*query.Result, error) {
	return f.res, f.err
}

func TestRecorder_WhenRunSucceeds_RecordsMetadata(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	runner := &fakeRunner{res: &query.Result{QueryID: "q1", RowCount: 5, Polls: 1, Pages: 1, Data: []query.Row{{"a"}}}}
	rec := NewRecorder(runner, s, "mcp", "default")

	res, err := rec.Run(context.Background(), "SELECT 1", query.Options{WorkloadName: "adhoc"})
	require.NoError(t, err)
	assert.Same(t, runner.res, res)

	got, err := s.ListQueries(QueryFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "q1", got[0].QueryID)
	assert.Equal(t, "SELECT 1", got[0].SQL)
	assert.Equal(t, "default", got[0].Dataspace)
	assert.Equal(t, "adhoc", got[0].WorkloadName)
	assert.Equal(t, "mcp", got[0].Source)
	assert.Equal(t, StatusSucceeded, got[0].Status)
	assert.Equal(t, int64(5), got[0].RowCount)
	assert.Equal(t, 1, got[0].Polls)
	assert.NotEmpty(t, got[0].ID)
}

func TestRecorder_WhenRunFails_RecordsErrorAndReturnsItUnchanged(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	runErr := &query.Error{Stage: query.StageSubmit, Status: 400, Reason: "Bad Request", Message: "syntax error"}
	rec := NewRecorder(&fakeRunner{err: runErr}, s, "cli", "default")

	_, err := rec.Run(context.Background(), "SELEC 1", query.Options{Dataspace: "sales"})
	assert.Same(t, runErr, err)

	got, err := s.ListQueries(QueryFilter{Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sales", got[0].Dataspace)
	assert.Contains(t, got[0].Error, "syntax error")
	assert.Empty(t, got[0].QueryID)
}

func TestRecorder_WhenStoreFails_StillReturnsResult(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Close())

	runner := &fakeRunner{res: &query.Result{QueryID: "q"}}
	res, err := NewRecorder(runner, s, "cli", "default").Run(context.Background(), "SELECT 1", query.Options{})
	require.NoError(t, err)
	assert.Equal(t, "q", res.QueryID)
}

func TestStartCleanupLoop_PrunesImmediatelyAndStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.RecordQuery(&QueryRecord{ID: "old", SQL: "x", Status: StatusSucceeded, CreatedAt: time.Now().Add(-48 * time.Hour)}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StartCleanupLoop(ctx, s, 24*time.Hour, time.Hour)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, err := s.GetQuery("old")
		return errors.Is(err, ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}
