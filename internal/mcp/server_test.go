package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/dcsql/internal/query"
	"github.com/btouchard/dcsql/internal/store"
)

type nopClient struct{}

func (nopClient) Run(context.Context, string, query.Options) (*query.Result, error) {
	return &query.Result{}, nil
}

func (nopClient) ListTables(context.Context, string, string) ([]string, error) {
	return nil, nil
}

func (nopClient) DescribeTable(context.Context, string, string) ([]string, error) {
	return nil, nil
}

func (nopClient) SuggestFields(context.Context, string) ([]query.FieldSuggestion, error) {
	return nil, nil
}

func newDeps(t *testing.T, withHistory bool) *Deps {
	t.Helper()
	deps := &Deps{
		Runner:    nopClient{},
		Catalog:   nopClient{},
		Suggester: nopClient{},
		Dataspace: "default",
		Version:   "test",
	}
	if withHistory {
		s, err := store.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		require.NoError(t, s.RecordQuery(&store.QueryRecord{
			ID: "rec-1", QueryID: "q1", SQL: "SELECT Id FROM ssot__Account__dlm", Dataspace: "default",
			Source: "mcp", Status: store.StatusSucceeded, RowCount: 4, DurationMs: 250, CreatedAt: time.Now(),
		}))
		deps.History = s
	}
	return deps
}

func TestNewServer_RegistersAllTools(t *testing.T) {
	t.Parallel()
	s := NewServer(newDeps(t, true))

	tools := s.ListTools()
	for _, name := range []string{"query", "list_tables", "describe_table", "suggest_table_and_fields", "query_history"} {
		assert.Contains(t, tools, name)
	}
	assert.Len(t, tools, 5)
}

func TestNewServer_WhenNoHistory_SkipsHistoryTool(t *testing.T) {
	t.Parallel()
	s := NewServer(newDeps(t, false))

	tools := s.ListTools()
	assert.NotContains(t, tools, "query_history")
	assert.Len(t, tools, 4)
}

func TestNewServer_QueryHistoryToolLooksUpRecordByID(t *testing.T) {
	t.Parallel()
	s := NewServer(newDeps(t, true))

	tool := s.ListTools()["query_history"]
	require.NotNil(t, tool)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"id": "rec-1"}
	result, err := tool.Handler(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := result.Content[0].(mcp.TextContent).Text
	assert.Contains(t, text, "SELECT Id FROM ssot__Account__dlm")
	assert.Contains(t, text, "- Query ID: q1")

	req.Params.Arguments = map[string]any{"id": "nope"}
	result, err = tool.Handler(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
