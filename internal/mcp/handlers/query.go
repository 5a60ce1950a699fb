package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/dcsql/internal/query"
)

// emptyMarker replaces the row list when a query produced no rows.
const emptyMarker = "(empty)"

// QueryRunner executes a SQL query to completion.
// Defined at the consumer side per Go convention.
type QueryRunner interface {
	Run(ctx context.Context, sql string, opts query.Options) (*query.Result, error)
}

type queryPayload struct {
	QueryID  string          `json:"query_id"`
	RowCount int64           `json:"row_count"`
	Data     any             `json:"data"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Query returns a handler that runs a SQL query and returns its rows and
// column metadata as JSON.
func Query(runner QueryRunner) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		sql, _ := args["sql"].(string)
		if sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		var opts query.Options
		opts.Dataspace, _ = args["dataspace"].(string)
		opts.WorkloadName, _ = args["workload_name"].(string)

		res, err := runner.Run(ctx, sql, opts)
		if err != nil {
			slog.Warn("query tool failed", "error", err)
			return mcp.NewToolResultError(fmt.Sprintf("Query failed: %s", err)), nil
		}

		out, err := json.Marshal(newQueryPayload(res))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding result: %s", err)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}

func newQueryPayload(res *query.Result) queryPayload {
	p := queryPayload{
		QueryID:  res.QueryID,
		RowCount: res.RowCount,
		Data:     res.Data,
		Metadata: res.RawMetadata,
	}
	if res.Empty() {
		p.Data = emptyMarker
	}
	return p
}
