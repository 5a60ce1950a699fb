package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/dcsql/internal/store"
)

// History reads recorded query executions.
type History interface {
	GetQuery(id string) (*store.QueryRecord, error)
	ListQueries(f store.QueryFilter) ([]store.QueryRecord, error)
	GetAverageQueryDuration(dataspace string) (time.Duration, int, error)
}

const maxSQLPreview = 120

// QueryHistory returns a handler that lists recent queries, newest first.
// Given an id, it shows that one execution with its full SQL.
func QueryHistory(h History) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		if id, _ := args["id"].(string); id != "" {
			return queryDetail(h, id), nil
		}

		filter := store.QueryFilter{
			Limit: 20,
		}
		if status, ok := args["status"].(string); ok {
			filter.Status = status
		}
		if limit, ok := args["limit"].(float64); ok && limit > 0 {
			filter.Limit = int(limit)
		}

		records, err := h.ListQueries(filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Reading history failed: %s", err)), nil
		}
		if len(records) == 0 {
			return mcp.NewToolResultText("No queries found matching the given filters."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "📋 Queries (%d found)\n", len(records))
		if avg, n, err := h.GetAverageQueryDuration(""); err == nil && n > 0 {
			fmt.Fprintf(&sb, "Average duration: %s over %d successful queries\n", avg.Round(time.Millisecond), n)
		}
		sb.WriteString("\n")

		for _, r := range records {
			fmt.Fprintf(&sb, "%s **%s** — %s\n", statusIcon(r.Status), r.CreatedAt.Local().Format(time.DateTime), r.Status)
			fmt.Fprintf(&sb, "  ID: %s\n", r.ID)
			fmt.Fprintf(&sb, "  SQL: %s\n", preview(r.SQL))
			fmt.Fprintf(&sb, "  Dataspace: %s | Source: %s | Duration: %s\n",
				r.Dataspace, r.Source, (time.Duration(r.DurationMs) * time.Millisecond).String())
			if r.Status == store.StatusSucceeded {
				fmt.Fprintf(&sb, "  Query: %s | Rows: %d | Polls: %d | Pages: %d\n", r.QueryID, r.RowCount, r.Polls, r.Pages)
			}
			if r.Error != "" {
				fmt.Fprintf(&sb, "  Error: %s\n", r.Error)
			}
			sb.WriteString("\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func queryDetail(h History, id string) *mcp.CallToolResult {
	r, err := h.GetQuery(id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("No query with id %s in history.", id))
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Reading history failed: %s", err))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s **%s** — %s\n\n", statusIcon(r.Status), r.ID, r.Status)
	fmt.Fprintf(&sb, "- Executed: %s\n", r.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(&sb, "- Dataspace: %s\n", r.Dataspace)
	if r.WorkloadName != "" {
		fmt.Fprintf(&sb, "- Workload: %s\n", r.WorkloadName)
	}
	fmt.Fprintf(&sb, "- Source: %s\n", r.Source)
	fmt.Fprintf(&sb, "- Duration: %s\n", time.Duration(r.DurationMs)*time.Millisecond)
	if r.QueryID != "" {
		fmt.Fprintf(&sb, "- Query ID: %s\n", r.QueryID)
	}
	if r.Status == store.StatusSucceeded {
		fmt.Fprintf(&sb, "- Rows: %d | Polls: %d | Pages: %d\n", r.RowCount, r.Polls, r.Pages)
	}
	if r.Error != "" {
		fmt.Fprintf(&sb, "- Error: %s\n", r.Error)
	}
	fmt.Fprintf(&sb, "\n```sql\n%s\n```\n", r.SQL)
	return mcp.NewToolResultText(sb.String())
}

func statusIcon(status string) string {
	switch status {
	case store.StatusSucceeded:
		return "✅"
	case store.StatusFailed:
		return "❌"
	default:
		return "❓"
	}
}

func preview(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > maxSQLPreview {
		return s[:maxSQLPreview] + "..."
	}
	return s
}
