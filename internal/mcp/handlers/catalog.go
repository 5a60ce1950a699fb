package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Catalog lists tables and their columns. An empty dataspace selects the
// client's default.
type Catalog interface {
	ListTables(ctx context.Context, dataspace, filter string) ([]string, error)
	DescribeTable(ctx context.Context, dataspace, table string) ([]string, error)
}

// ListTables returns a handler that lists the tables visible in the dataspace.
func ListTables(c Catalog) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tables, err := c.ListTables(ctx, "", "")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Listing tables failed: %s", err)), nil
		}
		if len(tables) == 0 {
			return mcp.NewToolResultText("No tables found."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "📋 Tables (%d found)\n\n", len(tables))
		for _, t := range tables {
			fmt.Fprintf(&sb, "- %s\n", t)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// DescribeTable returns a handler that lists the columns of one table.
func DescribeTable(c Catalog) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		table, _ := args["table"].(string)
		if table == "" {
			return mcp.NewToolResultError("table is required"), nil
		}

		columns, err := c.DescribeTable(ctx, "", table)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Describing %s failed: %s", table, err)), nil
		}
		if len(columns) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("Table %s has no columns or does not exist.", table)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "**%s** (%d columns)\n\n", table, len(columns))
		for _, col := range columns {
			fmt.Fprintf(&sb, "- %s\n", col)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
