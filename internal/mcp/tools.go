package mcp

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/dcsql/internal/mcp/handlers"
	"github.com/btouchard/dcsql/internal/store"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	// query: submit, wait for completion, return every row
	s.AddTool(
		mcp.NewTool("query",
			mcp.WithDescription("Run a SQL query against Data Cloud and return all rows with column metadata as JSON. "+
				"Long-running queries are polled to completion and large results are paginated automatically."),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description("The SQL query to execute"),
			),
			mcp.WithString("dataspace",
				mcp.Description(fmt.Sprintf("Dataspace to query (default: %s)", deps.Dataspace)),
			),
			mcp.WithString("workload_name",
				mcp.Description("Optional workload name reported to the service"),
			),
		),
		handlers.Query(deps.Runner),
	)

	s.AddTool(
		mcp.NewTool("list_tables",
			mcp.WithDescription("List the tables available in the configured dataspace."),
		),
		handlers.ListTables(deps.Catalog),
	)

	s.AddTool(
		mcp.NewTool("describe_table",
			mcp.WithDescription("List the column names of a table."),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Table name, e.g. ssot__Account__dlm"),
			),
		),
		handlers.DescribeTable(deps.Catalog),
	)

	s.AddTool(
		mcp.NewTool("suggest_table_and_fields",
			mcp.WithDescription("Suggest tables and fields relevant to a natural-language question. "+
				"Use it before writing SQL when the schema is unknown."),
			mcp.WithString("utterance",
				mcp.Required(),
				mcp.Description("The question in plain language"),
			),
		),
		handlers.SuggestTableAndFields(deps.Suggester),
	)

	if deps.History == nil {
		return
	}

	s.AddTool(
		mcp.NewTool("query_history",
			mcp.WithDescription("List recently executed queries with their outcome, row counts and durations. Pass an id to show one execution with its full SQL."),
			mcp.WithString("id",
				mcp.Description("History id of a single execution, as shown in the listing"),
			),
			mcp.WithString("status",
				mcp.Description("Filter by outcome"),
				mcp.Enum(store.StatusSucceeded, store.StatusFailed, "all"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of queries to return (default: 20)"),
			),
		),
		handlers.QueryHistory(deps.History),
	)
}
