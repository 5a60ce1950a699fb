package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/dcsql/internal/mcp/handlers"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Runner    handlers.QueryRunner
	Catalog   handlers.Catalog
	Suggester handlers.FieldSuggester
	History   handlers.History // nil disables query_history
	Dataspace string
	Version   string
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"dcsql",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}
