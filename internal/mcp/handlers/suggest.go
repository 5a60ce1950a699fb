package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/dcsql/internal/query"
)

// FieldSuggester maps a natural-language utterance to candidate columns.
type FieldSuggester interface {
	SuggestFields(ctx context.Context, utterance string) ([]query.FieldSuggestion, error)
}

// SuggestTableAndFields returns a handler that asks the service which tables
// and columns match an utterance.
func SuggestTableAndFields(s FieldSuggester) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		utterance, _ := args["utterance"].(string)
		if strings.TrimSpace(utterance) == "" {
			return mcp.NewToolResultError("utterance is required"), nil
		}

		suggestions, err := s.SuggestFields(ctx, utterance)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Suggestion failed: %s", err)), nil
		}
		if len(suggestions) == 0 {
			return mcp.NewToolResultText("No matching tables or fields."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "🔎 Suggestions for %q (%d)\n\n", utterance, len(suggestions))
		for _, f := range suggestions {
			fmt.Fprintf(&sb, "- **%s.%s**", f.Table, f.Column)
			if f.Description != "" {
				fmt.Fprintf(&sb, ": %s", f.Description)
			}
			sb.WriteString("\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
