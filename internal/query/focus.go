package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// FieldSuggestion is a column the semantic search considers relevant to
// an utterance.
type FieldSuggestion struct {
	Column      string `json:"column"`
	Table       string `json:"table"`
	Description string `json:"description"`
}

type focusRequest struct {
	Utterance   string            `json:"utterance"`
	AppID       string            `json:"appId"`
	DataSources []focusDataSource `json:"dataSources"`
}

type focusDataSource struct {
	DataSourceType string `json:"dataSourceType"`
}

type focusResponse struct {
	Error    json.RawMessage `json:"error"`
	Entities []struct {
		QualifiedName string `json:"qualifiedName"`
		ParentID      string `json:"parentId"`
		Description   string `json:"description"`
	} `json:"entities"`
}

// SuggestFields asks the semantic search endpoint which tables and
// columns relate to utterance.
func (c *Client) SuggestFields(ctx context.Context, utterance string) ([]FieldSuggestion, error) {
	token, instanceURL, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body := focusRequest{
		Utterance:   utterance,
		AppID:       "mcpServer",
		DataSources: []focusDataSource{{DataSourceType: "DATACLOUD"}},
	}

	var resp focusResponse
	u := c.dataURL(instanceURL, "v1", "prism", "focus")
	if err := c.do(ctx, StageFocus, c.submitTimeout, token, http.MethodPost, u, body, &resp); err != nil {
		return nil, err
	}

	if msg := focusError(resp.Error); msg != "" {
		return nil, &Error{Stage: StageFocus, Status: http.StatusOK, Reason: http.StatusText(http.StatusOK), Message: msg}
	}

	out := make([]FieldSuggestion, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		column := strings.ReplaceAll(e.QualifiedName, e.ParentID+".", "")
		column = strings.ReplaceAll(column, "default.", "")
		out = append(out, FieldSuggestion{
			Column:      column,
			Table:       e.ParentID,
			Description: e.Description,
		})
	}

	slog.Debug("field suggestions", "utterance_len", len(utterance), "count", len(out))
	return out, nil
}

// focusError renders the error member of a focus response; it is either a
// string or a structured object.
func focusError(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
