package query

import "encoding/json"

// decodeErrorBody extracts the human-readable text from a Connect API error
// body of the form [{"message": "<json>"}]. It reports false when the body
// does not have that shape or the nested JSON is empty.
func decodeErrorBody(body []byte) (string, bool) {
	var items []struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &items); err != nil || len(items) == 0 {
		return "", false
	}

	nested := items[0].Message
	if nested == "" {
		return "", false
	}

	var detail any
	if err := json.Unmarshal([]byte(nested), &detail); err != nil || isZeroJSON(detail) {
		return "", false
	}

	if m, ok := detail.(map[string]any); ok {
		if primary, _ := m["primaryMessage"].(string); primary != "" {
			if hint, _ := m["customerHint"].(string); hint != "" {
				return primary + ", Hint: " + hint, true
			}
			return primary, true
		}
	}

	return nested, true
}

// errorMessage returns the decoded error text, or the raw body verbatim.
func errorMessage(body []byte) string {
	if msg, ok := decodeErrorBody(body); ok {
		return msg
	}
	return string(body)
}

func isZeroJSON(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case float64:
		return t == 0
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
