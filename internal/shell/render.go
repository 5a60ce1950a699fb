package shell

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/btouchard/dcsql/internal/query"
)

// renderResult prints rows as an aligned table headed by the column names.
func renderResult(w io.Writer, res *query.Result) error {
	if res.Empty() {
		_, err := fmt.Fprintln(w, "(empty)")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(res.Metadata) > 0 {
		names := make([]string, len(res.Metadata))
		rules := make([]string, len(res.Metadata))
		for i, c := range res.Metadata {
			names[i] = c.Name
			rules[i] = strings.Repeat("-", len(c.Name))
		}
		fmt.Fprintln(tw, strings.Join(names, "\t"))
		fmt.Fprintln(tw, strings.Join(rules, "\t"))
	}

	for _, row := range res.Data {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "(%d %s, query %s, %s)\n",
		res.RowCount, plural(res.RowCount, "row"), res.QueryID, res.Duration.Round(time.Millisecond))
	return err
}

func renderList(w io.Writer, noun string, items []string) error {
	for _, it := range items {
		if _, err := fmt.Fprintln(w, it); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "(%d %s)\n", len(items), plural(int64(len(items)), noun))
	return err
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return strings.ReplaceAll(t, "\t", " ")
	case json.Number:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func plural(n int64, noun string) string {
	if n == 1 {
		return noun
	}
	return noun + "s"
}
