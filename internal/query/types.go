package query

import (
	"cmp"
	"encoding/json"
	"log/slog"
	"slices"
	"time"
)

// CompletionStatus is the server-side state of a submitted query.
type CompletionStatus string

const (
	StatusRunning         CompletionStatus = "Running"
	StatusResultsProduced CompletionStatus = "ResultsProduced"
	StatusFinished        CompletionStatus = "Finished"
)

// Terminal reports whether rows can be fetched for the query.
func (s CompletionStatus) Terminal() bool {
	return s == StatusFinished || s == StatusResultsProduced
}

// Row is one result tuple in column order. Numbers are json.Number.
type Row = []any

// Column describes one result column.
type Column struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	TypeCode     int    `json:"typeCode,omitempty"`
	Nullable     bool   `json:"nullable,omitempty"`
	Precision    int    `json:"precision,omitempty"`
	Scale        int    `json:"scale,omitempty"`
	PlaceInOrder int    `json:"placeInOrder,omitempty"`
}

// Parameter is a bound SQL parameter referenced as :name in the query text.
type Parameter struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Options controls a single Run. Zero fields take the client defaults.
type Options struct {
	Dataspace    string
	WorkloadName string
	PageSize     int
	Parameters   []Parameter
}

// Submission is the state captured from the submit response and refreshed
// by polling.
type Submission struct {
	QueryID          string
	CompletionStatus CompletionStatus
	RowCount         int64
	Data             []Row
	Metadata         json.RawMessage
}

// Result is the fully assembled outcome of a query.
type Result struct {
	QueryID     string
	Data        []Row
	Metadata    []Column
	RawMetadata json.RawMessage
	RowCount    int64
	Polls       int
	Pages       int
	Duration    time.Duration
}

// Empty reports whether the query produced no rows.
func (r *Result) Empty() bool {
	return r.RowCount == 0
}

type statusPayload struct {
	QueryID          string           `json:"queryId"`
	CompletionStatus CompletionStatus `json:"completionStatus"`
	RowCount         *int64           `json:"rowCount"`
}

type submitRequest struct {
	SQL           string      `json:"sql"`
	SQLParameters []Parameter `json:"sqlParameters,omitempty"`
}

type submitResponse struct {
	Status   *statusPayload  `json:"status"`
	QueryID  string          `json:"queryId"`
	Data     []Row           `json:"data"`
	Metadata json.RawMessage `json:"metadata"`
}

// pollResponse carries the status at top level; some API versions nest it
// under "status" like the submit response.
type pollResponse struct {
	statusPayload
	Status *statusPayload `json:"status"`
}

type rowsResponse struct {
	Data         []Row  `json:"data"`
	ReturnedRows *int64 `json:"returnedRows"`
}

// parseColumns decodes column metadata. The API reports either an ordered
// list of columns or an object keyed by column name with placeInOrder.
func parseColumns(raw json.RawMessage) []Column {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var list []Column
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var byName map[string]Column
	if err := json.Unmarshal(raw, &byName); err == nil {
		cols := make([]Column, 0, len(byName))
		for name, c := range byName {
			if c.Name == "" {
				c.Name = name
			}
			cols = append(cols, c)
		}
		slices.SortFunc(cols, func(a, b Column) int {
			return cmp.Or(cmp.Compare(a.PlaceInOrder, b.PlaceInOrder), cmp.Compare(a.Name, b.Name))
		})
		return cols
	}

	slog.Debug("unrecognized column metadata shape", "bytes", len(raw))
	return nil
}
