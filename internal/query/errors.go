package query

import "fmt"

// Stage names the protocol step a request belongs to.
type Stage string

const (
	StageSubmit Stage = "submit"
	StagePoll   Stage = "poll"
	StageRows   Stage = "rows"
	StageFocus  Stage = "focus"
)

// Error is a non-2xx response from the query service.
type Error struct {
	Stage   Stage
	Status  int
	Reason  string // HTTP reason phrase
	Message string // decoded error text, or the raw body
}

func (e *Error) Error() string {
	return fmt.Sprintf("query %s failed: %d %s: %s", e.Stage, e.Status, e.Reason, e.Message)
}

// ProtocolError is a 2xx response that lacks a required field.
type ProtocolError struct {
	Stage Stage
	Field string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("query %s response missing %s", e.Stage, e.Field)
}

// EmptyPageError is a row page that returned nothing while rows were still
// outstanding.
type EmptyPageError struct {
	QueryID  string
	Offset   int
	Expected int64
}

func (e *EmptyPageError) Error() string {
	return fmt.Sprintf("query %s: expected rows at offset %d of %d, received 0", e.QueryID, e.Offset, e.Expected)
}
