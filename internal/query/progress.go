package query

import "context"

// Phase is the stage a running query has reached.
type Phase string

const (
	PhaseSubmitted Phase = "submitted"
	PhaseRunning   Phase = "running"
	PhaseFetching  Phase = "fetching"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Progress is reported to the Observer as a Run advances.
type Progress struct {
	QueryID   string // empty until the submit response is accepted
	Phase     Phase
	RowCount  int64
	Collected int
	Polls     int
	Err       error // set for PhaseFailed
}

// Observer receives progress of every Run. Observe is called synchronously
// on the Run goroutine and must not block.
type Observer interface {
	Observe(ctx context.Context, p Progress)
}

// WithObserver registers o to receive progress reports.
func WithObserver(o Observer) Option {
	return func(cl *Client) { cl.observer = o }
}

func (c *Client) report(ctx context.Context, p Progress) {
	if c.observer != nil {
		c.observer.Observe(ctx, p)
	}
}
