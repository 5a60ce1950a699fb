package query

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// execution is the state of one Run: the credential it was started with
// and the request parameters shared by every stage.
type execution struct {
	c       *Client
	token   string
	baseURL string
	common  url.Values
}

// Run submits sql, waits for the query to complete and fetches every row.
// Failures are *Error, *ProtocolError, *EmptyPageError, the token source's
// error unchanged, or a wrapped transport error.
func (c *Client) Run(ctx context.Context, sql string, opts Options) (res *Result, err error) {
	opts = c.resolve(opts)
	start := time.Now()

	var queryID string
	defer func() {
		if err != nil {
			c.report(ctx, Progress{QueryID: queryID, Phase: PhaseFailed, Err: err})
		}
	}()

	token, instanceURL, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	if c.maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.maxWait)
		defer cancel()
	}

	common := url.Values{"dataspace": {opts.Dataspace}}
	if opts.WorkloadName != "" {
		common.Set("workloadName", opts.WorkloadName)
	}
	x := &execution{
		c:       c,
		token:   token,
		baseURL: c.dataURL(instanceURL, "ssot", "query-sql"),
		common:  common,
	}

	sub, err := x.submit(ctx, sql, opts.Parameters)
	if err != nil {
		return nil, err
	}
	queryID = sub.QueryID

	log := slog.With("query_id", sub.QueryID)
	log.Info("query submitted", "status", sub.CompletionStatus, "row_count", sub.RowCount, "inline_rows", len(sub.Data))
	c.report(ctx, Progress{QueryID: queryID, Phase: PhaseSubmitted, RowCount: sub.RowCount, Collected: len(sub.Data)})

	polls := 0
	for !sub.CompletionStatus.Terminal() {
		polls++
		log.Debug("polling query status", "attempt", polls)
		if err := x.poll(ctx, sub); err != nil {
			return nil, err
		}
		c.report(ctx, Progress{QueryID: queryID, Phase: PhaseRunning, RowCount: sub.RowCount, Polls: polls})
	}

	rows := sub.Data
	pages := 0
	for int64(len(rows)) < sub.RowCount {
		pages++
		offset := len(rows)
		page, err := x.fetchRows(ctx, sub.QueryID, opts.PageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return nil, &EmptyPageError{QueryID: sub.QueryID, Offset: offset, Expected: sub.RowCount}
		}
		rows = append(rows, page...)
		log.Debug("fetched rows", "offset", offset, "returned", len(page), "total", len(rows))
		c.report(ctx, Progress{QueryID: queryID, Phase: PhaseFetching, RowCount: sub.RowCount, Collected: len(rows), Polls: polls})
	}

	res = &Result{
		QueryID:     sub.QueryID,
		Data:        rows,
		Metadata:    parseColumns(sub.Metadata),
		RawMetadata: sub.Metadata,
		RowCount:    sub.RowCount,
		Polls:       polls,
		Pages:       pages,
		Duration:    time.Since(start),
	}
	log.Info("query completed", "rows", len(rows), "polls", polls, "pages", pages, "elapsed", res.Duration.Round(time.Millisecond))
	c.report(ctx, Progress{QueryID: queryID, Phase: PhaseCompleted, RowCount: sub.RowCount, Collected: len(rows), Polls: polls})
	return res, nil
}

func (x *execution) submit(ctx context.Context, sql string, params []Parameter) (*Submission, error) {
	u := x.baseURL + "?" + x.common.Encode()

	var resp submitResponse
	err := x.c.do(ctx, StageSubmit, x.c.submitTimeout, x.token, http.MethodPost, u,
		submitRequest{SQL: sql, SQLParameters: params}, &resp)
	if err != nil {
		return nil, err
	}

	status := resp.Status
	if status == nil {
		status = &statusPayload{}
	}

	queryID := status.QueryID
	if queryID == "" {
		queryID = resp.QueryID
	}
	if queryID == "" {
		return nil, &ProtocolError{Stage: StageSubmit, Field: "queryId"}
	}
	if status.RowCount == nil {
		return nil, &ProtocolError{Stage: StageSubmit, Field: "rowCount"}
	}

	return &Submission{
		QueryID:          queryID,
		CompletionStatus: status.CompletionStatus,
		RowCount:         *status.RowCount,
		Data:             resp.Data,
		Metadata:         resp.Metadata,
	}, nil
}

// poll issues one long-poll status request and refreshes sub.
func (x *execution) poll(ctx context.Context, sub *Submission) error {
	q := maps.Clone(x.common)
	q.Set("waitTimeMs", strconv.FormatInt(x.c.waitTime.Milliseconds(), 10))
	u := x.baseURL + "/" + url.PathEscape(sub.QueryID) + "?" + q.Encode()

	var resp pollResponse
	if err := x.c.do(ctx, StagePoll, x.c.pollTimeout, x.token, http.MethodGet, u, nil, &resp); err != nil {
		return err
	}

	status := resp.statusPayload
	if status.CompletionStatus == "" && status.RowCount == nil && resp.Status != nil {
		status = *resp.Status
	}
	if status.RowCount == nil {
		return &ProtocolError{Stage: StagePoll, Field: "rowCount"}
	}

	sub.CompletionStatus = status.CompletionStatus
	sub.RowCount = *status.RowCount
	return nil
}

// fetchRows returns one page of rows starting at offset. An empty result
// means the page reported no rows.
func (x *execution) fetchRows(ctx context.Context, queryID string, limit, offset int) ([]Row, error) {
	q := maps.Clone(x.common)
	q.Set("rowLimit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("omitSchema", "true")
	u := x.baseURL + "/" + url.PathEscape(queryID) + "/rows?" + q.Encode()

	var resp rowsResponse
	if err := x.c.do(ctx, StageRows, x.c.rowsTimeout, x.token, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}

	returned := int64(len(resp.Data))
	if resp.ReturnedRows != nil {
		returned = *resp.ReturnedRows
	}
	if returned == 0 {
		return nil, nil
	}
	return resp.Data, nil
}
