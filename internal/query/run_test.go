package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiBase = "/services/data/v63.0/ssot/query-sql"

type recordedRequest struct {
	Query  url.Values
	Header http.Header
	Body   []byte
}

// fakeAPI is a scripted Query Connect API. Handlers receive the 1-based
// call number for their endpoint.
type fakeAPI struct {
	server *httptest.Server

	mu      sync.Mutex
	submits []recordedRequest
	polls   []recordedRequest
	fetches []recordedRequest
	focuses []recordedRequest

	submit func(w http.ResponseWriter, n int)
	poll   func(w http.ResponseWriter, n int)
	rows   func(w http.ResponseWriter, q url.Values, n int)
	focus  func(w http.ResponseWriter, n int)
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()

	api := &fakeAPI{}
	record := func(list *[]recordedRequest, r *http.Request) (url.Values, int) {
		body, _ := io.ReadAll(r.Body)
		api.mu.Lock()
		defer api.mu.Unlock()
		*list = append(*list, recordedRequest{Query: r.URL.Query(), Header: r.Header.Clone(), Body: body})
		return r.URL.Query(), len(*list)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+apiBase, func(w http.ResponseWriter, r *http.Request) {
		_, n := record(&api.submits, r)
		api.submit(w, n)
	})
	mux.HandleFunc("GET "+apiBase+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, n := record(&api.polls, r)
		api.poll(w, n)
	})
	mux.HandleFunc("GET "+apiBase+"/{id}/rows", func(w http.ResponseWriter, r *http.Request) {
		q, n := record(&api.fetches, r)
		api.rows(w, q, n)
	})
	mux.HandleFunc("POST /services/data/v63.0/v1/prism/focus", func(w http.ResponseWriter, r *http.Request) {
		_, n := record(&api.focuses, r)
		api.focus(w, n)
	})

	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) counts() (submits, polls, fetches int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.submits), len(a.polls), len(a.fetches)
}

func (a *fakeAPI) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithHTTPClient(a.server.Client())}, opts...)
	return NewClient(&staticTokens{token: "tok-123", instanceURL: a.server.URL}, opts...)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func rowsJSON(from, to int) string {
	rows := make([][]any, 0, to-from)
	for i := from; i < to; i++ {
		rows = append(rows, []any{fmt.Sprintf("r%d", i), i})
	}
	b, _ := json.Marshal(rows)
	return string(b)
}

type staticTokens struct {
	token       string
	instanceURL string
	err         error

	mu    sync.Mutex
	calls int
}

func (s *staticTokens) Token(context.Context) (string, string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return "", "", s.err
	}
	return s.token, s.instanceURL, nil
}

func TestRun_WhenSubmitReturnsAllRowsInline_SkipsPollingAndPagination(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{
			"status": {"queryId": "q0", "completionStatus": "Finished", "rowCount": 2},
			"data": [["a", 1], ["b", 2]],
			"metadata": [{"name": "col", "type": "VARCHAR"}, {"name": "n", "type": "INTEGER"}]
		}`)
	}

	res, err := api.client(t).Run(context.Background(), "SELECT 1", Options{})
	require.NoError(t, err)

	assert.Equal(t, "q0", res.QueryID)
	require.Len(t, res.Data, 2)
	assert.Equal(t, "a", res.Data[0][0])
	assert.Equal(t, json.Number("2"), res.Data[1][1])
	assert.Equal(t, []Column{{Name: "col", Type: "VARCHAR"}, {Name: "n", Type: "INTEGER"}}, res.Metadata)
	assert.Zero(t, res.Polls)
	assert.Zero(t, res.Pages)

	_, polls, fetches := api.counts()
	assert.Zero(t, polls)
	assert.Zero(t, fetches)
}

func TestRun_EndToEnd_RunningThenFinished(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{"status":{"queryId":"q1","completionStatus":"Running","rowCount":5}}`)
	}
	api.poll = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusOK, `{"queryId":"q1","completionStatus":"Finished","rowCount":5}`)
	}
	api.rows = func(w http.ResponseWriter, _ url.Values, _ int) {
		writeJSON(w, http.StatusOK, `{"data":`+rowsJSON(0, 5)+`,"returnedRows":5}`)
	}

	res, err := api.client(t).Run(context.Background(), "SELECT * FROM t", Options{})
	require.NoError(t, err)

	assert.Len(t, res.Data, 5)
	assert.Equal(t, int64(5), res.RowCount)
	assert.Equal(t, 1, res.Polls)
	assert.Equal(t, 1, res.Pages)

	submits, polls, fetches := api.counts()
	assert.Equal(t, 1, submits)
	assert.Equal(t, 1, polls)
	assert.Equal(t, 1, fetches)

	api.mu.Lock()
	defer api.mu.Unlock()

	sub := api.submits[0]
	assert.Equal(t, "Bearer tok-123", sub.Header.Get("Authorization"))
	assert.Equal(t, "default", sub.Query.Get("dataspace"))
	assert.False(t, sub.Query.Has("workloadName"))
	assert.JSONEq(t, `{"sql":"SELECT * FROM t"}`, string(sub.Body))

	poll := api.polls[0]
	assert.Equal(t, "Bearer tok-123", poll.Header.Get("Authorization"))
	assert.Equal(t, "10000", poll.Query.Get("waitTimeMs"))
	assert.Equal(t, "default", poll.Query.Get("dataspace"))

	fetch := api.fetches[0]
	assert.Equal(t, "0", fetch.Query.Get("offset"))
	assert.Equal(t, "100000", fetch.Query.Get("rowLimit"))
	assert.Equal(t, "true", fetch.Query.Get("omitSchema"))
	assert.Equal(t, "Bearer tok-123", fetch.Header.Get("Authorization"))
}

func TestRun_WhenPollingRepeats_SendsSameWaitHint(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{"status":{"queryId":"q2","completionStatus":"Running","rowCount":0}}`)
	}
	api.poll = func(w http.ResponseWriter, n int) {
		if n < 3 {
			writeJSON(w, http.StatusOK, `{"completionStatus":"Running","rowCount":0}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"completionStatus":"ResultsProduced","rowCount":0}`)
	}

	res, err := api.client(t).Run(context.Background(), "SELECT 1 WHERE false", Options{})
	require.NoError(t, err)

	assert.True(t, res.Empty())
	assert.Equal(t, 3, res.Polls)
	assert.Empty(t, res.Data)

	api.mu.Lock()
	defer api.mu.Unlock()
	for _, p := range api.polls {
		assert.Equal(t, "10000", p.Query.Get("waitTimeMs"))
	}
	assert.Empty(t, api.fetches)
}

func TestRun_WhenPollNestsStatus_ReadsIt(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{"status":{"queryId":"q3","completionStatus":"Running","rowCount":0}}`)
	}
	api.poll = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusOK, `{"status":{"completionStatus":"Finished","rowCount":1}}`)
	}
	api.rows = func(w http.ResponseWriter, _ url.Values, _ int) {
		writeJSON(w, http.StatusOK, `{"data":[["x"]]}`)
	}

	res, err := api.client(t).Run(context.Background(), "SELECT 'x'", Options{})
	require.NoError(t, err)
	assert.Equal(t, []Row{{"x"}}, res.Data)
}

func TestRun_MultiPage_PreservesOrderAndCount(t *testing.T) {
	t.Parallel()

	const total = 7
	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{"status":{"queryId":"q4","completionStatus":"ResultsProduced","rowCount":7},"data":`+rowsJSON(0, 1)+`}`)
	}
	api.rows = func(w http.ResponseWriter, q url.Values, _ int) {
		var offset, limit int
		_, _ = fmt.Sscan(q.Get("offset"), &offset)
		_, _ = fmt.Sscan(q.Get("rowLimit"), &limit)
		end := min(offset+limit, total)
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"data":%s,"returnedRows":%d}`, rowsJSON(offset, end), end-offset))
	}

	res, err := api.client(t).Run(context.Background(), "SELECT g FROM s", Options{PageSize: 3})
	require.NoError(t, err)

	require.Len(t, res.Data, total)
	for i, row := range res.Data {
		assert.Equal(t, fmt.Sprintf("r%d", i), row[0])
	}
	assert.Equal(t, 2, res.Pages)

	api.mu.Lock()
	defer api.mu.Unlock()
	var offsets []string
	for _, f := range api.fetches {
		offsets = append(offsets, f.Query.Get("offset"))
		assert.Equal(t, "3", f.Query.Get("rowLimit"))
	}
	assert.Equal(t, []string{"1", "4"}, offsets)
}

func TestRun_WhenQueryIDMissing_ReturnsProtocolErrorForAny2xx(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusAccepted} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()

			api := newFakeAPI(t)
			api.submit = func(w http.ResponseWriter, _ int) {
				writeJSON(w, status, `{"status":{"completionStatus":"Running","rowCount":3}}`)
			}

			_, err := api.client(t).Run(context.Background(), "SELECT 1", Options{})

			var pe *ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, StageSubmit, pe.Stage)
			assert.Equal(t, "queryId", pe.Field)

			_, polls, fetches := api.counts()
			assert.Zero(t, polls)
			assert.Zero(t, fetches)
		})
	}
}

func TestRun_WhenQueryIDTopLevel_Accepted(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{"queryId":"top","status":{"completionStatus":"Finished","rowCount":0}}`)
	}

	res, err := api.client(t).Run(context.Background(), "SELECT 1", Options{})
	require.NoError(t, err)
	assert.Equal(t, "top", res.QueryID)
}

func TestRun_WhenRowCountMissing_ReturnsProtocolError(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{"status":{"queryId":"q5","completionStatus":"Running"}}`)
	}

	_, err := api.client(t).Run(context.Background(), "SELECT 1", Options{})

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "rowCount", pe.Field)
}

func TestRun_WhenPageEmptyWhileRowsOutstanding_ReturnsEmptyPageError(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{"status":{"queryId":"q6","completionStatus":"Finished","rowCount":4},"data":`+rowsJSON(0, 2)+`}`)
	}
	api.rows = func(w http.ResponseWriter, _ url.Values, _ int) {
		writeJSON(w, http.StatusOK, `{"data":[],"returnedRows":0}`)
	}

	_, err := api.client(t).Run(context.Background(), "SELECT 1", Options{})

	var epe *EmptyPageError
	require.ErrorAs(t, err, &epe)
	assert.Equal(t, "q6", epe.QueryID)
	assert.Equal(t, 2, epe.Offset)
	assert.Equal(t, int64(4), epe.Expected)
}

func TestRun_WhenSubmitFailsWithStructuredBody_ReturnsDecodedMessage(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusBadRequest, `[{"message":"{\"primaryMessage\":\"X\",\"customerHint\":\"Y\"}","errorCode":"BAD_REQUEST"}]`)
	}

	_, err := api.client(t).Run(context.Background(), "SELEC 1", Options{})

	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, StageSubmit, qe.Stage)
	assert.Equal(t, http.StatusBadRequest, qe.Status)
	assert.Equal(t, "Bad Request", qe.Reason)
	assert.Contains(t, qe.Message, "X")
	assert.Contains(t, qe.Message, "Y")
}

func TestRun_WhenSubmitFailsWithRawBody_ReturnsBodyVerbatim(t *testing.T) {
	t.Parallel()

	raw := "upstream request timeout"
	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = io.WriteString(w, raw)
	}

	_, err := api.client(t).Run(context.Background(), "SELECT 1", Options{})

	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, raw, qe.Message)
	assert.Equal(t, http.StatusGatewayTimeout, qe.Status)
}

func TestRun_WhenPollFails_ReturnsErrorWithoutRetry(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{"status":{"queryId":"q7","completionStatus":"Running","rowCount":1}}`)
	}
	api.poll = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusNotFound, `[{"message":"{\"primaryMessage\":\"Query not found\"}"}]`)
	}

	_, err := api.client(t).Run(context.Background(), "SELECT 1", Options{})

	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, StagePoll, qe.Stage)
	assert.Equal(t, "Query not found", qe.Message)

	_, polls, _ := api.counts()
	assert.Equal(t, 1, polls)
}

func TestRun_WhenRowsFetchFails_ReturnsRowsStageError(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{"status":{"queryId":"q8","completionStatus":"Finished","rowCount":3}}`)
	}
	api.rows = func(w http.ResponseWriter, _ url.Values, _ int) {
		writeJSON(w, http.StatusInternalServerError, `oops`)
	}

	_, err := api.client(t).Run(context.Background(), "SELECT 1", Options{})

	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, StageRows, qe.Stage)
	assert.Equal(t, "oops", qe.Message)
}

func TestRun_WhenTokenSourceFails_ReturnsErrorUnchanged(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	tokenErr := errors.New("authorization denied")
	c := NewClient(&staticTokens{err: tokenErr}, WithHTTPClient(api.server.Client()))

	_, err := c.Run(context.Background(), "SELECT 1", Options{})
	assert.Same(t, tokenErr, err)

	submits, _, _ := api.counts()
	assert.Zero(t, submits)
}

func TestRun_PassesWorkloadDataspaceAndParameters(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{"status":{"queryId":"q9","completionStatus":"Running","rowCount":0}}`)
	}
	api.poll = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusOK, `{"completionStatus":"Finished","rowCount":0}`)
	}

	_, err := api.client(t).Run(context.Background(), "SELECT :x", Options{
		Dataspace:    "sales",
		WorkloadName: "nightly",
		Parameters:   []Parameter{{Type: "Varchar", Name: "x", Value: "v"}},
	})
	require.NoError(t, err)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "sales", api.submits[0].Query.Get("dataspace"))
	assert.Equal(t, "nightly", api.submits[0].Query.Get("workloadName"))
	assert.JSONEq(t, `{"sql":"SELECT :x","sqlParameters":[{"type":"Varchar","name":"x","value":"v"}]}`, string(api.submits[0].Body))
	assert.Equal(t, "sales", api.polls[0].Query.Get("dataspace"))
	assert.Equal(t, "nightly", api.polls[0].Query.Get("workloadName"))
}

func TestRun_UsesClientDefaults(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{"status":{"queryId":"q10","completionStatus":"Running","rowCount":0}}`)
	}
	api.poll = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusOK, `{"completionStatus":"Finished","rowCount":0}`)
	}

	c := api.client(t, WithDefaults(Options{Dataspace: "marketing"}), WithWaitTime(2*time.Second))
	_, err := c.Run(context.Background(), "SELECT 1", Options{})
	require.NoError(t, err)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "marketing", api.submits[0].Query.Get("dataspace"))
	assert.Equal(t, "2000", api.polls[0].Query.Get("waitTimeMs"))
}

func TestRun_WhenMaxWaitElapses_StopsPolling(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{"status":{"queryId":"q11","completionStatus":"Running","rowCount":0}}`)
	}
	api.poll = func(w http.ResponseWriter, _ int) {
		time.Sleep(20 * time.Millisecond)
		writeJSON(w, http.StatusOK, `{"completionStatus":"Running","rowCount":0}`)
	}

	_, err := api.client(t, WithMaxWait(150*time.Millisecond)).Run(context.Background(), "SELECT pg_sleep(600)", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_WhenContextCanceled_ReturnsError(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.submit = func(w http.ResponseWriter, _ int) {
		writeJSON(w, http.StatusCreated, `{"status":{"queryId":"q12","completionStatus":"Finished","rowCount":0}}`)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := api.client(t).Run(ctx, "SELECT 1", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseColumns_AcceptsKeyedMetadata(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
		"b": {"type": "INTEGER", "placeInOrder": 1, "typeCode": 4},
		"a": {"type": "VARCHAR", "placeInOrder": 0, "typeCode": 12}
	}`)

	cols := parseColumns(raw)
	require.Len(t, cols, 2)
	assert.Equal(t, "a", cols[0].Name)
	assert.Equal(t, "VARCHAR", cols[0].Type)
	assert.Equal(t, "b", cols[1].Name)
	assert.Equal(t, 4, cols[1].TypeCode)
}

func TestParseColumns_NullIsEmpty(t *testing.T) {
	t.Parallel()

	assert.Nil(t, parseColumns(nil))
	assert.Nil(t, parseColumns(json.RawMessage("null")))
}
