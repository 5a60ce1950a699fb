package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAPIVersion    = "v63.0"
	DefaultDataspace     = "default"
	DefaultPageSize      = 100000
	DefaultWaitTime      = 10 * time.Second
	DefaultMaxWait       = 30 * time.Minute
	DefaultSubmitTimeout = 100 * time.Second
	DefaultPollTimeout   = 30 * time.Second
	DefaultRowsTimeout   = 60 * time.Second
)

// TokenSource supplies a bearer token and the instance URL it is valid
// for. *auth.Session implements it.
type TokenSource interface {
	Token(ctx context.Context) (token, instanceURL string, err error)
}

// Client talks to the Data Cloud Query Connect API.
type Client struct {
	tokens     TokenSource
	httpClient *http.Client
	apiVersion string
	defaults   Options

	waitTime      time.Duration
	maxWait       time.Duration
	submitTimeout time.Duration
	pollTimeout   time.Duration
	rowsTimeout   time.Duration

	listTableFilter string
	observer        Observer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithAPIVersion sets the REST API version segment, e.g. "v63.0".
func WithAPIVersion(v string) Option {
	return func(cl *Client) {
		if v != "" {
			cl.apiVersion = v
		}
	}
}

// WithDefaults sets the options applied when a Run leaves a field empty.
func WithDefaults(o Options) Option {
	return func(cl *Client) {
		if o.Dataspace != "" {
			cl.defaults.Dataspace = o.Dataspace
		}
		if o.WorkloadName != "" {
			cl.defaults.WorkloadName = o.WorkloadName
		}
		if o.PageSize > 0 {
			cl.defaults.PageSize = o.PageSize
		}
	}
}

// WithWaitTime sets the long-poll hint sent on every status request.
func WithWaitTime(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.waitTime = d
		}
	}
}

// WithMaxWait bounds a whole Run. Zero disables the bound.
func WithMaxWait(d time.Duration) Option {
	return func(cl *Client) { cl.maxWait = d }
}

// WithTimeouts sets the per-request timeouts of each stage. Zero values
// keep the defaults.
func WithTimeouts(submit, poll, rows time.Duration) Option {
	return func(cl *Client) {
		if submit > 0 {
			cl.submitTimeout = submit
		}
		if poll > 0 {
			cl.pollTimeout = poll
		}
		if rows > 0 {
			cl.rowsTimeout = rows
		}
	}
}

// WithListTableFilter sets the LIKE pattern ListTables uses by default.
func WithListTableFilter(pattern string) Option {
	return func(cl *Client) {
		if pattern != "" {
			cl.listTableFilter = pattern
		}
	}
}

// NewClient returns a Client that authenticates through tokens.
func NewClient(tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		tokens:     tokens,
		httpClient: &http.Client{},
		apiVersion: DefaultAPIVersion,
		defaults: Options{
			Dataspace: DefaultDataspace,
			PageSize:  DefaultPageSize,
		},
		waitTime:        DefaultWaitTime,
		maxWait:         DefaultMaxWait,
		submitTimeout:   DefaultSubmitTimeout,
		pollTimeout:     DefaultPollTimeout,
		rowsTimeout:     DefaultRowsTimeout,
		listTableFilter: "%",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dataspace returns the dataspace used when a Run does not name one.
func (c *Client) Dataspace() string {
	return c.defaults.Dataspace
}

func (c *Client) resolve(o Options) Options {
	if o.Dataspace == "" {
		o.Dataspace = c.defaults.Dataspace
	}
	if o.WorkloadName == "" {
		o.WorkloadName = c.defaults.WorkloadName
	}
	if o.PageSize <= 0 {
		o.PageSize = c.defaults.PageSize
	}
	return o
}

func (c *Client) dataURL(instanceURL string, segments ...string) string {
	return strings.TrimRight(instanceURL, "/") + "/services/data/" + c.apiVersion + "/" + strings.Join(segments, "/")
}

// do sends one JSON request and decodes a 2xx body into out. Non-2xx
// responses become *Error.
func (c *Client) do(ctx context.Context, stage Stage, timeout time.Duration, token, method, rawURL string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", stage, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return fmt.Errorf("building %s request: %w", stage, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", stage, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", stage, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Stage:   stage,
			Status:  resp.StatusCode,
			Reason:  reasonPhrase(resp),
			Message: errorMessage(data),
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", stage, err)
	}
	return nil
}

func reasonPhrase(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if reason, ok := strings.CutPrefix(resp.Status, code+" "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
