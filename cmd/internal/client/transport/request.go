package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Request describes one outbound API call. Body is kept as bytes so the same
// request can be replayed after a session refresh.
type Request struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header

	id      string
	retried bool
}

// NewRequest builds a request for method and path (relative to the API base URL).
func NewRequest(method, path string, body []byte) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Body:   body,
		Header: http.Header{},
	}
}

// NewJSONRequest builds a request with v encoded as a JSON body.
func NewJSONRequest(method, path string, v any) (*Request, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s body: %w", method, path, err)
	}
	req := NewRequest(method, path, b)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// MarkRetried records that this logical request already went through one recovery attempt.
func (r *Request) MarkRetried() { r.retried = true }

// Retried reports whether MarkRetried was called.
func (r *Request) Retried() bool { return r.retried }

// ID is the request id sent as X-Request-ID. It is assigned on first send and
// survives replays.
func (r *Request) ID() string { return r.id }

// AssignID gives the request its id if it has none yet.
func (r *Request) AssignID(now time.Time) error {
	if r.id != "" {
		return nil
	}
	id, err := NewRequestID(now)
	if err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	r.id = id
	return nil
}

// Response is a successful (2xx) API response with its body fully read.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	RequestID string
}

// DecodeJSON unmarshals the response body into v. An empty body leaves v untouched.
func (r *Response) DecodeJSON(v any) error {
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Doer issues a request and returns its final outcome.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Recoverer gets a chance to turn a failed request into a successful one.
// d is the pipeline to use for any follow-up calls (refresh, replay).
type Recoverer interface {
	Recover(ctx context.Context, d Doer, req *Request, failure *APIError) (*Response, error)
}
