package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrBodyTooLarge is returned when a response body exceeds Config.MaxBodyBytes.
	ErrBodyTooLarge = errors.New("response body too large")

	// ErrInvalidBaseURL is returned by New for a base URL that is not absolute http(s).
	ErrInvalidBaseURL = errors.New("invalid base url")
)

// APIError is the typed failure for any non-2xx API response.
type APIError struct {
	Method    string
	Path      string
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %d", e.Method, e.Path, e.Status)
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// IsUnauthorized reports an authentication failure (expired or invalid session).
func (e *APIError) IsUnauthorized() bool {
	return e != nil && e.Status == http.StatusUnauthorized
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsUnauthorized reports whether err carries a 401 API failure.
func IsUnauthorized(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.IsUnauthorized()
}

// errorBody accepts both the enveloped form {"error":{"code","message"}} and
// the flat form {"code","message"}.
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAPIError builds the typed failure for a non-2xx response to req.
func NewAPIError(req *Request, status int, body []byte) *APIError {
	e := &APIError{
		Method:    req.Method,
		Path:      req.Path,
		Status:    status,
		RequestID: req.id,
	}

	var eb errorBody
	if len(body) == 0 || json.Unmarshal(body, &eb) != nil {
		return e
	}
	e.Code = strings.TrimSpace(eb.Code)
	e.Message = strings.TrimSpace(eb.Message)

	if len(eb.Error) == 0 {
		return e
	}
	var detail errorDetail
	if err := json.Unmarshal(eb.Error, &detail); err == nil {
		if detail.Code != "" {
			e.Code = strings.TrimSpace(detail.Code)
		}
		if detail.Message != "" {
			e.Message = strings.TrimSpace(detail.Message)
		}
		return e
	}
	// Some endpoints send "error" as a bare string code.
	var code string
	if err := json.Unmarshal(eb.Error, &code); err == nil && e.Code == "" {
		e.Code = strings.TrimSpace(code)
	}
	return e
}
