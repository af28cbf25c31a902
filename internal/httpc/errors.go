package httpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 * 1024

// APIError represents an error response from the Tarang API.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Detail is the "detail" field of the response, or the raw body.
	Detail string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error %d", e.StatusCode)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
}

// IsUnauthorized returns true if this is an authentication error (HTTP 401 or 403).
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// ParseError reads an error response. FastAPI reports errors as
// {"detail": "..."}; validation errors carry a list under "detail".
func ParseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errResp struct {
		Detail json.RawMessage `json:"detail"`
	}
	detail := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil && len(errResp.Detail) > 0 {
		var s string
		if json.Unmarshal(errResp.Detail, &s) == nil {
			detail = s
		} else {
			detail = string(errResp.Detail)
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Detail:     detail,
	}
}
