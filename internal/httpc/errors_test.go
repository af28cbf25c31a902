package httpc

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestParseError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
		wantAuth   bool
		wantServer bool
	}{
		{"string detail", 401, `{"detail":"Incorrect username or password"}`, "Incorrect username or password", true, false},
		{"list detail", 422, `{"detail":[{"loc":["body"],"msg":"field required"}]}`, `[{"loc":["body"],"msg":"field required"}]`, false, false},
		{"plain body", 502, "bad gateway\n", "bad gateway", false, true},
		{"empty body", 403, "", "", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tt.status,
				Body:       io.NopCloser(strings.NewReader(tt.body)),
			}
			err := ParseError(resp)
			if err.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", err.StatusCode, tt.status)
			}
			if err.Detail != tt.wantDetail {
				t.Errorf("Detail = %q, want %q", err.Detail, tt.wantDetail)
			}
			if err.IsUnauthorized() != tt.wantAuth {
				t.Errorf("IsUnauthorized() = %v, want %v", err.IsUnauthorized(), tt.wantAuth)
			}
			if err.IsServerError() != tt.wantServer {
				t.Errorf("IsServerError() = %v, want %v", err.IsServerError(), tt.wantServer)
			}
		})
	}
}

func TestAPIError_Message(t *testing.T) {
	if got := (&APIError{StatusCode: 500}).Error(); got != "api error 500" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&APIError{StatusCode: 404, Detail: "Session not found"}).Error(); got != "api error 404: Session not found" {
		t.Errorf("Error() = %q", got)
	}
}
