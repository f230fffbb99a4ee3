package httpx

import (
	"fmt"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
)

// HTTPError represents a status >= 400 returned by the remote service.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
	Header     http.Header
	JSON       any
	ReadErr    error
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("http error: %s %s status=%d body=%s", e.Method, e.Path, e.StatusCode, string(e.Body))
}

// Retryable reports whether the error should be considered transient.
func (e *HTTPError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		(e.StatusCode >= 500 && e.StatusCode <= 599)
}

// Detail extracts the human-readable reason from a FastAPI-style error body:
// {"detail": "..."} or {"detail": [{"loc": [...], "msg": "..."}]}. It falls
// back to the raw body.
func (e *HTTPError) Detail() string {
	if e == nil {
		return ""
	}
	obj, ok := e.JSON.(map[string]any)
	if !ok {
		return strings.TrimSpace(string(e.Body))
	}
	switch d := obj["detail"].(type) {
	case string:
		return d
	case []any:
		msgs := make([]string, 0, len(d))
		for _, item := range d {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			msg, _ := entry["msg"].(string)
			if loc, ok := entry["loc"].([]any); ok && len(loc) > 0 {
				parts := make([]string, 0, len(loc))
				for _, p := range loc {
					parts = append(parts, fmt.Sprint(p))
				}
				msg = strings.Join(parts, ".") + ": " + msg
			}
			msgs = append(msgs, msg)
		}
		return strings.Join(msgs, "; ")
	case nil:
		return strings.TrimSpace(string(e.Body))
	default:
		return fmt.Sprint(d)
	}
}

// decodeJSONBody parses the body bytes into a generic JSON payload.
func decodeJSONBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	return payload
}
