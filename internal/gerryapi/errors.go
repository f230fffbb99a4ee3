package gerryapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mggg/gerrydb_sdk_go/internal/httpx"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

// MapError converts transport failures into *apierr.Error values. Errors that
// already carry a kind pass through unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return err
	}
	var httpErr *httpx.HTTPError
	if errors.As(err, &httpErr) {
		return &apierr.Error{
			Kind:       apierr.KindForStatus(httpErr.StatusCode),
			Method:     httpErr.Method,
			Path:       httpErr.Path,
			StatusCode: httpErr.StatusCode,
			Detail:     httpErr.Detail(),
			Err:        httpErr.ReadErr,
		}
	}
	return &apierr.Error{Kind: apierr.ErrNetwork, Err: err}
}

// ParseETag extracts the opaque ETag value, stripping the weak prefix and quotes.
func ParseETag(h http.Header) string {
	tag := strings.TrimSpace(h.Get("ETag"))
	tag = strings.TrimPrefix(tag, "W/")
	return strings.Trim(tag, `"`)
}

// QuoteETag formats an ETag for an If-None-Match header.
func QuoteETag(tag string) string {
	if tag == "" {
		return ""
	}
	return `"` + tag + `"`
}
