// Package gerryapi holds the wire-level helpers shared by the GerryDB client
// packages: body codecs keyed by media type and the mapping from transport
// failures to the public error taxonomy.
package gerryapi

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mggg/gerrydb_sdk_go/internal/httpx"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

// ErrUnsupportedMediaType is returned for bodies that are neither JSON nor MessagePack.
var ErrUnsupportedMediaType = errors.New("gerryapi: unsupported media type")

// Marshal encodes v for the given media type. Struct fields are keyed by
// their json tags in both formats.
func Marshal(contentType string, v any) ([]byte, error) {
	switch httpx.MediaType(contentType) {
	case httpx.ContentTypeJSON, "":
		return httpx.JSONBody(v)
	case httpx.ContentTypeMsgPack:
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		enc.UseCompactInts(true)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, contentType)
	}
}

// Unmarshal decodes data according to the media type into out. An empty body
// leaves out untouched.
func Unmarshal(contentType string, data []byte, out any) error {
	if len(bytes.TrimSpace(data)) == 0 || out == nil {
		return nil
	}
	switch httpx.MediaType(contentType) {
	case httpx.ContentTypeJSON, "":
		return json.Unmarshal(data, out)
	case httpx.ContentTypeMsgPack:
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		dec.UseLooseInterfaceDecoding(true)
		return dec.Decode(out)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMediaType, contentType)
	}
}

// Generic decodes data into plain maps, slices and scalars in the shape JSON
// would produce: byte strings become base64 text, timestamps RFC 3339 text and
// map keys strings. The result is suitable for schema validation regardless
// of the wire format.
func Generic(contentType string, data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if httpx.MediaType(contentType) == httpx.ContentTypeMsgPack {
		var v any
		if err := Unmarshal(contentType, data, &v); err != nil {
			return nil, err
		}
		return normalize(v), nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		for k, item := range t {
			t[k] = normalize(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = normalize(item)
		}
		return t
	default:
		return v
	}
}

// ReadBody drains and closes the response body, returning it with the
// response media type.
func ReadBody(resp *http.Response) ([]byte, string, error) {
	body, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return body, httpx.MediaType(resp.Header.Get("Content-Type")), nil
}

// WriteBody returns an io.Reader over the encoded payload, or nil for a nil payload.
func WriteBody(contentType string, payload any) (io.Reader, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.([]byte); ok {
		return bytes.NewReader(raw), nil
	}
	data, err := Marshal(contentType, payload)
	if err != nil {
		return nil, apierr.ValidationWrap(err, "encode request payload")
	}
	return bytes.NewReader(data), nil
}
