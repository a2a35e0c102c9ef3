package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrSerialization is returned when a document cannot be encoded as JSON.
var ErrSerialization = errors.New("payload: document is not JSON serializable")

// APIRequest asks a downstream worker to call an API endpoint with the given params.
type APIRequest struct {
	Endpoint string            `json:"endpoint"`
	Params   map[string]string `json:"params"`
}

// APIResponse carries the raw body returned for an APIRequest.
type APIResponse struct {
	Endpoint string            `json:"endpoint"`
	Params   map[string]string `json:"params"`
	Body     string            `json:"body"`
}

// Decoded is the result of inspecting a received message body.
type Decoded struct {
	// JSON reports whether the body was valid UTF-8 JSON.
	JSON bool
	// Document holds the decoded value when JSON is true.
	Document any
	// Raw always holds the original bytes.
	Raw []byte
}

// Encode serializes any document to its JSON byte form.
func Encode(doc any) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return data, nil
}

// Decode inspects a message body. Bodies that are not valid UTF-8 or not valid
// JSON are returned as an opaque blob; this is a presentation path, not a failure.
func Decode(data []byte) Decoded {
	d := Decoded{Raw: data}
	if !utf8.Valid(data) || !json.Valid(data) {
		return d
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return d
	}
	d.JSON = true
	d.Document = doc
	return d
}

// Pretty renders a body for humans: indented JSON when possible, a quoted
// byte string otherwise.
func Pretty(data []byte) string {
	if utf8.Valid(data) && json.Valid(data) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "    "); err == nil {
			return buf.String()
		}
	}
	return fmt.Sprintf("%q", data)
}
