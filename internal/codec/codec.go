// Package codec converts protocol values to and from their wire form.
//
// JSON has no byte-array literal, so raw payloads travel as a tagged object
// {"type":"Buffer","data":"<base64>"}. Encoding tags every []byte it finds;
// decoding walks the generic tree and turns exact matches back into []byte.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	// BinaryTag is the discriminator value carried in the "type" field.
	BinaryTag = "Buffer"

	tagKey  = "type"
	dataKey = "data"
)

// Bytes is a binary payload that survives a JSON round trip byte-exactly.
type Bytes []byte

type taggedBytes struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	return json.Marshal(taggedBytes{
		Type: BinaryTag,
		Data: base64.StdEncoding.EncodeToString(b),
	})
}

// UnmarshalJSON implements json.Unmarshaler. Only the exact tagged shape is accepted.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*b = nil
		return nil
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("binary payload: %w", err)
	}
	raw, ok := reviveBinary(generic)
	if !ok {
		return fmt.Errorf("binary payload: expected {\"type\":%q,\"data\":<base64>}", BinaryTag)
	}
	*b = raw
	return nil
}

// Encode marshals v into a single compact JSON document. Raw []byte values
// nested inside generic maps and slices are tagged; struct fields should use
// Bytes so they tag themselves.
func Encode(v any) ([]byte, error) {
	return json.Marshal(tag(v))
}

// Decode unmarshals data into generic values (numbers stay json.Number) and
// restores tagged binary payloads to []byte.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return Revive(v), nil
}

// Revive walks a generically decoded value and replaces every tagged binary
// object with its []byte payload. Objects that merely share the field names
// but carry a different discriminator are returned unchanged.
func Revive(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if raw, ok := reviveBinary(val); ok {
			return raw
		}
		for k, item := range val {
			val[k] = Revive(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = Revive(item)
		}
		return val
	default:
		return v
	}
}

func reviveBinary(m map[string]any) ([]byte, bool) {
	if len(m) != 2 {
		return nil, false
	}
	kind, ok := m[tagKey].(string)
	if !ok || kind != BinaryTag {
		return nil, false
	}
	data, ok := m[dataKey].(string)
	if !ok {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, false
	}
	if raw == nil {
		raw = []byte{}
	}
	return raw, true
}

func tag(v any) any {
	switch val := v.(type) {
	case []byte:
		if val == nil {
			return nil
		}
		return Bytes(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = tag(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = tag(item)
		}
		return out
	default:
		return v
	}
}
