package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		expectErr bool
		method    string
	}{
		{name: "valid", frame: `{"id":"1","method":"ping"}`, method: "ping"},
		{name: "valid with params", frame: `{"id":"1","method":"getRequest","params":{"id":"x"}}`, method: "getRequest"},
		{name: "not json", frame: `hello`, expectErr: true},
		{name: "array", frame: `[1,2]`, expectErr: true},
		{name: "null", frame: `null`, expectErr: true},
		{name: "missing id", frame: `{"method":"ping"}`, expectErr: true},
		{name: "missing method", frame: `{"id":"1"}`, expectErr: true},
		{name: "numeric id", frame: `{"id":1,"method":"ping"}`, expectErr: true},
		{name: "empty method", frame: `{"id":"1","method":""}`, expectErr: true},
		{name: "method wrong type", frame: `{"id":"1","method":["ping"]}`, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseRequest([]byte(tt.frame))
			if tt.expectErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.frame)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.Method != tt.method {
				t.Errorf("expected method %s, got %s", tt.method, req.Method)
			}
		})
	}
}

func TestDecodeParams(t *testing.T) {
	var p idParams
	if err := decodeParams(nil, &p); err != nil {
		t.Fatalf("absent params should decode: %v", err)
	}
	if err := decodeParams(json.RawMessage(`null`), &p); err != nil {
		t.Fatalf("null params should decode: %v", err)
	}
	if err := decodeParams(json.RawMessage(`{"id":"abc"}`), &p); err != nil || p.ID != "abc" {
		t.Fatalf("expected id abc, got %q (%v)", p.ID, err)
	}

	var pErr *ParamsError
	if err := decodeParams(json.RawMessage(`{"id":"abc","extra":true}`), &p); !errors.As(err, &pErr) {
		t.Fatalf("unknown fields must be rejected, got %v", err)
	}
	if err := decodeParams(json.RawMessage(`["abc"]`), &p); !errors.As(err, &pErr) {
		t.Fatalf("non-object params must be rejected, got %v", err)
	}
	if err := decodeParams(json.RawMessage(`{"id":5}`), &p); !errors.As(err, &pErr) {
		t.Fatalf("wrong field type must be rejected, got %v", err)
	}
}

func TestResponseEncoding(t *testing.T) {
	ok, err := json.Marshal(Response{ID: "1", Result: json.RawMessage("null")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(ok) != `{"id":"1","result":null}` {
		t.Errorf("unexpected success frame: %s", ok)
	}

	failed, err := json.Marshal(errorResponse("2", CodeMethodNotFound, "method not found: nope"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(failed) != `{"id":"2","error":{"code":-32601,"message":"method not found: nope"}}` {
		t.Errorf("unexpected error frame: %s", failed)
	}
}
