// Package protocol implements the newline-delimited JSON control protocol
// spoken between the daemon and its local clients.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes carried in reply frames.
const (
	CodeParseError     = -32700
	CodeInvalidParams  = -32602
	CodeMethodNotFound = -32601
	CodeHandlerError   = -32000
)

// UnknownID tags replies to frames whose id could not be trusted.
const UnknownID = "unknown"

// Method names.
const (
	MethodPing                = "ping"
	MethodStatus              = "status"
	MethodRegisterSession     = "registerSession"
	MethodEnsureSession       = "ensureSession"
	MethodGetSession          = "getSession"
	MethodListSessions        = "listSessions"
	MethodSaveRequest         = "saveRequest"
	MethodAttachResponse      = "attachResponse"
	MethodListRequests        = "listRequests"
	MethodListRequestsSummary = "listRequestsSummary"
	MethodGetRequest          = "getRequest"
	MethodCountRequests       = "countRequests"
	MethodClearRequests       = "clearRequests"
	MethodSearchBodies        = "searchBodies"
	MethodQueryJSONBodies     = "queryJsonBodies"
)

// Request is one inbound frame.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorObject is the error member of a failed reply.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is one outbound frame. Result holds the already-encoded value;
// a successful reply always carries it, even when it is null.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

func errorResponse(id string, code int, message string) Response {
	return Response{ID: id, Error: &ErrorObject{Code: code, Message: message}}
}

// parseRequest checks the frame shape: a JSON object whose id and method
// are both non-empty strings. Params, when present, must be an object.
func parseRequest(frame []byte) (*Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return nil, fmt.Errorf("invalid JSON frame: %v", err)
	}
	if fields == nil {
		return nil, errors.New("frame must be a JSON object")
	}

	req := &Request{}
	if err := requiredString(fields, "id", &req.ID); err != nil {
		return nil, err
	}
	if err := requiredString(fields, "method", &req.Method); err != nil {
		return nil, err
	}
	if raw, ok := fields["params"]; ok {
		req.Params = raw
	}
	return req, nil
}

func requiredString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok {
		return fmt.Errorf("frame is missing %q", key)
	}
	if err := json.Unmarshal(raw, dst); err != nil || *dst == "" {
		return fmt.Errorf("frame field %q must be a non-empty string", key)
	}
	return nil
}

// ParamsError reports params that do not fit the method's shape.
type ParamsError struct {
	Message string
}

func (e *ParamsError) Error() string {
	return "invalid params: " + e.Message
}

// decodeParams strictly decodes a params object into dst. Absent or null
// params leave dst at its zero value.
func decodeParams(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '{' {
		return &ParamsError{Message: "params must be an object"}
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ParamsError{Message: err.Error()}
	}
	return nil
}
