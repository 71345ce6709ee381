package capture

import (
	"github.com/funnyzak/reqtrace/internal/codec"
)

// InterceptionType records how an interceptor rule touched a flow.
type InterceptionType string

const (
	InterceptionNone     InterceptionType = ""
	InterceptionMocked   InterceptionType = "mocked"
	InterceptionModified InterceptionType = "modified"
)

// Valid reports whether t is one of the known interception kinds.
func (t InterceptionType) Valid() bool {
	switch t {
	case InterceptionNone, InterceptionMocked, InterceptionModified:
		return true
	default:
		return false
	}
}

// HeaderTarget selects which header map a filter or JSON query inspects.
type HeaderTarget string

const (
	TargetRequest  HeaderTarget = "request"
	TargetResponse HeaderTarget = "response"
	TargetBoth     HeaderTarget = "both"
)

// Valid reports whether t is a known target; the empty value means both.
func (t HeaderTarget) Valid() bool {
	switch t {
	case "", TargetRequest, TargetResponse, TargetBoth:
		return true
	default:
		return false
	}
}

// Session groups captured transactions, e.g. one intercepting shell.
type Session struct {
	ID        string `json:"id" yaml:"id"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
	PID       int    `json:"pid" yaml:"pid"`
	CreatedAt int64  `json:"createdAt" yaml:"createdAt"`
}

// Transaction is one intercepted HTTP exchange. Response fields stay nil
// until a response is attached.
type Transaction struct {
	ID                   string            `json:"id"`
	SessionID            string            `json:"sessionId"`
	Label                string            `json:"label,omitempty"`
	Timestamp            int64             `json:"timestamp"`
	Method               string            `json:"method"`
	URL                  string            `json:"url"`
	Host                 string            `json:"host"`
	Path                 string            `json:"path"`
	RequestHeaders       map[string]string `json:"requestHeaders"`
	RequestBody          codec.Bytes       `json:"requestBody,omitempty"`
	RequestBodyTruncated bool              `json:"requestBodyTruncated,omitempty"`
	InterceptedBy        string            `json:"interceptedBy,omitempty"`
	InterceptionType     InterceptionType  `json:"interceptionType,omitempty"`

	ResponseStatus        *int              `json:"responseStatus,omitempty"`
	ResponseHeaders       map[string]string `json:"responseHeaders,omitempty"`
	ResponseBody          codec.Bytes       `json:"responseBody,omitempty"`
	ResponseBodyTruncated bool              `json:"responseBodyTruncated,omitempty"`
	DurationMs            *int64            `json:"durationMs,omitempty"`
}

// Completed reports whether a response has been attached.
func (t *Transaction) Completed() bool {
	return t.ResponseStatus != nil
}

// Response carries the fields set by AttachResponse.
type Response struct {
	Status        int               `json:"status"`
	Headers       map[string]string `json:"headers"`
	Body          codec.Bytes       `json:"body,omitempty"`
	BodyTruncated bool              `json:"bodyTruncated,omitempty"`
	DurationMs    int64             `json:"durationMs"`
}

// Summary is the metadata-only projection used by polling clients.
type Summary struct {
	ID                    string           `json:"id" yaml:"id"`
	SessionID             string           `json:"sessionId" yaml:"sessionId"`
	Label                 string           `json:"label,omitempty" yaml:"label,omitempty"`
	Timestamp             int64            `json:"timestamp" yaml:"timestamp"`
	Method                string           `json:"method" yaml:"method"`
	URL                   string           `json:"url" yaml:"url"`
	Host                  string           `json:"host" yaml:"host"`
	Path                  string           `json:"path" yaml:"path"`
	ResponseStatus        *int             `json:"responseStatus,omitempty" yaml:"responseStatus,omitempty"`
	DurationMs            *int64           `json:"durationMs,omitempty" yaml:"durationMs,omitempty"`
	InterceptedBy         string           `json:"interceptedBy,omitempty" yaml:"interceptedBy,omitempty"`
	InterceptionType      InterceptionType `json:"interceptionType,omitempty" yaml:"interceptionType,omitempty"`
	RequestBodySize       int64            `json:"requestBodySize" yaml:"requestBodySize"`
	ResponseBodySize      int64            `json:"responseBodySize" yaml:"responseBodySize"`
	RequestBodyTruncated  bool             `json:"requestBodyTruncated,omitempty" yaml:"requestBodyTruncated,omitempty"`
	ResponseBodyTruncated bool             `json:"responseBodyTruncated,omitempty" yaml:"responseBodyTruncated,omitempty"`
}

// Summarize builds the summary projection of a full transaction.
func Summarize(t *Transaction) *Summary {
	if t == nil {
		return nil
	}
	return &Summary{
		ID:                    t.ID,
		SessionID:             t.SessionID,
		Label:                 t.Label,
		Timestamp:             t.Timestamp,
		Method:                t.Method,
		URL:                   t.URL,
		Host:                  t.Host,
		Path:                  t.Path,
		ResponseStatus:        t.ResponseStatus,
		DurationMs:            t.DurationMs,
		InterceptedBy:         t.InterceptedBy,
		InterceptionType:      t.InterceptionType,
		RequestBodySize:       int64(len(t.RequestBody)),
		ResponseBodySize:      int64(len(t.ResponseBody)),
		RequestBodyTruncated:  t.RequestBodyTruncated,
		ResponseBodyTruncated: t.ResponseBodyTruncated,
	}
}

// JSONQueryMatch is one row of a structured body query.
type JSONQueryMatch struct {
	Summary        `yaml:",inline"`
	ExtractedValue any          `json:"extractedValue" yaml:"extractedValue"`
	MatchedIn      HeaderTarget `json:"matchedIn" yaml:"matchedIn"`
}

// Filter narrows listing, counting and search. Zero fields apply no constraint.
type Filter struct {
	SessionID     string       `json:"sessionId,omitempty"`
	Label         string       `json:"label,omitempty"`
	Methods       []string     `json:"methods,omitempty"`
	Status        string       `json:"status,omitempty"` // "404", "4xx" or "400-499"
	Host          string       `json:"host,omitempty"`
	PathPrefix    string       `json:"pathPrefix,omitempty"`
	Search        string       `json:"search,omitempty"`
	Since         int64        `json:"since,omitempty"`
	Before        int64        `json:"before,omitempty"`
	HeaderName    string       `json:"headerName,omitempty"`
	HeaderValue   string       `json:"headerValue,omitempty"`
	HeaderTarget  HeaderTarget `json:"headerTarget,omitempty"`
	InterceptedBy string       `json:"interceptedBy,omitempty"`
	Limit         int          `json:"limit,omitempty"`
	Offset        int          `json:"offset,omitempty"`
}

// JSONQuery describes a structured body lookup.
type JSONQuery struct {
	Path   string       `json:"path"`
	Target HeaderTarget `json:"target,omitempty"`
	// Value, when set, keeps only rows whose extracted value equals it
	// (compared as text for scalars, as compact JSON for objects and arrays).
	Value  *string `json:"value,omitempty"`
	Filter Filter  `json:"filter"`
}
