package capture

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Recorder is what an interception engine talks to. Both the local store and
// the socket client satisfy it.
type Recorder interface {
	SaveTransaction(ctx context.Context, t *Transaction) (string, error)
	AttachResponse(ctx context.Context, id string, resp Response) error
}

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}

// NowMillis returns the wall clock in milliseconds since the epoch.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewTransaction builds a pending transaction from an intercepted request.
// Bodies longer than maxBody bytes are cut and flagged (0 keeps everything).
func NewTransaction(sessionID string, r *http.Request, body []byte, maxBody int) *Transaction {
	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}

	body, truncated := truncate(body, maxBody)
	path := u.Path
	if path == "" {
		path = "/"
	}

	return &Transaction{
		ID:                   NewID(),
		SessionID:            sessionID,
		Timestamp:            NowMillis(),
		Method:               r.Method,
		URL:                  u.String(),
		Host:                 u.Host,
		Path:                 path,
		RequestHeaders:       FlattenHeaders(r.Header),
		RequestBody:          body,
		RequestBodyTruncated: truncated,
	}
}

// NewResponse builds the response half of a transaction.
func NewResponse(resp *http.Response, body []byte, started time.Time, maxBody int) Response {
	body, truncated := truncate(body, maxBody)
	return Response{
		Status:        resp.StatusCode,
		Headers:       FlattenHeaders(resp.Header),
		Body:          body,
		BodyTruncated: truncated,
		DurationMs:    time.Since(started).Milliseconds(),
	}
}

// FlattenHeaders joins multi-valued headers with ", ", preserving key case.
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		out[key] = strings.Join(values, ", ")
	}
	return out
}

// SortedHeaderKeys returns header names in a stable display order.
func SortedHeaderKeys(h map[string]string) []string {
	keys := make([]string, 0, len(h))
	for key := range h {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// HeaderValue looks a header up case-insensitively.
func HeaderValue(h map[string]string, name string) string {
	for key, value := range h {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

// IsBinaryContent detects bodies that should not be printed as text
func IsBinaryContent(contentType string, body []byte) bool {
	binaryTypes := []string{
		"image/", "video/", "audio/",
		"application/octet-stream",
		"application/zip", "application/gzip",
		"application/pdf", "application/msword",
		"application/vnd.ms-", "application/vnd.openxmlformats-",
	}

	for _, binaryType := range binaryTypes {
		if strings.HasPrefix(contentType, binaryType) {
			return true
		}
	}

	// More than 10% NUL bytes
	nullCount := 0
	for _, b := range body {
		if b == 0 {
			nullCount++
		}
	}
	return len(body) > 0 && nullCount > len(body)/10
}

func truncate(body []byte, max int) ([]byte, bool) {
	if max <= 0 || len(body) <= max {
		return body, false
	}
	return body[:max], true
}
