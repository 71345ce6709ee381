package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/funnyzak/reqtrace/internal/config"
	"github.com/funnyzak/reqtrace/pkg/capture"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Fatal(string, ...interface{}) {}

func newTestStore(t *testing.T, mutate func(*config.StorageConfig)) Store {
	t.Helper()
	cfg := &config.StorageConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "requests.db"),
	}
	if mutate != nil {
		mutate(cfg)
	}
	store, err := New(cfg, noopLogger{})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func newSession(t *testing.T, store Store, label string) *capture.Session {
	t.Helper()
	session, err := store.RegisterSession(context.Background(), label, 0)
	if err != nil {
		t.Fatalf("register session: %v", err)
	}
	return session
}

func fakeTransaction(sessionID, method, rawURL string, ts int64) *capture.Transaction {
	return &capture.Transaction{
		SessionID:      sessionID,
		Timestamp:      ts,
		Method:         method,
		URL:            rawURL,
		RequestHeaders: map[string]string{"User-Agent": "reqtrace-test"},
	}
}

func mustSave(t *testing.T, store Store, tx *capture.Transaction) string {
	t.Helper()
	id, err := store.SaveTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	return id
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	session := newSession(t, store, "shell-1")

	body := make([]byte, 256)
	for i := range body {
		body[i] = byte(i)
	}
	tx := fakeTransaction(session.ID, "POST", "https://api.example.com/v1/users?page=2", 0)
	tx.RequestBody = body
	tx.InterceptedBy = "mock-users"
	tx.InterceptionType = capture.InterceptionMocked

	id := mustSave(t, store, tx)
	if id == "" {
		t.Fatal("expected id to be generated")
	}
	if tx.ID != "" {
		t.Fatal("caller's transaction must not be mutated")
	}

	got, err := store.GetTransaction(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected stored transaction")
	}
	if got.Host != "api.example.com" || got.Path != "/v1/users" {
		t.Errorf("expected derived host/path, got %q %q", got.Host, got.Path)
	}
	if got.Label != "shell-1" {
		t.Errorf("expected session label to be inherited, got %q", got.Label)
	}
	if got.Timestamp == 0 {
		t.Error("expected timestamp to be filled")
	}
	if len(got.RequestBody) != 256 {
		t.Fatalf("expected 256 body bytes, got %d", len(got.RequestBody))
	}
	for i, b := range got.RequestBody {
		if b != byte(i) {
			t.Fatalf("body byte %d changed: %d", i, b)
		}
	}
	if got.InterceptionType != capture.InterceptionMocked || got.InterceptedBy != "mock-users" {
		t.Errorf("unexpected interception attribution: %q %q", got.InterceptedBy, got.InterceptionType)
	}
	if got.Completed() {
		t.Error("transaction without response should be pending")
	}
	if got.RequestHeaders["User-Agent"] != "reqtrace-test" {
		t.Errorf("unexpected headers: %v", got.RequestHeaders)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	tx, err := store.GetTransaction(ctx, "nope")
	if err != nil || tx != nil {
		t.Fatalf("expected (nil, nil) for unknown transaction, got %v, %v", tx, err)
	}
	session, err := store.GetSession(ctx, "nope")
	if err != nil || session != nil {
		t.Fatalf("expected (nil, nil) for unknown session, got %v, %v", session, err)
	}
}

func TestSQLiteStore_SaveValidation(t *testing.T) {
	store := newTestStore(t, nil)
	session := newSession(t, store, "")

	tests := []struct {
		name   string
		mutate func(*capture.Transaction)
		field  string
	}{
		{name: "missing session", mutate: func(tx *capture.Transaction) { tx.SessionID = "" }, field: "sessionId"},
		{name: "unknown session", mutate: func(tx *capture.Transaction) { tx.SessionID = "ghost" }, field: "sessionId"},
		{name: "missing method", mutate: func(tx *capture.Transaction) { tx.Method = "" }, field: "method"},
		{name: "missing url", mutate: func(tx *capture.Transaction) { tx.URL = "" }, field: "url"},
		{name: "nil headers", mutate: func(tx *capture.Transaction) { tx.RequestHeaders = nil }, field: "requestHeaders"},
		{name: "bad interception type", mutate: func(tx *capture.Transaction) { tx.InterceptionType = "rewritten" }, field: "interceptionType"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := fakeTransaction(session.ID, "GET", "http://example.com/", 0)
			tt.mutate(tx)
			_, err := store.SaveTransaction(context.Background(), tx)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, vErr.Field)
			}
		})
	}

	count, err := store.CountTransactions(context.Background(), capture.Filter{})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected saves must not persist anything, found %d", count)
	}
}

func TestSQLiteStore_EmptyHeadersAccepted(t *testing.T) {
	store := newTestStore(t, nil)
	session := newSession(t, store, "")
	tx := fakeTransaction(session.ID, "GET", "http://example.com/", 0)
	tx.RequestHeaders = map[string]string{}

	id := mustSave(t, store, tx)
	got, err := store.GetTransaction(context.Background(), id)
	if err != nil || got == nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.RequestHeaders == nil || len(got.RequestHeaders) != 0 {
		t.Fatalf("expected empty header map, got %#v", got.RequestHeaders)
	}
}

func TestSQLiteStore_AttachResponse(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	session := newSession(t, store, "")
	id := mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/a", 0))

	resp := capture.Response{
		Status:     201,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(`{"ok":true}`),
		DurationMs: 12,
	}
	if err := store.AttachResponse(ctx, id, resp); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	got, err := store.GetTransaction(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Completed() || *got.ResponseStatus != 201 || *got.DurationMs != 12 {
		t.Fatalf("unexpected response fields: %+v", got)
	}
	if string(got.ResponseBody) != `{"ok":true}` {
		t.Errorf("unexpected response body %q", got.ResponseBody)
	}

	resp.Status = 500
	resp.Body = nil
	if err := store.AttachResponse(ctx, id, resp); err != nil {
		t.Fatalf("second attach failed: %v", err)
	}
	got, _ = store.GetTransaction(ctx, id)
	if *got.ResponseStatus != 500 || got.ResponseBody != nil {
		t.Fatalf("expected last write to win, got status %d body %q", *got.ResponseStatus, got.ResponseBody)
	}

	err = store.AttachResponse(ctx, "missing", resp)
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError for unknown id, got %v", err)
	}
}

func TestSQLiteStore_EmptyBodyReadsBackAbsent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	session := newSession(t, store, "")

	tx := fakeTransaction(session.ID, "POST", "http://example.com/empty", 0)
	tx.RequestBody = []byte{}
	id := mustSave(t, store, tx)
	if err := store.AttachResponse(ctx, id, capture.Response{Status: 204, Body: []byte{}}); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	got, err := store.GetTransaction(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.RequestBody != nil || got.ResponseBody != nil {
		t.Fatalf("expected empty bodies to read back as absent, got %v / %v", got.RequestBody, got.ResponseBody)
	}

	summaries, err := store.ListSummaries(ctx, capture.Filter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(summaries) != 1 || summaries[0].RequestBodySize != 0 || summaries[0].ResponseBodySize != 0 {
		t.Fatalf("expected zero body sizes, got %+v", summaries)
	}
}

func TestSQLiteStore_AttachResponseRejectsBadStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	session := newSession(t, store, "")
	id := mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/a", 0))

	for _, status := range []int{0, -1, 99, 600} {
		err := store.AttachResponse(ctx, id, capture.Response{Status: status})
		if !IsValidation(err) {
			t.Errorf("status %d: expected ValidationError, got %v", status, err)
		}
	}

	got, err := store.GetTransaction(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Completed() {
		t.Fatalf("rejected responses must leave the request pending, got status %v", *got.ResponseStatus)
	}

	for _, status := range []int{100, 599} {
		if err := store.AttachResponse(ctx, id, capture.Response{Status: status}); err != nil {
			t.Errorf("status %d: unexpected error %v", status, err)
		}
	}
}

func TestSQLiteStore_EnsureSessionFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	first, err := store.EnsureSession(ctx, "fixed-id", "first", 100)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	second, err := store.EnsureSession(ctx, "fixed-id", "second", 200)
	if err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	if second.Label != "first" || second.PID != 100 || second.CreatedAt != first.CreatedAt {
		t.Fatalf("expected original session unchanged, got %+v", second)
	}

	if _, err := store.EnsureSession(ctx, "  ", "x", 1); !IsValidation(err) {
		t.Fatalf("expected ValidationError for empty id, got %v", err)
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
}

func TestSQLiteStore_RegisterSessionDefaultsPID(t *testing.T) {
	store := newTestStore(t, nil)
	session := newSession(t, store, "")
	if session.PID <= 0 {
		t.Fatalf("expected daemon pid, got %d", session.PID)
	}
	other := newSession(t, store, "")
	if other.ID == session.ID {
		t.Fatal("register must always create a new session")
	}

	sessions, err := store.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != other.ID {
		t.Fatalf("expected newest session first, got %+v", sessions)
	}
}

func TestSQLiteStore_SummarySizes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	session := newSession(t, store, "")

	tx := fakeTransaction(session.ID, "POST", "http://example.com/upload", 0)
	tx.RequestBody = []byte("hello")
	mustSave(t, store, tx)
	mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/empty", 0))

	summaries, err := store.ListSummaries(ctx, capture.Filter{})
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	sizes := map[string][2]int64{}
	for _, s := range summaries {
		sizes[s.Path] = [2]int64{s.RequestBodySize, s.ResponseBodySize}
	}
	if sizes["/upload"] != [2]int64{5, 0} {
		t.Errorf("unexpected sizes for upload: %v", sizes["/upload"])
	}
	if sizes["/empty"] != [2]int64{0, 0} {
		t.Errorf("absent bodies must report zero size, got %v", sizes["/empty"])
	}
}

func TestSQLiteStore_PaginationNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	session := newSession(t, store, "")

	base := time.Now().UnixMilli()
	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, mustSave(t, store, fakeTransaction(session.ID, "GET", fmt.Sprintf("http://example.com/%d", i), base+int64(i))))
	}

	first, err := store.ListSummaries(ctx, capture.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	second, err := store.ListSummaries(ctx, capture.Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected two pages of 2, got %d and %d", len(first), len(second))
	}
	got := []string{first[0].ID, first[1].ID, second[0].ID, second[1].ID}
	want := []string{ids[3], ids[2], ids[1], ids[0]}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	full, err := store.ListTransactions(ctx, capture.Filter{Offset: 3})
	if err != nil {
		t.Fatalf("offset without limit: %v", err)
	}
	if len(full) != 1 || full[0].ID != ids[0] {
		t.Fatalf("expected only the oldest transaction, got %d", len(full))
	}
}

func TestSQLiteStore_SameTimestampOrdersByInsertion(t *testing.T) {
	store := newTestStore(t, nil)
	session := newSession(t, store, "")
	ts := time.Now().UnixMilli()
	a := mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/a", ts))
	b := mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/b", ts))

	list, err := store.ListTransactions(context.Background(), capture.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != b || list[1].ID != a {
		t.Fatalf("expected later insert first on ties")
	}
}

func TestSQLiteStore_Filters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	alpha := newSession(t, store, "alpha")
	beta := newSession(t, store, "beta")

	save := func(session *capture.Session, method, rawURL string, status int, respHeaders map[string]string) {
		tx := fakeTransaction(session.ID, method, rawURL, 0)
		tx.RequestHeaders["Content-Type"] = "application/json"
		id := mustSave(t, store, tx)
		if status > 0 {
			err := store.AttachResponse(ctx, id, capture.Response{Status: status, Headers: respHeaders})
			if err != nil {
				t.Fatalf("attach: %v", err)
			}
		}
	}
	save(alpha, "GET", "http://api.test/users", 200, map[string]string{"X-Cache": "HIT"})
	save(alpha, "POST", "http://api.test/users", 404, nil)
	save(alpha, "DELETE", "http://cdn.test/assets/logo.png", 410, nil)
	save(beta, "GET", "http://api.test/Orders/7", 500, nil)
	save(beta, "PUT", "http://api.test/orders/8", 0, nil)

	tests := []struct {
		name   string
		filter capture.Filter
		want   int
	}{
		{name: "no filter", filter: capture.Filter{}, want: 5},
		{name: "session", filter: capture.Filter{SessionID: beta.ID}, want: 2},
		{name: "label", filter: capture.Filter{Label: "alpha"}, want: 3},
		{name: "methods", filter: capture.Filter{Methods: []string{"get", "PUT"}}, want: 3},
		{name: "exact status", filter: capture.Filter{Status: "404"}, want: 1},
		{name: "status class", filter: capture.Filter{Status: "4xx"}, want: 2},
		{name: "status range", filter: capture.Filter{Status: "400-599"}, want: 3},
		{name: "host", filter: capture.Filter{Host: "cdn.test"}, want: 1},
		{name: "path prefix", filter: capture.Filter{PathPrefix: "/users"}, want: 2},
		{name: "url search ignores case", filter: capture.Filter{Search: "orders"}, want: 2},
		{name: "header name any case", filter: capture.Filter{HeaderName: "content-type", HeaderTarget: capture.TargetRequest}, want: 5},
		{name: "header value exact", filter: capture.Filter{HeaderName: "Content-Type", HeaderValue: "text/plain"}, want: 0},
		{name: "response header", filter: capture.Filter{HeaderName: "x-cache", HeaderValue: "HIT", HeaderTarget: capture.TargetResponse}, want: 1},
		{name: "response header not in request", filter: capture.Filter{HeaderName: "x-cache", HeaderTarget: capture.TargetRequest}, want: 0},
		{name: "combined", filter: capture.Filter{SessionID: alpha.ID, Methods: []string{"GET"}, Status: "2xx"}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := store.CountTransactions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if count != tt.want {
				t.Errorf("count: expected %d, got %d", tt.want, count)
			}
			list, err := store.ListSummaries(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(list) != tt.want {
				t.Errorf("list: expected %d, got %d", tt.want, len(list))
			}
		})
	}
}

func TestSQLiteStore_TimeWindowAndAttributionFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	session := newSession(t, store, "")

	early := mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/1", 1000))
	mockedTx := fakeTransaction(session.ID, "GET", "http://example.com/2", 2000)
	mockedTx.InterceptedBy = "rule-a"
	mockedTx.InterceptionType = capture.InterceptionMocked
	mocked := mustSave(t, store, mockedTx)
	late := mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/3", 3000))

	tests := []struct {
		name   string
		filter capture.Filter
		want   []string
	}{
		{name: "since is inclusive", filter: capture.Filter{Since: 2000}, want: []string{late, mocked}},
		{name: "before is exclusive", filter: capture.Filter{Before: 2000}, want: []string{early}},
		{name: "window", filter: capture.Filter{Since: 2000, Before: 3000}, want: []string{mocked}},
		{name: "empty window", filter: capture.Filter{Since: 3001}, want: nil},
		{name: "intercepted by", filter: capture.Filter{InterceptedBy: "rule-a"}, want: []string{mocked}},
		{name: "unknown rule", filter: capture.Filter{InterceptedBy: "rule-b"}, want: nil},
		{name: "rule outside window", filter: capture.Filter{InterceptedBy: "rule-a", Since: 2001}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := store.CountTransactions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if count != len(tt.want) {
				t.Errorf("count: expected %d, got %d", len(tt.want), count)
			}
			list, err := store.ListSummaries(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(list) != len(tt.want) {
				t.Fatalf("list: expected %d rows, got %d", len(tt.want), len(list))
			}
			for i, id := range tt.want {
				if list[i].ID != id {
					t.Errorf("row %d: expected %s, got %s", i, id, list[i].ID)
				}
			}
		})
	}
}

func TestSQLiteStore_InvalidFilters(t *testing.T) {
	store := newTestStore(t, nil)
	filters := []capture.Filter{
		{Status: "abc"},
		{Status: "6xx"},
		{Status: "500-400"},
		{HeaderValue: "orphan"},
		{HeaderName: "x", HeaderTarget: "sideways"},
	}
	for _, f := range filters {
		if _, err := store.ListSummaries(context.Background(), f); !IsValidation(err) {
			t.Errorf("filter %+v: expected ValidationError, got %v", f, err)
		}
	}
}

func TestSQLiteStore_ClearKeepsSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	session := newSession(t, store, "")
	mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/", 0))
	mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/", 0))

	removed, err := store.ClearTransactions(ctx)
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	count, _ := store.CountTransactions(ctx, capture.Filter{})
	if count != 0 {
		t.Fatalf("expected 0 after clear, got %d", count)
	}
	got, err := store.GetSession(ctx, session.ID)
	if err != nil || got == nil {
		t.Fatalf("session should survive clear: %v", err)
	}
}

func TestSQLiteStore_SearchBodies(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	session := newSession(t, store, "")

	reqHit := fakeTransaction(session.ID, "POST", "http://example.com/login", 0)
	reqHit.RequestBody = []byte(`{"Token":"abc"}`)
	reqID := mustSave(t, store, reqHit)

	respHit := mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/me", 0))
	if err := store.AttachResponse(ctx, respHit, capture.Response{Status: 200, Body: []byte("your TOKEN expired")}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	miss := fakeTransaction(session.ID, "GET", "http://example.com/token", 0)
	miss.RequestBody = []byte("nothing here")
	mustSave(t, store, miss)

	results, err := store.SearchBodies(ctx, "token", capture.Filter{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 body matches, got %d", len(results))
	}
	found := map[string]bool{}
	for _, r := range results {
		found[r.ID] = true
	}
	if !found[reqID] || !found[respHit] {
		t.Fatalf("unexpected search results: %v", found)
	}

	if _, err := store.SearchBodies(ctx, "", capture.Filter{}); !IsValidation(err) {
		t.Fatalf("expected ValidationError for empty query, got %v", err)
	}
}

func TestSQLiteStore_QueryJSONBodies(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	session := newSession(t, store, "")

	jsonReq := fakeTransaction(session.ID, "POST", "http://example.com/users", 0)
	jsonReq.RequestBody = []byte(`{"user":{"id":7,"name":"ada"}}`)
	reqID := mustSave(t, store, jsonReq)

	respID := mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/users/x", 0))
	if err := store.AttachResponse(ctx, respID, capture.Response{Status: 200, Body: []byte(`{"user":{"id":"x"}}`)}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	textBody := fakeTransaction(session.ID, "POST", "http://example.com/form", 0)
	textBody.RequestBody = []byte("user.id=7")
	mustSave(t, store, textBody)

	binary := fakeTransaction(session.ID, "POST", "http://example.com/blob", 0)
	binary.RequestBody = []byte{0xff, 0xfe, 0x00, 0x7b}
	mustSave(t, store, binary)

	t.Run("both targets", func(t *testing.T) {
		matches, err := store.QueryJSONBodies(ctx, capture.JSONQuery{Path: "user.id"})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(matches) != 2 {
			t.Fatalf("expected 2 JSON matches, got %d", len(matches))
		}
		for _, m := range matches {
			switch m.ID {
			case reqID:
				if m.MatchedIn != capture.TargetRequest || fmt.Sprint(m.ExtractedValue) != "7" {
					t.Errorf("unexpected request match: %+v", m)
				}
			case respID:
				if m.MatchedIn != capture.TargetResponse || m.ExtractedValue != "x" {
					t.Errorf("unexpected response match: %+v", m)
				}
			default:
				t.Errorf("unexpected match %s", m.ID)
			}
		}
	})

	t.Run("request only", func(t *testing.T) {
		matches, err := store.QueryJSONBodies(ctx, capture.JSONQuery{Path: "$.user.id", Target: capture.TargetRequest})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(matches) != 1 || matches[0].ID != reqID {
			t.Fatalf("expected only the request match, got %d", len(matches))
		}
	})

	t.Run("value equality", func(t *testing.T) {
		value := "7"
		matches, err := store.QueryJSONBodies(ctx, capture.JSONQuery{Path: "user.id", Value: &value})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(matches) != 1 || matches[0].ID != reqID {
			t.Fatalf("expected one match for id 7, got %d", len(matches))
		}
	})

	t.Run("object value", func(t *testing.T) {
		matches, err := store.QueryJSONBodies(ctx, capture.JSONQuery{Path: "user", Target: capture.TargetRequest})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(matches) != 1 {
			t.Fatalf("expected 1 match, got %d", len(matches))
		}
		obj, ok := matches[0].ExtractedValue.(map[string]any)
		if !ok || obj["name"] != "ada" {
			t.Fatalf("expected decoded object, got %#v", matches[0].ExtractedValue)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := store.QueryJSONBodies(ctx, capture.JSONQuery{}); !IsValidation(err) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestSQLiteStore_PruneMaxRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, func(cfg *config.StorageConfig) { cfg.MaxRecords = 2 })
	session := newSession(t, store, "")

	base := time.Now().UnixMilli()
	oldest := mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/0", base))
	mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/1", base+1))
	mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/2", base+2))

	count, err := store.CountTransactions(ctx, capture.Filter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 records after pruning, got %d", count)
	}
	if got, _ := store.GetTransaction(ctx, oldest); got != nil {
		t.Fatal("expected oldest record to be pruned")
	}
}

func TestSQLiteStore_PruneRetention(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, func(cfg *config.StorageConfig) { cfg.Retention = time.Hour })
	session := newSession(t, store, "")

	mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/fresh", 0))
	stale := time.Now().Add(-2 * time.Hour).UnixMilli()
	mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/stale", stale))

	if _, err := store.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	list, err := store.ListSummaries(ctx, capture.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Path != "/fresh" {
		t.Fatalf("expected only the fresh record, got %+v", list)
	}
}

func TestSQLiteStore_LockPreventsSecondOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.db")
	cfg := &config.StorageConfig{Driver: "sqlite", Path: path}

	first, err := New(cfg, noopLogger{})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := New(cfg, noopLogger{}); !errors.Is(err, ErrStoreLocked) {
		t.Fatalf("expected ErrStoreLocked, got %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := New(cfg, noopLogger{})
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	defer reopened.Close()

	version, err := reopened.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != SchemaVersion() {
		t.Fatalf("expected version %d, got %d", SchemaVersion(), version)
	}
}

func TestSQLiteStore_Stats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	session := newSession(t, store, "")
	id := mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/", 0))
	mustSave(t, store, fakeTransaction(session.ID, "GET", "http://example.com/", 0))
	if err := store.AttachResponse(ctx, id, capture.Response{Status: 204}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Sessions != 1 || stats.Transactions != 2 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.SchemaVersion != SchemaVersion() || stats.Path != store.Path() {
		t.Fatalf("unexpected stats metadata: %+v", stats)
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(&config.StorageConfig{Driver: "postgres", Path: "x"}, noopLogger{})
	if !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected ErrUnsupportedDriver, got %v", err)
	}
}
