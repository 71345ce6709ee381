package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/funnyzak/reqtrace/internal/config"
	"github.com/funnyzak/reqtrace/internal/logger"
	"github.com/funnyzak/reqtrace/pkg/capture"

	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName = "sqlite"
)

type sqliteStore struct {
	mu      sync.Mutex
	db      *sql.DB
	cfg     *config.StorageConfig
	log     logger.Logger
	path    string
	lock    *os.File
	version int
	closed  bool
}

func newSQLiteStore(ctx context.Context, cfg *config.StorageConfig, log logger.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o700); err != nil {
		return nil, fmt.Errorf("prepare sqlite directory: %w", err)
	}

	lock, err := acquireStoreLock(absPath + ".lock")
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", filepath.ToSlash(absPath))
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		_ = releaseStoreLock(lock)
		return nil, err
	}
	// One connection is the store's serialization point.
	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	fail := func(err error) (Store, error) {
		db.Close()
		_ = releaseStoreLock(lock)
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, stmt := range pragmas {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fail(fmt.Errorf("apply pragma %s: %w", stmt, err))
		}
	}

	before, err := readSchemaVersion(ctx, db)
	if err != nil {
		return fail(err)
	}
	version, err := migrate(ctx, db, finalSchema, migrations)
	if err != nil {
		return fail(err)
	}
	if before != version {
		log.Info("Store schema migrated", "path", absPath, "from", before, "to", version)
	}

	return &sqliteStore{
		db:      db,
		cfg:     cfg,
		log:     log,
		path:    absPath,
		lock:    lock,
		version: version,
	}, nil
}

func (s *sqliteStore) RegisterSession(ctx context.Context, label string, pid int) (*capture.Session, error) {
	if pid <= 0 {
		pid = os.Getpid()
	}
	session := &capture.Session{
		ID:        capture.NewID(),
		Label:     strings.TrimSpace(label),
		PID:       pid,
		CreatedAt: capture.NowMillis(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, label, pid, created_at) VALUES (?, ?, ?, ?)",
		session.ID, nullString(session.Label), session.PID, session.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// EnsureSession inserts the session unless the id already exists. The first
// writer wins: later calls get the original row back unchanged.
func (s *sqliteStore) EnsureSession(ctx context.Context, id, label string, pid int) (*capture.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &ValidationError{Field: "id", Message: "is required"}
	}
	if pid <= 0 {
		pid = os.Getpid()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (id, label, pid, created_at) VALUES (?, ?, ?, ?)",
		id, nullString(strings.TrimSpace(label)), pid, capture.NowMillis(),
	)
	if err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	return scanSession(s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id))
}

func (s *sqliteStore) GetSession(ctx context.Context, id string) (*capture.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := scanSession(s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *sqliteStore) ListSessions(ctx context.Context) ([]*capture.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+sessionColumns+" FROM sessions ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []*capture.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	return result, rows.Err()
}

func validateTransaction(t *capture.Transaction) error {
	switch {
	case t == nil:
		return &ValidationError{Field: "request", Message: "is required"}
	case strings.TrimSpace(t.SessionID) == "":
		return &ValidationError{Field: "sessionId", Message: "is required"}
	case strings.TrimSpace(t.Method) == "":
		return &ValidationError{Field: "method", Message: "is required"}
	case strings.TrimSpace(t.URL) == "":
		return &ValidationError{Field: "url", Message: "is required"}
	case t.RequestHeaders == nil:
		return &ValidationError{Field: "requestHeaders", Message: "is required"}
	case !t.InterceptionType.Valid():
		return &ValidationError{Field: "interceptionType", Message: fmt.Sprintf("unknown value %q", t.InterceptionType)}
	}
	return nil
}

func (s *sqliteStore) SaveTransaction(ctx context.Context, t *capture.Transaction) (string, error) {
	if err := validateTransaction(t); err != nil {
		return "", err
	}

	rec := *t
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = capture.NewID()
	}
	if rec.Timestamp <= 0 {
		rec.Timestamp = capture.NowMillis()
	}
	if rec.Host == "" || rec.Path == "" {
		u, err := url.Parse(rec.URL)
		if err != nil {
			return "", &ValidationError{Field: "url", Message: err.Error()}
		}
		if rec.Host == "" {
			rec.Host = u.Host
		}
		if rec.Path == "" {
			rec.Path = u.EscapedPath()
		}
		if rec.Path == "" {
			rec.Path = "/"
		}
	}

	requestHeaders, err := json.Marshal(rec.RequestHeaders)
	if err != nil {
		return "", fmt.Errorf("marshal request headers: %w", err)
	}
	var responseHeaders any
	if rec.ResponseHeaders != nil {
		raw, err := json.Marshal(rec.ResponseHeaders)
		if err != nil {
			return "", fmt.Errorf("marshal response headers: %w", err)
		}
		responseHeaders = string(raw)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var sessionLabel sql.NullString
	err = tx.QueryRowContext(ctx, "SELECT label FROM sessions WHERE id = ?", rec.SessionID).Scan(&sessionLabel)
	if errors.Is(err, sql.ErrNoRows) {
		err = &ValidationError{Field: "sessionId", Message: fmt.Sprintf("unknown session %q", rec.SessionID)}
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	if rec.Label == "" {
		rec.Label = sessionLabel.String
	}

	insertSQL := `INSERT INTO requests (` + transactionColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, insertSQL,
		rec.ID,
		rec.SessionID,
		nullString(rec.Label),
		rec.Timestamp,
		rec.Method,
		rec.URL,
		rec.Host,
		rec.Path,
		string(requestHeaders),
		nullBytes(rec.RequestBody),
		boolToInt(rec.RequestBodyTruncated),
		nullString(rec.InterceptedBy),
		nullString(string(rec.InterceptionType)),
		nullInt(rec.ResponseStatus),
		responseHeaders,
		nullBytes(rec.ResponseBody),
		boolToInt(rec.ResponseBodyTruncated),
		nullInt64(rec.DurationMs),
	)
	if err != nil {
		err = fmt.Errorf("insert request: %w", err)
		return "", err
	}

	if _, err = s.prune(ctx, tx); err != nil {
		return "", err
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// AttachResponse sets the response half of a transaction. A second call
// overwrites the first.
func (s *sqliteStore) AttachResponse(ctx context.Context, id string, resp capture.Response) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}
	if resp.Status < 100 || resp.Status > 599 {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("%d is not an HTTP status code", resp.Status)}
	}
	headers := resp.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("marshal response headers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE requests SET
        response_status = ?, response_headers = ?, response_body = ?,
        response_body_truncated = ?, duration_ms = ?
        WHERE id = ?`,
		resp.Status, string(headersJSON), nullBytes(resp.Body),
		boolToInt(resp.BodyTruncated), resp.DurationMs, id,
	)
	if err != nil {
		return fmt.Errorf("attach response: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &NotFoundError{Kind: "request", ID: id}
	}
	return nil
}

func (s *sqliteStore) GetTransaction(ctx context.Context, id string) (*capture.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM requests WHERE id = ?", id)
	record, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *sqliteStore) ListTransactions(ctx context.Context, f capture.Filter) ([]*capture.Transaction, error) {
	clauses, args, err := buildFilters(f)
	if err != nil {
		return nil, err
	}
	query, args := paginate("SELECT "+transactionColumns+" FROM requests"+whereClause(clauses)+newestFirst, args, f.Limit, f.Offset)

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []*capture.Transaction{}
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

func (s *sqliteStore) ListSummaries(ctx context.Context, f capture.Filter) ([]*capture.Summary, error) {
	clauses, args, err := buildFilters(f)
	if err != nil {
		return nil, err
	}
	return s.querySummaries(ctx, clauses, args, f)
}

// SearchBodies finds transactions whose request or response body contains
// query, ignoring ASCII case.
func (s *sqliteStore) SearchBodies(ctx context.Context, query string, f capture.Filter) ([]*capture.Summary, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &ValidationError{Field: "query", Message: "is required"}
	}
	clauses, args, err := buildFilters(f)
	if err != nil {
		return nil, err
	}
	clauses = append(clauses,
		"(instr(lower(CAST(request_body AS TEXT)), lower(?)) > 0 OR instr(lower(CAST(response_body AS TEXT)), lower(?)) > 0)")
	args = append(args, query, query)
	return s.querySummaries(ctx, clauses, args, f)
}

func (s *sqliteStore) querySummaries(ctx context.Context, clauses []string, args []any, f capture.Filter) ([]*capture.Summary, error) {
	query, args := paginate("SELECT "+summaryColumns+" FROM requests"+whereClause(clauses)+newestFirst, args, f.Limit, f.Offset)

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []*capture.Summary{}
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, summary)
	}
	return result, rows.Err()
}

// QueryJSONBodies extracts path from every JSON body selected by q.Target.
// Bodies that are absent or not valid JSON never match.
func (s *sqliteStore) QueryJSONBodies(ctx context.Context, q capture.JSONQuery) ([]*capture.JSONQueryMatch, error) {
	path, err := normalizeJSONPath(q.Path)
	if err != nil {
		return nil, err
	}
	if !q.Target.Valid() {
		return nil, &ValidationError{Field: "target", Message: fmt.Sprintf("unknown target %q", q.Target)}
	}
	clauses, filterArgs, err := buildFilters(q.Filter)
	if err != nil {
		return nil, err
	}

	reqValue, reqMatch, reqArgs := jsonProjection("request_body", path, q.Value, q.Target != capture.TargetResponse)
	respValue, respMatch, respArgs := jsonProjection("response_body", path, q.Value, q.Target != capture.TargetRequest)

	inner := "SELECT " + summaryColumns + ", rowid AS rid, " +
		reqValue + " AS req_value, " + reqMatch + " AS req_match, " +
		respValue + " AS resp_value, " + respMatch + " AS resp_match FROM requests" + whereClause(clauses)

	var args []any
	args = append(args, reqArgs...)
	args = append(args, respArgs...)
	args = append(args, filterArgs...)
	query, args := paginate(
		"SELECT * FROM ("+inner+") WHERE req_match OR resp_match ORDER BY timestamp DESC, rid DESC",
		args, q.Filter.Limit, q.Filter.Offset)

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		if strings.Contains(err.Error(), "JSON path") {
			return nil, &ValidationError{Field: "path", Message: fmt.Sprintf("malformed JSON path %q", path)}
		}
		return nil, err
	}
	defer rows.Close()

	result := []*capture.JSONQueryMatch{}
	for rows.Next() {
		var (
			rid      int64
			reqText  sql.NullString
			reqHit   bool
			respText sql.NullString
			respHit  bool
		)
		summary, err := scanSummary(rows, &rid, &reqText, &reqHit, &respText, &respHit)
		if err != nil {
			return nil, err
		}
		match := &capture.JSONQueryMatch{Summary: *summary}
		if reqHit {
			match.MatchedIn = capture.TargetRequest
			match.ExtractedValue = decodeJSONValue(reqText.String)
		} else {
			match.MatchedIn = capture.TargetResponse
			match.ExtractedValue = decodeJSONValue(respText.String)
		}
		result = append(result, match)
	}
	if err := rows.Err(); err != nil {
		if strings.Contains(err.Error(), "JSON path") {
			return nil, &ValidationError{Field: "path", Message: fmt.Sprintf("malformed JSON path %q", path)}
		}
		return nil, err
	}
	return result, nil
}

// jsonProjection returns the SQL for the extracted JSON text of column at
// path and a boolean match expression. With a value, scalars compare by
// their text form (true/false/null spelled out) and containers by compact JSON.
func jsonProjection(column, path string, value *string, enabled bool) (string, string, []any) {
	if !enabled {
		return "NULL", "0", nil
	}
	body := fmt.Sprintf("CAST(%s AS TEXT)", column)
	guard := fmt.Sprintf("%s IS NOT NULL AND json_valid(%s)", column, body)
	valueExpr := fmt.Sprintf("(CASE WHEN %s THEN %s -> ? END)", guard, body)

	if value == nil {
		return valueExpr, valueExpr + " IS NOT NULL", []any{path, path}
	}
	textExpr := fmt.Sprintf(
		"(CASE WHEN %s THEN (CASE json_type(%s, ?) WHEN 'true' THEN 'true' WHEN 'false' THEN 'false' WHEN 'null' THEN 'null' ELSE CAST(json_extract(%s, ?) AS TEXT) END) END)",
		guard, body, body)
	return valueExpr, "COALESCE(" + textExpr + " = ?, 0)", []any{path, path, path, *value}
}

func decodeJSONValue(text string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return text
	}
	return v
}

func (s *sqliteStore) CountTransactions(ctx context.Context, f capture.Filter) (int, error) {
	clauses, args, err := buildFilters(f)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM requests"+whereClause(clauses), args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// ClearTransactions deletes every transaction. Sessions are kept.
func (s *sqliteStore) ClearTransactions(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM requests")
	if err != nil {
		return 0, fmt.Errorf("clear requests: %w", err)
	}
	return res.RowsAffected()
}

// Prune applies the retention window and record cap outside of a write.
func (s *sqliteStore) Prune(ctx context.Context) (int64, error) {
	if s.cfg.Retention <= 0 && s.cfg.MaxRecords <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	removed, err := s.prune(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Debug("Pruned stored requests", "removed", removed)
	}
	return removed, nil
}

func (s *sqliteStore) prune(ctx context.Context, tx *sql.Tx) (int64, error) {
	var removed int64
	if s.cfg.Retention > 0 {
		cutoff := time.Now().Add(-s.cfg.Retention).UnixMilli()
		res, err := tx.ExecContext(ctx, "DELETE FROM requests WHERE timestamp < ?", cutoff)
		if err != nil {
			return 0, fmt.Errorf("prune by retention: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if s.cfg.MaxRecords > 0 {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM requests").Scan(&count); err != nil {
			return 0, fmt.Errorf("count records: %w", err)
		}
		if excess := count - s.cfg.MaxRecords; excess > 0 {
			res, err := tx.ExecContext(ctx,
				"DELETE FROM requests WHERE rowid IN (SELECT rowid FROM requests ORDER BY timestamp ASC, rowid ASC LIMIT ?)", excess)
			if err != nil {
				return 0, fmt.Errorf("prune max records: %w", err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
	}
	return removed, nil
}

func (s *sqliteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{Path: s.path, SchemaVersion: s.version}
	err := s.db.QueryRowContext(ctx, `SELECT
        (SELECT COUNT(1) FROM sessions),
        (SELECT COUNT(1) FROM requests),
        (SELECT COUNT(1) FROM requests WHERE response_status IS NULL)`,
	).Scan(&stats.Sessions, &stats.Transactions, &stats.Pending)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *sqliteStore) SchemaVersion(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readSchemaVersion(ctx, s.db)
}

func (s *sqliteStore) Path() string {
	return s.path
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.db == nil {
		return nil
	}
	s.closed = true
	return errors.Join(s.db.Close(), releaseStoreLock(s.lock))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(scanner rowScanner) (*capture.Session, error) {
	var (
		session capture.Session
		label   sql.NullString
	)
	if err := scanner.Scan(&session.ID, &label, &session.PID, &session.CreatedAt); err != nil {
		return nil, err
	}
	session.Label = label.String
	return &session, nil
}

func scanTransaction(scanner rowScanner) (*capture.Transaction, error) {
	var (
		t                 capture.Transaction
		label             sql.NullString
		requestHeaders    sql.NullString
		requestBody       []byte
		requestTruncated  int64
		interceptedBy     sql.NullString
		interceptionType  sql.NullString
		responseStatus    sql.NullInt64
		responseHeaders   sql.NullString
		responseBody      []byte
		responseTruncated int64
		durationMs        sql.NullInt64
	)

	if err := scanner.Scan(
		&t.ID,
		&t.SessionID,
		&label,
		&t.Timestamp,
		&t.Method,
		&t.URL,
		&t.Host,
		&t.Path,
		&requestHeaders,
		&requestBody,
		&requestTruncated,
		&interceptedBy,
		&interceptionType,
		&responseStatus,
		&responseHeaders,
		&responseBody,
		&responseTruncated,
		&durationMs,
	); err != nil {
		return nil, err
	}

	t.Label = label.String
	t.RequestHeaders = decodeHeaders(requestHeaders)
	if t.RequestHeaders == nil {
		t.RequestHeaders = map[string]string{}
	}
	t.RequestBody = requestBody
	t.RequestBodyTruncated = requestTruncated == 1
	t.InterceptedBy = interceptedBy.String
	t.InterceptionType = capture.InterceptionType(interceptionType.String)
	if responseStatus.Valid {
		status := int(responseStatus.Int64)
		t.ResponseStatus = &status
	}
	t.ResponseHeaders = decodeHeaders(responseHeaders)
	t.ResponseBody = responseBody
	t.ResponseBodyTruncated = responseTruncated == 1
	if durationMs.Valid {
		duration := durationMs.Int64
		t.DurationMs = &duration
	}
	return &t, nil
}

// scanSummary reads the summaryColumns projection; extra receives any
// trailing columns selected after it.
func scanSummary(scanner rowScanner, extra ...any) (*capture.Summary, error) {
	var (
		summary           capture.Summary
		label             sql.NullString
		responseStatus    sql.NullInt64
		durationMs        sql.NullInt64
		interceptedBy     sql.NullString
		interceptionType  sql.NullString
		requestTruncated  int64
		responseTruncated int64
	)

	dest := []any{
		&summary.ID,
		&summary.SessionID,
		&label,
		&summary.Timestamp,
		&summary.Method,
		&summary.URL,
		&summary.Host,
		&summary.Path,
		&responseStatus,
		&durationMs,
		&interceptedBy,
		&interceptionType,
		&summary.RequestBodySize,
		&summary.ResponseBodySize,
		&requestTruncated,
		&responseTruncated,
	}
	if err := scanner.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	summary.Label = label.String
	if responseStatus.Valid {
		status := int(responseStatus.Int64)
		summary.ResponseStatus = &status
	}
	if durationMs.Valid {
		duration := durationMs.Int64
		summary.DurationMs = &duration
	}
	summary.InterceptedBy = interceptedBy.String
	summary.InterceptionType = capture.InterceptionType(interceptionType.String)
	summary.RequestBodyTruncated = requestTruncated == 1
	summary.ResponseBodyTruncated = responseTruncated == 1
	return &summary, nil
}

func decodeHeaders(raw sql.NullString) map[string]string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	headers := map[string]string{}
	if err := json.Unmarshal([]byte(raw.String), &headers); err != nil {
		return map[string]string{}
	}
	return headers
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullBytes stores an empty body as NULL, so empty and absent read back the same.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
