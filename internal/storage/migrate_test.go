package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// legacySchema is the v0 layout that predates the shipped migrations.
const legacySchema = `
CREATE TABLE sessions (
    id TEXT PRIMARY KEY,
    label TEXT,
    pid INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX idx_sessions_created ON sessions(created_at DESC);

CREATE TABLE requests (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id),
    timestamp INTEGER NOT NULL,
    method TEXT NOT NULL,
    url TEXT NOT NULL,
    host TEXT NOT NULL,
    path TEXT NOT NULL,
    request_headers TEXT NOT NULL,
    request_body BLOB,
    response_status INTEGER,
    response_headers TEXT,
    response_body BLOB,
    duration_ms INTEGER
);
CREATE INDEX idx_requests_ts ON requests(timestamp DESC);
CREATE INDEX idx_requests_session_ts ON requests(session_id, timestamp DESC);
`

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open(sqliteDriverName, "file:"+filepath.ToSlash(filepath.Join(t.TempDir(), "raw.db")))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func userVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	v, err := readSchemaVersion(context.Background(), db)
	if err != nil {
		t.Fatalf("read version: %v", err)
	}
	return v
}

func columnNames(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("table info: %v", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan column: %v", err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func indexNames(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'index' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		t.Fatalf("list indexes: %v", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan index: %v", err)
		}
		names = append(names, name)
	}
	return names
}

func countingSteps(ran *[]int, n int) []Migration {
	steps := make([]Migration, n)
	for i := range steps {
		version := i + 1
		steps[i] = Migration{
			Version: version,
			Name:    "step",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				*ran = append(*ran, version)
				return nil
			},
		}
	}
	return steps
}

func TestMigrate_FreshStoreSkipsHistory(t *testing.T) {
	db := openRawDB(t)
	var ran []int

	version, err := migrate(context.Background(), db, "CREATE TABLE things (id INTEGER);", countingSteps(&ran, 3))
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if version != 3 || userVersion(t, db) != 3 {
		t.Fatalf("expected version 3, got %d (stored %d)", version, userVersion(t, db))
	}
	if len(ran) != 0 {
		t.Fatalf("historical steps should not run on a fresh store, ran %v", ran)
	}
	if cols := columnNames(t, db, "things"); len(cols) != 1 {
		t.Fatalf("expected final schema to be created, got columns %v", cols)
	}
}

func TestMigrate_SecondRunIsNoop(t *testing.T) {
	db := openRawDB(t)
	var ran []int
	steps := countingSteps(&ran, 2)

	if _, err := migrate(context.Background(), db, "CREATE TABLE things (id INTEGER);", steps); err != nil {
		t.Fatalf("first migrate failed: %v", err)
	}
	version, err := migrate(context.Background(), db, "CREATE TABLE things (id INTEGER);", steps)
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if version != 2 || len(ran) != 0 {
		t.Fatalf("expected no-op at version 2, got version %d ran %v", version, ran)
	}
}

func TestMigrate_RunsPendingStepsInOrder(t *testing.T) {
	db := openRawDB(t)
	if _, err := db.Exec("CREATE TABLE things (id INTEGER); PRAGMA user_version = 1;"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var ran []int

	version, err := migrate(context.Background(), db, "unused", countingSteps(&ran, 4))
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if version != 4 {
		t.Fatalf("expected version 4, got %d", version)
	}
	if want := []int{2, 3, 4}; len(ran) != len(want) || ran[0] != 2 || ran[2] != 4 {
		t.Fatalf("expected steps %v, ran %v", want, ran)
	}
}

func TestMigrate_FailureRollsBackEverything(t *testing.T) {
	db := openRawDB(t)
	if _, err := db.Exec("CREATE TABLE things (id INTEGER)"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	boom := errors.New("disk on fire")
	steps := []Migration{
		{Version: 1, Name: "add_color", Up: func(ctx context.Context, tx *sql.Tx) error {
			return addColumn(ctx, tx, "things", "color", "TEXT")
		}},
		{Version: 2, Name: "explode", Up: func(ctx context.Context, tx *sql.Tx) error {
			return boom
		}},
	}

	_, err := migrate(context.Background(), db, "unused", steps)
	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("expected MigrationError, got %v", err)
	}
	if migErr.Version != 2 || migErr.Name != "explode" {
		t.Fatalf("unexpected failing step: %+v", migErr)
	}
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "disk on fire") {
		t.Fatalf("expected underlying error to be preserved, got %v", err)
	}
	if v := userVersion(t, db); v != 0 {
		t.Fatalf("expected version to stay 0, got %d", v)
	}
	for _, col := range columnNames(t, db, "things") {
		if col == "color" {
			t.Fatal("column added by an earlier step should have been rolled back")
		}
	}
}

func TestMigrate_RejectsNewerStore(t *testing.T) {
	db := openRawDB(t)
	if _, err := db.Exec("CREATE TABLE things (id INTEGER); PRAGMA user_version = 9;"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var ran []int
	_, err := migrate(context.Background(), db, "unused", countingSteps(&ran, 2))
	if !errors.Is(err, ErrSchemaTooNew) {
		t.Fatalf("expected ErrSchemaTooNew, got %v", err)
	}
	if v := userVersion(t, db); v != 9 {
		t.Fatalf("version must not change, got %d", v)
	}
}

func TestMigrate_RejectsGappedHistory(t *testing.T) {
	db := openRawDB(t)
	steps := []Migration{
		{Version: 1, Name: "one", Up: func(context.Context, *sql.Tx) error { return nil }},
		{Version: 3, Name: "three", Up: func(context.Context, *sql.Tx) error { return nil }},
	}
	if _, err := migrate(context.Background(), db, "unused", steps); err == nil {
		t.Fatal("expected error for non-contiguous versions")
	}
}

func TestMigrate_LegacyStorePreservesData(t *testing.T) {
	db := openRawDB(t)
	if _, err := db.Exec(legacySchema); err != nil {
		t.Fatalf("create legacy schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO sessions (id, label, pid, created_at) VALUES ('s1', 'shell', 42, 1000)`); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO requests (id, session_id, timestamp, method, url, host, path, request_headers, request_body)
        VALUES ('r1', 's1', 2000, 'GET', 'http://api.test/v1', 'api.test', '/v1', '{}', X'00FF')`); err != nil {
		t.Fatalf("seed request: %v", err)
	}

	version, err := migrate(context.Background(), db, finalSchema, migrations)
	if err != nil {
		t.Fatalf("migrate legacy store: %v", err)
	}
	if version != SchemaVersion() {
		t.Fatalf("expected version %d, got %d", SchemaVersion(), version)
	}

	var (
		label     sql.NullString
		body      []byte
		truncated int
	)
	err = db.QueryRow("SELECT label, request_body, request_body_truncated FROM requests WHERE id = 'r1'").
		Scan(&label, &body, &truncated)
	if err != nil {
		t.Fatalf("read migrated row: %v", err)
	}
	if label.String != "shell" {
		t.Errorf("expected label backfilled from session, got %q", label.String)
	}
	if len(body) != 2 || body[0] != 0x00 || body[1] != 0xFF {
		t.Errorf("body changed during migration: %v", body)
	}
	if truncated != 0 {
		t.Errorf("expected default truncation flag 0, got %d", truncated)
	}
}

func TestMigrate_FreshAndMigratedSchemasAgree(t *testing.T) {
	fresh := openRawDB(t)
	if _, err := migrate(context.Background(), fresh, finalSchema, migrations); err != nil {
		t.Fatalf("fresh migrate: %v", err)
	}
	legacy := openRawDB(t)
	if _, err := legacy.Exec(legacySchema); err != nil {
		t.Fatalf("legacy schema: %v", err)
	}
	if _, err := migrate(context.Background(), legacy, finalSchema, migrations); err != nil {
		t.Fatalf("legacy migrate: %v", err)
	}

	for _, table := range []string{"sessions", "requests"} {
		a := strings.Join(columnNames(t, fresh, table), ",")
		b := strings.Join(columnNames(t, legacy, table), ",")
		if a != b {
			t.Errorf("%s columns differ:\nfresh:    %s\nmigrated: %s", table, a, b)
		}
	}
	a := strings.Join(indexNames(t, fresh), ",")
	b := strings.Join(indexNames(t, legacy), ",")
	if a != b {
		t.Errorf("indexes differ:\nfresh:    %s\nmigrated: %s", a, b)
	}
}
