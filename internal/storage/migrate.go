package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one forward schema change. Version numbers start at 1 and
// are contiguous; the persisted user_version counts applied steps.
type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, tx *sql.Tx) error
}

// migrate brings db to len(steps). A store without application tables is
// created from schema and stamped directly; an older store runs the pending
// steps. Either way everything happens in one transaction whose last
// statement bumps user_version, so a failure leaves no trace.
func migrate(ctx context.Context, db *sql.DB, schema string, steps []Migration) (int, error) {
	if err := checkSequence(steps); err != nil {
		return 0, err
	}
	target := len(steps)

	current, err := readSchemaVersion(ctx, db)
	if err != nil {
		return 0, err
	}
	if current == target {
		return current, nil
	}
	if current > target {
		return current, fmt.Errorf("%w: store is at version %d, supported version is %d", ErrSchemaTooNew, current, target)
	}

	empty, err := isEmptyStore(ctx, db)
	if err != nil {
		return current, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return current, fmt.Errorf("begin migration: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if empty && current == 0 {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return current, &MigrationError{Version: target, Name: "initial_schema", Err: err}
		}
	} else {
		for _, step := range steps[current:] {
			if err := step.Up(ctx, tx); err != nil {
				return current, &MigrationError{Version: step.Version, Name: step.Name, Err: err}
			}
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", target)); err != nil {
		return current, &MigrationError{Version: target, Name: "stamp_version", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return current, &MigrationError{Version: target, Name: "commit", Err: err}
	}
	committed = true
	return target, nil
}

func checkSequence(steps []Migration) error {
	for i, step := range steps {
		if step.Version != i+1 {
			return fmt.Errorf("migration %q has version %d, expected %d", step.Name, step.Version, i+1)
		}
		if step.Up == nil {
			return fmt.Errorf("migration %d (%s) has no Up function", step.Version, step.Name)
		}
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readSchemaVersion(ctx context.Context, q queryer) (int, error) {
	var version int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func isEmptyStore(ctx context.Context, q queryer) (bool, error) {
	var tables int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'",
	).Scan(&tables)
	if err != nil {
		return false, fmt.Errorf("inspect schema: %w", err)
	}
	return tables == 0, nil
}

// hasColumn lets steps be idempotent without swallowing "duplicate column" errors.
func hasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func addColumn(ctx context.Context, tx *sql.Tx, table, column, definition string) error {
	exists, err := hasColumn(ctx, tx, table, column)
	if err != nil {
		return fmt.Errorf("inspect %s.%s: %w", table, column, err)
	}
	if exists {
		return nil
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

func execAll(ctx context.Context, tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
