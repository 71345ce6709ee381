package storage

import (
	"context"
	"database/sql"
)

// migrations is the shipped schema history on top of the v0 layout (sessions
// plus requests without labels, truncation flags or interceptor attribution).
// Append only; never edit a released step.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "add_body_truncation_flags",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			if err := addColumn(ctx, tx, "requests", "request_body_truncated", "INTEGER NOT NULL DEFAULT 0"); err != nil {
				return err
			}
			return addColumn(ctx, tx, "requests", "response_body_truncated", "INTEGER NOT NULL DEFAULT 0")
		},
	},
	{
		Version: 2,
		Name:    "add_request_labels",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			if err := addColumn(ctx, tx, "requests", "label", "TEXT"); err != nil {
				return err
			}
			return execAll(ctx, tx,
				`UPDATE requests SET label = (SELECT label FROM sessions WHERE sessions.id = requests.session_id) WHERE label IS NULL`,
				`CREATE INDEX IF NOT EXISTS idx_requests_label ON requests(label)`,
			)
		},
	},
	{
		Version: 3,
		Name:    "add_interceptor_attribution",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			if err := addColumn(ctx, tx, "requests", "intercepted_by", "TEXT"); err != nil {
				return err
			}
			return addColumn(ctx, tx, "requests", "interception_type", "TEXT")
		},
	},
	{
		Version: 4,
		Name:    "add_filter_indexes",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx,
				`CREATE INDEX IF NOT EXISTS idx_requests_host ON requests(host)`,
				`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(response_status)`,
				`CREATE INDEX IF NOT EXISTS idx_requests_method_ts ON requests(method, timestamp DESC)`,
			)
		},
	},
}

// SchemaVersion is the version a store reaches after opening with this build.
func SchemaVersion() int {
	return len(migrations)
}
