package storage

import (
	"context"
	"errors"

	"github.com/funnyzak/reqtrace/internal/config"
	"github.com/funnyzak/reqtrace/internal/logger"
	"github.com/funnyzak/reqtrace/pkg/capture"
)

// Stats is a point-in-time view of the store used by the status method.
type Stats struct {
	Path          string `json:"path" yaml:"path"`
	SchemaVersion int    `json:"schemaVersion" yaml:"schemaVersion"`
	Sessions      int    `json:"sessions" yaml:"sessions"`
	Transactions  int    `json:"transactions" yaml:"transactions"`
	Pending       int    `json:"pending" yaml:"pending"`
}

// Store defines the persistence contract for sessions and captured transactions.
// Every method returns copies; callers never share memory with the store.
type Store interface {
	RegisterSession(ctx context.Context, label string, pid int) (*capture.Session, error)
	EnsureSession(ctx context.Context, id, label string, pid int) (*capture.Session, error)
	GetSession(ctx context.Context, id string) (*capture.Session, error)
	ListSessions(ctx context.Context) ([]*capture.Session, error)

	SaveTransaction(ctx context.Context, t *capture.Transaction) (string, error)
	AttachResponse(ctx context.Context, id string, resp capture.Response) error
	GetTransaction(ctx context.Context, id string) (*capture.Transaction, error)
	ListTransactions(ctx context.Context, f capture.Filter) ([]*capture.Transaction, error)
	ListSummaries(ctx context.Context, f capture.Filter) ([]*capture.Summary, error)
	CountTransactions(ctx context.Context, f capture.Filter) (int, error)
	ClearTransactions(ctx context.Context) (int64, error)

	SearchBodies(ctx context.Context, query string, f capture.Filter) ([]*capture.Summary, error)
	QueryJSONBodies(ctx context.Context, q capture.JSONQuery) ([]*capture.JSONQueryMatch, error)

	Prune(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*Stats, error)
	SchemaVersion(ctx context.Context) (int, error)
	Path() string
	Close() error
}

// New opens the store described by cfg, migrating it to the current schema.
func New(cfg *config.StorageConfig, log logger.Logger) (Store, error) {
	if cfg == nil {
		return nil, errors.New("storage config is nil")
	}
	if log == nil {
		log = logger.Nop()
	}
	switch driver := cfg.Driver; driver {
	case "", "sqlite", "sqlite3":
		return newSQLiteStore(context.Background(), cfg, log)
	default:
		return nil, ErrUnsupportedDriver
	}
}
