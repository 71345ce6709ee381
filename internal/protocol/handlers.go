package protocol

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/funnyzak/reqtrace/internal/storage"
	"github.com/funnyzak/reqtrace/pkg/capture"
)

// PingResult answers ping.
type PingResult struct {
	Pong    bool   `json:"pong" yaml:"pong"`
	Version string `json:"version" yaml:"version"`
	PID     int    `json:"pid" yaml:"pid"`
	Time    int64  `json:"time" yaml:"time"`
}

// StatusReport answers status.
type StatusReport struct {
	Version    string           `json:"version" yaml:"version"`
	PID        int              `json:"pid" yaml:"pid"`
	SocketPath string           `json:"socketPath" yaml:"socketPath"`
	StartedAt  int64            `json:"startedAt" yaml:"startedAt"`
	UptimeMs   int64            `json:"uptimeMs" yaml:"uptimeMs"`
	Store      *storage.Stats   `json:"store" yaml:"store"`
	Metrics    *MetricsSnapshot `json:"metrics" yaml:"metrics"`
}

// SaveResult answers saveRequest.
type SaveResult struct {
	ID string `json:"id"`
}

// CountResult answers countRequests.
type CountResult struct {
	Count int `json:"count"`
}

// ClearResult answers clearRequests.
type ClearResult struct {
	Removed int64 `json:"removed"`
}

type sessionParams struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label,omitempty"`
	PID   int    `json:"pid,omitempty"`
}

type idParams struct {
	ID string `json:"id"`
}

type attachResponseParams struct {
	ID string `json:"id"`
	capture.Response
}

type searchBodiesParams struct {
	Query string `json:"query"`
	capture.Filter
}

type queryJSONParams struct {
	Path   string               `json:"path"`
	Target capture.HeaderTarget `json:"target,omitempty"`
	Value  *string              `json:"value,omitempty"`
	capture.Filter
}

type noParams struct{}

// handle adapts a typed handler: params are decoded strictly into P first.
func handle[P any](fn func(ctx context.Context, p P) (any, error)) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return fn(ctx, p)
	}
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &ParamsError{Message: `"id" is required`}
	}
	return nil
}

func (s *Server) routes() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		MethodPing:                handle(s.handlePing),
		MethodStatus:              handle(s.handleStatus),
		MethodRegisterSession:     handle(s.handleRegisterSession),
		MethodEnsureSession:       handle(s.handleEnsureSession),
		MethodGetSession:          handle(s.handleGetSession),
		MethodListSessions:        handle(s.handleListSessions),
		MethodSaveRequest:         handle(s.handleSaveRequest),
		MethodAttachResponse:      handle(s.handleAttachResponse),
		MethodListRequests:        handle(s.handleListRequests),
		MethodListRequestsSummary: handle(s.handleListRequestsSummary),
		MethodGetRequest:          handle(s.handleGetRequest),
		MethodCountRequests:       handle(s.handleCountRequests),
		MethodClearRequests:       handle(s.handleClearRequests),
		MethodSearchBodies:        handle(s.handleSearchBodies),
		MethodQueryJSONBodies:     handle(s.handleQueryJSONBodies),
	}
}

func (s *Server) handlePing(_ context.Context, _ noParams) (any, error) {
	return &PingResult{
		Pong:    true,
		Version: s.opts.Version,
		PID:     os.Getpid(),
		Time:    time.Now().UnixMilli(),
	}, nil
}

func (s *Server) handleStatus(ctx context.Context, _ noParams) (any, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.metrics.Snapshot()
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		Version:    s.opts.Version,
		PID:        os.Getpid(),
		SocketPath: s.opts.SocketPath,
		StartedAt:  s.started.UnixMilli(),
		UptimeMs:   time.Since(s.started).Milliseconds(),
		Store:      stats,
		Metrics:    snapshot,
	}, nil
}

func (s *Server) handleRegisterSession(ctx context.Context, p sessionParams) (any, error) {
	if p.ID != "" {
		return nil, &ParamsError{Message: `registerSession does not accept "id"; use ensureSession`}
	}
	return s.store.RegisterSession(ctx, p.Label, p.PID)
}

func (s *Server) handleEnsureSession(ctx context.Context, p sessionParams) (any, error) {
	if err := requireID(p.ID); err != nil {
		return nil, err
	}
	return s.store.EnsureSession(ctx, p.ID, p.Label, p.PID)
}

func (s *Server) handleGetSession(ctx context.Context, p idParams) (any, error) {
	if err := requireID(p.ID); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, p.ID)
}

func (s *Server) handleListSessions(ctx context.Context, _ noParams) (any, error) {
	return s.store.ListSessions(ctx)
}

func (s *Server) handleSaveRequest(ctx context.Context, p capture.Transaction) (any, error) {
	id, err := s.store.SaveTransaction(ctx, &p)
	if err != nil {
		return nil, err
	}
	return &SaveResult{ID: id}, nil
}

func (s *Server) handleAttachResponse(ctx context.Context, p attachResponseParams) (any, error) {
	if err := requireID(p.ID); err != nil {
		return nil, err
	}
	if err := s.store.AttachResponse(ctx, p.ID, p.Response); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) handleListRequests(ctx context.Context, f capture.Filter) (any, error) {
	return s.store.ListTransactions(ctx, f)
}

func (s *Server) handleListRequestsSummary(ctx context.Context, f capture.Filter) (any, error) {
	return s.store.ListSummaries(ctx, f)
}

func (s *Server) handleGetRequest(ctx context.Context, p idParams) (any, error) {
	if err := requireID(p.ID); err != nil {
		return nil, err
	}
	return s.store.GetTransaction(ctx, p.ID)
}

func (s *Server) handleCountRequests(ctx context.Context, f capture.Filter) (any, error) {
	count, err := s.store.CountTransactions(ctx, f)
	if err != nil {
		return nil, err
	}
	return &CountResult{Count: count}, nil
}

func (s *Server) handleClearRequests(ctx context.Context, _ noParams) (any, error) {
	removed, err := s.store.ClearTransactions(ctx)
	if err != nil {
		return nil, err
	}
	s.log.Info("Cleared stored requests", "removed", removed)
	return &ClearResult{Removed: removed}, nil
}

func (s *Server) handleSearchBodies(ctx context.Context, p searchBodiesParams) (any, error) {
	return s.store.SearchBodies(ctx, p.Query, p.Filter)
}

func (s *Server) handleQueryJSONBodies(ctx context.Context, p queryJSONParams) (any, error) {
	return s.store.QueryJSONBodies(ctx, capture.JSONQuery{
		Path:   p.Path,
		Target: p.Target,
		Value:  p.Value,
		Filter: p.Filter,
	})
}
