package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/funnyzak/reqtrace/internal/codec"
	"github.com/funnyzak/reqtrace/internal/logger"
	"github.com/funnyzak/reqtrace/internal/storage"
)

const (
	readChunkSize = 64 * 1024
	writeTimeout  = 10 * time.Second
)

// HandlerFunc executes one method. Returned values are encoded with the
// frame codec; a *ParamsError maps to CodeInvalidParams, anything else to
// CodeHandlerError.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Options configures a Server.
type Options struct {
	SocketPath    string
	MaxFrameBytes int
	Version       string
}

// Server is the socket dispatcher. All connections share one store.
type Server struct {
	opts     Options
	store    storage.Store
	log      logger.Logger
	metrics  *Metrics
	handlers map[string]HandlerFunc
	started  time.Time

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// NewServer creates a dispatcher bound to store. Call Listen, then Serve.
func NewServer(opts Options, store storage.Store, log logger.Logger) *Server {
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 64 * 1024 * 1024
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		opts:    opts,
		store:   store,
		log:     log,
		metrics: NewMetrics(),
		conns:   make(map[net.Conn]struct{}),
		started: time.Now(),
	}
	s.handlers = s.routes()
	return s
}

// Metrics exposes the dispatcher collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handle registers or replaces a method handler.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Listen replaces any stale socket entry and starts listening with
// owner-only permissions.
func (s *Server) Listen() error {
	path := s.opts.SocketPath
	if path == "" {
		return errors.New("socket path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("prepare socket directory: %w", err)
	}
	if err := removeStaleSocket(path); err != nil {
		return err
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("restrict socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("Control socket listening", "socket", path)
	return nil
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect socket path: %w", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("refusing to replace non-socket file at %s", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(conn) {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

// Close stops accepting, drops open connections and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	ln := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	if rmErr := os.Remove(s.opts.SocketPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	s.log.Info("Control socket closed", "socket", s.opts.SocketPath)
	return err
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// serveConn reads chunks into a per-connection buffer and dispatches every
// complete line in order. Only transport errors and oversized frames end
// the connection.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ActiveConnections.Inc()
	defer s.metrics.ActiveConnections.Dec()

	var pending []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, readErr := conn.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)

			start := 0
			for {
				idx := bytes.IndexByte(pending[start:], '\n')
				if idx < 0 {
					break
				}
				frame := pending[start : start+idx]
				start += idx + 1

				if len(frame) > s.opts.MaxFrameBytes {
					s.rejectOversized(conn)
					return
				}
				if len(bytes.TrimSpace(frame)) == 0 {
					continue
				}
				if err := s.writeFrame(conn, s.dispatch(ctx, frame)); err != nil {
					s.log.Debug("Failed to write reply", "error", err)
					return
				}
			}
			pending = append(pending[:0], pending[start:]...)

			if len(pending) > s.opts.MaxFrameBytes {
				s.rejectOversized(conn)
				return
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && !s.isClosing() {
				s.log.Debug("Connection read failed", "error", readErr)
			}
			return
		}
	}
}

func (s *Server) rejectOversized(conn net.Conn) {
	s.metrics.observe(UnknownID, outcomeParseError, time.Now())
	msg := fmt.Sprintf("frame exceeds %d bytes", s.opts.MaxFrameBytes)
	s.log.Warn("Closing connection with oversized frame", "limit", s.opts.MaxFrameBytes)
	_ = s.writeFrame(conn, errorResponse(UnknownID, CodeParseError, msg))
}

func (s *Server) writeFrame(conn net.Conn, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(errorResponse(resp.ID, CodeHandlerError, "failed to encode reply: "+err.Error()))
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = conn.Write(append(data, '\n'))
	return err
}

// dispatch turns one frame into exactly one reply. It never panics.
func (s *Server) dispatch(ctx context.Context, frame []byte) (resp Response) {
	started := time.Now()

	req, err := parseRequest(frame)
	if err != nil {
		s.metrics.observe(UnknownID, outcomeParseError, started)
		return errorResponse(UnknownID, CodeParseError, "parse error: "+err.Error())
	}

	s.mu.Lock()
	handler, ok := s.handlers[req.Method]
	s.mu.Unlock()
	if !ok {
		s.metrics.observe(UnknownID, outcomeMethodNotFound, started)
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Handler panicked", "method", req.Method, "panic", fmt.Sprint(r))
			s.metrics.observe(req.Method, outcomePanic, started)
			resp = errorResponse(req.ID, CodeHandlerError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	result, err := handler(ctx, req.Params)
	if err != nil {
		var pErr *ParamsError
		if errors.As(err, &pErr) {
			s.metrics.observe(req.Method, outcomeInvalidParams, started)
			return errorResponse(req.ID, CodeInvalidParams, pErr.Error())
		}
		s.metrics.observe(req.Method, outcomeHandlerError, started)
		if !storage.IsValidation(err) && !storage.IsNotFound(err) {
			s.log.Warn("Handler failed", "method", req.Method, "error", err)
		}
		return errorResponse(req.ID, CodeHandlerError, err.Error())
	}

	encoded, err := codec.Encode(result)
	if err != nil {
		s.metrics.observe(req.Method, outcomeHandlerError, started)
		return errorResponse(req.ID, CodeHandlerError, "failed to encode result: "+err.Error())
	}
	s.metrics.observe(req.Method, outcomeOK, started)
	return Response{ID: req.ID, Result: encoded}
}
