package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/funnyzak/reqtrace/internal/codec"
	"github.com/funnyzak/reqtrace/pkg/capture"
)

// DefaultTimeout bounds a call when the client was built without one.
const DefaultTimeout = 5 * time.Second

// Client calls the daemon over its control socket. Each call dials a fresh
// connection; a Client is safe for concurrent use.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient returns a client for the socket at socketPath.
func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{socketPath: socketPath, timeout: timeout}
}

// Call invokes method and decodes the result into out (which may be nil).
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	raw, err := c.roundTrip(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// CallRaw invokes method and returns the generically decoded result with
// binary payloads restored to []byte.
func (c *Client) CallRaw(ctx context.Context, method string, params any) (any, error) {
	raw, err := c.roundTrip(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return codec.Decode(raw)
}

func (c *Client) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := Request{ID: uuid.NewString(), Method: method}
	if params != nil {
		encoded, err := codec.Encode(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", method, err)
		}
		req.Params = encoded
	}
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", method, err)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.timeoutError(method)
		}
		return nil, &TransportError{Op: "dial", Path: c.socketPath, Err: err}
	}
	defer conn.Close()

	// Closing the connection unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(append(frame, '\n')); err != nil {
		return nil, c.classify(ctx, method, "write", err)
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return nil, c.classify(ctx, method, "read", err)
		}

		var reply Response
		if err := json.Unmarshal(line, &reply); err != nil {
			return nil, fmt.Errorf("decode %s reply: %w", method, err)
		}
		switch {
		case reply.ID == req.ID:
		case reply.ID == UnknownID && reply.Error != nil:
			// The daemon could not read our frame and cannot echo its id.
		default:
			continue
		}
		if reply.Error != nil {
			return nil, &RemoteError{Code: reply.Error.Code, Message: reply.Error.Message}
		}
		return reply.Result, nil
	}
}

func (c *Client) classify(ctx context.Context, method, op string, err error) error {
	if ctx.Err() != nil || errors.Is(err, os.ErrDeadlineExceeded) {
		return c.timeoutError(method)
	}
	return &TransportError{Op: op, Path: c.socketPath, Err: err}
}

func (c *Client) timeoutError(method string) error {
	return fmt.Errorf("%w: %s after %s", ErrTimeout, method, c.timeout)
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) (*PingResult, error) {
	var out PingResult
	if err := c.Call(ctx, MethodPing, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns daemon, store and dispatcher counters.
func (c *Client) Status(ctx context.Context) (*StatusReport, error) {
	var out StatusReport
	if err := c.Call(ctx, MethodStatus, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RegisterSession(ctx context.Context, label string, pid int) (*capture.Session, error) {
	var out capture.Session
	if err := c.Call(ctx, MethodRegisterSession, sessionParams{Label: label, PID: pid}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EnsureSession(ctx context.Context, id, label string, pid int) (*capture.Session, error) {
	var out capture.Session
	if err := c.Call(ctx, MethodEnsureSession, sessionParams{ID: id, Label: label, PID: pid}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession returns nil when the session does not exist.
func (c *Client) GetSession(ctx context.Context, id string) (*capture.Session, error) {
	var out *capture.Session
	if err := c.Call(ctx, MethodGetSession, idParams{ID: id}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]*capture.Session, error) {
	var out []*capture.Session
	if err := c.Call(ctx, MethodListSessions, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveTransaction stores t through the daemon and returns its id.
func (c *Client) SaveTransaction(ctx context.Context, t *capture.Transaction) (string, error) {
	var out SaveResult
	if err := c.Call(ctx, MethodSaveRequest, t, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) AttachResponse(ctx context.Context, id string, resp capture.Response) error {
	return c.Call(ctx, MethodAttachResponse, attachResponseParams{ID: id, Response: resp}, nil)
}

func (c *Client) ListTransactions(ctx context.Context, f capture.Filter) ([]*capture.Transaction, error) {
	var out []*capture.Transaction
	if err := c.Call(ctx, MethodListRequests, f, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListSummaries(ctx context.Context, f capture.Filter) ([]*capture.Summary, error) {
	var out []*capture.Summary
	if err := c.Call(ctx, MethodListRequestsSummary, f, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTransaction returns nil when the transaction does not exist.
func (c *Client) GetTransaction(ctx context.Context, id string) (*capture.Transaction, error) {
	var out *capture.Transaction
	if err := c.Call(ctx, MethodGetRequest, idParams{ID: id}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CountTransactions(ctx context.Context, f capture.Filter) (int, error) {
	var out CountResult
	if err := c.Call(ctx, MethodCountRequests, f, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) ClearTransactions(ctx context.Context) (int64, error) {
	var out ClearResult
	if err := c.Call(ctx, MethodClearRequests, nil, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

func (c *Client) SearchBodies(ctx context.Context, query string, f capture.Filter) ([]*capture.Summary, error) {
	var out []*capture.Summary
	if err := c.Call(ctx, MethodSearchBodies, searchBodiesParams{Query: query, Filter: f}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) QueryJSONBodies(ctx context.Context, q capture.JSONQuery) ([]*capture.JSONQueryMatch, error) {
	params := queryJSONParams{Path: q.Path, Target: q.Target, Value: q.Value, Filter: q.Filter}
	var out []*capture.JSONQueryMatch
	if err := c.Call(ctx, MethodQueryJSONBodies, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
