// Package transport turns a pair of byte streams (a worker's stdio
// pipes) into a correlated asynchronous JSON-RPC call interface.
//
// Messages are newline-delimited JSON. Requests carry a per-connection
// monotonically increasing integer ID; responses are routed back to the
// pending caller by that ID, so completion order never depends on issue
// order. Lines carrying a method but no ID are notifications and are
// dispatched to explicitly registered handlers.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/toolbus/internal/logging"
	"github.com/aretw0/toolbus/pkg/domain"
)

// DefaultTimeout applies to requests issued without an explicit deadline.
const DefaultTimeout = 30 * time.Second

// ProtocolVersion is sent in the initialize handshake. It tracks the MCP
// stdio revision the bundled worker speaks.
const ProtocolVersion = "2025-03-26"

// maxLineSize bounds a single wire message. Tool results can be large
// (file contents), so this is generous.
const maxLineSize = 4 * 1024 * 1024

// clientVersion is advertised in the handshake's clientInfo.
const clientVersion = "0.1.0"

// NotificationHandler receives unsolicited messages for one method name.
type NotificationHandler func(params json.RawMessage)

// message is the wire envelope, used for both directions.
type message struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *int64           `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  any              `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *domain.RPCError `json:"error,omitempty"`
}

type outcome struct {
	result any
	err    error
}

// Conn is one bidirectional request/response channel. It is safe for
// concurrent use; writes are serialized, reads run on one goroutine.
type Conn struct {
	w      io.WriteCloser
	wmu    sync.Mutex // serializes line writes
	nextID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan outcome
	handlers map[string]NotificationHandler
	closed   bool

	logger *slog.Logger
	done   chan struct{}
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger attaches a logger for protocol-level diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		c.logger = logger
	}
}

// New wraps the given streams and starts the read loop.
// r is the peer's stdout, w its stdin.
func New(r io.Reader, w io.WriteCloser, opts ...Option) *Conn {
	c := &Conn{
		w:        w,
		pending:  make(map[int64]chan outcome),
		handlers: make(map[string]NotificationHandler),
		logger:   logging.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop(r)
	return c
}

// OnNotification registers a handler for unsolicited messages with the
// given method name. Registering nil removes the handler.
func (c *Conn) OnNotification(method string, fn NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		delete(c.handlers, method)
		return
	}
	c.handlers[method] = fn
}

// Request sends a correlated request and blocks until the matching
// response arrives, the timeout elapses, or ctx is cancelled.
// A timeout <= 0 means DefaultTimeout. Concurrent requests do not block
// one another and may complete in any order.
func (c *Conn) Request(ctx context.Context, method string, params any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	id := c.nextID.Add(1)
	ch := make(chan outcome, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("request %s: %w", method, domain.ErrConnClosed)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writeLine(message{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("request %s: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, fmt.Errorf("request %s: %w", method, out.err)
		}
		return out.result, nil
	case <-timer.C:
		c.removePending(id)
		return nil, fmt.Errorf("request %s after %s: %w", method, timeout, domain.ErrRequestTimeout)
	case <-ctx.Done():
		c.removePending(id)
		return nil, fmt.Errorf("request %s: %w", method, ctx.Err())
	}
}

// Notify sends a fire-and-forget message. No response is expected and
// none is waited for.
func (c *Conn) Notify(method string, params any) error {
	return c.writeLine(message{JSONRPC: "2.0", Method: method, Params: params})
}

// Handshake attempts the initialize exchange once. Peers that do not
// implement it still work for subsequent calls, so the caller is
// expected to tolerate an error from this method.
func (c *Conn) Handshake(ctx context.Context, timeout time.Duration) error {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo": map[string]any{
			"name":    "toolbus",
			"version": clientVersion,
		},
		"capabilities": map[string]any{},
	}
	if _, err := c.Request(ctx, "initialize", params, timeout); err != nil {
		return err
	}
	// Per the stdio convention the client acknowledges with a
	// notification. Peers ignore it if they don't care.
	_ = c.Notify("notifications/initialized", nil)
	return nil
}

// Close fails every pending request with ErrConnClosed and releases the
// write stream. It is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]chan outcome)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- outcome{err: domain.ErrConnClosed}
	}
	close(c.done)
	return c.w.Close()
}

// Done is closed when the connection shuts down.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) writeLine(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Method, err)
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Conn) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			// Malformed lines never kill the connection.
			c.logger.Warn("dropping malformed message", "error", err, "size", len(line))
			continue
		}

		switch {
		case msg.ID != nil && msg.Method == "":
			c.dispatchResponse(msg)
		case msg.Method != "" && msg.ID == nil:
			c.dispatchNotification(msg)
		case msg.Method != "" && msg.ID != nil:
			// Peer-initiated request. We don't serve any; answer with
			// method-not-found so well-behaved peers can move on.
			c.logger.Debug("rejecting peer request", "method", msg.Method)
			_ = c.writeLine(message{
				JSONRPC: "2.0",
				ID:      msg.ID,
				Error:   &domain.RPCError{Code: -32601, Message: "method not found: " + msg.Method},
			})
		default:
			c.logger.Warn("dropping message with neither id nor method")
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Debug("read loop ended", "error", err)
	}

	// The peer went away; outstanding callers should not sit out their
	// full timeouts.
	c.failPending(domain.ErrConnClosed)
}

func (c *Conn) dispatchResponse(msg message) {
	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Late reply to a timed-out or cancelled request. Dropped by
		// contract.
		return
	}

	if msg.Error != nil {
		ch <- outcome{err: msg.Error}
		return
	}

	var result any
	if len(msg.Result) > 0 {
		if err := json.Unmarshal(msg.Result, &result); err != nil {
			ch <- outcome{err: fmt.Errorf("decode result for id %d: %w", *msg.ID, err)}
			return
		}
	}
	ch <- outcome{result: result}
}

func (c *Conn) dispatchNotification(msg message) {
	var raw json.RawMessage
	if msg.Params != nil {
		if b, err := json.Marshal(msg.Params); err == nil {
			raw = b
		}
	}

	c.mu.Lock()
	fn, ok := c.handlers[msg.Method]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("unhandled notification", "method", msg.Method)
		return
	}
	fn(raw)
}

func (c *Conn) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan outcome)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- outcome{err: err}
	}
}
