// Package client is a websocket client for the EQS daemon. It speaks the /ws
// RPC protocol and delivers pushed visualization and environment frames to
// registered handlers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/eqs/internal/core/eqs"
	"github.com/zeusync/eqs/internal/core/eqs/coordinator"
	"github.com/zeusync/eqs/internal/core/eqs/query"
	"github.com/zeusync/eqs/internal/core/observability/log"
)

// Config holds configuration for the client
type Config struct {
	// URL is the websocket endpoint, e.g. ws://127.0.0.1:8080/ws.
	URL string
	// Visualize subscribes to full ranked result frames on connect.
	Visualize bool

	HandshakeTimeout time.Duration
	// RequestTimeout applies when the call context has no deadline.
	RequestTimeout time.Duration
	Header         http.Header

	Logger log.Log
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		URL:              "ws://127.0.0.1:8080/ws",
		HandshakeTimeout: 10 * time.Second,
		RequestTimeout:   30 * time.Second,
	}
}

// QueryResponse mirrors the daemon's query reply.
type QueryResponse struct {
	QueryID         string                          `json:"queryId"`
	Status          coordinator.Status              `json:"status"`
	ErrorMessage    string                          `json:"errorMessage,omitempty"`
	ResultCount     int                             `json:"resultCount"`
	ExecutionTimeMS float64                         `json:"executionTimeMs"`
	Stage           coordinator.Stage               `json:"stage"`
	Stats           coordinator.Stats               `json:"stats"`
	Results         []coordinator.LocationCandidate `json:"results"`
}

// VisualizationFrame carries every ranked candidate of a finished query.
type VisualizationFrame struct {
	QueryID     string                          `json:"queryId"`
	Status      coordinator.Status              `json:"status"`
	ResultCount int                             `json:"resultCount"`
	Candidates  []coordinator.LocationCandidate `json:"candidates"`
}

type (
	VisualizationHandler func(VisualizationFrame)
	EnvironmentHandler   func(eqs.EnvironmentSummary)
)

type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type envelope struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

// Client is a connected EQS session. It is safe for concurrent use.
type Client struct {
	cfg  Config
	conn *websocket.Conn
	log  log.Log

	nextID  atomic.Uint64
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan envelope

	handlerMu     sync.RWMutex
	onVisualize   []VisualizationHandler
	onEnvironment []EnvironmentHandler

	closed   atomic.Bool
	readDone chan struct{}
	readErr  error
}

// Dial connects to the daemon.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	url := cfg.URL
	if cfg.Visualize {
		url += "?visualize=true"
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	c := &Client{
		cfg:      cfg,
		conn:     conn,
		log:      cfg.Logger.With(log.String("component", "eqs_client")),
		pending:  make(map[string]chan envelope),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	c.log.Debug("connected", log.String("url", cfg.URL))
	return c, nil
}

// OnVisualization registers a handler for ranked result frames. Handlers run on
// the read goroutine and must not block.
func (c *Client) OnVisualization(h VisualizationHandler) {
	c.handlerMu.Lock()
	c.onVisualize = append(c.onVisualize, h)
	c.handlerMu.Unlock()
}

// OnEnvironment registers a handler for environment initialization notices.
func (c *Client) OnEnvironment(h EnvironmentHandler) {
	c.handlerMu.Lock()
	c.onEnvironment = append(c.onEnvironment, h)
	c.handlerMu.Unlock()
}

func (c *Client) InitializeEnvironment(ctx context.Context, req eqs.InitRequest) (eqs.EnvironmentSummary, error) {
	var sum eqs.EnvironmentSummary
	err := c.Call(ctx, "initializeEnvironment", req, &sum)
	return sum, err
}

// PerformQuery runs a query. A query without candidates is not an error: the
// response carries status failure.
func (c *Client) PerformQuery(ctx context.Context, req query.Request) (QueryResponse, error) {
	var res QueryResponse
	err := c.Call(ctx, "performQuery", req, &res)
	return res, err
}

func (c *Client) Environment(ctx context.Context) (eqs.EnvironmentSummary, error) {
	var sum eqs.EnvironmentSummary
	err := c.Call(ctx, "getEnvironment", nil, &sum)
	return sum, err
}

func (c *Client) Result(ctx context.Context, queryID string) (QueryResponse, error) {
	var res QueryResponse
	err := c.Call(ctx, "getResult", map[string]string{"queryId": queryID}, &res)
	return res, err
}

// Visualize toggles visualization frames for this session.
func (c *Client) Visualize(ctx context.Context, enabled bool) error {
	return c.Call(ctx, "visualize", map[string]bool{"enabled": enabled}, nil)
}

// Call sends one RPC and decodes the result into out, which may be nil.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan envelope, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(ctx, request{ID: id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if out == nil || len(msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, method, err)
		}
		return nil
	case <-c.readDone:
		if c.readErr != nil {
			return fmt.Errorf("%w: %v", ErrClientClosed, c.readErr)
		}
		return ErrClientClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrRequestTimeout, method)
		}
		return ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, req request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send %s: %w", req.Method, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	for {
		var msg envelope
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !c.closed.Load() {
				c.readErr = err
				c.log.Warn("connection lost", log.Error(err))
			}
			return
		}
		switch msg.Type {
		case "response":
			c.deliver(msg)
		case "visualization":
			var frame VisualizationFrame
			if err := json.Unmarshal(msg.Result, &frame); err != nil {
				c.log.Warn("bad visualization frame", log.Error(err))
				continue
			}
			c.handlerMu.RLock()
			for _, h := range c.onVisualize {
				h(frame)
			}
			c.handlerMu.RUnlock()
		case "environment":
			var sum eqs.EnvironmentSummary
			if err := json.Unmarshal(msg.Result, &sum); err != nil {
				c.log.Warn("bad environment frame", log.Error(err))
				continue
			}
			c.handlerMu.RLock()
			for _, h := range c.onEnvironment {
				h(sum)
			}
			c.handlerMu.RUnlock()
		default:
			c.log.Debug("ignoring frame", log.String("type", msg.Type))
		}
	}
}

func (c *Client) deliver(msg envelope) {
	if msg.ID == "" {
		if msg.Error != nil {
			c.log.Warn("server rejected a frame", log.String("error", msg.Error.Message))
		}
		return
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ID]
	c.pendingMu.Unlock()
	if ok {
		ch <- msg
	}
}

// Close sends a close frame and waits for the read loop to stop.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.readDone
	return err
}

func (c *Client) IsClosed() bool { return c.closed.Load() }
