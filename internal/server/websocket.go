package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/eqs/internal/core/eqs"
	"github.com/zeusync/eqs/internal/core/eqs/coordinator"
	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/query"
	"github.com/zeusync/eqs/internal/core/events/bus"
	"github.com/zeusync/eqs/internal/core/observability/log"
)

// RPC methods accepted on /ws.
const (
	MethodInitializeEnvironment = "initializeEnvironment"
	MethodPerformQuery          = "performQuery"
	MethodGetEnvironment        = "getEnvironment"
	MethodGetResult             = "getResult"
	MethodVisualize             = "visualize"
)

// Message types sent to clients.
const (
	TypeResponse      = "response"
	TypeVisualization = "visualization"
	TypeEnvironment   = "environment"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 1 << 20
)

// Request is one RPC call from a client.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Message is everything the server writes: RPC replies and pushed frames.
type Message struct {
	Type   string     `json:"type"`
	ID     string     `json:"id,omitempty"`
	Result any        `json:"result,omitempty"`
	Error  *errorBody `json:"error,omitempty"`
}

// VisualizationFrame is the full ranked candidate set of a finished query.
type VisualizationFrame struct {
	QueryID     string                          `json:"queryId"`
	Status      coordinator.Status              `json:"status"`
	ResultCount int                             `json:"resultCount"`
	Candidates  []coordinator.LocationCandidate `json:"candidates"`
}

// Session is a connected websocket client.
type Session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn      *websocket.Conn
	send      chan []byte
	visualize atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// enqueue never blocks; a slow client loses frames.
func (s *Session) enqueue(msg []byte) bool {
	select {
	case <-s.done:
		return false
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// Hub owns websocket sessions, answers RPC calls and pushes visualization frames.
type Hub struct {
	engine     Engine
	log        log.Log
	maxClients int
	upgrader   websocket.Upgrader

	sessions sync.Map // map[string]*Session
	count    atomic.Int64
	dropped  atomic.Uint64

	subs []bus.Subscription
}

// NewHub creates a hub. checkOrigin may be nil to accept any origin.
func NewHub(engine Engine, maxClients int, checkOrigin func(*http.Request) bool, logger log.Log) *Hub {
	if logger == nil {
		logger = log.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		engine:     engine,
		log:        logger.With(log.String("component", "ws")),
		maxClients: maxClients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Attach routes bus events to sessions.
func (h *Hub) Attach(b bus.EventBus) error {
	sub, err := b.Subscribe(eqs.EventQueryCompleted, h.onQuery)
	if err != nil {
		return err
	}
	h.subs = append(h.subs, sub)
	if sub, err = b.Subscribe(eqs.EventEnvironmentInitialized, h.onEnvironment); err != nil {
		return errors.Join(err, h.Detach(b))
	}
	h.subs = append(h.subs, sub)
	return nil
}

func (h *Hub) Detach(b bus.EventBus) error {
	var err error
	for _, s := range h.subs {
		err = errors.Join(err, b.Unsubscribe(s))
	}
	h.subs = nil
	return err
}

func (h *Hub) onQuery(e bus.Event) error {
	res, ok := e.Data().(*coordinator.QueryResult)
	if !ok {
		return nil
	}
	frame := VisualizationFrame{
		QueryID:     res.QueryID,
		Status:      res.Status,
		ResultCount: len(res.Results),
		Candidates:  res.Ranked,
	}
	if frame.Candidates == nil {
		frame.Candidates = []coordinator.LocationCandidate{}
	}
	h.broadcast(Message{Type: TypeVisualization, Result: frame}, true)
	return nil
}

func (h *Hub) onEnvironment(e bus.Event) error {
	h.broadcast(Message{Type: TypeEnvironment, Result: e.Data()}, false)
	return nil
}

func (h *Hub) broadcast(msg Message, visualizersOnly bool) {
	if h.count.Load() == 0 {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("encode broadcast", log.String("type", msg.Type), log.Error(err))
		return
	}
	h.sessions.Range(func(_, v any) bool {
		s := v.(*Session)
		if visualizersOnly && !s.visualize.Load() {
			return true
		}
		if !s.enqueue(raw) {
			h.dropped.Add(1)
		}
		return true
	})
}

// ClientCount is the number of connected sessions.
func (h *Hub) ClientCount() int { return int(h.count.Load()) }

// Close disconnects every session.
func (h *Hub) Close() {
	h.sessions.Range(func(_, v any) bool {
		v.(*Session).close()
		return true
	})
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxClients > 0 && int(h.count.Load()) >= h.maxClients {
		h.log.Warn("websocket rejected", log.String("remote_addr", clientIP(r)), log.Error(ErrMaxClientsReached))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: ErrMaxClientsReached.Error(), Kind: "unavailable"})
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", log.Error(err))
		return
	}
	s := &Session{
		ID:          uuid.NewString(),
		RemoteAddr:  clientIP(r),
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
	s.visualize.Store(r.URL.Query().Get("visualize") == "true")
	h.sessions.Store(s.ID, s)
	total := h.count.Add(1)
	h.log.Info("client connected",
		log.String("session_id", s.ID),
		log.String("remote_addr", s.RemoteAddr),
		log.Int64("total_clients", total),
	)

	go h.writeLoop(s)
	h.readLoop(r.Context(), s)
}

func (h *Hub) readLoop(ctx context.Context, s *Session) {
	defer func() {
		s.close()
		h.sessions.Delete(s.ID)
		total := h.count.Add(-1)
		h.log.Info("client disconnected", log.String("session_id", s.ID), log.Int64("total_clients", total))
	}()

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Requests are handled in arrival order so a client sees its own replies in order.
	ctx = context.WithoutCancel(ctx)
	for {
		var req Request
		if err := s.conn.ReadJSON(&req); err != nil {
			var syntax *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typeErr) {
				h.reply(s, Message{Type: TypeResponse, Error: &errorBody{Error: err.Error(), Kind: "configuration"}})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read failed", log.String("session_id", s.ID), log.Error(err))
			}
			return
		}
		result, err := h.dispatch(ctx, s, req)
		msg := Message{Type: TypeResponse, ID: req.ID, Result: result}
		if err != nil {
			body := bodyFor(err)
			msg.Result, msg.Error = nil, &body
		}
		h.reply(s, msg)
	}
}

func (h *Hub) reply(s *Session, msg Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("encode reply", log.String("session_id", s.ID), log.Error(err))
		return
	}
	if !s.enqueue(raw) {
		h.dropped.Add(1)
	}
}

func (h *Hub) writeLoop(s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, s *Session, req Request) (any, error) {
	switch req.Method {
	case MethodInitializeEnvironment:
		init, err := decodeInit(paramsReader(req.Params))
		if err != nil {
			return nil, err
		}
		return h.engine.InitializeEnvironment(ctx, init)

	case MethodPerformQuery:
		var q query.Request
		if err := decodeBody(paramsReader(req.Params), &q); err != nil {
			return nil, err
		}
		res, err := h.engine.PerformQuery(ctx, q)
		if err != nil {
			return nil, err
		}
		return newQueryResponse(res), nil

	case MethodGetEnvironment:
		sum, ok := h.engine.Environment()
		if !ok {
			return nil, eqserr.ErrEnvironmentNotInitialized
		}
		return sum, nil

	case MethodGetResult:
		var p struct {
			QueryID string `json:"queryId"`
		}
		if err := decodeBody(paramsReader(req.Params), &p); err != nil {
			return nil, err
		}
		res, ok := h.engine.CachedResult(p.QueryID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrResultNotFound, p.QueryID)
		}
		return newQueryResponse(res), nil

	case MethodVisualize:
		var p struct {
			Enabled bool `json:"enabled"`
		}
		if err := decodeBody(paramsReader(req.Params), &p); err != nil {
			return nil, err
		}
		s.visualize.Store(p.Enabled)
		return map[string]bool{"enabled": p.Enabled}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
	}
}

func paramsReader(raw json.RawMessage) io.Reader { return bytes.NewReader(raw) }
