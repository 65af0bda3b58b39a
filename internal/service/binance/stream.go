package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	reconnectDelay = 3 * time.Second
	pingInterval   = 2 * time.Minute
	// A read must arrive within one ping round trip plus slack, otherwise
	// the transport is considered half-open and the read fails.
	readWait = pingInterval + 30*time.Second

	// MarketStreamID is the registry identity of the shared mark-price
	// stream. User-data sessions use their account id.
	MarketStreamID int64 = 0
)

// Handler consumes one decoded stream frame. Handlers run sequentially in
// registration order; a panic in one handler is recovered and logged without
// tearing down the session.
type Handler func(ctx context.Context, frame map[string]any)

// Session is one long-lived websocket connection with its own reconnect loop.
// A session is bound to an identity and created at most once per process via
// the Registry.
type Session struct {
	connect func(ctx context.Context) (*websocket.Conn, error)
	extra   func(ctx context.Context, s *Session)

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers []Handler
	cancel   context.CancelFunc

	running  atomic.Bool
	live     atomic.Int32
	expected atomic.Int32

	log *logrus.Entry
}

// Registry hands out singleton sessions per identity. Asking again for a
// running identity returns the existing instance, never a second connection.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]*Session)}
}

func (r *Registry) GetOrCreate(id int64, build func() *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[id]; ok {
		return session
	}

	session := build()
	r.sessions[id] = session
	return session
}

// Get returns the session for the identity, or nil when none exists.
func (r *Registry) Get(id int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// All snapshots every registered session.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// Remove drops the identity so the next GetOrCreate builds a fresh session.
// The caller kills the old session first.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (s *Session) AddHandler(handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Start launches the session loops. Calling Start on a running session is a
// logged no-op.
func (s *Session) Start() {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	expected := int32(1)
	if s.extra != nil {
		expected = 2
	}
	s.expected.Store(expected)

	if s.extra != nil {
		go s.runLoop(ctx, "keepalive", func() { s.extra(ctx, s) })
	}
	go s.runLoop(ctx, "receive", func() { s.receive(ctx) })
}

func (s *Session) runLoop(ctx context.Context, name string, fn func()) {
	s.live.Add(1)
	defer s.live.Add(-1)
	s.log.WithField("loop", name).Info("loop started")
	fn()
	s.log.WithField("loop", name).Info("loop stopped")
}

// Stop asks the loops to wind down and closes the transport.
func (s *Session) Stop() {
	s.running.Store(false)
	s.closeConn()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.log.Warn("stopping")
}

// Kill is the forced teardown used by the supervisor when the session is
// half-dead.
func (s *Session) Kill() {
	s.Stop()
}

// IsAlive reports whether every loop the session launched is still running.
func (s *Session) IsAlive() bool {
	return s.running.Load() && s.live.Load() == s.expected.Load()
}

func (s *Session) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// releaseConn closes the loop's own connection. The shared slot is cleared
// only when it still points at that connection, so a restarted session's
// fresh transport is never closed by the outgoing loop.
func (s *Session) releaseConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.Close()
	if s.conn == conn {
		s.conn = nil
	}
}

func (s *Session) receive(ctx context.Context) {
	// ctx belongs to this Start generation. Checking it alongside the run
	// flag keeps a killed loop from resuming when the supervisor restarts
	// the session.
	for s.running.Load() && ctx.Err() == nil {
		conn, err := s.connect(ctx)
		if err != nil {
			s.log.WithError(err).Error("failed to connect")
			s.sleep(ctx, reconnectDelay)
			continue
		}
		s.setConn(conn)

		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})

		stopPing := make(chan struct{})
		go s.pingLoop(ctx, conn, stopPing)

		for s.running.Load() && ctx.Err() == nil {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if s.running.Load() {
					s.log.WithError(err).Warn("connection closed")
				}
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			s.handleMessage(ctx, message)
		}

		close(stopPing)
		s.releaseConn(conn)
		s.sleep(ctx, reconnectDelay)
	}
}

// pingLoop keeps the transport honest: a half-open connection stops answering
// pings, the read deadline expires and the receive loop reconnects.
func (s *Session) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.WithError(err).Warn("ping failed")
				return
			}
		case <-ctx.Done():
			return
		case <-stop:
			return
		}
	}
}

func (s *Session) handleMessage(ctx context.Context, message []byte) {
	var frame map[string]any
	if err := json.Unmarshal(message, &frame); err != nil {
		// Combined streams can deliver array payloads; wrap them so
		// handlers always see one object shape.
		var list []any
		if err := json.Unmarshal(message, &list); err != nil {
			s.log.WithField("message", string(message)).Error("can not decode message")
			return
		}
		frame = map[string]any{"data": list}
	}

	if result, ok := frame["result"]; ok && result == nil {
		s.log.Debug("empty result")
		return
	}
	if status, ok := frame["status"]; ok {
		if code, isNumber := status.(float64); isNumber && code != 200 {
			s.log.WithField("frame", frame).Error("error frame received")
			return
		}
	}

	s.mu.Lock()
	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, handler := range handlers {
		s.dispatch(ctx, handler, frame)
	}
}

func (s *Session) dispatch(ctx context.Context, handler Handler, frame map[string]any) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.log.WithField("panic", recovered).Error("panic recovered in stream handler")
		}
	}()
	handler(ctx, frame)
}

func (s *Session) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// NewMarketSession builds the shared mark-price session. On every connect it
// subscribes to the all-symbols mark price stream at 1s cadence.
func NewMarketSession(wsBaseURL string) *Session {
	log := logrus.WithField("stream", "market_price")

	session := &Session{log: log}
	session.connect = func(ctx context.Context) (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, strings.TrimRight(wsBaseURL, "/"), nil)
		if err != nil {
			return nil, err
		}
		log.WithField("url", wsBaseURL).Info("connected")

		subscribe := map[string]any{
			"method": "SUBSCRIBE",
			"params": []string{"!markPrice@arr@1s"},
			"id":     time.Now().UnixMilli(),
		}
		if err := conn.WriteJSON(subscribe); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe mark price: %w", err)
		}
		log.Info("subscribed to all symbols")
		return conn, nil
	}

	return session
}
