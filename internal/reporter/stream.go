package reporter

import (
	"net/http"
	"sync"
	"time"

	"liquidation-bot-go/internal/models"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	writeWait    = 5 * time.Second
	pingInterval = 30 * time.Second
	clientBuffer = 256
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Stream broadcasts every event as JSON to the connected websocket clients.
// A client that cannot keep up misses events instead of slowing the others.
type Stream struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

// NewStream creates a stream with no clients.
func NewStream(logger *zap.Logger) *Stream {
	return &Stream{
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

func (s *Stream) Name() string { return "stream" }

// ServeHTTP upgrades the request and streams events until the client leaves.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &streamClient{conn: conn, send: make(chan []byte, clientBuffer)}
	if !s.register(c) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bot stopped"))
		conn.Close()
		return
	}
	s.logger.Info("Event stream client connected", zap.String("remote", r.RemoteAddr))

	// The reader only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.writeLoop(c, gone)
	s.unregister(c)
	conn.Close()
	s.logger.Info("Event stream client disconnected", zap.String("remote", r.RemoteAddr))
}

func (s *Stream) writeLoop(c *streamClient, gone <-chan struct{}) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bot stopped"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Stream) register(c *streamClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Stream) unregister(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Stream) Report(e models.Event) {
	msg, err := json.Marshal(e.Record())
	if err != nil {
		s.logger.Error("Failed to encode event", zap.String("type", string(e.Type)), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Close disconnects every client after its queued events were written.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
	return nil
}
