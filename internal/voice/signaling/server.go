package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// RateLimit caps inbound frames per connection.
type RateLimit struct {
	Enabled         bool
	FramesPerSecond float64
	Burst           int
	MaxMessageSize  int64
}

// Server accepts voice gateway websockets and pumps frames into the
// handler. It owns the connections; the handler sees them as Sockets.
type Server struct {
	handler *Handler

	pingInterval time.Duration
	pongTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	rateLimit    RateLimit

	logger *zap.SugaredLogger
}

func NewServer(handler *Handler, rateLimit RateLimit, logger *zap.SugaredLogger) *Server {
	return &Server{
		handler:      handler,
		pingInterval: 30 * time.Second,
		pongTimeout:  60 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		rateLimit:    rateLimit,
		logger:       logger,
	}
}

// SetPingInterval sets ping interval for websocket connections.
func (s *Server) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

// SetPongTimeout sets pong timeout for websocket connections.
func (s *Server) SetPongTimeout(timeout time.Duration) {
	s.pongTimeout = timeout
	s.readTimeout = timeout
}

// wsSocket adapts a gorilla connection to the handler's Socket interface.
// Writes are serialized; gorilla connections do not allow concurrent
// writers.
type wsSocket struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       bool
}

func (ws *wsSocket) ID() string { return ws.id }

func (ws *wsSocket) Send(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return websocket.ErrCloseSent
	}
	ws.conn.SetWriteDeadline(time.Now().Add(ws.writeTimeout))
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

func (ws *wsSocket) Close(code int, reason string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return
	}
	ws.closed = true
	ws.conn.SetWriteDeadline(time.Now().Add(ws.writeTimeout))
	ws.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	ws.conn.Close()
}

// HandleWebSocket upgrades the request and runs the connection until it
// drops. A socket close immediately triggers the full room-leave teardown.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	sock := &wsSocket{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: s.writeTimeout,
	}
	defer conn.Close()

	if s.rateLimit.Enabled && s.rateLimit.MaxMessageSize > 0 {
		conn.SetReadLimit(s.rateLimit.MaxMessageSize)
	}

	s.handler.Register(sock)
	s.logger.Infow("voice socket connected", "socket_id", sock.id, "remote", r.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	var limiter *rate.Limiter
	if s.rateLimit.Enabled {
		limiter = rate.NewLimiter(rate.Limit(s.rateLimit.FramesPerSecond), s.rateLimit.Burst)
	}

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan []byte, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			messageChan <- data
		}
	}()

	ctx := context.Background()

loop:
	for {
		select {
		case data := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				s.logger.Warnw("frame rate exceeded", "socket_id", sock.id)
				sock.Close(CloseMalformedPayload, "rate limit exceeded")
				break loop
			}
			s.handler.HandleFrame(ctx, sock, data)

		case <-pingTicker.C:
			sock.mu.Lock()
			closed := sock.closed
			if !closed {
				conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				err = conn.WriteMessage(websocket.PingMessage, nil)
			}
			sock.mu.Unlock()
			if closed || err != nil {
				break loop
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Infow("voice socket read error", "socket_id", sock.id, "error", err)
			}
			break loop
		}
	}

	s.handler.OnSocketClose(ctx, sock)
	s.logger.Infow("voice socket disconnected", "socket_id", sock.id)
}
