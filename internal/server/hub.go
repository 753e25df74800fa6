package server

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/vessel-dashboard/internal/metrics"
	"github.com/p-blackswan/vessel-dashboard/internal/store"
)

// WebSocket close codes.
const (
	CloseUnauthenticated = 4001
	CloseTryAgainLater   = 1013
)

const (
	writeWait     = 10 * time.Second
	actionTimeout = 15 * time.Second
	historyLimit  = 40
)

// message is a server to client frame.
type message struct {
	Type     string `json:"type"`
	Data     any    `json:"data,omitempty"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
}

// request is a client to server frame.
type request struct {
	Action   string `json:"action"`
	Provider string `json:"provider"`
	Channel  string `json:"channel"`
	Limit    int    `json:"limit"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (cl *client) send(msg message) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return cl.conn.WriteMessage(websocket.TextMessage, data)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = conn.Close()
}

// Hub tracks connected dashboard clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	max     int
	ctx     context.Context
	cancel  context.CancelFunc
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func newHub(max int, m *metrics.Metrics, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients: make(map[*client]struct{}),
		max:     max,
		ctx:     ctx,
		cancel:  cancel,
		metrics: m,
		logger:  logger.With().Str("component", "ws").Logger(),
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= h.max {
		return false
	}
	h.clients[cl] = struct{}{}
	h.gauge()
	return true
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, cl)
	h.gauge()
}

// gauge must be called with h.mu held.
func (h *Hub) gauge() {
	if h.metrics != nil {
		h.metrics.SetWSConnections(len(h.clients))
	}
}

// Broadcast sends msg to every client. Clients that fail to receive it
// are dropped.
func (h *Hub) Broadcast(msg message) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		targets = append(targets, cl)
	}
	h.mu.Unlock()

	for _, cl := range targets {
		if err := cl.send(msg); err != nil {
			h.logger.Debug().Err(err).Msg("dropping unreachable client")
			h.remove(cl)
			_ = cl.conn.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		closeWith(cl.conn, websocket.CloseGoingAway, "server shutting down")
		delete(h.clients, cl)
	}
	h.gauge()
}

// upgradeOnly rejects plain HTTP requests to the WebSocket route.
func (s *Server) upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *Hub) handler(s *Server) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		if !s.registry.Authenticate(conn.Cookies(SessionCookie)) {
			closeWith(conn, CloseUnauthenticated, "not authenticated")
			return
		}
		cl := &client{conn: conn}
		if !h.add(cl) {
			h.logger.Warn().Int("max", h.max).Msg("connection limit reached")
			closeWith(conn, CloseTryAgainLater, "too many connections")
			return
		}
		defer h.remove(cl)

		if err := cl.send(s.initMessage()); err != nil {
			return
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug().Err(err).Msg("client disconnected")
				}
				return
			}
			var req request
			if err := sonic.Unmarshal(data, &req); err != nil {
				_ = cl.send(message{Type: "error", Error: "invalid message"})
				continue
			}
			if err := s.dispatch(cl, req); err != nil {
				h.logger.Warn().Err(err).Str("action", req.Action).Msg("ws action failed")
				_ = cl.send(message{Type: "error", Error: req.Action + " failed"})
			}
		}
	})
}

func (s *Server) initMessage() message {
	ctx, cancel := context.WithTimeout(s.hub.ctx, actionTimeout)
	defer cancel()

	data := fiber.Map{
		"version": s.cfg.Version,
		"time":    time.Now().Format("15:04:05"),
	}
	if st, err := s.collectStats(ctx); err == nil {
		data["stats"] = st
	}
	return message{Type: "init", Data: data}
}

func (s *Server) dispatch(cl *client, req request) error {
	ctx, cancel := context.WithTimeout(s.hub.ctx, actionTimeout)
	defer cancel()

	switch req.Action {
	case "ping":
		return cl.send(message{Type: "pong"})
	case "stats":
		st, err := s.collectStats(ctx)
		if err != nil {
			return err
		}
		return cl.send(message{Type: "stats", Data: st})
	case "chat_history":
		limit := req.Limit
		if limit <= 0 {
			limit = historyLimit
		}
		msgs, err := s.store.LoadChatHistory(ctx, req.Provider, req.Channel, limit)
		if err != nil {
			return err
		}
		if msgs == nil {
			msgs = []store.ChatMessage{}
		}
		return cl.send(message{Type: "chat_history", Provider: req.Provider, Data: msgs})
	case "clear_chat":
		n, err := s.store.ClearChatHistory(ctx, req.Channel)
		if err != nil {
			return err
		}
		return cl.send(message{Type: "chat_cleared", Data: fiber.Map{"removed": n}})
	default:
		return cl.send(message{Type: "error", Error: "unknown action: " + req.Action})
	}
}
