package terminal

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antibyte/webterm/pkg/auth"
	"github.com/antibyte/webterm/pkg/configuration"
	"github.com/antibyte/webterm/pkg/logger"
	"github.com/antibyte/webterm/pkg/metrics"
	"github.com/antibyte/webterm/pkg/shared"
	"github.com/antibyte/webterm/pkg/shell"
	"github.com/antibyte/webterm/pkg/virtualfs"
)

const (
	MaxClientsDefault = 100
	limiterIdle       = 10 * time.Minute
)

// TerminalHandler accepts websocket terminals and the backup endpoints.
type TerminalHandler struct {
	registry  *virtualfs.Registry
	options   shell.Options
	upgrader  websocket.Upgrader
	limiter   *IPRateLimiter
	validator *SecurityValidator

	clients    map[*Client]bool
	mutex      sync.RWMutex
	maxClients int

	done     chan struct{}
	doneOnce sync.Once
}

// Client is one connected browser tab.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	handler   *TerminalHandler
	ipAddress string
	profile   string
	session   *shell.Session
	shutdown  chan struct{}
	closeOnce sync.Once
}

// NewTerminalHandler creates a handler whose sessions load their files from
// registry and take their defaults from opts.
func NewTerminalHandler(registry *virtualfs.Registry, opts shell.Options, limiter *IPRateLimiter) *TerminalHandler {
	if limiter == nil {
		limiter = NewIPRateLimiter(RateLimitConfigFromSettings())
	}
	allowed := configuration.GetList("Network", "allowed_origins", nil)
	h := &TerminalHandler{
		registry:   registry,
		options:    opts,
		limiter:    limiter,
		validator:  NewSecurityValidator(),
		clients:    make(map[*Client]bool),
		maxClients: configuration.GetInt("Network", "max_clients", MaxClientsDefault),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if checkOrigin(r, allowed) {
					return true
				}
				logger.Warn(logger.AreaSecurity, "WebSocket request from disallowed origin rejected: %s", r.Header.Get("Origin"))
				return false
			},
		},
	}
	go h.pruneLimiter()
	return h
}

// checkOrigin accepts requests without an Origin header, origins from the
// allow-list, or, when the list is empty, the server's own host.
func checkOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(allowed) > 0 {
		for _, a := range allowed {
			if strings.EqualFold(origin, a) {
				return true
			}
		}
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// Routes registers the websocket, auth and backup endpoints on mux.
func (h *TerminalHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWebSocket)
	mux.Handle("/api/auth/session", h.limiter.Middleware(http.HandlerFunc(auth.HandleCreateSession)))
	mux.Handle("/api/fs/export", h.limiter.Middleware(auth.RequireProfileToken(h.HandleExport)))
	mux.Handle("/api/fs/import", h.limiter.Middleware(auth.RequireProfileToken(h.HandleImport)))
}

// HandleWebSocket authenticates the profile token, upgrades the connection
// and starts a fresh Session bound to the profile's files.
func (h *TerminalHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ipAddress := auth.GetClientIP(r)

	if !h.limiter.Allow(ipAddress) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	if h.ClientCount() >= h.maxClients {
		logger.Warn(logger.AreaSecurity, "Maximum clients reached, connection rejected: %s", ipAddress)
		http.Error(w, "Server overloaded", http.StatusServiceUnavailable)
		return
	}

	token, err := auth.ExtractTokenFromRequest(r)
	if err != nil {
		logger.Warn(logger.AreaAuth, "WebSocket request without token from %s", ipAddress)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ValidateProfileToken(token)
	if err != nil {
		logger.Warn(logger.AreaAuth, "Invalid token in WebSocket request from %s: %v", ipAddress, err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error(logger.AreaWebSocket, "WebSocket upgrade failed for %s: %v", ipAddress, err)
		return
	}

	profile := claims.ProfileID
	files, err := h.registry.Acquire(profile)
	if err != nil {
		logger.Error(logger.AreaStorage, "Loading files for profile %s failed: %v", profile, err)
		closeWithReason(conn, websocket.CloseInternalServerErr, "storage unavailable")
		return
	}
	session, err := shell.NewSession(files, h.registry.Store(profile), h.options)
	if err != nil {
		h.registry.Release(profile)
		logger.Error(logger.AreaStorage, "Loading settings for profile %s failed: %v", profile, err)
		closeWithReason(conn, websocket.CloseInternalServerErr, "storage unavailable")
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan []byte, getMaxChannelBuffer()),
		handler:   h,
		ipAddress: ipAddress,
		profile:   profile,
		session:   session,
		shutdown:  make(chan struct{}),
	}

	h.mutex.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mutex.Unlock()
	metrics.Default().WSConnections.Inc()
	logger.Info(logger.AreaWebSocket, "Client %s connected with profile %s (%d active)", ipAddress, profile, total)

	client.writeMessages([]shared.Message{{Type: shared.MessageTypeSession, SessionID: profile}})
	client.writeMessages(session.Welcome())

	go client.writePump()
	go client.readPump()
}

func closeWithReason(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(getWriteWait())
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

// Send queues a frame. A client whose buffer is full is disconnected.
func (c *Client) Send(message []byte) {
	select {
	case <-c.shutdown:
		return
	default:
	}
	select {
	case c.send <- message:
	default:
		logger.Warn(logger.AreaWebSocket, "Send buffer full for client %s, disconnecting", c.ipAddress)
		go c.handler.cleanupClient(c)
	}
}

// writeMessages serialises messages and queues them in order.
func (c *Client) writeMessages(messages []shared.Message) {
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			logger.Error(logger.AreaWebSocket, "Error marshalling message: %v", err)
			continue
		}
		metrics.Default().WSMessages.WithLabelValues("out", messageTypeLabel(msg.Type)).Inc()
		c.Send(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *TerminalHandler) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// cleanupClient unregisters a client and releases its file map. It is safe
// to call more than once.
func (h *TerminalHandler) cleanupClient(client *Client) {
	h.mutex.Lock()
	_, registered := h.clients[client]
	delete(h.clients, client)
	h.mutex.Unlock()

	client.closeOnce.Do(func() {
		close(client.shutdown)
		client.conn.Close()
	})
	if registered {
		h.registry.Release(client.profile)
		metrics.Default().WSConnections.Dec()
		logger.Info(logger.AreaWebSocket, "Client %s disconnected (profile %s)", client.ipAddress, client.profile)
	}
}

// Shutdown closes every connection with a going-away frame and stops
// background work.
func (h *TerminalHandler) Shutdown() {
	h.doneOnce.Do(func() { close(h.done) })

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mutex.RUnlock()

	for _, c := range clients {
		deadline := time.Now().Add(time.Second)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		h.cleanupClient(c)
	}
}

func (h *TerminalHandler) pruneLimiter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := h.limiter.Prune(limiterIdle); n > 0 {
				logger.Debug(logger.AreaSecurity, "Pruned %d idle rate limit entries", n)
			}
		case <-h.done:
			return
		}
	}
}
