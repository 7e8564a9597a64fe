package wsserver

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/relaymesh-go/internal/telemetry/logger"
)

type socketHandler struct {
	sessions Sessions
	verifier TokenVerifier
	access   AccessChecker
	nonces   NonceChecker
	proxies  TrustedProxies
	cfg      SocketConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func newSocketHandler(cfg RouterConfig, log *slog.Logger) *socketHandler {
	h := &socketHandler{
		sessions: cfg.Sessions,
		verifier: cfg.Verifier,
		access:   cfg.Access,
		nonces:   cfg.Nonces,
		proxies:  cfg.TrustedProxies,
		cfg:      cfg.Socket,
		logger:   log,
		conns:    make(map[*conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      originChecker(cfg.AllowedOrigins),
	}
	return h
}

// originChecker allows any origin for an empty list.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

func (h *socketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed",
			"request_id", logger.RequestIDFromContext(r.Context()),
			"error", err)
		return
	}

	ctx := r.Context()
	c := newConn(ws, h.cfg, h.logger)
	sock := h.sessions.Open(requestHost(r), c)
	log := h.logger.With("socket_id", sock.ID, "host", sock.Host)
	c.logger = log
	go c.writeLoop()

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		h.sessions.Close(sock.ID)
		c.shutdown(websocket.CloseNormalClosure, "")
		<-c.done
	}()

	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}
	if h.cfg.PingInterval > 0 {
		wait := 2 * h.cfg.PingInterval
		ws.SetReadDeadline(time.Now().Add(wait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wait))
		})
	}

	log.Debug("socket opened", "client_ip", h.proxies.ClientIP(r))
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug("socket read failed", "error", err)
			}
			return
		}
		if h.cfg.PingInterval > 0 {
			ws.SetReadDeadline(time.Now().Add(2 * h.cfg.PingInterval))
		}
		if kind != websocket.TextMessage {
			c.reply(errorReply(controlRequest{}, errBinaryControl))
			continue
		}
		c.reply(h.control(ctx, sock, data))
	}
}

func (h *socketHandler) closeAll(reason string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.shutdown(websocket.CloseGoingAway, reason)
	}
	return len(h.conns)
}
