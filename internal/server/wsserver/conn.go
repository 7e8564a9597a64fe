package wsserver

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/relaymesh-go/internal/core/domain"
)

// SocketConfig tunes one client socket.
type SocketConfig struct {
	// WriteTimeout bounds every write to the client.
	WriteTimeout time.Duration

	// PingInterval is how often the server pings. A client that stays
	// silent for two intervals is dropped. Zero disables pings.
	PingInterval time.Duration

	// SendQueue is the outbound queue length. A client that falls this far
	// behind is disconnected.
	SendQueue int

	// ReadLimit caps inbound message size.
	ReadLimit int64
}

// DefaultSocketConfig returns the stock socket settings.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		SendQueue:    256,
		ReadLimit:    64 << 10,
	}
}

type outbound struct {
	kind int
	data []byte
}

// conn is the outbound side of one websocket. It implements notify.Sink.
// A single writer goroutine owns all writes.
type conn struct {
	ws     *websocket.Conn
	cfg    SocketConfig
	logger *slog.Logger

	out     chan outbound
	closing chan struct{}
	done    chan struct{}

	once        sync.Once
	closeCode   int
	closeReason string
}

func newConn(ws *websocket.Conn, cfg SocketConfig, logger *slog.Logger) *conn {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSocketConfig().SendQueue
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultSocketConfig().WriteTimeout
	}
	return &conn{
		ws:      ws,
		cfg:     cfg,
		logger:  logger,
		out:     make(chan outbound, cfg.SendQueue),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Send queues a binary frame.
func (c *conn) Send(frame []byte) error {
	return c.enqueue(websocket.BinaryMessage, frame)
}

// SessionClosed tells the client that the server ended a session.
func (c *conn) SessionClosed(channel uint32, reason string) {
	c.reply(controlReply{
		Type:    replySessionClosed,
		Channel: channel,
		Reason:  reason,
	})
}

func (c *conn) reply(r controlReply) {
	data, err := json.Marshal(r)
	if err != nil {
		c.logger.Warn("failed to encode control reply",
			"type", r.Type,
			"error", err)
		return
	}
	c.enqueue(websocket.TextMessage, data)
}

func (c *conn) enqueue(kind int, data []byte) error {
	select {
	case <-c.closing:
		return domain.ErrSocketClosed
	default:
	}
	select {
	case c.out <- outbound{kind: kind, data: data}:
		return nil
	default:
		c.shutdown(websocket.ClosePolicyViolation, "send queue full")
		return domain.ErrSocketClosed.WithDetails("send queue full")
	}
}

// shutdown asks the writer to close the socket with code and reason.
func (c *conn) shutdown(code int, reason string) {
	c.once.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closing)
	})
}

func (c *conn) deadline() time.Time {
	return time.Now().Add(c.cfg.WriteTimeout)
}

// writeLoop drains the queue until shutdown, then sends a close frame and
// closes the connection, which also ends the read loop.
func (c *conn) writeLoop() {
	defer close(c.done)
	defer c.ws.Close()

	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case m := <-c.out:
			c.ws.SetWriteDeadline(c.deadline())
			if err := c.ws.WriteMessage(m.kind, m.data); err != nil {
				c.logger.Debug("socket write failed", "error", err)
				c.shutdown(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ping:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, c.deadline()); err != nil {
				c.logger.Debug("socket ping failed", "error", err)
				c.shutdown(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-c.closing:
			if c.closeCode != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
				c.ws.WriteControl(websocket.CloseMessage, msg, c.deadline())
			}
			return
		}
	}
}
