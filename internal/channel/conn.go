package channel

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/extreload/internal/protocol"
)

type conn struct {
	ws     *websocket.Conn
	remote string
	send   chan []byte
	done   chan struct{}
	open   atomic.Bool
	once   sync.Once
}

func newConn(ws *websocket.Conn, queueSize int) *conn {
	c := &conn{
		ws:     ws,
		remote: ws.RemoteAddr().String(),
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
	c.open.Store(true)

	return c
}

// enqueue never blocks.
func (c *conn) enqueue(data []byte) bool {
	if !c.open.Load() {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		c.open.Store(false)
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) writeLoop(logger *slog.Logger) {
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))

			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("write failed", slog.String("remote", c.remote), slog.String("error", err.Error()))
				return
			}
		}
	}
}

// readLoop drains inbound frames until the peer goes away. Extensions do not
// need to talk back, but malformed frames are logged and dropped without
// closing the connection.
func (c *conn) readLoop(logger *slog.Logger) {
	defer c.close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		msg, decodeErr := protocol.Decode(data)
		if decodeErr != nil {
			logger.Warn("dropping malformed message",
				slog.String("remote", c.remote),
				slog.String("error", decodeErr.Error()),
			)

			continue
		}

		logger.Debug("message from extension",
			slog.String("remote", c.remote),
			slog.String("action", string(msg.Action)),
		)
	}
}
