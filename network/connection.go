// network/connection.go
package network

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/tictactoe/logger"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Options 连接参数
type Options struct {
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

// DefaultOptions: ping every 54s, read timeout 60s.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:     60 * time.Second,
		PingInterval:    54 * time.Second,
		WriteTimeout:    10 * time.Second,
		SendBuffer:      64,
		MaxMessageBytes: 4096,
	}
}

// WSConnection wraps a websocket with a buffered outbox drained by
// WritePump. Send never blocks.
type WSConnection struct {
	conn      *websocket.Conn
	opts      Options
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewWSConnection(conn *websocket.Conn, opts Options) *WSConnection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	c := &WSConnection{
		conn: conn,
		opts: opts,
		send: make(chan []byte, opts.SendBuffer),
		done: make(chan struct{}),
	}

	if opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(opts.MaxMessageBytes)
	}
	c.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})
	return c
}

func (c *WSConnection) extendReadDeadline() {
	if c.opts.ReadTimeout <= 0 {
		return
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
		logger.Log.Debugw("set read deadline failed", "remote", c.RemoteAddr(), "error", err)
	}
}

// Send queues data for the write pump.
func (c *WSConnection) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// ReadMessage blocks for the next data frame. Any inbound frame, data or
// pong, pushes the read deadline forward.
func (c *WSConnection) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.extendReadDeadline()
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WritePump drains the outbox and sends pings until Close. It owns every
// write on the socket and closes it on return.
func (c *WSConnection) WritePump() {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer c.conn.Close()

	for {
		select {
		case data := <-c.send:
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Log.Debugw("write failed", "remote", c.RemoteAddr(), "error", err)
				c.Close()
				return
			}
		case <-ping:
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is already queued, best effort.
func (c *WSConnection) flush() {
	for {
		select {
		case data := <-c.send:
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *WSConnection) setWriteDeadline() {
	if c.opts.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
}

// Close stops the write pump, which then closes the socket.
func (c *WSConnection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// Done is closed once Close has been called.
func (c *WSConnection) Done() <-chan struct{} {
	return c.done
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
