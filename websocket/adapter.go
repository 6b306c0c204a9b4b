package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomrelay-server/domain"
	"roomrelay-server/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	ErrQueueFull = errors.New("send queue full")
	ErrClosed    = errors.New("connection closed")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Router interface {
	Connect(attach func(domain.ConnectionID)) domain.ConnectionID
	Disconnect(id domain.ConnectionID) bool
}

type Switchboard interface {
	Attach(conn domain.Connection)
	Detach(conn domain.Connection)
}

type Options struct {
	MaxMessageSize int64
	SendBuffer     int
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

type Conn struct {
	id        domain.ConnectionID
	ws        *websocket.Conn
	codec     protocol.Codec
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	router    Router
	board     Switchboard
	handler   *protocol.Handler
	opts      Options
}

func NewConn(ws *websocket.Conn, codec protocol.Codec, r Router, b Switchboard, h *protocol.Handler, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		ws:      ws,
		codec:   codec,
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
		router:  r,
		board:   b,
		handler: h,
		opts:    opts,
	}
}

// Handler upgrades requests on the endpoint. ?codec=proto selects binary
// protobuf frames.
func Handler(r Router, b Switchboard, h *protocol.Handler, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}

		codec := protocol.CodecByName(req.URL.Query().Get("codec"))
		NewConn(conn, codec, r, b, h, opts).Start()
	}
}

func (c *Conn) ID() domain.ConnectionID { return c.id }

func (c *Conn) Send(d domain.Directive) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := c.codec.Encode(d)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.ws.Close()
}

func (c *Conn) Start() {
	c.router.Connect(func(id domain.ConnectionID) {
		c.id = id
		c.board.Attach(c)
	})
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.router.Disconnect(c.id)
		c.board.Detach(c)
		c.Close()
	}()

	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := context.Background()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "clientId", c.id, "error", err)
			}
			return
		}

		if err := c.handler.Handle(ctx, c, c.codec, data); err != nil {
			slog.Error("event failed", "clientId", c.id, "error", err)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	messageType := websocket.TextMessage
	if c.codec.Binary() {
		messageType = websocket.BinaryMessage
	}

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(messageType, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
