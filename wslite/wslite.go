// Package wslite serves the relay over gobwas/ws for clients that want a
// low-allocation endpoint without gorilla's buffering.
package wslite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"roomrelay-server/domain"
	"roomrelay-server/protocol"
)

var (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	ErrQueueFull = errors.New("send queue full")
	ErrClosed    = errors.New("connection closed")
)

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

type Conn struct {
	id        domain.ConnectionID
	raw       net.Conn
	codec     protocol.Codec
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wmu       sync.Mutex
	maxSize   int64
	router    Router
	board     Switchboard
	handler   *protocol.Handler
}

// lockedWriter serialises control replies written by the reader with data
// frames written by the write loop. Every reply gets a fresh write deadline.
type lockedWriter struct {
	mu   *sync.Mutex
	conn net.Conn
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.Write(p)
}

func Handler(r Router, b Switchboard, h *protocol.Handler, opts Options) http.HandlerFunc {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}

	return func(w http.ResponseWriter, req *http.Request) {
		raw, _, _, err := ws.UpgradeHTTP(req, w)
		if err != nil {
			slog.Error("upgrade error", "transport", "lite", "error", err)
			return
		}

		c := &Conn{
			raw:     raw,
			codec:   protocol.CodecByName(req.URL.Query().Get("codec")),
			send:    make(chan []byte, opts.SendBuffer),
			done:    make(chan struct{}),
			maxSize: opts.MaxMessageSize,
			router:  r,
			board:   b,
			handler: h,
		}
		c.start()
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
	return c.raw.Close()
}

func (c *Conn) start() {
	c.router.Connect(func(id domain.ConnectionID) {
		c.id = id
		c.board.Attach(c)
	})
	go c.writeLoop()
	go c.readLoop()
}

func (c *Conn) readLoop() {
	defer func() {
		c.router.Disconnect(c.id)
		c.board.Detach(c)
		c.Close()
	}()

	control := wsutil.ControlFrameHandler(lockedWriter{mu: &c.wmu, conn: c.raw}, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         c.raw,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   c.maxSize,
		OnIntermediate: control,
	}

	ctx := context.Background()
	for {
		data, err := c.readMessage(rd, control)
		if err != nil {
			var closed wsutil.ClosedError
			switch {
			case errors.As(err, &closed), errors.Is(err, io.EOF):
			case errors.Is(err, wsutil.ErrFrameTooLarge):
				slog.Warn("message too large", "transport", "lite", "clientId", c.id, "limit", c.maxSize)
			default:
				slog.Error("read error", "transport", "lite", "clientId", c.id, "error", err)
			}
			return
		}

		if err := c.handler.Handle(ctx, c, c.codec, data); err != nil {
			slog.Error("event failed", "transport", "lite", "clientId", c.id, "error", err)
		}
	}
}

// readMessage returns the next text or binary payload. Control frames are
// answered in place, and any frame from the client extends the read deadline.
func (c *Conn) readMessage(rd *wsutil.Reader, control wsutil.FrameHandlerFunc) ([]byte, error) {
	for {
		c.raw.SetReadDeadline(time.Now().Add(pongWait))
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}

		// fragmented messages are bounded as a whole, not only per frame
		data, err := io.ReadAll(io.LimitReader(rd, c.maxSize+1))
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > c.maxSize {
			return nil, wsutil.ErrFrameTooLarge
		}
		return data, nil
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.raw.Close()
	}()

	op := ws.OpText
	if c.codec.Binary() {
		op = ws.OpBinary
	}

	for {
		select {
		case message := <-c.send:
			if err := c.write(op, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(ws.OpPing, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) write(op ws.OpCode, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.raw.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteServerMessage(c.raw, op, payload)
}
