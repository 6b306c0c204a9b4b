package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"roomrelay-server/domain"
	"roomrelay-server/history"
	"roomrelay-server/hub"
	"roomrelay-server/registry"
	"roomrelay-server/router"
)

func newTestServer(t *testing.T) (*httptest.Server, Deps) {
	t.Helper()

	conns := registry.New()
	rooms := hub.NewDirectory()
	board := hub.NewSwitchboard()
	d := Deps{
		Router:         router.New(conns, rooms, history.NewMemory(), board),
		Conns:          conns,
		Rooms:          rooms,
		Board:          board,
		MaxMessageSize: 4096,
		SendBuffer:     64,
	}

	srv := httptest.NewServer(NewRouter(d))
	t.Cleanup(srv.Close)
	return srv, d
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	expectEvent(t, readFrame(t, conn), "welcome")
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func expectEvent(t *testing.T, frame map[string]any, event string) any {
	t.Helper()
	require.Equal(t, event, frame["event"], "frame %v", frame)
	return frame["data"]
}

func joinRoom(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	writeFrame(t, conn, "join_room", room)
	assert.Equal(t, room, expectEvent(t, readFrame(t, conn), "joined_room"))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t)
	c1 := dial(t, srv)
	c2 := dial(t, srv)
	joinRoom(t, c1, "general")
	joinRoom(t, c2, "general")
	joinRoom(t, c2, "random")

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, map[string]int{"rooms": 2, "members": 3, "connections": 2}, stats)
}

func TestWrongMethod(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/health", "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEndToEndScenario(t *testing.T) {
	srv, d := newTestServer(t)

	c1 := dial(t, srv)
	joinRoom(t, c1, "general")
	c2 := dial(t, srv)
	joinRoom(t, c2, "general")

	writeFrame(t, c1, "send_message", map[string]any{"room": "general", "message": "hello"})

	for _, conn := range []*websocket.Conn{c1, c2} {
		data := expectEvent(t, readFrame(t, conn), "receive_message").(map[string]any)
		assert.Equal(t, "hello", data["message"])
		assert.Equal(t, "general", data["room"])
		assert.Equal(t, float64(1), data["seq"])
		assert.NotEmpty(t, data["sender"])
	}

	c2.Close()
	require.Eventually(t, func() bool {
		_, members := d.Rooms.Stats()
		return members == 1
	}, 2*time.Second, 10*time.Millisecond)

	writeFrame(t, c1, "send_message", map[string]any{"room": "general", "message": "anyone?"})
	data := expectEvent(t, readFrame(t, c1), "receive_message").(map[string]any)
	assert.Equal(t, "anyone?", data["message"])
	assert.Equal(t, float64(2), data["seq"])

	resp, err := http.Get(srv.URL + "/rooms/general/history")
	require.NoError(t, err)
	defer resp.Body.Close()

	var records []domain.MessageRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 2)
	assert.Equal(t, "hello", records[0].Text)
	assert.Equal(t, uint64(1), records[0].Seq)
	assert.Equal(t, "anyone?", records[1].Text)
	assert.Equal(t, uint64(2), records[1].Seq)
	assert.Equal(t, records[0].Sender, records[1].Sender)
}

func TestBlankMessageIsDropped(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	joinRoom(t, c, "general")

	writeFrame(t, c, "send_message", map[string]any{"room": "general", "message": "   "})
	writeFrame(t, c, "ping", map[string]any{"timestamp": 7})

	// the pong arrives first because nothing was broadcast for the blank send
	data := expectEvent(t, readFrame(t, c), "pong").(map[string]any)
	assert.Equal(t, float64(7), data["timestamp"])
}

func TestHistoryOverSocket(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	joinRoom(t, c, "general")
	writeFrame(t, c, "send_message", map[string]any{"room": "general", "message": "one"})
	expectEvent(t, readFrame(t, c), "receive_message")

	writeFrame(t, c, "get_history", "general")

	data := expectEvent(t, readFrame(t, c), "history").(map[string]any)
	assert.Equal(t, "general", data["room"])
	messages := data["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "one", messages[0].(map[string]any)["message"])
}

func TestHistoryUnknownRoom(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/rooms/nowhere/history")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

type liteClient struct {
	conn net.Conn
	rw   io.ReadWriter
}

func dialLite(t *testing.T, srv *httptest.Server) *liteClient {
	t.Helper()
	conn, br, _, err := ws.Dial(context.Background(), wsURL(srv, "/ws/lite"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	return &liteClient{conn: conn, rw: struct {
		io.Reader
		io.Writer
	}{bufio.NewReader(r), conn}}
}

func (c *liteClient) read(t *testing.T) map[string]any {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, _, err := wsutil.ReadServerData(c.rw)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func (c *liteClient) write(t *testing.T, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	require.NoError(t, wsutil.WriteClientMessage(c.conn, ws.OpText, payload))
}

func TestLiteTransportSharesRooms(t *testing.T) {
	srv, _ := newTestServer(t)

	lite := dialLite(t, srv)
	expectEvent(t, lite.read(t), "welcome")
	lite.write(t, "join_room", "general")
	assert.Equal(t, "general", expectEvent(t, lite.read(t), "joined_room"))

	gorilla := dial(t, srv)
	joinRoom(t, gorilla, "general")

	writeFrame(t, gorilla, "send_message", map[string]any{"room": "general", "message": "across transports"})

	data := expectEvent(t, lite.read(t), "receive_message").(map[string]any)
	assert.Equal(t, "across transports", data["message"])
	data = expectEvent(t, readFrame(t, gorilla), "receive_message").(map[string]any)
	assert.Equal(t, float64(1), data["seq"])

	lite.write(t, "leave_room", "general")
	assert.Equal(t, "general", expectEvent(t, lite.read(t), "left_room"))
}

func TestProtoCodec(t *testing.T) {
	srv, _ := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws?codec=proto"), nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.BinaryMessage, kind)
		var s structpb.Struct
		require.NoError(t, proto.Unmarshal(data, &s))
		return s.AsMap()
	}

	expectEvent(t, read(), "welcome")

	frame, err := structpb.NewStruct(map[string]any{"event": "join_room", "data": "binary"})
	require.NoError(t, err)
	payload, err := proto.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, payload))

	assert.Equal(t, "binary", expectEvent(t, read(), "joined_room"))
}

func TestOversizedMessageDisconnects(t *testing.T) {
	big := map[string]any{"room": "general", "message": strings.Repeat("x", 8192)}

	tests := []struct {
		name string
		send func(t *testing.T, srv *httptest.Server)
	}{
		{
			name: "gorilla",
			send: func(t *testing.T, srv *httptest.Server) {
				c := dial(t, srv)
				joinRoom(t, c, "general")
				writeFrame(t, c, "send_message", big)
			},
		},
		{
			name: "lite",
			send: func(t *testing.T, srv *httptest.Server) {
				lite := dialLite(t, srv)
				expectEvent(t, lite.read(t), "welcome")
				lite.write(t, "join_room", "general")
				expectEvent(t, lite.read(t), "joined_room")
				lite.write(t, "send_message", big)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, d := newTestServer(t)

			tt.send(t, srv)

			assert.Eventually(t, func() bool {
				return d.Conns.Count() == 0 && len(d.Rooms.Members("general")) == 0
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}
