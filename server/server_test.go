package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/tictactoe/broadcast"
	"github.com/wfunc/tictactoe/monitor"
	"github.com/wfunc/tictactoe/network"
	"github.com/wfunc/tictactoe/persistence"
	"github.com/wfunc/tictactoe/room"
	"github.com/wfunc/tictactoe/services"
	"github.com/wfunc/tictactoe/session"
	"github.com/wfunc/tictactoe/syncer"
)

type harness struct {
	server  *GameServer
	http    *httptest.Server
	store   *room.Store
	monitor *monitor.Monitor
	syncer  *syncer.Synchronizer
	url     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sessions := session.NewManager()
	mon := monitor.NewMonitor("test")
	store := room.NewStore()
	synchronizer := syncer.New(persistence.NewMemoryMirror(), store, mon, syncer.Config{Workers: 2})
	synchronizer.Start()

	service := services.NewGameService(store, sessions, broadcast.NewDispatcher(sessions, mon), synchronizer, mon)
	srv := NewGameServer(Config{WSPath: "/ws", Conn: network.DefaultOptions()}, service, sessions, mon)
	ts := httptest.NewServer(srv.Handler())

	h := &harness{
		server:  srv,
		http:    ts,
		store:   store,
		monitor: mon,
		syncer:  synchronizer,
		url:     "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
		_ = synchronizer.Stop(ctx)
	})
	return h
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (h *harness) dial(t *testing.T) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

type event struct {
	Type             string        `json:"type"`
	Message          string        `json:"message"`
	Room             room.Snapshot `json:"room"`
	Player           room.Player   `json:"player"`
	PlayerID         string        `json:"playerId"`
	Position         int           `json:"position"`
	CurrentTurn      string        `json:"currentTurn"`
	WinningPositions []int         `json:"winningPositions"`
}

func (c *client) next() event {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)

	var ev event
	require.NoError(c.t, json.Unmarshal(data, &ev))
	return ev
}

func (c *client) expect(msgType string) event {
	c.t.Helper()
	ev := c.next()
	require.Equal(c.t, msgType, ev.Type, "message: %s", ev.Message)
	return ev
}

func TestGameServer_FullGame(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.dial(t), h.dial(t)

	alice.send(map[string]any{"type": "create_room", "username": "Alice"})
	created := alice.expect(network.MsgTypeRoomCreated)
	code := created.Room.Code
	require.Len(t, code, 8)
	assert.Equal(t, strings.ToUpper(code), code)

	bob.send(map[string]any{"type": "join_room", "roomCode": code, "username": "Bob"})
	alice.expect(network.MsgTypePlayerJoined)
	bob.expect(network.MsgTypePlayerJoined)
	joined := bob.expect(network.MsgTypeRoomJoined)
	assert.Equal(t, "Bob", joined.Player.Username)

	moves := []struct {
		who *client
		id  string
		pos int
	}{
		{alice, created.Player.ID, 4},
		{bob, joined.Player.ID, 0},
		{alice, created.Player.ID, 1},
		{bob, joined.Player.ID, 3},
		{alice, created.Player.ID, 7},
	}
	for i, m := range moves {
		m.who.send(map[string]any{"type": "move", "roomCode": code, "playerId": m.id, "position": m.pos})
		want := network.MsgTypeMoveMade
		if i == len(moves)-1 {
			want = network.MsgTypeGameWon
		}
		a, b := alice.expect(want), bob.expect(want)
		assert.Equal(t, a, b)
		assert.Equal(t, m.pos, a.Position)
	}

	bob.send(map[string]any{"type": "move", "roomCode": code, "playerId": joined.Player.ID, "position": 8})
	assert.Equal(t, services.MsgGameOver, bob.expect(network.MsgTypeError).Message)

	alice.send(map[string]any{"type": "restart", "roomCode": code, "playerId": created.Player.ID})
	assert.Equal(t, created.Player.ID, alice.expect(network.MsgTypeGameRestarted).CurrentTurn)
	assert.Equal(t, created.Player.ID, bob.expect(network.MsgTypeGameRestarted).CurrentTurn)
}

func TestGameServer_DropsMalformedInput(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(`{"username":"no type"}`)))
	c.send(map[string]any{"type": "teleport"})

	// the connection survives and the next reply is for the next request
	c.send(map[string]any{"type": "join_room", "roomCode": "MISSING1"})
	assert.Equal(t, services.MsgRoomNotFound, c.expect(network.MsgTypeError).Message)

	metrics := h.monitor.Metrics().MessagesReceived
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.WithLabelValues(labelMalformed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WithLabelValues(labelUnknown)))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.WithLabelValues(network.MsgTypeJoinRoom)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestGameServer_DisconnectKeepsRoom(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t)

	alice.send(map[string]any{"type": "create_room"})
	code := alice.expect(network.MsgTypeRoomCreated).Room.Code
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.monitor.Metrics().OnlineConnections) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, alice.conn.Close())

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.monitor.Metrics().OnlineConnections) == 0
	}, time.Second, 10*time.Millisecond)
	_, ok := h.store.Get(code)
	assert.True(t, ok)

	bob := h.dial(t)
	bob.send(map[string]any{"type": "join_room", "roomCode": code})
	bob.expect(network.MsgTypePlayerJoined)
	bob.expect(network.MsgTypeRoomJoined)
}

func TestGameServer_Healthz(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestGameServer_ShutdownClosesClients(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	c.send(map[string]any{"type": "create_room"})
	c.expect(network.MsgTypeRoomCreated)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.server.Shutdown(ctx))

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// new clients are turned away
	_, resp, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}
