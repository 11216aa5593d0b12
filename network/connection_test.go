package network

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pair starts a websocket server and returns the server side wrapped in a
// WSConnection plus the raw client side.
func pair(t *testing.T, opts Options) (*WSConnection, *websocket.Conn) {
	t.Helper()

	accepted := make(chan *WSConnection, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- NewWSConnection(conn, opts)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case c := <-accepted:
		return c, client
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
		return nil, nil
	}
}

func TestWSConnection_SendAndRead(t *testing.T) {
	server, client := pair(t, DefaultOptions())
	go server.WritePump()
	t.Cleanup(func() { server.Close() })

	// server -> client
	require.NoError(t, server.Send([]byte(`{"type":"error","message":"Room full"}`)))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"Room full"}`, string(data))

	// client -> server
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"create_room"}`)))
	got, err := server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"create_room"}`, string(got))
}

func TestWSConnection_SendBufferFull(t *testing.T) {
	opts := DefaultOptions()
	opts.SendBuffer = 1
	server, _ := pair(t, opts)
	t.Cleanup(func() { server.Close() })

	// no write pump: the outbox never drains
	require.NoError(t, server.Send([]byte("one")))
	assert.ErrorIs(t, server.Send([]byte("two")), ErrSendBufferFull)
}

func TestWSConnection_Close(t *testing.T) {
	server, client := pair(t, DefaultOptions())
	go server.WritePump()

	require.NoError(t, server.Close())
	require.NoError(t, server.Close())

	assert.ErrorIs(t, server.Send([]byte("late")), ErrConnectionClosed)

	select {
	case <-server.Done():
	default:
		t.Fatal("Done should be closed")
	}

	// the peer sees a normal close frame
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWSConnection_ReadLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxMessageBytes = 16
	server, client := pair(t, opts)
	go server.WritePump()
	t.Cleanup(func() { server.Close() })

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64))))
	_, err := server.ReadMessage()
	assert.Error(t, err)
}
