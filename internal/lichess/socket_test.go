package lichess

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// roundServer accepts one socket per handshake, records what the client
// writes and pushes frames queued on push.
type roundServer struct {
	mu       sync.Mutex
	received []string
	query    string
	cookie   string
	push     chan string
}

func newRoundServer(t *testing.T) (*roundServer, *httptest.Server) {
	t.Helper()
	rs := &roundServer{push: make(chan string, 8)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.query = r.URL.RawQuery
		rs.cookie = r.Header.Get("Cookie")
		rs.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-rs.push:
					if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
						return
					}
				}
			}
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			rs.mu.Lock()
			rs.received = append(rs.received, string(data))
			rs.mu.Unlock()
			if string(data) == "null" {
				rs.push <- "0"
			}
		}
	}))
	t.Cleanup(srv.Close)
	return rs, srv
}

func (rs *roundServer) frames() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.received...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/play/abcdefgh1234/v6"
}

func TestSocketRoundTrip(t *testing.T) {
	rs, srv := newRoundServer(t)

	sock := NewSocket(wsURL(srv), 0, 0, nil)
	sock.SetPingInterval(time.Hour)
	sock.SetHeaderProvider(func() map[string]string { return map[string]string{"Cookie": "lila2=abc"} })

	got := make(chan string, 8)
	sock.OnMessage(func(raw []byte) { got <- string(raw) })

	var states []State
	var statesM sync.Mutex
	sock.OnStateChange(func(s State) {
		statesM.Lock()
		states = append(states, s)
		statesM.Unlock()
	})

	require.NoError(t, sock.Connect(context.Background()))
	assert.True(t, sock.Alive())

	rs.push <- `{"t":"move","d":{"uci":"e2e4","ply":1}}`
	select {
	case msg := <-got:
		assert.Contains(t, msg, "e2e4")
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	require.NoError(t, sock.Send(context.Background(), NewMovePayload("e7e5")))
	require.Eventually(t, func() bool { return len(rs.frames()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"t":"move","d":{"u":"e7e5","b":1,"l":100,"a":1,"s":0}}`, rs.frames()[0])

	rs.mu.Lock()
	assert.Contains(t, rs.query, "sri=")
	assert.Equal(t, "lila2=abc", rs.cookie)
	rs.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sock.Close(ctx))
	assert.False(t, sock.Alive())
	assert.ErrorIs(t, sock.Send(context.Background(), NewMovePayload("g1f3")), ErrNotConnected)

	statesM.Lock()
	defer statesM.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestSocketKeepalive(t *testing.T) {
	rs, srv := newRoundServer(t)

	sock := NewSocket(wsURL(srv), 0, 0, nil)
	sock.SetPingInterval(20 * time.Millisecond)
	pongs := make(chan struct{}, 16)
	sock.OnMessage(func(raw []byte) {
		if string(raw) == "0" {
			pongs <- struct{}{}
		}
	})
	require.NoError(t, sock.Connect(context.Background()))
	defer sock.Close(context.Background())

	select {
	case <-pongs:
	case <-time.After(2 * time.Second):
		t.Fatal("no pong")
	}
	assert.Contains(t, rs.frames(), "null")
}

func TestSocketSendBeforeConnect(t *testing.T) {
	sock := NewSocket("ws://127.0.0.1:1/socket", 0, 0, nil)
	assert.False(t, sock.Alive())
	assert.ErrorIs(t, sock.Send(context.Background(), NewMovePayload("e2e4")), ErrNotConnected)
}

func TestSocketDialURLKeepsExistingSri(t *testing.T) {
	sock := NewSocket("wss://socket.lichess.org/play/abc/v6?sri=fixed", 0, 0, nil)
	assert.Equal(t, "wss://socket.lichess.org/play/abc/v6?sri=fixed", sock.dialURL())

	fresh := NewSocket("wss://socket.lichess.org/play/abc/v6", 0, 0, nil)
	assert.Contains(t, fresh.dialURL(), "?sri=")
	assert.Len(t, fresh.sri, 12)
}
