package roundfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/payout"
	"github.com/radieske/pricebet-settlement/internal/round"
)

func allowAll(*http.Request) bool { return true }

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// send escreve a mensagem e espera o pong seguinte; o loop de leitura do hub
// é sequencial, então o pong garante que a mensagem anterior foi aplicada
func send(t *testing.T, conn *websocket.Conn, msg ClientMsg) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
	require.NoError(t, conn.WriteJSON(ClientMsg{Type: "ping"}))
	var pong map[string]string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&pong))
	require.Equal(t, "pong", pong["type"])
}

func read(t *testing.T, conn *websocket.Conn) RoundUpdate {
	t.Helper()
	var upd RoundUpdate
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&upd))
	return upd
}

func TestHub_RoutesByRound(t *testing.T) {
	hub := NewHub(allowAll, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	one := dial(t, srv)
	all := dial(t, srv)
	send(t, one, ClientMsg{Type: "subscribe", RoundID: "r1"})
	send(t, all, ClientMsg{Type: "subscribe"})

	hub.Broadcast(RoundUpdate{RoundID: "r2"})
	hub.Broadcast(RoundUpdate{RoundID: "r1"})

	assert.Equal(t, "r1", read(t, one).RoundID)
	assert.Equal(t, "r2", read(t, all).RoundID)
	assert.Equal(t, "r1", read(t, all).RoundID)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(allowAll, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dial(t, srv)
	send(t, conn, ClientMsg{Type: "subscribe", RoundID: "r1"})
	send(t, conn, ClientMsg{Type: "unsubscribe", RoundID: "r1"})

	hub.mu.RLock()
	assert.Empty(t, hub.subs)
	hub.mu.RUnlock()
}

func TestRedisBroadcaster_ReachesWebSocket(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(allowAll, zap.NewNop())
	require.NoError(t, StartRedisSubscriber(ctx, rdb, "rounds", hub, zap.NewNop()))
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dial(t, srv)
	send(t, conn, ClientMsg{Type: "subscribe", RoundID: "r1"})

	b := NewRedisBroadcaster(rdb, "rounds", zap.NewNop())
	r := &round.Round{ID: "r1", RoundNumber: 4, Winner: payout.Gold, PayoutPool: 950}
	var n round.Notifier = round.Notifiers{b}
	n.RoundTransitioned(ctx, r, round.Calculating, round.Settled, "")

	upd := read(t, conn)
	assert.Equal(t, "r1", upd.RoundID)
	assert.Equal(t, "SETTLED", upd.Payload.To)
	assert.Equal(t, "GOLD", upd.Payload.Winner)
	assert.Equal(t, int64(4), upd.Payload.RoundNumber)
}
