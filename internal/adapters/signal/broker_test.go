package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/echomeet/internal/domain"
)

func newBrokerServer(t *testing.T, opts Options) (*Broker, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())

	b := NewBroker(opts)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { b.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return b, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url, addr string) (*websocket.Conn, domain.Address) {
	t.Helper()
	if addr != "" {
		url += "?address=" + addr
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	open := read(t, ws)
	require.Equal(t, TypeOpen, open.Type)
	require.NotEmpty(t, open.Address)
	return ws, open.Address
}

func read(t *testing.T, ws *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, ws.ReadJSON(&m))
	return m
}

func TestBroker_AssignsRequestedAddress(t *testing.T) {
	b, url := newBrokerServer(t, Options{})

	_, addr := dial(t, url, "alice")
	assert.Equal(t, domain.Address("alice"), addr)

	// A taken address falls back to a fresh one.
	_, other := dial(t, url, "alice")
	assert.NotEqual(t, domain.Address("alice"), other)

	_, anon := dial(t, url, "")
	assert.NotEmpty(t, anon)
	assert.Equal(t, 3, b.Peers.Len())
}

func TestBroker_RelaysWithSource(t *testing.T) {
	_, url := newBrokerServer(t, Options{})
	alice, _ := dial(t, url, "alice")
	bob, _ := dial(t, url, "bob")

	require.NoError(t, alice.WriteJSON(Message{Type: TypeOffer, Dst: "bob", CID: "c1", SDP: "v=0"}))
	got := read(t, bob)
	assert.Equal(t, TypeOffer, got.Type)
	assert.Equal(t, domain.Address("alice"), got.Src)
	assert.Equal(t, "c1", got.CID)
	assert.Equal(t, "v=0", got.SDP)

	// A forged src is overwritten.
	require.NoError(t, bob.WriteJSON(Message{Type: TypeAnswer, Src: "mallory", Dst: "alice", CID: "c1", SDP: "v=0"}))
	got = read(t, alice)
	assert.Equal(t, TypeAnswer, got.Type)
	assert.Equal(t, domain.Address("bob"), got.Src)
}

func TestBroker_UnknownPeer(t *testing.T) {
	_, url := newBrokerServer(t, Options{})
	alice, _ := dial(t, url, "alice")

	require.NoError(t, alice.WriteJSON(Message{Type: TypeOffer, Dst: "ghost", CID: "c9"}))
	got := read(t, alice)
	assert.Equal(t, TypeError, got.Type)
	assert.Equal(t, ErrCodeUnknownPeer, got.Error)
	assert.Equal(t, "c9", got.CID)
}

func TestBroker_PingAndBadPayload(t *testing.T) {
	_, url := newBrokerServer(t, Options{})
	alice, _ := dial(t, url, "alice")

	require.NoError(t, alice.WriteJSON(Message{Type: TypePing}))
	assert.Equal(t, TypePong, read(t, alice).Type)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	got := read(t, alice)
	assert.Equal(t, TypeError, got.Type)
	assert.Equal(t, ErrCodeBadPayload, got.Error)
}

func TestBroker_RateLimited(t *testing.T) {
	_, url := newBrokerServer(t, Options{RateLimit: 1, RateInterval: time.Minute})
	alice, _ := dial(t, url, "alice")
	bob, _ := dial(t, url, "bob")

	require.NoError(t, alice.WriteJSON(Message{Type: TypeOffer, Dst: "bob", CID: "c1"}))
	assert.Equal(t, TypeOffer, read(t, bob).Type)

	require.NoError(t, alice.WriteJSON(Message{Type: TypeOffer, Dst: "bob", CID: "c2"}))
	got := read(t, alice)
	assert.Equal(t, ErrCodeRateLimited, got.Error)
	assert.Equal(t, "c2", got.CID)
}

func TestBroker_DisconnectFreesAddress(t *testing.T) {
	b, url := newBrokerServer(t, Options{})
	alice, _ := dial(t, url, "alice")
	require.Equal(t, 1, b.Peers.Len())

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return b.Peers.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	_, addr := dial(t, url, "alice")
	assert.Equal(t, domain.Address("alice"), addr)
}
