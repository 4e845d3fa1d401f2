package rtc

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/echomeet/internal/adapters/signal"
	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

func newBroker(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	b := signal.NewBroker(signal.Options{})
	r := gin.New()
	r.GET("/signal", func(c *gin.Context) { b.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/signal"
}

func open(t *testing.T, url string, addr domain.Address) *Transport {
	t.Helper()
	tr, err := NewTransport(Config{SignalURL: url, Address: addr, ICEServers: []string{}, AnswerTimeout: 2 * time.Second})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := tr.Open(ctx)
	require.NoError(t, err)
	require.Equal(t, addr, got)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestTransport_OpenAssignsAddress(t *testing.T) {
	url := newBroker(t)
	tr := open(t, url, "alice")
	assert.Equal(t, domain.Address("alice"), tr.Address())
}

func TestTransport_CallUnknownPeerFails(t *testing.T) {
	url := newBroker(t)
	alice := open(t, url, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := alice.Call(ctx, "ghost", nil)
	assert.ErrorIs(t, err, domain.ErrConnectionFailed)
}

func TestTransport_OfferAnswerAndBye(t *testing.T) {
	url := newBroker(t)
	alice := open(t, url, "alice")
	bob := open(t, url, "bob")

	inbound := make(chan core.InboundCall, 1)
	bob.OnCall(func(call core.InboundCall) {
		assert.NoError(t, call.Answer(nil))
		inbound <- call
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := alice.Call(ctx, "bob", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Address("bob"), conn.Remote())

	var call core.InboundCall
	select {
	case call = <-inbound:
	case <-time.After(5 * time.Second):
		t.Fatal("no inbound call")
	}
	assert.Equal(t, domain.Address("alice"), call.Remote())
	assert.Equal(t, conn.ID(), call.ID())

	closed := make(chan struct{})
	call.OnClosed(func() { close(closed) })
	conn.Close()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("bye did not close the far end")
	}
}

func TestTransport_ReopenAfterClose(t *testing.T) {
	url := newBroker(t)
	tr := open(t, url, "alice")
	require.NoError(t, tr.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := tr.Call(ctx, "bob", nil)
	assert.ErrorIs(t, err, domain.ErrConnectionFailed)

	require.Eventually(t, func() bool {
		addr, err := tr.Open(ctx)
		if err != nil {
			return false
		}
		if addr != "alice" {
			// The broker has not dropped the previous socket yet.
			_ = tr.Close()
			return false
		}
		return true
	}, 2*time.Second, 50*time.Millisecond)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, domain.TrackVideo, kindOf(webrtc.RTPCodecTypeVideo))
	assert.Equal(t, domain.TrackAudio, kindOf(webrtc.RTPCodecTypeAudio))
}
