// Package signal is the signaling broker: it hands every client an address
// and relays session descriptions between addresses.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
	"github.com/dkeye/echomeet/internal/metrics"
)

var ErrBackpressure = errors.New("backpressure")

const (
	defaultReadLimit  = 64 << 10
	defaultPingPeriod = 30 * time.Second
	sendBuffer        = 32
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	RateLimit    int
	RateInterval time.Duration
	// Policy defaults to DropPolicy.
	Policy Policy
}

type Broker struct {
	Peers   *Registry
	limiter *RateLimiter
	policy  Policy

	readLimit  int64
	pingPeriod time.Duration
}

func NewBroker(opts Options) *Broker {
	b := &Broker{
		Peers:      NewRegistry(),
		readLimit:  opts.ReadLimit,
		pingPeriod: opts.PingPeriod,
		policy:     opts.Policy,
	}
	if b.policy == nil {
		b.policy = DropPolicy{}
	}
	if b.readLimit <= 0 {
		b.readLimit = defaultReadLimit
	}
	if b.pingPeriod <= 0 {
		b.pingPeriod = defaultPingPeriod
	}
	if opts.RateLimit > 0 {
		b.limiter = NewRateLimiter(opts.RateLimit, opts.RateInterval)
	}
	return b
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and binds the socket to the address asked
// for in the "address" query parameter, or to a fresh one if that is missing
// or already in use.
func (b *Broker) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(b.readLimit)

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)

	addr := domain.Address(c.Query("address"))
	if addr == "" || !b.Peers.Bind(addr, conn, cancel) {
		addr = domain.Address(uuid.NewString())
		b.Peers.Bind(addr, conn, cancel)
	}
	metrics.SignalPeers.Inc()
	log.Info().Str("module", "signal").Str("address", string(addr)).
		Str("client", c.GetString("client_token")).Msg("new WS connection")

	sendJSON(conn, Message{Type: TypeOpen, Address: addr})

	go b.writePump(ctx, conn)
	go b.readPump(ctx, cancel, addr, conn)
}
