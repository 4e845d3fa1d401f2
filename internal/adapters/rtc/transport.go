// Package rtc carries direct media connections over pion/webrtc, negotiated
// through the signaling broker.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/echomeet/internal/adapters/signal"
	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

var ErrTransportClosed = errors.New("transport closed")

const (
	writeWait            = 5 * time.Second
	defaultAnswerTimeout = 10 * time.Second
)

type Config struct {
	// SignalURL is the broker websocket endpoint, e.g. ws://host/api/ws/signal.
	SignalURL string
	// Address is asked of the broker; it may hand out another one.
	Address       domain.Address
	ICEServers    []string
	AnswerTimeout time.Duration
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

type Transport struct {
	cfg       Config
	api       *webrtc.API
	rtcConfig webrtc.Configuration

	ws      *websocket.Conn
	writeMu sync.Mutex
	addr    domain.Address

	mu      sync.Mutex
	conns   map[string]*Connection
	waiting map[string]chan signal.Message
	onCall  func(core.InboundCall)
	queued  []*Connection
	closed  bool
	// done is closed when the read loop of the current socket exits.
	done chan struct{}
}

var _ core.Transport = (*Transport)(nil)

func NewTransport(cfg Config) (*Transport, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	rc := DefaultWebRTCConfig()
	if cfg.ICEServers != nil {
		rc.ICEServers = nil
		if len(cfg.ICEServers) > 0 {
			rc.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
		}
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = defaultAnswerTimeout
	}
	return &Transport{
		cfg:       cfg,
		api:       webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		rtcConfig: rc,
		conns:     make(map[string]*Connection),
		waiting:   make(map[string]chan signal.Message),
		closed:    true,
	}, nil
}

// Open connects to the broker and waits for it to assign an address. A closed
// transport may be opened again.
func (t *Transport) Open(ctx context.Context) (domain.Address, error) {
	u, err := url.Parse(t.cfg.SignalURL)
	if err != nil {
		return "", fmt.Errorf("signal url: %w", err)
	}
	if t.cfg.Address != "" {
		q := u.Query()
		q.Set("address", string(t.cfg.Address))
		u.RawQuery = q.Encode()
	}

	var addr domain.Address
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("dial signal: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = ws.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		var m signal.Message
		if err := ws.ReadJSON(&m); err != nil {
			_ = ws.Close()
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("await address: %w", err)
		}
		if m.Type == signal.TypeOpen {
			addr = m.Address
			break
		}
	}
	if !stop() {
		_ = ws.Close()
		return "", ctx.Err()
	}
	_ = ws.SetReadDeadline(time.Time{})

	done := make(chan struct{})
	t.mu.Lock()
	t.ws, t.addr, t.done, t.closed = ws, addr, done, false
	t.mu.Unlock()
	go t.readLoop(ws, done)

	log.Info().Str("module", "rtc").Str("address", string(addr)).Msg("signaling open")
	return addr, nil
}

func (t *Transport) Address() domain.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

// Call dials to and waits for its answer. A refusal or a missing peer fails
// with domain.ErrConnectionFailed.
func (t *Transport) Call(ctx context.Context, to domain.Address, tracks []webrtc.TrackLocal) (core.MediaConnection, error) {
	cid := uuid.NewString()
	c, err := newConnection(t, cid, to)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (core.MediaConnection, error) {
		c.shutdown(false)
		return nil, fmt.Errorf("%w: %w", domain.ErrConnectionFailed, err)
	}

	if err := c.addTracks(tracks); err != nil {
		return fail(err)
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fail(err)
	}
	sdp, err := c.localDescription(offer)
	if err != nil {
		return fail(err)
	}

	reply := make(chan signal.Message, 1)
	t.mu.Lock()
	if t.closed || t.ws == nil {
		t.mu.Unlock()
		return fail(ErrTransportClosed)
	}
	t.conns[cid] = c
	t.waiting[cid] = reply
	done := t.done
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.waiting, cid)
		t.mu.Unlock()
	}()

	if err := t.send(signal.Message{Type: signal.TypeOffer, Dst: to, CID: cid, SDP: sdp}); err != nil {
		return fail(err)
	}

	timer := time.NewTimer(t.cfg.AnswerTimeout)
	defer timer.Stop()
	select {
	case m := <-reply:
		if m.Type == signal.TypeError {
			return fail(fmt.Errorf("broker: %s", m.Error))
		}
		if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}); err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: %w", domain.ErrConnectionFailed, err)
		}
		return c, nil
	case <-timer.C:
		c.Close()
		return nil, fmt.Errorf("%w: no answer from %s", domain.ErrConnectionFailed, to)
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	case <-done:
		return fail(ErrTransportClosed)
	}
}

// OnCall sets the inbound handler. Offers that arrived before it was set are
// delivered to it.
func (t *Transport) OnCall(fn func(core.InboundCall)) {
	t.mu.Lock()
	t.onCall = fn
	queued := t.queued
	t.queued = nil
	t.mu.Unlock()
	for _, c := range queued {
		go fn(c)
	}
}

func (t *Transport) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer t.shutdownAll(ws, done)
	for {
		var m signal.Message
		if err := ws.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "rtc").Msg("signaling read error")
			}
			return
		}
		t.dispatch(m)
	}
}

func (t *Transport) dispatch(m signal.Message) {
	switch m.Type {
	case signal.TypeOffer:
		t.handleOffer(m)
	case signal.TypeAnswer, signal.TypeError:
		t.mu.Lock()
		reply, ok := t.waiting[m.CID]
		delete(t.waiting, m.CID)
		t.mu.Unlock()
		if ok {
			reply <- m
		}
	case signal.TypeCandidate:
		if c := t.lookup(m.CID); c != nil {
			c.addCandidate(m)
		}
	case signal.TypeBye:
		if c := t.lookup(m.CID); c != nil {
			c.shutdown(false)
		}
	case signal.TypePong:
	default:
		log.Debug().Str("module", "rtc").Str("type", m.Type).Msg("unhandled signal")
	}
}

func (t *Transport) handleOffer(m signal.Message) {
	c, err := newConnection(t, m.CID, m.Src)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("src", string(m.Src)).Msg("inbound connection")
		_ = t.send(signal.Message{Type: signal.TypeBye, Dst: m.Src, CID: m.CID})
		return
	}
	c.offer = &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = c.pc.Close()
		return
	}
	t.conns[m.CID] = c
	fn := t.onCall
	if fn == nil {
		t.queued = append(t.queued, c)
	}
	t.mu.Unlock()

	log.Debug().Str("module", "rtc").Str("src", string(m.Src)).Str("cid", m.CID).Msg("inbound offer")
	if fn != nil {
		go fn(c)
	}
}

func (t *Transport) lookup(cid string) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[cid]
}

func (t *Transport) forget(cid string) {
	t.mu.Lock()
	delete(t.conns, cid)
	t.mu.Unlock()
}

func (t *Transport) send(m signal.Message) error {
	t.mu.Lock()
	ws := t.ws
	t.mu.Unlock()
	if ws == nil {
		return ErrTransportClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteJSON(m)
}

// shutdownAll runs when the signaling socket is gone; no connection can be
// negotiated or torn down politely after that.
func (t *Transport) shutdownAll(ws *websocket.Conn, done chan struct{}) {
	var conns []*Connection
	t.mu.Lock()
	if t.ws == ws {
		t.ws, t.closed = nil, true
		for _, c := range t.conns {
			conns = append(conns, c)
		}
	}
	t.mu.Unlock()
	for _, c := range conns {
		c.shutdown(false)
	}
	close(done)
}

// Close says bye on every open connection and leaves the broker.
func (t *Transport) Close() error {
	t.mu.Lock()
	ws, done := t.ws, t.done
	conns := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	if ws == nil {
		return nil
	}

	t.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	t.writeMu.Unlock()
	err := ws.Close()
	<-done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
