// Package testutil provides an in-process stand-in for the signaling and media
// network so several clients can be wired together inside one test binary.
package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

// Network routes calls between the transports attached to it.
type Network struct {
	mu     sync.Mutex
	nodes  map[domain.Address]*Transport
	broken map[domain.Address]bool
	seq    int
}

func NewNetwork() *Network {
	return &Network{
		nodes:  make(map[domain.Address]*Transport),
		broken: make(map[domain.Address]bool),
	}
}

// NewTransport returns an unopened transport that will ask for addr. An empty
// addr gets a generated one.
func (n *Network) NewTransport(addr domain.Address) *Transport {
	return &Transport{net: n, want: addr, conns: make(map[*Conn]struct{})}
}

// Break makes every call to addr fail with ErrConnectionFailed.
func (n *Network) Break(addr domain.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broken[addr] = true
}

func (n *Network) register(t *Transport) (domain.Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	addr := t.want
	if addr == "" {
		n.seq++
		addr = domain.Address(fmt.Sprintf("peer-%d", n.seq))
	}
	if _, taken := n.nodes[addr]; taken {
		return "", fmt.Errorf("address %q already taken", addr)
	}
	n.nodes[addr] = t
	return addr, nil
}

func (n *Network) unregister(addr domain.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, addr)
}

func (n *Network) lookup(addr domain.Address) (*Transport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.broken[addr] {
		return nil, false
	}
	t, ok := n.nodes[addr]
	return t, ok
}

// Transport implements core.Transport on a Network.
type Transport struct {
	net  *Network
	want domain.Address

	mu      sync.Mutex
	addr    domain.Address
	open    bool
	handler func(core.InboundCall)
	pending []*Conn
	conns   map[*Conn]struct{}

	calls atomic.Int32
}

var _ core.Transport = (*Transport)(nil)

func (t *Transport) Open(ctx context.Context) (domain.Address, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	addr, err := t.net.register(t)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	t.addr, t.open = addr, true
	t.mu.Unlock()
	return addr, nil
}

func (t *Transport) Address() domain.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

// Calls reports how many outbound calls were attempted.
func (t *Transport) Calls() int { return int(t.calls.Load()) }

// Live reports how many connections of this transport are still open.
func (t *Transport) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *Transport) Call(ctx context.Context, to domain.Address, tracks []webrtc.TrackLocal) (core.MediaConnection, error) {
	t.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	from, open := t.addr, t.open
	t.mu.Unlock()
	if !open {
		return nil, fmt.Errorf("call %s: transport not open: %w", to, domain.ErrConnectionFailed)
	}
	dst, ok := t.net.lookup(to)
	if !ok {
		return nil, fmt.Errorf("call %s: %w", to, domain.ErrConnectionFailed)
	}

	id := uuid.NewString()
	out := newConn(id, t, to)
	in := newConn(id, dst, from)
	out.peer, in.peer = in, out
	out.offer = kindsOf(tracks)

	t.track(out)
	if !dst.track(in) {
		out.Close()
		return nil, fmt.Errorf("call %s: callee gone: %w", to, domain.ErrConnectionFailed)
	}
	dst.deliver(in)
	return out, nil
}

func (t *Transport) OnCall(fn func(core.InboundCall)) {
	t.mu.Lock()
	t.handler = fn
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()
	for _, c := range pending {
		go fn(c)
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	addr := t.addr
	conns := make([]*Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	t.net.unregister(addr)
	for _, c := range conns {
		c.Close()
	}
	return nil
}

func (t *Transport) track(c *Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return false
	}
	t.conns[c] = struct{}{}
	return true
}

func (t *Transport) untrack(c *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, c)
}

func (t *Transport) deliver(c *Conn) {
	t.mu.Lock()
	h := t.handler
	if h == nil {
		t.pending = append(t.pending, c)
	}
	t.mu.Unlock()
	if h != nil {
		go h(c)
	}
}

// Conn is one end of a fake media connection. The callee end also satisfies
// core.InboundCall.
type Conn struct {
	id     string
	owner  *Transport
	remote domain.Address
	peer   *Conn
	offer  []domain.TrackKind

	mu       sync.Mutex
	tracks   []*Track
	onTrack  func(core.RemoteTrack)
	onClosed func()
	closed   bool
}

var _ core.InboundCall = (*Conn)(nil)

func newConn(id string, owner *Transport, remote domain.Address) *Conn {
	return &Conn{id: id, owner: owner, remote: remote}
}

func (c *Conn) ID() string             { return c.id }
func (c *Conn) Remote() domain.Address { return c.remote }

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	replay := make([]*Track, len(c.tracks))
	copy(replay, c.tracks)
	c.mu.Unlock()
	for _, tr := range replay {
		fn(tr)
	}
}

func (c *Conn) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	closed := c.closed
	c.mu.Unlock()
	if closed {
		fn()
	}
}

// Answer delivers the offered tracks to the callee and the answered tracks
// back to the caller.
func (c *Conn) Answer(tracks []webrtc.TrackLocal) error {
	if c.Closed() || c.peer.Closed() {
		return fmt.Errorf("answer %s: %w", c.id, domain.ErrConnectionFailed)
	}
	for _, k := range c.peer.offer {
		c.addTrack(k)
	}
	for _, k := range kindsOf(tracks) {
		c.peer.addTrack(k)
	}
	return nil
}

func (c *Conn) Close() {
	c.closeEnd()
	c.peer.closeEnd()
}

// SendRTP pushes pkt to the far end's remote track of the given kind.
func (c *Conn) SendRTP(kind domain.TrackKind, pkt *rtp.Packet) bool {
	c.peer.mu.Lock()
	var dst *Track
	for _, tr := range c.peer.tracks {
		if tr.kind == kind {
			dst = tr
		}
	}
	c.peer.mu.Unlock()
	if dst == nil {
		return false
	}
	return dst.push(pkt)
}

func (c *Conn) addTrack(kind domain.TrackKind) {
	tr := newTrack(fmt.Sprintf("%s-%s", kind, c.id[:8]), kind)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.tracks = append(c.tracks, tr)
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(tr)
	}
}

func (c *Conn) closeEnd() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	tracks := c.tracks
	fn := c.onClosed
	c.mu.Unlock()

	for _, tr := range tracks {
		tr.close()
	}
	c.owner.untrack(c)
	if fn != nil {
		fn()
	}
}

// Track is a fake inbound track fed by Conn.SendRTP.
type Track struct {
	id   string
	kind domain.TrackKind
	ch   chan *rtp.Packet
	done chan struct{}
	once sync.Once
}

var _ core.RemoteTrack = (*Track)(nil)

func newTrack(id string, kind domain.TrackKind) *Track {
	return &Track{id: id, kind: kind, ch: make(chan *rtp.Packet, 64), done: make(chan struct{})}
}

func (t *Track) ID() string             { return t.id }
func (t *Track) Kind() domain.TrackKind { return t.kind }

func (t *Track) ReadRTP() (*rtp.Packet, error) {
	select {
	case p := <-t.ch:
		return p, nil
	case <-t.done:
		return nil, io.EOF
	}
}

func (t *Track) push(p *rtp.Packet) bool {
	select {
	case <-t.done:
		return false
	case t.ch <- p:
		return true
	}
}

func (t *Track) close() { t.once.Do(func() { close(t.done) }) }

func kindsOf(tracks []webrtc.TrackLocal) []domain.TrackKind {
	out := make([]domain.TrackKind, 0, len(tracks))
	for _, tr := range tracks {
		if tr == nil {
			continue
		}
		switch tr.Kind() {
		case webrtc.RTPCodecTypeAudio:
			out = append(out, domain.TrackAudio)
		case webrtc.RTPCodecTypeVideo:
			out = append(out, domain.TrackVideo)
		}
	}
	return out
}
