// Package mesh keeps one direct media connection per remote participant of a
// room and routes their inbound tracks to per-participant playback sinks.
//
// Outbound legs are the connection handles, keyed by remote user. Inbound legs
// opened by remote clients are kept alongside and attributed to a user by their
// signaling address. Sinks live per user until that user leaves the roster and
// are fed by the most recent stream of any live leg of that user.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
	"github.com/dkeye/echomeet/internal/metrics"
)

const defaultDialLimit = 4

type leg struct {
	conn      core.MediaConnection
	outbound  bool
	user      domain.UserID // empty until attributed
	addr      domain.Address
	state     State
	feeds     []*attachment
	unmatched bool // an inbound leg no reconciliation could attribute yet
}

// eligible reports whether user is a remote participant with an address.
func eligible(roster domain.Roster, self, user domain.UserID) bool {
	p, ok := roster.Find(user)
	return ok && user != self && p.SignalingAddress != ""
}

// latest returns the most recent live feed of kind.
func (l *leg) latest(kind domain.TrackKind) *attachment {
	for i := len(l.feeds) - 1; i >= 0; i-- {
		if f := l.feeds[i]; f.kind == kind && f.getState() != attachDone {
			return f
		}
	}
	return nil
}

type peerSinks struct {
	video, audio         *attachment
	videoSink, audioSink core.MediaSink
}

type Config struct {
	Self      domain.UserID
	Transport core.Transport
	Local     core.LocalTracks
	Sinks     core.SinkFactory
	// DialLimit bounds concurrent outbound dials per reconciliation.
	DialLimit int
}

type Manager struct {
	self      domain.UserID
	transport core.Transport
	local     core.LocalTracks
	newSink   core.SinkFactory
	dialLimit int
	log       zerolog.Logger

	reconcileMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	roster  domain.Roster
	handles map[domain.UserID]*leg
	inbound map[*leg]struct{}
	peers   map[domain.UserID]*peerSinks
}

func New(cfg Config) *Manager {
	limit := cfg.DialLimit
	if limit <= 0 {
		limit = defaultDialLimit
	}
	return &Manager{
		self:      cfg.Self,
		transport: cfg.Transport,
		local:     cfg.Local,
		newSink:   cfg.Sinks,
		dialLimit: limit,
		log:       log.With().Str("module", "app.mesh").Str("self", string(cfg.Self)).Logger(),
		handles:   make(map[domain.UserID]*leg),
		inbound:   make(map[*leg]struct{}),
		peers:     make(map[domain.UserID]*peerSinks),
	}
}

// Reconcile closes every connection handle and dials one fresh handle per
// eligible remote participant of roster with the current local tracks. It also
// applies departures, inbound attribution and audio mute gating. Calls are
// serialized. The returned error joins per-peer ErrConnectionFailed errors;
// none of them is fatal.
func (m *Manager) Reconcile(ctx context.Context, roster domain.Roster) error {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	metrics.Reconciles.Inc()
	m.roster = roster

	var (
		conns []core.MediaConnection
		sinks []core.MediaSink
	)
	for _, h := range m.handles {
		m.retireLocked(h)
		conns = append(conns, h.conn)
	}

	for user, ps := range m.peers {
		if eligible(roster, m.self, user) {
			continue
		}
		delete(m.peers, user)
		sinks = append(sinks, ps.videoSink, ps.audioSink)
		m.log.Info().Str("user", string(user)).Msg("participant departed")
	}

	for l := range m.inbound {
		if l.user != "" {
			if !eligible(roster, m.self, l.user) {
				m.retireLocked(l)
				conns = append(conns, l.conn)
				m.log.Debug().Str("user", string(l.user)).Str("address", string(l.addr)).Msg("closed inbound leg of departed user")
			}
			continue
		}
		if p, ok := roster.ByAddress(l.addr); ok && p.UserID != m.self {
			l.user = p.UserID
			m.log.Debug().Str("user", string(l.user)).Str("address", string(l.addr)).Msg("attributed inbound leg")
			for _, kind := range []domain.TrackKind{domain.TrackVideo, domain.TrackAudio} {
				if f := l.latest(kind); f != nil {
					m.attachLocked(l.user, f)
				}
			}
			continue
		}
		// Callers register before they dial, so an address still unknown one
		// reconciliation after the leg arrived belongs to nobody in the room.
		if l.unmatched {
			m.retireLocked(l)
			conns = append(conns, l.conn)
			m.log.Debug().Str("address", string(l.addr)).Msg("closed unattributed inbound leg")
			continue
		}
		l.unmatched = true
	}

	for user, ps := range m.peers {
		if m.mutedLocked(user) {
			if ps.audio != nil {
				ps.audio.detach()
				ps.audio = nil
			}
			continue
		}
		if ps.audio == nil {
			m.fallbackLocked(user, domain.TrackAudio)
		}
	}
	remotes := roster.Remotes(m.self)
	m.mu.Unlock()

	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}
	for _, s := range sinks {
		if s != nil {
			if err := s.Close(); err != nil {
				m.log.Warn().Err(err).Msg("close sink")
			}
		}
	}

	var tracks []webrtc.TrackLocal
	if m.local != nil {
		tracks = m.local.Tracks()
	}

	var (
		g       errgroup.Group
		failMu  sync.Mutex
		failure []error
	)
	g.SetLimit(m.dialLimit)
	for _, p := range remotes {
		g.Go(func() error {
			if err := m.dial(ctx, p, tracks); err != nil {
				failMu.Lock()
				failure = append(failure, err)
				failMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(failure...)
}

func (m *Manager) dial(ctx context.Context, p domain.Participant, tracks []webrtc.TrackLocal) error {
	h := &leg{outbound: true, user: p.UserID, addr: p.SignalingAddress}
	h.state, _ = Next(StateAbsent, EventDial)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.handles[p.UserID] = h
	metrics.Handles.Inc()
	m.mu.Unlock()

	conn, err := m.transport.Call(ctx, p.SignalingAddress, tracks)
	if err != nil {
		m.mu.Lock()
		m.retireLocked(h)
		m.mu.Unlock()
		metrics.ConnectionFailures.Inc()
		m.log.Warn().Err(err).Str("user", string(p.UserID)).Str("address", string(p.SignalingAddress)).Msg("dial failed")
		if !errors.Is(err, domain.ErrConnectionFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrConnectionFailed, err)
		}
		return fmt.Errorf("dial %s: %w", p.UserID, err)
	}

	m.mu.Lock()
	stale := h.state == StateClosed
	if !stale {
		h.conn = conn
	}
	m.mu.Unlock()
	if stale {
		conn.Close()
		return nil
	}
	m.watch(h, conn)
	m.log.Debug().Str("user", string(p.UserID)).Str("cid", conn.ID()).Msg("dialed")
	return nil
}

// HandleInbound answers a connection request with the current local tracks.
// The leg is attributed to whichever roster participant owns its address, now
// or on a later reconciliation.
func (m *Manager) HandleInbound(call core.InboundCall) {
	l := &leg{conn: call, addr: call.Remote()}
	l.state, _ = Next(StateAbsent, EventAccept)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		call.Close()
		return
	}
	if p, ok := m.roster.ByAddress(l.addr); ok && p.UserID != m.self {
		l.user = p.UserID
	}
	m.inbound[l] = struct{}{}
	m.mu.Unlock()

	m.watch(l, call)

	var tracks []webrtc.TrackLocal
	if m.local != nil {
		tracks = m.local.Tracks()
	}
	if err := call.Answer(tracks); err != nil {
		metrics.ConnectionFailures.Inc()
		m.log.Warn().Err(err).Str("address", string(l.addr)).Msg("answer failed")
		call.Close()
		return
	}
	m.log.Debug().Str("address", string(l.addr)).Str("user", string(l.user)).Str("cid", call.ID()).Msg("answered")
}

// watch must be called without m.mu held; connections may replay buffered
// events synchronously.
func (m *Manager) watch(l *leg, conn core.MediaConnection) {
	conn.OnTrack(func(t core.RemoteTrack) { m.onTrack(l, t) })
	conn.OnClosed(func() { m.onClosed(l) })
}

func (m *Manager) onTrack(l *leg, t core.RemoteTrack) {
	a := newAttachment(t)

	m.mu.Lock()
	next, ok := Next(l.state, EventStream)
	if !ok {
		cur := l.state
		m.mu.Unlock()
		m.log.Debug().Str("track", t.ID()).Str("state", cur.String()).Msg("stream ignored")
		return
	}
	l.state = next
	l.feeds = append(l.feeds, a)
	if l.user != "" {
		m.attachLocked(l.user, a)
	}
	m.mu.Unlock()

	go a.pump(m.log)
}

func (m *Manager) onClosed(l *leg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.state == StateClosed {
		return
	}
	m.retireLocked(l)
	m.log.Debug().Str("user", string(l.user)).Str("address", string(l.addr)).Msg("leg closed")
}

// retireLocked moves l to closed, forgets it and hands its sinks to another
// live leg of the same user if there is one. The caller closes l.conn.
func (m *Manager) retireLocked(l *leg) {
	if next, ok := Next(l.state, EventClose); ok {
		l.state = next
	}
	if l.outbound {
		if m.handles[l.user] == l {
			delete(m.handles, l.user)
			metrics.Handles.Dec()
		}
	} else {
		delete(m.inbound, l)
	}

	ps := m.peers[l.user]
	for _, f := range l.feeds {
		f.release()
		if ps == nil {
			continue
		}
		if ps.video == f {
			ps.video = nil
			m.fallbackLocked(l.user, domain.TrackVideo)
		}
		if ps.audio == f {
			ps.audio = nil
			m.fallbackLocked(l.user, domain.TrackAudio)
		}
	}
}

// fallbackLocked attaches the most recent live feed of kind from any live leg of user.
func (m *Manager) fallbackLocked(user domain.UserID, kind domain.TrackKind) {
	var best *attachment
	consider := func(l *leg) {
		if l == nil || l.user != user || l.state == StateClosed {
			return
		}
		if f := l.latest(kind); f != nil {
			best = f
		}
	}
	consider(m.handles[user])
	for l := range m.inbound {
		if best == nil {
			consider(l)
		}
	}
	if best != nil {
		m.attachLocked(user, best)
	}
}

func (m *Manager) mutedLocked(user domain.UserID) bool {
	p, ok := m.roster.Find(user)
	return ok && p.IsMuted
}

// attachLocked routes f to the user's sink of its kind. Audio is never routed
// while the roster shows the user muted.
func (m *Manager) attachLocked(user domain.UserID, f *attachment) {
	if _, ok := m.roster.Find(user); !ok || user == m.self {
		return
	}
	ps := m.peers[user]
	if ps == nil {
		ps = &peerSinks{}
		m.peers[user] = ps
	}

	var (
		slot **attachment
		sink *core.MediaSink
	)
	switch f.kind {
	case domain.TrackVideo:
		slot, sink = &ps.video, &ps.videoSink
	case domain.TrackAudio:
		if m.mutedLocked(user) {
			return
		}
		slot, sink = &ps.audio, &ps.audioSink
	default:
		return
	}
	if *sink == nil {
		*sink = m.newSink(user, f.kind)
	}
	if prev := *slot; prev != nil && prev != f {
		prev.detach()
	}
	if f.attach(*sink) {
		*slot = f
	} else {
		*slot = nil
	}
}

// CloseAll tears down every leg and sink. Later calls are no-ops.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	var (
		conns []core.MediaConnection
		sinks []core.MediaSink
	)
	for user, ps := range m.peers {
		sinks = append(sinks, ps.videoSink, ps.audioSink)
		delete(m.peers, user)
	}
	for _, h := range m.handles {
		m.retireLocked(h)
		conns = append(conns, h.conn)
	}
	for l := range m.inbound {
		m.retireLocked(l)
		conns = append(conns, l.conn)
	}
	m.mu.Unlock()

	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}
	for _, s := range sinks {
		if s != nil {
			_ = s.Close()
		}
	}
	m.log.Info().Int("legs", len(conns)).Msg("mesh closed")
}

// PeerView is a read-only snapshot of one remote participant.
type PeerView struct {
	UserID        domain.UserID
	DisplayName   string
	AvatarURI     string
	IsHost        bool
	IsMuted       bool
	VideoOn       bool
	State         State
	VideoAttached bool
	AudioAttached bool
}

// Snapshot lists every remote participant of the last reconciled roster.
func (m *Manager) Snapshot() []PeerView {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PeerView, 0, len(m.roster))
	for _, p := range m.roster {
		if p.UserID == m.self {
			continue
		}
		v := PeerView{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			AvatarURI:   p.AvatarURI,
			IsHost:      p.IsHost,
			IsMuted:     p.IsMuted,
			VideoOn:     p.VideoOn,
			State:       m.stateLocked(p.UserID),
		}
		if ps := m.peers[p.UserID]; ps != nil {
			v.VideoAttached = ps.video != nil && ps.video.attached()
			v.AudioAttached = ps.audio != nil && ps.audio.attached()
		}
		out = append(out, v)
	}
	return out
}

// Handles returns the address each live connection handle was opened against.
func (m *Manager) Handles() map[domain.UserID]domain.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.UserID]domain.Address, len(m.handles))
	for user, h := range m.handles {
		out[user] = h.addr
	}
	return out
}

func (m *Manager) stateLocked(user domain.UserID) State {
	best := StateAbsent
	rank := func(l *leg) {
		if l.user == user && l.state != StateClosed && l.state > best {
			best = l.state
		}
	}
	if h := m.handles[user]; h != nil {
		rank(h)
	}
	for l := range m.inbound {
		rank(l)
	}
	return best
}
