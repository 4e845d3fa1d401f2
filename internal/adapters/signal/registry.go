package signal

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/echomeet/internal/domain"
)

type peerEntry struct {
	conn   *WsSignalConn
	cancel context.CancelFunc
}

// Registry maps signaling addresses to live sockets.
type Registry struct {
	mu    sync.RWMutex
	peers map[domain.Address]*peerEntry
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[domain.Address]*peerEntry)}
}

// Bind claims addr for conn. It fails when addr is already held.
func (r *Registry) Bind(addr domain.Address, conn *WsSignalConn, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.peers[addr]; taken {
		return false
	}
	r.peers[addr] = &peerEntry{conn: conn, cancel: cancel}
	log.Info().Str("module", "signal.registry").Str("address", string(addr)).Msg("bound address")
	return true
}

func (r *Registry) Get(addr domain.Address) (*WsSignalConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.peers[addr]; ok {
		return e.conn, true
	}
	return nil, false
}

// Unbind frees addr if it is still held by conn.
func (r *Registry) Unbind(addr domain.Address, conn *WsSignalConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[addr]; ok && e.conn == conn {
		delete(r.peers, addr)
		log.Info().Str("module", "signal.registry").Str("address", string(addr)).Msg("unbound address")
	}
}

// Kick disconnects whoever holds addr.
func (r *Registry) Kick(addr domain.Address) {
	r.mu.RLock()
	e, ok := r.peers[addr]
	r.mu.RUnlock()
	if ok {
		log.Warn().Str("module", "signal.registry").Str("address", string(addr)).Msg("kicking peer")
		e.cancel()
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// CancelAll stops every connected peer.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(r.peers))
	for _, e := range r.peers {
		cancels = append(cancels, e.cancel)
	}
	r.mu.RUnlock()
	for _, cancel := range cancels {
		cancel()
	}
}
