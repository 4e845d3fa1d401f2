package signal

import "github.com/dkeye/echomeet/internal/domain"

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickPeer
)

// Policy decides what happens to a peer whose send buffer is full.
type Policy interface {
	OnBackpressure(addr domain.Address) BackpressureAction
}

// DropPolicy loses the frame and keeps the peer; the sender's own timeout
// deals with an offer that never arrives.
type DropPolicy struct{}

func (DropPolicy) OnBackpressure(domain.Address) BackpressureAction { return DropFrame }

// KickPolicy disconnects the slow peer.
type KickPolicy struct{}

func (KickPolicy) OnBackpressure(domain.Address) BackpressureAction { return KickPeer }
