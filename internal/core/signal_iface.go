package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/echomeet/internal/domain"
)

// Frame is a raw signaling payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Transport advertises this client on the signaling network and opens or
// accepts direct media connections.
type Transport interface {
	// Open connects to the signaling network and blocks until an address is assigned.
	Open(ctx context.Context) (domain.Address, error)
	// Call initiates a direct connection carrying the given outgoing tracks.
	Call(ctx context.Context, to domain.Address, tracks []webrtc.TrackLocal) (MediaConnection, error)
	// OnCall sets the handler for inbound connection requests.
	OnCall(func(InboundCall))
	Close() error
}
