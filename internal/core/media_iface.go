package core

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/echomeet/internal/domain"
)

// RemoteTrack is one inbound media track of a direct connection.
type RemoteTrack interface {
	ID() string
	Kind() domain.TrackKind
	// ReadRTP blocks until the next packet; it returns an error once the connection is gone.
	ReadRTP() (*rtp.Packet, error)
}

// MediaConnection is one direct media connection to a remote client.
type MediaConnection interface {
	// ID is unique per connection and shared by both ends.
	ID() string
	// Remote is the signaling address of the far end.
	Remote() domain.Address
	// OnTrack sets a callback invoked for every remote track. Tracks that arrived
	// before the callback was set are replayed to it.
	OnTrack(func(RemoteTrack))
	// OnClosed sets a callback invoked once when either side closes the connection.
	OnClosed(func())
	// Close stops all underlying media resources.
	Close()
}

// InboundCall is a connection request opened by a remote client.
type InboundCall interface {
	MediaConnection
	// Answer accepts the request, sending the given local tracks back.
	Answer(tracks []webrtc.TrackLocal) error
}

// MediaSink is where an attached remote track is played back.
type MediaSink interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// SinkFactory builds the playback sink of one participant for one media kind.
type SinkFactory func(user domain.UserID, kind domain.TrackKind) MediaSink

// LocalTracks exposes the current outgoing track set.
type LocalTracks interface {
	Tracks() []webrtc.TrackLocal
}
