package testutil

import (
	"sync"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

// StaticTracks is a fixed outgoing track set with one Opus and one VP8 track.
type StaticTracks []webrtc.TrackLocal

func (s StaticTracks) Tracks() []webrtc.TrackLocal { return s }

func NewStaticTracks(t *testing.T) StaticTracks {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	require.NoError(t, err)
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test")
	require.NoError(t, err)
	return StaticTracks{audio, video}
}

var _ core.LocalTracks = StaticTracks(nil)

// Sink counts what is written to it.
type Sink struct {
	mu      sync.Mutex
	packets int
	closed  bool
}

func (s *Sink) WriteRTP(*rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets++
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Sink) Packets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets
}

func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type sinkKey struct {
	user domain.UserID
	kind domain.TrackKind
}

// Sinks is a SinkFactory that remembers every sink it built.
type Sinks struct {
	mu  sync.Mutex
	all map[sinkKey][]*Sink
}

func NewSinks() *Sinks { return &Sinks{all: make(map[sinkKey][]*Sink)} }

func (s *Sinks) Factory() core.SinkFactory {
	return func(user domain.UserID, kind domain.TrackKind) core.MediaSink {
		sink := &Sink{}
		s.mu.Lock()
		k := sinkKey{user, kind}
		s.all[k] = append(s.all[k], sink)
		s.mu.Unlock()
		return sink
	}
}

// Latest returns the most recent sink built for user and kind, or nil.
func (s *Sinks) Latest(user domain.UserID, kind domain.TrackKind) *Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.all[sinkKey{user, kind}]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Packets sums packets over every sink built for user and kind.
func (s *Sinks) Packets(user domain.UserID, kind domain.TrackKind) int {
	s.mu.Lock()
	list := append([]*Sink(nil), s.all[sinkKey{user, kind}]...)
	s.mu.Unlock()
	n := 0
	for _, sink := range list {
		n += sink.Packets()
	}
	return n
}
