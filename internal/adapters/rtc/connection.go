package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/echomeet/internal/adapters/signal"
	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

// Connection is one peer connection to a remote client, either dialed by us
// or answered on request.
type Connection struct {
	pc     *webrtc.PeerConnection
	id     string
	remote domain.Address
	t      *Transport

	// offer is set on inbound connections until they are answered.
	offer *webrtc.SessionDescription

	mu       sync.Mutex
	tracks   []core.RemoteTrack
	onTrack  func(core.RemoteTrack)
	onClosed func()
	closed   bool
}

var (
	_ core.MediaConnection = (*Connection)(nil)
	_ core.InboundCall     = (*Connection)(nil)
)

func newConnection(t *Transport, id string, remote domain.Address) (*Connection, error) {
	pc, err := t.api.NewPeerConnection(t.rtcConfig)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, id: id, remote: remote, t: t}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "rtc").Str("cid", id).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.shutdown(false)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("cid", id).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		rt := &remoteTrack{track: track}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.tracks = append(c.tracks, rt)
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(rt)
		}
	})
	return c, nil
}

func (c *Connection) ID() string             { return c.id }
func (c *Connection) Remote() domain.Address { return c.remote }

func (c *Connection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	replay := append([]core.RemoteTrack(nil), c.tracks...)
	c.mu.Unlock()
	for _, rt := range replay {
		fn(rt)
	}
}

func (c *Connection) OnClosed(fn func()) {
	c.mu.Lock()
	closed := c.closed
	if !closed {
		c.onClosed = fn
	}
	c.mu.Unlock()
	if closed {
		fn()
	}
}

// addTracks sends every local track and makes sure both kinds can still be
// received when we have nothing of that kind to send.
func (c *Connection) addTracks(tracks []webrtc.TrackLocal) error {
	sending := map[webrtc.RTPCodecType]bool{}
	for _, tr := range tracks {
		sender, err := c.pc.AddTrack(tr)
		if err != nil {
			return err
		}
		sending[tr.Kind()] = true
		go drainRTCP(sender)
	}
	if c.offer != nil {
		return nil
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if sending[kind] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

// localDescription sets desc and waits for ICE gathering to finish so that
// the description carries every candidate.
func (c *Connection) localDescription(desc webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return "", err
	}
	<-gatherComplete
	return c.pc.LocalDescription().SDP, nil
}

func (c *Connection) Answer(tracks []webrtc.TrackLocal) error {
	if c.offer == nil {
		return domain.ErrConnectionFailed
	}
	if err := c.pc.SetRemoteDescription(*c.offer); err != nil {
		return err
	}
	if err := c.addTracks(tracks); err != nil {
		return err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	sdp, err := c.localDescription(answer)
	if err != nil {
		return err
	}
	return c.t.send(signal.Message{Type: signal.TypeAnswer, Dst: c.remote, CID: c.id, SDP: sdp})
}

func (c *Connection) addCandidate(m signal.Message) {
	err := c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     m.Candidate,
		SDPMid:        m.SDPMid,
		SDPMLineIndex: m.SDPMLineIndex,
	})
	if err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("cid", c.id).Msg("candidate rejected")
	}
}

func (c *Connection) Close() { c.shutdown(true) }

// shutdown closes the peer connection once. bye tells the far end.
func (c *Connection) shutdown(bye bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClosed
	c.onClosed = nil
	c.mu.Unlock()

	c.t.forget(c.id)
	if bye {
		if err := c.t.send(signal.Message{Type: signal.TypeBye, Dst: c.remote, CID: c.id}); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("cid", c.id).Msg("bye not sent")
		}
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("cid", c.id).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("cid", c.id).Msg("closed")
	}
	if fn != nil {
		fn()
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
