package mesh

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

type attachState int32

const (
	attachDetached attachState = iota
	attachAttached
	attachDone
)

type sinkRef struct{ core.MediaSink }

// attachment is one received remote track and the sink it currently feeds.
// A single pump goroutine reads the track for its whole life and forwards
// packets only while attached.
type attachment struct {
	track core.RemoteTrack
	kind  domain.TrackKind
	state atomic.Int32 // zero is attachDetached
	sink  atomic.Pointer[sinkRef]
}

func newAttachment(t core.RemoteTrack) *attachment {
	return &attachment{track: t, kind: t.Kind()}
}

func (a *attachment) getState() attachState {
	return attachState(a.state.Load())
}

func (a *attachment) attached() bool { return a.getState() == attachAttached }

// attach points the attachment at sink. It fails once the track is done.
func (a *attachment) attach(sink core.MediaSink) bool {
	a.sink.Store(&sinkRef{sink})
	for {
		cur := a.state.Load()
		if attachState(cur) == attachDone {
			a.sink.Store(nil)
			return false
		}
		if a.state.CompareAndSwap(cur, int32(attachAttached)) {
			return true
		}
	}
}

func (a *attachment) detach() {
	a.state.CompareAndSwap(int32(attachAttached), int32(attachDetached))
}

func (a *attachment) release() {
	a.state.Store(int32(attachDone))
	a.sink.Store(nil)
}

func (a *attachment) pump(l zerolog.Logger) {
	defer a.release()
	for {
		pkt, err := a.track.ReadRTP()
		if err != nil {
			l.Debug().Err(err).Str("track", a.track.ID()).Msg("remote track ended")
			return
		}
		if a.getState() != attachAttached {
			continue
		}
		if ref := a.sink.Load(); ref != nil {
			if err := ref.WriteRTP(pkt); err != nil {
				l.Warn().Err(err).Str("track", a.track.ID()).Msg("sink write failed")
			}
		}
	}
}
