package media

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

// CountingSink discards packets and logs totals on Close.
type CountingSink struct {
	user    domain.UserID
	kind    domain.TrackKind
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (s *CountingSink) WriteRTP(p *rtp.Packet) error {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(p.Payload)))
	return nil
}

func (s *CountingSink) Close() error {
	log.Info().Str("module", "app.media").Str("user", string(s.user)).Str("kind", string(s.kind)).
		Uint64("packets", s.packets.Load()).Uint64("bytes", s.bytes.Load()).Msg("playback finished")
	return nil
}

func (s *CountingSink) Packets() uint64 { return s.packets.Load() }

// Sinks builds a CountingSink per participant and kind. Remote media is
// played back, never stored.
func Sinks() core.SinkFactory {
	return func(user domain.UserID, kind domain.TrackKind) core.MediaSink {
		return &CountingSink{user: user, kind: kind}
	}
}
