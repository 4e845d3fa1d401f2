// Package media owns local capture and the outgoing track set, and builds
// playback sinks for remote tracks.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

var _ core.LocalTracks = (*Source)(nil)

// gate drops audio samples while muted. The track stays negotiated.
type gate struct {
	next  SampleWriter
	muted *atomic.Bool
}

func (g gate) WriteSample(s media.Sample) error {
	if g.muted.Load() {
		return nil
	}
	return g.next.WriteSample(s)
}

type capture struct {
	track  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *capture) stop() {
	c.cancel()
	<-c.done
}

// Source is the Local Media Source: the exclusive owner of the capture devices.
type Source struct {
	audioDev, videoDev Device
	streamID           string
	log                zerolog.Logger

	muted atomic.Bool

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	audio   *capture
	video   *capture
}

// NewSource takes either device as nil when it is not available.
func NewSource(audio, video Device) *Source {
	return &Source{
		audioDev: audio,
		videoDev: video,
		streamID: "echomeet-" + uuid.NewString()[:8],
		log:      log.With().Str("module", "app.media").Logger(),
	}
}

// Start acquires capture. It fails with ErrCaptureDenied only when no device
// could be opened; a single working device is enough.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	var errs []error
	if s.audioDev != nil {
		c, err := s.startLocked(s.audioDev)
		if err != nil {
			errs = append(errs, err)
		}
		s.audio = c
	}
	if s.videoDev != nil {
		c, err := s.startLocked(s.videoDev)
		if err != nil {
			errs = append(errs, err)
		}
		s.video = c
	}
	s.started = true
	if s.audio == nil && s.video == nil {
		if len(errs) == 0 {
			errs = append(errs, errors.New("no capture devices configured"))
		}
		return fmt.Errorf("%w: %w", domain.ErrCaptureDenied, errors.Join(errs...))
	}
	if len(errs) > 0 {
		s.log.Warn().Err(errors.Join(errs...)).Msg("partial capture")
	}
	return nil
}

func (s *Source) startLocked(dev Device) (*capture, error) {
	if err := dev.Check(); err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(dev.Codec(), string(dev.Kind()), s.streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCaptureDenied, err)
	}
	var w SampleWriter = track
	if dev.Kind() == domain.TrackAudio {
		w = gate{next: track, muted: &s.muted}
	}

	ctx, cancel := context.WithCancel(s.ctx)
	c := &capture{track: track, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(c.done)
		if err := dev.Run(ctx, w); err != nil {
			s.log.Error().Err(err).Str("kind", string(dev.Kind())).Msg("capture stopped")
		}
	}()
	s.log.Info().Str("kind", string(dev.Kind())).Str("track", track.ID()).Msg("capture started")
	return c, nil
}

// Tracks is the current outgoing track set. It is empty when capture failed.
func (s *Source) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]webrtc.TrackLocal, 0, 2)
	if s.audio != nil {
		out = append(out, s.audio.track)
	}
	if s.video != nil {
		out = append(out, s.video.track)
	}
	return out
}

// SetMuted gates outgoing audio without touching the track set.
func (s *Source) SetMuted(muted bool) { s.muted.Store(muted) }

func (s *Source) Muted() bool { return s.muted.Load() }

// SetVideo stops the camera when on is false. Turning it back on starts a new
// capture with a fresh track, so peers must renegotiate to see it.
func (s *Source) SetVideo(on bool) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("set video: %w: capture not started", domain.ErrCaptureDenied)
	}
	if !on {
		old := s.video
		s.video = nil
		s.mu.Unlock()
		if old != nil {
			old.stop()
			s.log.Info().Msg("camera off")
		}
		return nil
	}
	defer s.mu.Unlock()
	if s.video != nil {
		return nil
	}
	if s.videoDev == nil {
		return fmt.Errorf("set video: %w: no camera", domain.ErrCaptureDenied)
	}
	c, err := s.startLocked(s.videoDev)
	if err != nil {
		return err
	}
	s.video = c
	return nil
}

func (s *Source) VideoOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video != nil
}

// Stop releases every device. It is safe to call more than once.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	caps := []*capture{s.audio, s.video}
	s.audio, s.video = nil, nil
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	for _, c := range caps {
		if c != nil {
			<-c.done
		}
	}
	s.log.Info().Msg("capture stopped")
}
