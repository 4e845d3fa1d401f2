package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/dkeye/echomeet/internal/domain"
)

// SampleWriter is the write side of a local track.
type SampleWriter interface {
	WriteSample(media.Sample) error
}

// Device is a capture source for one kind of media.
type Device interface {
	Kind() domain.TrackKind
	Codec() webrtc.RTPCodecCapability
	// Check verifies the device can be opened. It fails with ErrCaptureDenied.
	Check() error
	// Run writes samples to w until ctx is done.
	Run(ctx context.Context, w SampleWriter) error
}

const opusClockRate = 48000

// FileDevice replays an Opus/Ogg or VP8/IVF file in a loop at its own pace.
type FileDevice struct {
	path string
	kind domain.TrackKind
}

var _ Device = (*FileDevice)(nil)

func NewFileDevice(path string) (*FileDevice, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".opus":
		return &FileDevice{path: path, kind: domain.TrackAudio}, nil
	case ".ivf":
		return &FileDevice{path: path, kind: domain.TrackVideo}, nil
	}
	return nil, fmt.Errorf("media file %q: unsupported format", path)
}

func (d *FileDevice) Kind() domain.TrackKind { return d.kind }

func (d *FileDevice) Codec() webrtc.RTPCodecCapability {
	if d.kind == domain.TrackAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func (d *FileDevice) Check() error {
	f, err := os.Open(d.path)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCaptureDenied, err)
	}
	defer f.Close()
	if d.kind == domain.TrackAudio {
		_, _, err = oggreader.NewWith(f)
	} else {
		_, _, err = ivfreader.NewWith(f)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrCaptureDenied, d.path, err)
	}
	return nil
}

func (d *FileDevice) Run(ctx context.Context, w SampleWriter) error {
	for {
		var err error
		if d.kind == domain.TrackAudio {
			err = d.playOgg(ctx, w)
		} else {
			err = d.playIVF(ctx, w)
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// playOgg sends one pass of the file. It returns nil at end of file.
func (d *FileDevice) playOgg(ctx context.Context, w SampleWriter) error {
	f, err := os.Open(d.path)
	if err != nil {
		return err
	}
	defer f.Close()
	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}

	// Opus pages are 20ms in the files we produce.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		dur := time.Duration(float64(samples)/opusClockRate*1000) * time.Millisecond
		if err := w.WriteSample(media.Sample{Data: page, Duration: dur}); err != nil {
			return err
		}
	}
}

func (d *FileDevice) playIVF(ctx context.Context, w SampleWriter) error {
	f, err := os.Open(d.path)
	if err != nil {
		return err
	}
	defer f.Close()
	ivf, header, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}

	interval := 33 * time.Millisecond
	if header.TimebaseDenominator != 0 {
		interval = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := w.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
			return err
		}
	}
}
