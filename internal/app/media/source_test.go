package media

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/echomeet/internal/domain"
)

// fakeDevice counts the runs that are currently active.
type fakeDevice struct {
	kind    domain.TrackKind
	denied  bool
	running atomic.Int32
	runs    atomic.Int32
}

func (d *fakeDevice) Kind() domain.TrackKind { return d.kind }

func (d *fakeDevice) Codec() webrtc.RTPCodecCapability {
	if d.kind == domain.TrackAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
}

func (d *fakeDevice) Check() error {
	if d.denied {
		return domain.ErrCaptureDenied
	}
	return nil
}

func (d *fakeDevice) Run(ctx context.Context, _ SampleWriter) error {
	d.runs.Add(1)
	d.running.Add(1)
	defer d.running.Add(-1)
	<-ctx.Done()
	return nil
}

type recordWriter struct {
	mu sync.Mutex
	n  int
}

func (w *recordWriter) WriteSample(media.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n++
	return nil
}

func (w *recordWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func TestStartWithoutDevicesIsCaptureDenied(t *testing.T) {
	s := NewSource(nil, nil)
	err := s.Start()
	require.ErrorIs(t, err, domain.ErrCaptureDenied)
	assert.Empty(t, s.Tracks())
	s.Stop()
}

func TestStartWithOneDeniedDeviceStillCaptures(t *testing.T) {
	audio := &fakeDevice{kind: domain.TrackAudio}
	video := &fakeDevice{kind: domain.TrackVideo, denied: true}
	s := NewSource(audio, video)
	require.NoError(t, s.Start())
	defer s.Stop()

	tracks := s.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[0].Kind())
}

func TestMuteGatesAudioWrites(t *testing.T) {
	var muted atomic.Bool
	rec := &recordWriter{}
	g := gate{next: rec, muted: &muted}

	require.NoError(t, g.WriteSample(media.Sample{Data: []byte{1}}))
	muted.Store(true)
	require.NoError(t, g.WriteSample(media.Sample{Data: []byte{2}}))
	muted.Store(false)
	require.NoError(t, g.WriteSample(media.Sample{Data: []byte{3}}))

	assert.Equal(t, 2, rec.count())
}

func TestCameraToggleReplacesVideoTrack(t *testing.T) {
	audio := &fakeDevice{kind: domain.TrackAudio}
	video := &fakeDevice{kind: domain.TrackVideo}
	s := NewSource(audio, video)
	require.NoError(t, s.Start())
	defer s.Stop()

	before := s.Tracks()
	require.Len(t, before, 2)

	require.NoError(t, s.SetVideo(false))
	assert.False(t, s.VideoOn())
	assert.Len(t, s.Tracks(), 1)
	assert.Equal(t, int32(0), video.running.Load())

	s.SetMuted(true)
	assert.True(t, s.Muted())
	assert.Len(t, s.Tracks(), 1, "mute keeps the audio track")

	require.NoError(t, s.SetVideo(true))
	after := s.Tracks()
	require.Len(t, after, 2)
	assert.NotSame(t, before[1], after[1])
	assert.Same(t, before[0], after[0])
	require.Eventually(t, func() bool { return video.runs.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestStopReleasesDevices(t *testing.T) {
	audio := &fakeDevice{kind: domain.TrackAudio}
	video := &fakeDevice{kind: domain.TrackVideo}
	s := NewSource(audio, video)
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool {
		return audio.running.Load() == 1 && video.running.Load() == 1
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.Equal(t, int32(0), audio.running.Load())
	assert.Equal(t, int32(0), video.running.Load())
	assert.Empty(t, s.Tracks())
}

// writeIVF writes a minimal VP8 IVF file with a 10ms timebase.
func writeIVF(t *testing.T, frames int) string {
	t.Helper()
	buf := make([]byte, 32)
	copy(buf[0:4], "DKIF")
	binary.LittleEndian.PutUint16(buf[4:], 0)
	binary.LittleEndian.PutUint16(buf[6:], 32)
	copy(buf[8:12], "VP80")
	binary.LittleEndian.PutUint16(buf[12:], 64)
	binary.LittleEndian.PutUint16(buf[14:], 48)
	binary.LittleEndian.PutUint32(buf[16:], 100)
	binary.LittleEndian.PutUint32(buf[20:], 1)
	binary.LittleEndian.PutUint32(buf[24:], uint32(frames))
	for i := range frames {
		hdr := make([]byte, 12)
		binary.LittleEndian.PutUint32(hdr[0:], 4)
		binary.LittleEndian.PutUint64(hdr[4:], uint64(i))
		buf = append(buf, hdr...)
		buf = append(buf, 0x10, 0x02, 0x00, byte(i))
	}
	path := filepath.Join(t.TempDir(), "cam.ivf")
	require.NoError(t, os.WriteFile(path, buf, 0o600))
	return path
}

func TestFileDeviceLoopsIVF(t *testing.T) {
	dev, err := NewFileDevice(writeIVF(t, 2))
	require.NoError(t, err)
	assert.Equal(t, domain.TrackVideo, dev.Kind())
	require.NoError(t, dev.Check())

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recordWriter{}
	done := make(chan error, 1)
	go func() { done <- dev.Run(ctx, rec) }()

	require.Eventually(t, func() bool { return rec.count() >= 5 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestFileDeviceCheckDenied(t *testing.T) {
	_, err := NewFileDevice("clip.mp4")
	require.Error(t, err)

	dev, err := NewFileDevice(filepath.Join(t.TempDir(), "missing.ogg"))
	require.NoError(t, err)
	assert.Equal(t, domain.TrackAudio, dev.Kind())
	assert.ErrorIs(t, dev.Check(), domain.ErrCaptureDenied)
}

func TestSinksFactory(t *testing.T) {
	t.Chdir(t.TempDir())

	for _, kind := range []domain.TrackKind{domain.TrackAudio, domain.TrackVideo} {
		sink := Sinks()("u1", kind)
		counting, ok := sink.(*CountingSink)
		require.True(t, ok)
		require.NoError(t, counting.WriteRTP(packetWithPayload(3)))
		assert.Equal(t, uint64(1), counting.Packets())
		require.NoError(t, sink.Close())
	}

	// Playback leaves nothing on disk.
	entries, err := os.ReadDir(".")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func packetWithPayload(n int) *rtp.Packet {
	return &rtp.Packet{Payload: make([]byte, n)}
}
