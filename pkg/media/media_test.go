package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarang-care/tarang-live/pkg/capture"
)

// writeIVF writes a VP8 IVF file at 30 fps with the given frames.
func writeIVF(t *testing.T, path string, frames [][]byte) {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("DKIF")
	_ = binary.Write(&buf, binary.LittleEndian, uint16(0))  // version
	_ = binary.Write(&buf, binary.LittleEndian, uint16(32)) // header size
	buf.WriteString("VP80")
	_ = binary.Write(&buf, binary.LittleEndian, uint16(64))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(48))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(30)) // timebase denominator
	_ = binary.Write(&buf, binary.LittleEndian, uint32(1))  // timebase numerator
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(frames)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))

	for i, f := range frames {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(f)))
		_ = binary.Write(&buf, binary.LittleEndian, uint64(i))
		buf.Write(f)
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// writeOgg writes an Opus Ogg file with n 20ms packets.
func writeOgg(t *testing.T, path string, n int) {
	t.Helper()
	w, err := oggwriter.New(path, 48000, 2)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, w.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: []byte{0xf8, 0xff, 0xfe},
		}))
	}
	require.NoError(t, w.Close())
}

func TestLocal_StopJoinsErrorsAndRunsAll(t *testing.T) {
	var order []string
	l := NewLocal()

	video, err := newSampleTrack(webrtc.RTPCodecTypeVideo)
	require.NoError(t, err)
	audio, err := newSampleTrack(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)

	l.Add(video, func() error {
		order = append(order, "video")
		return errors.New("encoder stuck")
	})
	l.Add(audio, func() error {
		order = append(order, "audio")
		panic("boom")
	})
	l.OnStop("camera", func() error {
		order = append(order, "camera")
		return nil
	})

	err = l.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoder stuck")
	assert.Contains(t, err.Error(), "panic: boom")
	assert.Equal(t, []string{"video", "audio", "camera"}, order)
	assert.True(t, l.Stopped())

	// second Stop does not rerun producers
	err2 := l.Stop()
	assert.Equal(t, err, err2)
	assert.Len(t, order, 3)
	assert.Len(t, l.Tracks(), 2)
}

func TestLocal_NilStop(t *testing.T) {
	var l *Local
	assert.NoError(t, l.Stop())
	assert.False(t, l.Stopped())
}

func TestLocal_SetEnabled(t *testing.T) {
	l := NewLocal()
	assert.True(t, l.Enabled(webrtc.RTPCodecTypeAudio))
	assert.True(t, l.Enabled(webrtc.RTPCodecTypeVideo))

	l.SetEnabled(webrtc.RTPCodecTypeAudio, false)
	assert.False(t, l.Enabled(webrtc.RTPCodecTypeAudio))
	assert.True(t, l.Enabled(webrtc.RTPCodecTypeVideo))
}

func TestIVFSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.ivf")
	writeIVF(t, path, [][]byte{{1, 2, 3}, {4, 5}, {6}})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := newIVFSamples(f)
	require.NoError(t, err)

	var got [][]byte
	for {
		s, err := r.NextSample()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, time.Second/30, s.Duration)
		got = append(got, s.Data)
	}
	assert.Equal(t, [][]byte{{1, 2, 3}, {4, 5}, {6}}, got)
}

func TestIVFSamples_RejectsOtherCodecs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.ivf")
	writeIVF(t, path, nil)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	copy(data[8:12], "AV01")

	_, err = newIVFSamples(bytes.NewReader(data))
	assert.Error(t, err)
}

func TestOggSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.ogg")
	writeOgg(t, path, 5)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := newOggSamples(f)
	require.NoError(t, err)

	n := 0
	for {
		s, err := r.NextSample()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.False(t, bytes.HasPrefix(s.Data, []byte("OpusTags")))
		n++
	}
	assert.Equal(t, 5, n)
}

type countingReader struct {
	n   int
	max int
}

func (r *countingReader) NextSample() (pionmedia.Sample, error) {
	if r.n >= r.max {
		return pionmedia.Sample{}, io.EOF
	}
	r.n++
	return pionmedia.Sample{Data: []byte{byte(r.n)}, Duration: time.Millisecond}, nil
}

func TestPump_ReadsUntilEOF(t *testing.T) {
	track, err := newSampleTrack(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)

	l := NewLocal()
	l.SetEnabled(webrtc.RTPCodecTypeAudio, false)

	n, err := pump(context.Background(), l, track, &countingReader{max: 4}, true)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, n)
}

func TestPump_StopsOnCancel(t *testing.T) {
	track, err := newSampleTrack(webrtc.RTPCodecTypeVideo)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := pump(ctx, NewLocal(), track, &countingReader{max: 100}, false)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFileSource_Open(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "v.ivf")
	audio := filepath.Join(dir, "a.ogg")
	writeIVF(t, video, [][]byte{{1}, {2}, {3}})
	writeOgg(t, audio, 3)

	local, err := FileSource{VideoPath: video, AudioPath: audio, Loop: true}.Open(context.Background())
	require.NoError(t, err)

	tracks := local.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, tracks[0].Kind())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[1].Kind())
	assert.Equal(t, StreamID, tracks[0].StreamID())

	time.Sleep(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- local.Stop() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestFileSource_Unavailable(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.ivf")
	require.NoError(t, os.WriteFile(bogus, []byte("not ivf"), 0o644))

	tests := []struct {
		name string
		src  FileSource
	}{
		{"nothing configured", FileSource{}},
		{"missing file", FileSource{VideoPath: filepath.Join(dir, "nope.ivf")}},
		{"bad container", FileSource{VideoPath: bogus}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, err := tt.src.Open(context.Background())
			assert.Nil(t, local)
			assert.ErrorIs(t, err, ErrMediaUnavailable)
		})
	}
}

type fakeFeed struct{ open bool }

func (f fakeFeed) Config() capture.Config { return capture.DefaultConfig() }
func (f fakeFeed) IsOpen() bool           { return f.open }
func (f fakeFeed) Subscribe(int) (<-chan capture.RawFrame, func()) {
	ch := make(chan capture.RawFrame)
	return ch, func() {}
}

func TestDeviceSource_Unavailable(t *testing.T) {
	tests := []struct {
		name string
		src  DeviceSource
	}{
		{"no camera", DeviceSource{}},
		{"camera closed", DeviceSource{Camera: fakeFeed{open: false}}},
		{"no ffmpeg", DeviceSource{Camera: fakeFeed{open: true}, FFmpegPath: "/nonexistent/ffmpeg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.src.Open(context.Background())
			assert.ErrorIs(t, err, ErrMediaUnavailable)
		})
	}
}

func TestEncoderArgs(t *testing.T) {
	cfg := capture.DefaultConfig()
	args := strings.Join(VideoEncoderArgs(cfg, "500k"), " ")
	assert.Contains(t, args, "-s 640x480")
	assert.Contains(t, args, "-r 15")
	assert.Contains(t, args, "-c:v libvpx")
	assert.Contains(t, args, "-b:v 500k")
	assert.True(t, strings.HasSuffix(args, "-f ivf pipe:1"))

	args = strings.Join(AudioEncoderArgs("alsa", "default", "64k"), " ")
	assert.Contains(t, args, "-f alsa -i default")
	assert.Contains(t, args, "-c:a libopus")
	assert.True(t, strings.HasSuffix(args, "-f ogg pipe:1"))
}

// fakeTrack replays packets then returns io.EOF.
type fakeTrack struct {
	kind    webrtc.RTPCodecType
	codec   webrtc.RTPCodecParameters
	mu      sync.Mutex
	packets []*rtp.Packet
}

func (f *fakeTrack) ID() string                       { return "remote-" + f.kind.String() }
func (f *fakeTrack) StreamID() string                 { return "remote" }
func (f *fakeTrack) Kind() webrtc.RTPCodecType        { return f.kind }
func (f *fakeTrack) Codec() webrtc.RTPCodecParameters { return f.codec }

func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.packets) == 0 {
		return nil, nil, io.EOF
	}
	p := f.packets[0]
	f.packets = f.packets[1:]
	return p, nil, nil
}

func opusTrack(n int) *fakeTrack {
	tr := &fakeTrack{
		kind: webrtc.RTPCodecTypeAudio,
		codec: webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2,
		}},
	}
	for i := 0; i < n; i++ {
		tr.packets = append(tr.packets, &rtp.Packet{
			Header:  rtp.Header{SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: []byte{0xf8, 0xff, 0xfe},
		})
	}
	return tr
}

func TestDiscardAndSplit(t *testing.T) {
	assert.NoError(t, Discard.Consume(opusTrack(3)))

	var audioSeen, videoSeen bool
	split := Split{
		Audio: SinkFunc(func(RemoteTrack) error { audioSeen = true; return nil }),
	}
	require.NoError(t, split.Consume(opusTrack(1)))
	require.NoError(t, split.Consume(&fakeTrack{kind: webrtc.RTPCodecTypeVideo}))
	assert.True(t, audioSeen)
	assert.False(t, videoSeen)
}

func TestRecorder_Opus(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(dir, "session")
	rec.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	require.NoError(t, rec.Consume(opusTrack(10)))

	files := rec.Files()
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dir, "session-audio-20260304T050607.ogg"), files[0])

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	_, header, err := oggreader.NewWith(f)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), header.Channels)
}

func TestRecorder_VP8Header(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(dir, "")

	track := &fakeTrack{
		kind:  webrtc.RTPCodecTypeVideo,
		codec: webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}},
	}
	require.NoError(t, rec.Consume(track))

	files := rec.Files()
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(filepath.Base(files[0]), "remote-video-"))

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	_, header, err := ivfreader.NewWith(f)
	require.NoError(t, err)
	assert.Equal(t, "VP80", header.FourCC)
}

func TestRecorder_UnsupportedCodecDiscarded(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(dir, "")
	track := &fakeTrack{
		kind:  webrtc.RTPCodecTypeVideo,
		codec: webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}},
	}
	require.NoError(t, rec.Consume(track))
	assert.Empty(t, rec.Files())
}
