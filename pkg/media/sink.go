package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"

	"github.com/tarang-care/tarang-live/internal/log"
)

// RemoteTrack is an inbound track from the peer. *webrtc.TrackRemote implements it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteSink consumes one remote track. Consume blocks until the track ends
// and returns nil when it ended normally.
type RemoteSink interface {
	Consume(track RemoteTrack) error
}

// SinkFunc adapts a function to RemoteSink.
type SinkFunc func(track RemoteTrack) error

// Consume calls f.
func (f SinkFunc) Consume(track RemoteTrack) error { return f(track) }

// Discard reads and drops every packet.
var Discard RemoteSink = SinkFunc(func(track RemoteTrack) error {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return endOfTrack(err)
		}
	}
})

// Split routes audio and video tracks to different sinks. A nil sink discards.
type Split struct {
	Audio RemoteSink
	Video RemoteSink
}

// Consume dispatches by track kind.
func (s Split) Consume(track RemoteTrack) error {
	var sink RemoteSink
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		sink = s.Audio
	case webrtc.RTPCodecTypeVideo:
		sink = s.Video
	}
	if sink == nil {
		sink = Discard
	}
	return sink.Consume(track)
}

// rtpWriter is what ivfwriter and oggwriter have in common.
type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// Recorder writes remote VP8 video to .ivf and Opus audio to .ogg files under Dir.
// Tracks with other codecs are discarded.
type Recorder struct {
	Dir    string
	Prefix string

	mu    sync.Mutex
	files []string
	now   func() time.Time
}

// NewRecorder creates a recorder writing into dir.
func NewRecorder(dir, prefix string) *Recorder {
	return &Recorder{Dir: dir, Prefix: prefix, now: time.Now}
}

// Files returns the paths written so far.
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

// Consume records the track until it ends.
func (r *Recorder) Consume(track RemoteTrack) error {
	codec := track.Codec()
	mime := strings.ToLower(codec.MimeType)

	var ext string
	switch mime {
	case strings.ToLower(webrtc.MimeTypeVP8):
		ext = ".ivf"
	case strings.ToLower(webrtc.MimeTypeOpus):
		ext = ".ogg"
	default:
		log.Component("media").Warn("not recording unsupported codec", "codec", codec.MimeType, "track", track.ID())
		return Discard.Consume(track)
	}

	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}
	path := filepath.Join(r.Dir, r.fileName(track, ext))

	var (
		w   rtpWriter
		err error
	)
	if ext == ".ivf" {
		w, err = ivfwriter.New(path)
	} else {
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		w, err = oggwriter.New(path, codec.ClockRate, channels)
	}
	if err != nil {
		return fmt.Errorf("open recording %s: %w", path, err)
	}

	r.mu.Lock()
	r.files = append(r.files, path)
	r.mu.Unlock()

	readErr := copyRTP(w, track)
	closeErr := w.Close()
	return errors.Join(readErr, closeErr)
}

func (r *Recorder) fileName(track RemoteTrack, ext string) string {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	prefix := r.Prefix
	if prefix == "" {
		prefix = "remote"
	}
	return fmt.Sprintf("%s-%s-%s%s", prefix, track.Kind(), now().UTC().Format("20060102T150405"), ext)
}

func copyRTP(w rtpWriter, track RemoteTrack) error {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return endOfTrack(err)
		}
		if err := w.WriteRTP(pkt); err != nil {
			return fmt.Errorf("write rtp: %w", err)
		}
	}
}

// endOfTrack maps the errors a track returns when it is closed to nil.
func endOfTrack(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
