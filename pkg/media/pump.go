package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
)

// Opus in WebRTC always runs at 48kHz.
const opusClockRate = 48000

const defaultFrameDuration = time.Second / 30

// sampleReader yields encoded media samples in order. It returns io.EOF at the end.
type sampleReader interface {
	NextSample() (pionmedia.Sample, error)
}

// ivfSamples reads VP8 frames from an IVF container.
type ivfSamples struct {
	r      *ivfreader.IVFReader
	tick   time.Duration
	lastTS uint64
	first  bool
}

func newIVFSamples(rd io.Reader) (*ivfSamples, error) {
	r, header, err := ivfreader.NewWith(rd)
	if err != nil {
		return nil, fmt.Errorf("read ivf header: %w", err)
	}
	if header.FourCC != "VP80" {
		return nil, fmt.Errorf("unsupported ivf codec %q", header.FourCC)
	}

	tick := defaultFrameDuration
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		tick = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}
	return &ivfSamples{r: r, tick: tick, first: true}, nil
}

func (s *ivfSamples) NextSample() (pionmedia.Sample, error) {
	frame, fh, err := s.r.ParseNextFrame()
	if err != nil {
		return pionmedia.Sample{}, err
	}

	d := s.tick
	if !s.first && fh.Timestamp > s.lastTS {
		d = time.Duration(fh.Timestamp-s.lastTS) * s.tick
	}
	s.first = false
	s.lastTS = fh.Timestamp

	return pionmedia.Sample{Data: frame, Duration: d}, nil
}

// oggSamples reads Opus packets from an Ogg container, one page per sample.
type oggSamples struct {
	r           *oggreader.OggReader
	lastGranule uint64
}

func newOggSamples(rd io.Reader) (*oggSamples, error) {
	r, _, err := oggreader.NewWith(rd)
	if err != nil {
		return nil, fmt.Errorf("read ogg header: %w", err)
	}
	return &oggSamples{r: r}, nil
}

func (s *oggSamples) NextSample() (pionmedia.Sample, error) {
	for {
		page, ph, err := s.r.ParseNextPage()
		if err != nil {
			return pionmedia.Sample{}, err
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}

		var count uint64
		if ph.GranulePosition > s.lastGranule {
			count = ph.GranulePosition - s.lastGranule
		}
		s.lastGranule = ph.GranulePosition

		d := time.Duration(float64(count) / opusClockRate * float64(time.Second))
		return pionmedia.Sample{Data: page, Duration: d}, nil
	}
}

// newSampleTrack creates a local track for the given codec.
func newSampleTrack(kind webrtc.RTPCodecType) (*webrtc.TrackLocalStaticSample, error) {
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		return webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, VideoTrackID, StreamID)
	case webrtc.RTPCodecTypeAudio:
		return webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2}, AudioTrackID, StreamID)
	}
	return nil, fmt.Errorf("unsupported track kind %s", kind)
}

// pump copies samples from r to track until r ends, ctx is done or a write fails,
// and returns the number of samples read. With pace set it waits each sample's
// duration, as files are read faster than real time. Samples are dropped while
// the local set has the track's kind disabled.
func pump(ctx context.Context, l *Local, track *webrtc.TrackLocalStaticSample, r sampleReader, pace bool) (int, error) {
	kind := track.Kind()

	var timer *time.Timer
	if pace {
		timer = time.NewTimer(0)
		defer timer.Stop()
		<-timer.C
	}

	n := 0
	for {
		if ctx.Err() != nil {
			return n, nil
		}

		sample, err := r.NextSample()
		if err != nil {
			return n, err
		}
		n++

		if l.Enabled(kind) {
			if err := track.WriteSample(sample); err != nil {
				return n, fmt.Errorf("write %s sample: %w", kind, err)
			}
		}

		if pace && sample.Duration > 0 {
			timer.Reset(sample.Duration)
			select {
			case <-ctx.Done():
				return n, nil
			case <-timer.C:
			}
		}
	}
}
