// Package playback decodes the remote peer's Opus audio to PCM so it can be heard
// or analysed locally.
package playback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	"gopkg.in/hraban/opus.v2"

	"github.com/tarang-care/tarang-live/internal/log"
	"github.com/tarang-care/tarang-live/pkg/media"
)

// Output format
const (
	SampleRate = 48000
	Channels   = 1

	// 120ms at 48kHz, the longest Opus frame.
	maxFrameSamples = 5760
)

// Stats counts decoded traffic.
type Stats struct {
	Packets      int64 `json:"packets"`
	Samples      int64 `json:"samples"`
	DecodeErrors int64 `json:"decode_errors"`
}

// Opus is a remote sink that decodes Opus audio tracks to 16-bit little-endian
// mono PCM written to Out. Non-audio tracks go to Video, or are discarded.
type Opus struct {
	Out   io.Writer
	Video media.RemoteSink

	log          *slog.Logger
	packets      atomic.Int64
	samples      atomic.Int64
	decodeErrors atomic.Int64
}

// New creates an Opus sink writing PCM to out.
func New(out io.Writer, video media.RemoteSink) *Opus {
	return &Opus{
		Out:   out,
		Video: video,
		log:   log.Component("playback"),
	}
}

// Stats returns the decode counters.
func (o *Opus) Stats() Stats {
	return Stats{
		Packets:      o.packets.Load(),
		Samples:      o.samples.Load(),
		DecodeErrors: o.decodeErrors.Load(),
	}
}

// Consume decodes track until it ends.
func (o *Opus) Consume(track media.RemoteTrack) error {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		if o.Video != nil {
			return o.Video.Consume(track)
		}
		return media.Discard.Consume(track)
	}
	if o.log == nil {
		o.log = log.Component("playback")
	}

	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return fmt.Errorf("create opus decoder: %w", err)
	}

	pcm := make([]int16, maxFrameSamples)
	buf := make([]byte, maxFrameSamples*2)

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		o.packets.Add(1)

		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			if o.decodeErrors.Add(1) <= 5 {
				o.log.Warn("opus decode failed", "error", err, "bytes", len(pkt.Payload))
			}
			continue
		}
		o.samples.Add(int64(n))

		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(pcm[i]))
		}
		if _, err := o.Out.Write(buf[:n*2]); err != nil {
			return fmt.Errorf("write pcm: %w", err)
		}
	}
}

// Speaker is an external player process reading PCM on stdin.
type Speaker struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// PlayerArgs returns the ffplay arguments for raw PCM in this package's format.
func PlayerArgs() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-nodisp", "-autoexit",
		"-f", "s16le",
		"-ar", fmt.Sprint(SampleRate),
		"-ac", fmt.Sprint(Channels),
		"-i", "pipe:0",
	}
}

// StartSpeaker launches ffplay (or the given binary) to play PCM from Write.
func StartSpeaker(bin string) (*Speaker, error) {
	if bin == "" {
		bin = "ffplay"
	}
	cmd := exec.Command(bin, PlayerArgs()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("player stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start player: %w", err)
	}
	return &Speaker{cmd: cmd, stdin: stdin}, nil
}

// Write sends PCM to the player.
func (s *Speaker) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Close ends playback and waits for the player to exit.
func (s *Speaker) Close() error {
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
