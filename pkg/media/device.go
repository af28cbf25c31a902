package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/tarang-care/tarang-live/internal/log"
	"github.com/tarang-care/tarang-live/pkg/capture"
)

// FrameFeed is a running camera that shares raw frames.
type FrameFeed interface {
	Config() capture.Config
	IsOpen() bool
	Subscribe(buffer int) (<-chan capture.RawFrame, func())
}

// DeviceSource captures the local camera and microphone and encodes them through
// ffmpeg subprocesses: camera frames to VP8 in IVF, microphone to Opus in Ogg.
type DeviceSource struct {
	Camera FrameFeed

	// AudioFormat and AudioDevice are ffmpeg's -f and -i for the microphone,
	// e.g. "alsa"/"default", "pulse"/"default" or "avfoundation"/":0".
	// An empty AudioFormat disables audio.
	AudioFormat string
	AudioDevice string

	FFmpegPath   string
	VideoBitrate string
	AudioBitrate string
}

// Open starts the encoders and returns the tracks they feed.
func (s DeviceSource) Open(ctx context.Context) (*Local, error) {
	if s.Camera == nil || !s.Camera.IsOpen() {
		return nil, fmt.Errorf("%w: camera not running", ErrMediaUnavailable)
	}

	bin := s.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	logger := log.Component("media")
	local := NewLocal()

	if err := s.openVideo(ctx, bin, local, logger); err != nil {
		_ = local.Stop()
		return nil, fmt.Errorf("%w: video: %v", ErrMediaUnavailable, err)
	}
	if s.AudioFormat != "" {
		if err := s.openAudio(ctx, bin, local, logger); err != nil {
			_ = local.Stop()
			return nil, fmt.Errorf("%w: audio: %v", ErrMediaUnavailable, err)
		}
	}

	logger.Info("device media opened", "camera", s.Camera.Config().Device, "audio", s.AudioDevice)
	return local, nil
}

func (s DeviceSource) openVideo(ctx context.Context, bin string, local *Local, logger *slog.Logger) error {
	cfg := s.Camera.Config()
	bitrate := s.VideoBitrate
	if bitrate == "" {
		bitrate = "800k"
	}

	proc, err := startFFmpeg(ctx, bin, VideoEncoderArgs(cfg, bitrate), true)
	if err != nil {
		return err
	}

	track, err := newSampleTrack(webrtc.RTPCodecTypeVideo)
	if err != nil {
		_ = proc.stop()
		return err
	}

	frames, unsubscribe := s.Camera.Subscribe(2)
	pctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-pctx.Done():
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				if _, err := proc.stdin.Write(f.Data); err != nil {
					if pctx.Err() == nil {
						logger.Warn("video encoder input closed", "error", err)
					}
					return
				}
			}
		}
	}()
	go func() {
		defer wg.Done()
		r, err := newIVFSamples(proc.stdout)
		if err != nil {
			if pctx.Err() == nil {
				logger.Error("video encoder output unreadable", "error", err, "stderr", proc.stderr.String())
			}
			return
		}
		if _, err := pump(pctx, local, track, r, false); err != nil && pctx.Err() == nil && !errors.Is(err, io.EOF) {
			logger.Warn("video track stopped", "error", err)
		}
	}()

	local.Add(track, func() error {
		cancel()
		unsubscribe()
		proc.kill()
		wg.Wait()
		return proc.stop()
	})
	return nil
}

func (s DeviceSource) openAudio(ctx context.Context, bin string, local *Local, logger *slog.Logger) error {
	bitrate := s.AudioBitrate
	if bitrate == "" {
		bitrate = "64k"
	}
	device := s.AudioDevice
	if device == "" {
		device = "default"
	}

	proc, err := startFFmpeg(ctx, bin, AudioEncoderArgs(s.AudioFormat, device, bitrate), false)
	if err != nil {
		return err
	}

	track, err := newSampleTrack(webrtc.RTPCodecTypeAudio)
	if err != nil {
		_ = proc.stop()
		return err
	}

	pctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r, err := newOggSamples(proc.stdout)
		if err != nil {
			if pctx.Err() == nil {
				logger.Error("microphone capture failed", "error", err, "stderr", proc.stderr.String())
			}
			return
		}
		if _, err := pump(pctx, local, track, r, false); err != nil && pctx.Err() == nil && !errors.Is(err, io.EOF) {
			logger.Warn("audio track stopped", "error", err)
		}
	}()

	local.Add(track, func() error {
		cancel()
		proc.kill()
		wg.Wait()
		return proc.stop()
	})
	return nil
}

// VideoEncoderArgs returns the ffmpeg arguments that encode raw BGR frames of the
// capture size from stdin to realtime VP8 in IVF on stdout.
func VideoEncoderArgs(cfg capture.Config, bitrate string) []string {
	fps := strconv.Itoa(cfg.Framerate)
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", fps,
		"-i", "pipe:0",
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", bitrate,
		"-g", strconv.Itoa(cfg.Framerate * 2),
		"-f", "ivf",
		"pipe:1",
	}
}

// AudioEncoderArgs returns the ffmpeg arguments that capture a microphone and
// encode it to 20ms Opus pages in Ogg on stdout.
func AudioEncoderArgs(format, device, bitrate string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format,
		"-i", device,
		"-ac", "2",
		"-ar", "48000",
		"-c:a", "libopus",
		"-b:a", bitrate,
		"-frame_duration", "20",
		"-page_duration", "20000",
		"-f", "ogg",
		"pipe:1",
	}
}

// ffmpegProc is a running ffmpeg with piped stdout and optionally stdin.
type ffmpegProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *lockedBuffer

	stopOnce sync.Once
	stopErr  error
}

func startFFmpeg(ctx context.Context, bin string, args []string, withStdin bool) (*ffmpegProc, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	p := &ffmpegProc{cmd: cmd, stderr: &lockedBuffer{}}
	cmd.Stderr = p.stderr

	var err error
	if withStdin {
		if p.stdin, err = cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("ffmpeg stdin: %w", err)
		}
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return p, nil
}

// kill closes stdin and kills the process so pipe readers and writers unblock.
func (p *ffmpegProc) kill() {
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// stop kills the process and reaps it. A kill-induced exit status is not an error.
// Pipe readers must have returned before stop is called.
func (p *ffmpegProc) stop() error {
	p.stopOnce.Do(func() {
		p.kill()
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.stopErr = err
		}
	})
	return p.stopErr
}

// lockedBuffer collects ffmpeg stderr while it runs.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
