package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/tarang-care/tarang-live/internal/log"
)

// FileSource streams pre-encoded media files: VP8 in IVF and Opus in Ogg.
// Either path may be empty to omit that track.
type FileSource struct {
	VideoPath string
	AudioPath string
	Loop      bool
}

// Open validates the files, creates the tracks and starts pumping samples.
func (s FileSource) Open(ctx context.Context) (*Local, error) {
	if s.VideoPath == "" && s.AudioPath == "" {
		return nil, fmt.Errorf("%w: no media files configured", ErrMediaUnavailable)
	}

	logger := log.Component("media")
	local := NewLocal()

	type job struct {
		kind webrtc.RTPCodecType
		path string
		open func(io.Reader) (sampleReader, error)
	}
	var jobs []job
	if s.VideoPath != "" {
		jobs = append(jobs, job{webrtc.RTPCodecTypeVideo, s.VideoPath, func(r io.Reader) (sampleReader, error) { return newIVFSamples(r) }})
	}
	if s.AudioPath != "" {
		jobs = append(jobs, job{webrtc.RTPCodecTypeAudio, s.AudioPath, func(r io.Reader) (sampleReader, error) { return newOggSamples(r) }})
	}

	// probe every file before starting anything
	for _, j := range jobs {
		f, err := os.Open(j.path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		_, err = j.open(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMediaUnavailable, j.path, err)
		}
	}

	for _, j := range jobs {
		track, err := newSampleTrack(j.kind)
		if err != nil {
			_ = local.Stop()
			return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}

		pctx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			s.stream(pctx, local, track, j.path, j.open, logger)
		}(j)

		local.Add(track, func() error {
			cancel()
			wg.Wait()
			return nil
		})
	}

	logger.Info("file media opened", "video", s.VideoPath, "audio", s.AudioPath, "loop", s.Loop)
	return local, nil
}

func (s FileSource) stream(ctx context.Context, local *Local, track *webrtc.TrackLocalStaticSample,
	path string, open func(io.Reader) (sampleReader, error), logger *slog.Logger) {
	for {
		n, err := s.streamOnce(ctx, local, track, path, open)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil && !errors.Is(err, io.EOF):
			logger.Warn("file media stopped", "path", path, "error", err)
			return
		case !s.Loop:
			return
		case n == 0:
			logger.Warn("file media has no samples, not looping", "path", path)
			return
		}
	}
}

func (s FileSource) streamOnce(ctx context.Context, local *Local, track *webrtc.TrackLocalStaticSample,
	path string, open func(io.Reader) (sampleReader, error)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r, err := open(f)
	if err != nil {
		return 0, err
	}
	return pump(ctx, local, track, r, true)
}
