// metrics-probe runs only the camera, the landmark model and the sampling
// loop, printing every published snapshot as a dashboard metrics envelope,
// one JSON object per line. Useful to check lighting, framing and the model
// without joining a room.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/tarang-care/tarang-live/internal/config"
	"github.com/tarang-care/tarang-live/internal/log"
	"github.com/tarang-care/tarang-live/pkg/capture"
	"github.com/tarang-care/tarang-live/pkg/landmark"
	"github.com/tarang-care/tarang-live/pkg/landmark/yunet"
	"github.com/tarang-care/tarang-live/pkg/metrics"
	"github.com/tarang-care/tarang-live/pkg/protocol"
	"github.com/tarang-care/tarang-live/pkg/sampling"
	"github.com/tarang-care/tarang-live/pkg/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal("configuration error", err)
	}

	level := flag.String("log-level", "warn", "Log level")
	preset := flag.String("preset", capture.PresetDefault, "Capture preset: default, low or 720p")
	duration := flag.Duration("duration", 0, "Stop after this long, 0 runs until interrupted")
	flag.IntVar(&cfg.CameraDevice, "camera", cfg.CameraDevice, "Camera device index")
	flag.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "YuNet ONNX model path")
	flag.DurationVar(&cfg.SampleInterval, "interval", cfg.SampleInterval, "Sampling interval")
	flag.IntVar(&cfg.WindowSize, "window", cfg.WindowSize, "Smoothing window size")
	flag.Parse()

	log.Init(*level)

	camCfg := capture.GetPreset(*preset)
	if camCfg == nil {
		fatal("unknown capture preset", fmt.Errorf("%q", *preset))
	}
	camCfg.Device = strconv.Itoa(cfg.CameraDevice)
	if problems := camCfg.Validate(); len(problems) > 0 {
		fatal("invalid capture config", errors.New(strings.Join(problems, "; ")))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if err := probe(ctx, cfg, *camCfg); err != nil {
		cancel()
		fatal("probe failed", err)
	}
}

func probe(ctx context.Context, cfg config.Config, camCfg capture.Config) error {
	camera := capture.New(camCfg)
	if err := camera.Start(ctx); err != nil {
		return fmt.Errorf("camera unavailable: %w", err)
	}
	defer camera.Close()

	modelCfg := yunet.DefaultConfig()
	modelCfg.ModelPath = cfg.ModelPath
	detector := landmark.NewAdapter(yunet.New(modelCfg))
	defer detector.Close()

	select {
	case <-detector.Init(ctx):
	case <-ctx.Done():
		return nil
	}
	if err := detector.Err(); err != nil {
		return fmt.Errorf("landmark model unavailable: %w", err)
	}

	tally := session.NewTally(sampling.PublisherFunc(printSnapshot))
	sampler := sampling.New(
		sampling.Config{Interval: cfg.SampleInterval, WindowSize: cfg.WindowSize},
		camera,
		detector,
		metrics.NewExtractor(landmark.YuNetLayout),
		tally,
	)
	run := sampler.Start(ctx)
	fmt.Fprintf(os.Stderr, "sampling camera %s every %v (ctrl+c to stop)\n", camCfg.Device, cfg.SampleInterval)

	<-ctx.Done()
	run.Stop()

	sum := tally.Summary()
	fmt.Fprintf(os.Stderr, "published %d snapshots, face in %.0f%%, eye contact %.2f, motor %.2f, engagement %.2f\n",
		run.Published(), sum.DetectionRatio()*100, sum.EyeContact, sum.MotorStability, sum.Engagement)
	return nil
}

func printSnapshot(snap metrics.Snapshot) {
	msg, err := protocol.NewMetricsMessage(snap)
	if err != nil {
		log.Warn("encode metrics", "error", err)
		return
	}
	data, err := msg.Bytes()
	if err != nil {
		log.Warn("encode metrics", "error", err)
		return
	}
	fmt.Println(string(data))
}

func fatal(msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
