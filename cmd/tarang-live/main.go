// tarang-live joins a screening room and runs one live session: peer video
// with the other participant, landmark sampling of the local camera, and a
// local dashboard with the rolling metrics.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/tarang-care/tarang-live/internal/config"
	"github.com/tarang-care/tarang-live/internal/log"
	"github.com/tarang-care/tarang-live/pkg/live"
)

func main() {
	cfg := parseFlags()

	app, err := live.New(cfg)
	if err != nil {
		fatal("configuration error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Init(ctx); err != nil {
		app.Shutdown()
		fatal("initialization failed", err)
	}
	defer app.Shutdown()

	if err := app.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
	}
}

// parseFlags loads .env and environment configuration, then applies flags.
func parseFlags() config.Config {
	cfg, err := config.Load()
	if err != nil {
		fatal("configuration error", err)
	}

	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.StringVar(&cfg.APIURL, "api", cfg.APIURL, "Tarang API base URL (TARANG_API_URL)")
	flag.StringVar(&cfg.Room, "room", cfg.Room, "Screening room id (TARANG_ROOM)")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "Access token (TARANG_TOKEN)")
	flag.StringVar(&cfg.Email, "email", cfg.Email, "Login email (TARANG_EMAIL)")
	flag.StringVar(&cfg.DemoRole, "demo", cfg.DemoRole, "Demo login role: parent, clinician or admin")
	flag.StringVar(&cfg.MediaMode, "media", cfg.MediaMode, "Outgoing media: device, file or none")
	flag.StringVar(&cfg.VideoFile, "video", cfg.VideoFile, "IVF (VP8) file for -media file")
	flag.StringVar(&cfg.AudioFile, "audio", cfg.AudioFile, "Ogg (Opus) file for -media file")
	flag.IntVar(&cfg.CameraDevice, "camera", cfg.CameraDevice, "Camera device index")
	flag.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "YuNet ONNX model path")
	flag.StringVar(&cfg.RecordDir, "record", cfg.RecordDir, "Record remote tracks into this directory")
	flag.BoolVar(&cfg.Playback, "playback", cfg.Playback, "Play remote audio through ffplay")
	flag.StringVar(&cfg.DashboardPort, "port", cfg.DashboardPort, "Dashboard port, empty to disable")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Session cache database, empty to disable")
	flag.StringVar(&cfg.PatientName, "patient", cfg.PatientName, "Submit the ended session for this patient")
	flag.IntVar(&cfg.QuestionnaireScore, "questionnaire", cfg.QuestionnaireScore, "Questionnaire score (0-20) sent with the submission")
	ice := flag.String("ice", "", "Comma separated ICE server URLs (TARANG_ICE_SERVERS)")
	flag.Parse()

	if *ice != "" {
		cfg.ICEServers = config.SplitList(*ice)
	}
	return cfg
}

func fatal(msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
