// Package live assembles a live screening session from configuration. It
// authenticates, opens the camera and the landmark model, serves the local
// dashboard, runs the session controller, and submits the finished summary
// for scoring.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tarang-care/tarang-live/internal/config"
	"github.com/tarang-care/tarang-live/internal/httpc"
	"github.com/tarang-care/tarang-live/internal/log"
	"github.com/tarang-care/tarang-live/pkg/auth"
	"github.com/tarang-care/tarang-live/pkg/capture"
	"github.com/tarang-care/tarang-live/pkg/landmark"
	"github.com/tarang-care/tarang-live/pkg/landmark/yunet"
	"github.com/tarang-care/tarang-live/pkg/media"
	"github.com/tarang-care/tarang-live/pkg/metrics"
	"github.com/tarang-care/tarang-live/pkg/peer"
	"github.com/tarang-care/tarang-live/pkg/playback"
	"github.com/tarang-care/tarang-live/pkg/protocol"
	"github.com/tarang-care/tarang-live/pkg/sampling"
	"github.com/tarang-care/tarang-live/pkg/screening"
	"github.com/tarang-care/tarang-live/pkg/session"
	"github.com/tarang-care/tarang-live/pkg/signaling"
	"github.com/tarang-care/tarang-live/pkg/store"
	"github.com/tarang-care/tarang-live/pkg/web"
)

const (
	httpTimeout   = 30 * time.Second
	submitTimeout = 30 * time.Second
)

// App is the live session orchestrator.
// It owns every component and their lifecycle.
type App struct {
	config    config.Config
	log       *slog.Logger
	sessionID string

	auth      *auth.Session
	screening *screening.Client

	// Session cache, nil when disabled
	db       *store.Store
	sessions *store.SessionRepository

	// Sampling
	camera   *capture.Camera
	detector *landmark.Adapter
	tally    *session.Tally
	sampler  *sampling.Sampler

	// Peer media
	negotiator *peer.Negotiator
	speaker    *playback.Speaker

	ctrl *session.Controller
	web  *web.Server
}

// New creates an application with the given configuration.
func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	log.Init(level)

	return &App{
		config:    cfg,
		log:       log.Component("live"),
		sessionID: uuid.NewString(),
	}, nil
}

// SessionID returns the id of the session this app runs.
func (a *App) SessionID() string {
	return a.sessionID
}

// Init authenticates and builds every component. Nothing is started yet:
// the model begins loading in the background, the camera and peer session
// wait for Run.
func (a *App) Init(ctx context.Context) error {
	cfg := a.config
	client := httpc.NewClient(httpTimeout)

	sess, err := auth.NewClient(cfg.APIURL, client).Resolve(ctx, cfg.Token, cfg.Email, cfg.Password, cfg.DemoRole)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if sess.Expired(time.Now()) {
		return fmt.Errorf("authenticate: %w: token expired at %s", auth.ErrInvalidToken, sess.ExpiresAt.Format(time.RFC3339))
	}
	a.auth = sess
	a.screening = screening.New(cfg.APIURL, sess.Token, client)
	a.log.Info("authenticated",
		"user", sess.User.ID,
		"role", sess.User.Role,
		"initiator", sess.Initiator(),
	)

	if cfg.DBPath != "" {
		db, err := store.New(cfg.DBPath)
		if err != nil {
			a.log.Warn("session cache disabled", "path", cfg.DBPath, "error", err)
		} else {
			a.db = db
			a.sessions = db.Sessions()
		}
	}

	camCfg := capture.DefaultConfig()
	camCfg.Device = strconv.Itoa(cfg.CameraDevice)
	a.camera = capture.New(camCfg)

	modelCfg := yunet.DefaultConfig()
	modelCfg.ModelPath = cfg.ModelPath
	a.detector = landmark.NewAdapter(yunet.New(modelCfg))
	a.detector.Init(ctx)

	role := string(sess.User.Role)
	if cfg.DashboardPort != "" {
		a.web = web.NewServer(":"+cfg.DashboardPort, web.Info{
			SessionID: a.sessionID,
			Room:      cfg.Room,
			Role:      role,
		})
	}

	var publisher sampling.Publisher = sampling.PublisherFunc(a.logSnapshot)
	if a.web != nil {
		publisher = a.web
	}
	a.tally = session.NewTally(publisher)
	a.sampler = sampling.New(
		sampling.Config{Interval: cfg.SampleInterval, WindowSize: cfg.WindowSize},
		a.camera,
		a.detector,
		metrics.NewExtractor(landmark.YuNetLayout),
		a.tally,
	)

	roomURL, err := signaling.RoomURL(cfg.APIURL, cfg.Room, sess.Token)
	if err != nil {
		return fmt.Errorf("signaling: %w", err)
	}
	a.negotiator = peer.New(peer.Config{
		Room:       cfg.Room,
		Initiator:  sess.Initiator(),
		ICEServers: cfg.ICEServers,
		Media:      a.mediaSource(),
		Sink:       a.remoteSink(),
		Dial:       peer.DialURL(roomURL),
	})
	a.negotiator.OnState(a.onPeerState)

	var records session.Records
	if a.sessions != nil {
		records = a.sessions
	}
	a.ctrl = session.New(session.Config{
		ID:       a.sessionID,
		Room:     cfg.Room,
		Role:     role,
		Camera:   a.camera,
		Sampler:  a.sampler,
		Peer:     a.negotiator,
		Records:  records,
		Tally:    a.tally,
		EndDelay: cfg.EndDelay,
		OnEnded:  a.onEnded,
		OnExit: func() {
			a.log.Info("leaving room", "room", cfg.Room)
		},
	})

	if a.web != nil {
		a.web.OnEnd = a.ctrl.End
		a.web.OnControl = a.ctrl.Control
	}
	return nil
}

// Run enters the session and blocks until it exits or ctx is cancelled.
// An ended session is then submitted for scoring when a patient name is set.
func (a *App) Run(ctx context.Context) error {
	if a.ctrl == nil {
		return errors.New("live: Run called before Init")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The dashboard outlives the session so the ended state and the
	// screening result still reach it.
	webCtx, stopWeb := context.WithCancel(context.Background())
	defer stopWeb()
	webErr := make(chan error, 1)
	if a.web != nil {
		go func() { webErr <- a.web.Run(webCtx) }()
		go a.web.StreamPreview(ctx, a.camera, web.DefaultPreviewInterval)
		a.log.Info("dashboard listening", "url", "http://localhost:"+a.config.DashboardPort)
	} else {
		webErr <- nil
	}

	a.log.Info("entering room", "room", a.config.Room, "session", a.sessionID)
	if err := a.ctrl.Enter(ctx); err != nil {
		a.log.Warn("session started with errors", "error", err)
		if a.web != nil {
			a.web.SetDetail(err.Error())
		}
	}

	select {
	case <-ctx.Done():
		a.log.Info("interrupted, leaving session")
	case <-a.ctrl.Done():
	}
	if err := a.ctrl.Leave(); err != nil {
		a.log.Warn("leave session", "error", err)
	}
	cancel()

	if rec := a.ctrl.Record(); a.shouldSubmit(rec) {
		sctx, cancelSubmit := context.WithTimeout(context.Background(), submitTimeout)
		resp, err := a.submit(sctx, rec)
		cancelSubmit()
		if err != nil {
			a.log.Warn("screening submission failed", "error", err)
		} else {
			a.log.Info("screening result",
				"risk_score", resp.RiskResults.RiskScore,
				"confidence", resp.RiskResults.Confidence,
				"report_url", resp.ReportURL,
			)
		}
	}

	stopWeb()
	if err := <-webErr; err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// Shutdown releases everything Init acquired. Safe after a failed Init.
func (a *App) Shutdown() {
	if a.ctrl != nil {
		if err := a.ctrl.Leave(); err != nil {
			a.log.Warn("leave session", "error", err)
		}
	}
	if a.detector != nil {
		if err := a.detector.Close(); err != nil {
			a.log.Warn("close landmark model", "error", err)
		}
	}
	if a.speaker != nil {
		if err := a.speaker.Close(); err != nil {
			a.log.Warn("close speaker", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("close session cache", "error", err)
		}
	}
	a.auth.Logout()
	a.log.Info("goodbye")
}

// mediaSource picks the outgoing media for the configured mode.
func (a *App) mediaSource() media.Source {
	switch a.config.MediaMode {
	case config.MediaFile:
		return media.FileSource{
			VideoPath: a.config.VideoFile,
			AudioPath: a.config.AudioFile,
			Loop:      true,
		}
	case config.MediaNone:
		return media.SourceFunc(func(ctx context.Context) (*media.Local, error) {
			return media.NewLocal(), nil
		})
	default:
		return media.DeviceSource{
			Camera:      a.camera,
			AudioFormat: a.config.AudioFormat,
			AudioDevice: a.config.AudioDevice,
		}
	}
}

// remoteSink routes remote tracks to the recorder and the speaker.
// A speaker that cannot start is logged and skipped.
func (a *App) remoteSink() media.RemoteSink {
	var split media.Split
	if a.config.RecordDir != "" {
		rec := media.NewRecorder(a.config.RecordDir, a.sessionID)
		split.Audio, split.Video = rec, rec
	}
	if a.config.Playback {
		speaker, err := playback.StartSpeaker("")
		if err != nil {
			a.log.Warn("remote audio playback disabled", "error", err)
		} else {
			a.speaker = speaker
			split.Audio = playback.New(speaker, nil)
		}
	}
	return split
}

func (a *App) onPeerState(state peer.State) {
	a.log.Info("peer session", "state", state)
	if a.web != nil {
		a.web.SetState(state)
	}
}

func (a *App) onEnded(rec store.SessionRecord) {
	a.log.Info("session ended",
		"duration", rec.Duration().Round(time.Second),
		"samples", rec.Summary.Samples,
		"detection_ratio", rec.Summary.DetectionRatio(),
	)
	if a.web != nil {
		a.web.Ended(protocol.EndedData{
			SessionID: rec.ID,
			Summary:   protocol.NewSummaryData(rec.Summary),
			ExitInMs:  max(a.config.EndDelay, 0).Milliseconds(),
		})
	}
}

func (a *App) logSnapshot(snap metrics.Snapshot) {
	a.log.Debug("metrics",
		"seq", snap.Sequence,
		"face", snap.FaceDetected,
		"eye_contact", snap.EyeContact,
		"motor", snap.MotorStability,
		"engagement", snap.Engagement,
	)
}

func (a *App) shouldSubmit(rec *store.SessionRecord) bool {
	return rec != nil && rec.Reason == store.ReasonEnded && a.config.PatientName != ""
}

// submit scores a finished session, caches the result and shows it on the
// dashboard.
func (a *App) submit(ctx context.Context, rec *store.SessionRecord) (*screening.Response, error) {
	req, err := screening.NewRequest(rec.Summary, a.config.QuestionnaireScore, a.config.PatientName)
	if err != nil {
		return nil, err
	}
	resp, err := a.screening.Process(ctx, req)
	if err != nil {
		return nil, err
	}

	if a.sessions != nil {
		err := a.sessions.SetResult(ctx, rec.ID, store.Result{
			RemoteID:       resp.SessionID.String(),
			RiskScore:      resp.RiskResults.RiskScore,
			Confidence:     resp.RiskResults.Confidence,
			Recommendation: resp.ClinicalSummary.ClinicalRecommendation,
			ReportURL:      resp.ReportURL,
		})
		if err != nil {
			a.log.Warn("cache screening result", "session", rec.ID, "error", err)
		}
	}

	if a.web != nil {
		score := resp.RiskResults.RiskScore
		a.web.Ended(protocol.EndedData{
			SessionID: rec.ID,
			Summary:   protocol.NewSummaryData(rec.Summary),
			ReportURL: resp.ReportURL,
			RiskScore: &score,
		})
	}
	return resp, nil
}
