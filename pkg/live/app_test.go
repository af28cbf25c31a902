package live

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarang-care/tarang-live/internal/config"
	"github.com/tarang-care/tarang-live/internal/log"
	"github.com/tarang-care/tarang-live/pkg/auth"
	"github.com/tarang-care/tarang-live/pkg/media"
	"github.com/tarang-care/tarang-live/pkg/metrics"
	"github.com/tarang-care/tarang-live/pkg/screening"
	"github.com/tarang-care/tarang-live/pkg/store"
	"github.com/tarang-care/tarang-live/pkg/web"
)

func signToken(t *testing.T, sub, role string, exp time.Time) string {
	t.Helper()
	claims := auth.Claims{
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub},
	}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

func testConfig(apiURL string) config.Config {
	cfg := config.Default()
	cfg.APIURL = apiURL
	cfg.Room = "room-1"
	cfg.MediaMode = config.MediaNone
	cfg.DashboardPort = ""
	cfg.ModelPath = "missing.onnx"
	return cfg
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(config.Default())

	var cerr *config.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Room", cerr.Field)
}

func TestInit_DemoLogin(t *testing.T) {
	tok := signToken(t, "demo_clinician@tarang.ai", "clinician", time.Now().Add(time.Hour))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/demo/clinician", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"`+tok+`","token_type":"bearer"}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.DemoRole = "clinician"
	cfg.DBPath = filepath.Join(t.TempDir(), "sessions.db")

	app, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, app.Init(context.Background()))

	assert.True(t, app.auth.Initiator())
	assert.Equal(t, app.SessionID(), app.ctrl.ID())
	assert.NotNil(t, app.sessions)
	assert.Nil(t, app.web, "dashboard disabled without a port")

	app.Shutdown()
	assert.False(t, app.auth.Authenticated(), "shutdown logs out")
}

func TestInit_ExpiredToken(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Token = signToken(t, "p@example.org", "parent", time.Now().Add(-time.Minute))

	app, err := New(cfg)
	require.NoError(t, err)
	defer app.Shutdown()

	err = app.Init(context.Background())
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRun_BeforeInit(t *testing.T) {
	app := &App{log: log.Discard()}
	require.Error(t, app.Run(context.Background()))
}

func TestMediaSource(t *testing.T) {
	tests := []struct {
		name string
		mode string
		want any
	}{
		{"device", config.MediaDevice, media.DeviceSource{}},
		{"file", config.MediaFile, media.FileSource{}},
		{"none", config.MediaNone, media.SourceFunc(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://localhost")
			cfg.MediaMode = tt.mode
			cfg.VideoFile = "in.ivf"
			app := &App{config: cfg, log: log.Discard()}

			assert.IsType(t, tt.want, app.mediaSource())
		})
	}

	t.Run("none opens without tracks", func(t *testing.T) {
		app := &App{config: testConfig("http://localhost"), log: log.Discard()}
		local, err := app.mediaSource().Open(context.Background())
		require.NoError(t, err)
		assert.Empty(t, local.Tracks())
	})
}

func TestRemoteSink(t *testing.T) {
	t.Run("discard by default", func(t *testing.T) {
		app := &App{config: testConfig("http://localhost"), log: log.Discard()}
		split, ok := app.remoteSink().(media.Split)
		require.True(t, ok)
		assert.Nil(t, split.Audio)
		assert.Nil(t, split.Video)
	})

	t.Run("record", func(t *testing.T) {
		cfg := testConfig("http://localhost")
		cfg.RecordDir = t.TempDir()
		app := &App{config: cfg, log: log.Discard(), sessionID: "s1"}

		split, ok := app.remoteSink().(media.Split)
		require.True(t, ok)
		rec, ok := split.Video.(*media.Recorder)
		require.True(t, ok)
		assert.Equal(t, cfg.RecordDir, rec.Dir)
		assert.Equal(t, "s1", rec.Prefix)
		assert.Same(t, rec, split.Audio)
	})
}

func TestShouldSubmit(t *testing.T) {
	ended := &store.SessionRecord{Reason: store.ReasonEnded}
	left := &store.SessionRecord{Reason: store.ReasonLeft}

	tests := []struct {
		name    string
		patient string
		rec     *store.SessionRecord
		want    bool
	}{
		{"ended with patient", "Arvid Smith", ended, true},
		{"no patient", "", ended, false},
		{"left", "Arvid Smith", left, false},
		{"never entered", "Arvid Smith", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &App{config: config.Config{PatientName: tt.patient}}
			assert.Equal(t, tt.want, app.shouldSubmit(tt.rec))
		})
	}
}

const processResponse = `{
	"session_id": 42,
	"risk_results": {
		"risk_score": 38.5,
		"confidence": "High (Signals Aligned)",
		"breakdown": {"behavioral": 70.1, "questionnaire": 60, "physiological": 0}
	},
	"clinical_summary": {"clinical_recommendation": "Continue monitoring."},
	"report_url": "/reports/42"
}`

func TestSubmit(t *testing.T) {
	var body screening.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/screening/process", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, processResponse)
	}))
	defer srv.Close()

	db, err := store.New(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	rec := &store.SessionRecord{
		ID:        "s1",
		Room:      "room-1",
		Role:      "CLINICIAN",
		Reason:    store.ReasonEnded,
		PeerState: "connected",
		StartedAt: now.Add(-time.Minute),
		EndedAt:   now,
		Summary:   metrics.Summary{Samples: 5, Detected: 4, EyeContact: 0.7, MotorStability: 0.6, Engagement: 0.73},
	}
	require.NoError(t, db.Sessions().Save(ctx, rec))

	cfg := testConfig(srv.URL)
	cfg.PatientName = "Arvid Smith"
	cfg.QuestionnaireScore = 12
	app := &App{
		config:    cfg,
		log:       log.Discard(),
		screening: screening.New(srv.URL, "tok", nil),
		sessions:  db.Sessions(),
		web:       web.NewServer(":0", web.Info{SessionID: "s1", Room: "room-1"}),
	}

	resp, err := app.submit(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, 38.5, resp.RiskResults.RiskScore)

	assert.Equal(t, 12, body.QuestionnaireScore)
	assert.Equal(t, "Arvid Smith", body.PatientName)
	assert.InDelta(t, 0.7, body.VideoMetrics.EyeContact, 1e-9)
	assert.InDelta(t, 0.6, body.VideoMetrics.MotorCoordination, 1e-9)

	saved, err := db.Sessions().Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, saved.Result)
	assert.Equal(t, "42", saved.Result.RemoteID)
	assert.Equal(t, "High (Signals Aligned)", saved.Result.Confidence)
	assert.Equal(t, "/reports/42", saved.Result.ReportURL)

	httpResp, err := app.web.App().Test(httptest.NewRequest(http.MethodGet, "/api/session", nil))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	var got web.SessionResponse
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&got))
	require.NotNil(t, got.Ended)
	require.NotNil(t, got.Ended.RiskScore)
	assert.Equal(t, 38.5, *got.Ended.RiskScore)
	assert.Equal(t, "/reports/42", got.Ended.ReportURL)
}

func TestSubmit_NoMetrics(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.PatientName = "Arvid Smith"
	app := &App{config: cfg, log: log.Discard(), screening: screening.New(srv.URL, "", nil)}

	_, err := app.submit(context.Background(), &store.SessionRecord{ID: "s1", Reason: store.ReasonEnded})
	require.ErrorIs(t, err, screening.ErrNoMetrics)
	assert.Zero(t, calls.Load())
}
