// Package config provides configuration for tarang-live commands.
// Values come from a .env file (optional), then environment variables;
// command flags override both in cmd/*/main.go.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults.
const (
	DefaultAPIURL         = "http://localhost:8000"
	DefaultSTUNServer     = "stun:stun.l.google.com:19302"
	DefaultSampleInterval = 200 * time.Millisecond
	DefaultWindowSize     = 10
	DefaultEndDelay       = 2 * time.Second
	DefaultModelPath      = "models/face_detection_yunet_2023mar.onnx"
	DefaultDashboardPort  = "8090"
	DefaultDBPath         = "./data/tarang-live.db"
)

// Media modes for the outgoing tracks.
const (
	MediaDevice = "device" // camera + microphone
	MediaFile   = "file"   // looped IVF/Ogg files
	MediaNone   = "none"   // receive only
)

// Config holds all configuration for a live session client.
type Config struct {
	Debug    bool
	LogLevel string

	// Backend
	APIURL   string
	Token    string
	Email    string
	Password string
	DemoRole string // "parent", "clinician" or "admin"; used when no token or credentials

	// Session
	Room       string
	ICEServers []string
	EndDelay   time.Duration

	// Sampling
	SampleInterval time.Duration
	WindowSize     int
	ModelPath      string
	CameraDevice   int

	// Media
	MediaMode   string
	VideoFile   string // IVF (VP8) used when MediaMode == "file"
	AudioFile   string // Ogg (Opus) used when MediaMode == "file"
	AudioFormat string // ffmpeg input format for the microphone; empty disables audio
	AudioDevice string
	RecordDir   string // when set, remote tracks are recorded here
	Playback    bool   // play remote audio through ffplay

	// Screening submission after an ended session. Skipped without a patient name.
	PatientName        string
	QuestionnaireScore int

	// Local surfaces
	DashboardPort string
	DBPath        string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		LogLevel:       "info",
		APIURL:         DefaultAPIURL,
		ICEServers:     []string{DefaultSTUNServer},
		EndDelay:       DefaultEndDelay,
		SampleInterval: DefaultSampleInterval,
		WindowSize:     DefaultWindowSize,
		ModelPath:      DefaultModelPath,
		MediaMode:      MediaDevice,
		DashboardPort:  DefaultDashboardPort,
		DBPath:         DefaultDBPath,
	}
}

// Load reads a .env file if present and applies environment overrides to Default().
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := Default()
	cfg.LoadEnv()
	return cfg, nil
}

// LoadEnv applies environment variables on top of the current values.
func (c *Config) LoadEnv() {
	c.Debug = getEnvBool("TARANG_DEBUG", c.Debug)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.APIURL = strings.TrimRight(getEnv("TARANG_API_URL", c.APIURL), "/")
	c.Token = getEnv("TARANG_TOKEN", c.Token)
	c.Email = getEnv("TARANG_EMAIL", c.Email)
	c.Password = getEnv("TARANG_PASSWORD", c.Password)
	c.DemoRole = getEnv("TARANG_DEMO_ROLE", c.DemoRole)

	c.Room = getEnv("TARANG_ROOM", c.Room)
	if servers := getEnv("TARANG_ICE_SERVERS", ""); servers != "" {
		c.ICEServers = SplitList(servers)
	}
	c.EndDelay = getEnvDuration("TARANG_END_DELAY", c.EndDelay)

	c.SampleInterval = getEnvDuration("TARANG_SAMPLE_INTERVAL", c.SampleInterval)
	c.WindowSize = getEnvInt("TARANG_WINDOW_SIZE", c.WindowSize)
	c.ModelPath = getEnv("TARANG_MODEL_PATH", c.ModelPath)
	c.CameraDevice = getEnvInt("TARANG_CAMERA_DEVICE", c.CameraDevice)

	c.MediaMode = getEnv("TARANG_MEDIA", c.MediaMode)
	c.VideoFile = getEnv("TARANG_VIDEO_FILE", c.VideoFile)
	c.AudioFile = getEnv("TARANG_AUDIO_FILE", c.AudioFile)
	c.AudioFormat = getEnv("TARANG_AUDIO_FORMAT", c.AudioFormat)
	c.AudioDevice = getEnv("TARANG_AUDIO_DEVICE", c.AudioDevice)
	c.RecordDir = getEnv("TARANG_RECORD_DIR", c.RecordDir)
	c.Playback = getEnvBool("TARANG_PLAYBACK", c.Playback)

	c.PatientName = getEnv("TARANG_PATIENT_NAME", c.PatientName)
	c.QuestionnaireScore = getEnvInt("TARANG_QUESTIONNAIRE_SCORE", c.QuestionnaireScore)

	c.DashboardPort = getEnv("TARANG_DASHBOARD_PORT", c.DashboardPort)
	c.DBPath = getEnv("TARANG_DB_PATH", c.DBPath)
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigError{Field: "APIURL", Message: "TARANG_API_URL must be an http(s) URL"}
	}
	if c.Room == "" {
		return &ConfigError{Field: "Room", Message: "TARANG_ROOM (or -room) is required"}
	}
	if c.Token == "" && c.Email == "" && c.DemoRole == "" {
		return &ConfigError{Field: "Token", Message: "one of TARANG_TOKEN, TARANG_EMAIL or TARANG_DEMO_ROLE is required"}
	}
	if c.Email != "" && c.Password == "" {
		return &ConfigError{Field: "Password", Message: "TARANG_PASSWORD is required with TARANG_EMAIL"}
	}
	if len(c.ICEServers) == 0 {
		return &ConfigError{Field: "ICEServers", Message: "at least one ICE server is required"}
	}
	if c.SampleInterval <= 0 {
		return &ConfigError{Field: "SampleInterval", Message: "TARANG_SAMPLE_INTERVAL must be > 0"}
	}
	if c.WindowSize <= 0 {
		return &ConfigError{Field: "WindowSize", Message: "TARANG_WINDOW_SIZE must be > 0"}
	}
	if c.QuestionnaireScore < 0 || c.QuestionnaireScore > 20 {
		return &ConfigError{Field: "QuestionnaireScore", Message: "TARANG_QUESTIONNAIRE_SCORE must be between 0 and 20"}
	}
	switch c.MediaMode {
	case MediaDevice, MediaNone:
	case MediaFile:
		if c.VideoFile == "" && c.AudioFile == "" {
			return &ConfigError{Field: "VideoFile", Message: "TARANG_VIDEO_FILE or TARANG_AUDIO_FILE is required with TARANG_MEDIA=file"}
		}
	default:
		return &ConfigError{Field: "MediaMode", Message: fmt.Sprintf("unknown media mode %q", c.MediaMode)}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
