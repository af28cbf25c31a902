package capture

import "fmt"

// Config holds camera capture settings.
type Config struct {
	// Device is a camera index ("0") or a video file path.
	Device string `json:"device"`

	Width     int `json:"width"`     // Frame width in pixels
	Height    int `json:"height"`    // Frame height in pixels
	Framerate int `json:"framerate"` // Target FPS
	Quality   int `json:"quality"`   // JPEG quality 1-100
}

// Capture limits
const (
	MaxWidth     = 1920
	MaxHeight    = 1080
	MaxFramerate = 60
)

// DefaultConfig returns 640x480 at 15 FPS, enough for landmark sampling and a
// light VP8 stream.
func DefaultConfig() Config {
	return Config{
		Device:    "0",
		Width:     640,
		Height:    480,
		Framerate: 15,
		Quality:   80,
	}
}

// Preset names
const (
	PresetDefault = "default"
	PresetLow     = "low"
	Preset720p    = "720p"
)

// Presets returns the named capture configurations.
func Presets() map[string]Config {
	low := DefaultConfig()
	low.Width, low.Height, low.Framerate = 320, 240, 10

	hd := DefaultConfig()
	hd.Width, hd.Height, hd.Framerate = 1280, 720, 30

	return map[string]Config{
		PresetDefault: DefaultConfig(),
		PresetLow:     low,
		Preset720p:    hd,
	}
}

// GetPreset returns a preset by name, or nil if unknown.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// Validate checks the values are within range.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device == "" {
		errors = append(errors, "device is required")
	}
	if c.Width < 160 || c.Width > MaxWidth {
		errors = append(errors, fmt.Sprintf("width must be between 160 and %d", MaxWidth))
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errors = append(errors, fmt.Sprintf("height must be between 120 and %d", MaxHeight))
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, fmt.Sprintf("framerate must be between 1 and %d", MaxFramerate))
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}

	return errors
}
