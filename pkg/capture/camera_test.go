package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

type fakeDevice struct {
	mu     sync.Mutex
	width  int
	height int
	reads  int
	closed bool
	props  map[gocv.VideoCaptureProperties]float64
}

func (d *fakeDevice) Read(m *gocv.Mat) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++

	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 80, 120, 0), d.height, d.width, gocv.MatTypeCV8UC3)
	defer src.Close()
	src.CopyTo(m)
	return true
}

func (d *fakeDevice) Set(prop gocv.VideoCaptureProperties, v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.props == nil {
		d.props = make(map[gocv.VideoCaptureProperties]float64)
	}
	d.props[prop] = v
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func testCamera(dev *fakeDevice) *Camera {
	cfg := DefaultConfig()
	cfg.Framerate = 50
	cam := New(cfg)
	cam.open = func(string) (device, error) { return dev, nil }
	return cam
}

func TestCamera_FrameBeforeStart(t *testing.T) {
	cam := New(DefaultConfig())
	if _, ok := cam.Frame(); ok {
		t.Error("Frame() ok before any capture")
	}
	if cam.IsOpen() {
		t.Error("IsOpen() before Start")
	}
	if err := cam.Close(); err != nil {
		t.Errorf("Close() on unopened camera: %v", err)
	}
}

func TestCamera_StartOpenFailure(t *testing.T) {
	cam := New(DefaultConfig())
	cam.open = func(string) (device, error) { return nil, errors.New("permission denied") }

	err := cam.Start(context.Background())
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("Start() error = %v, want ErrCameraUnavailable", err)
	}
	if cam.IsOpen() {
		t.Error("camera open after failed Start")
	}
}

func TestCamera_CapturesAndEncodes(t *testing.T) {
	dev := &fakeDevice{width: 64, height: 48}
	cam := testCamera(dev)

	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer cam.Close()

	frames, cancel := cam.Subscribe(4)
	defer cancel()

	select {
	case f := <-frames:
		if f.Width != 64 || f.Height != 48 {
			t.Errorf("raw frame %dx%d, want 64x48", f.Width, f.Height)
		}
		if len(f.Data) != 64*48*3 {
			t.Errorf("raw frame has %d bytes, want %d", len(f.Data), 64*48*3)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered to subscriber")
	}

	img, ok := cam.Frame()
	if !ok {
		t.Fatal("Frame() not ok after capture")
	}
	if !img.Ready() {
		t.Error("image not ready")
	}
	// JPEG SOI marker
	if img.JPEG[0] != 0xFF || img.JPEG[1] != 0xD8 {
		t.Errorf("not a JPEG: % x", img.JPEG[:2])
	}

	dev.mu.Lock()
	w := dev.props[gocv.VideoCaptureFrameWidth]
	dev.mu.Unlock()
	if w != 640 {
		t.Errorf("requested width = %v, want 640", w)
	}
}

func TestCamera_CloseReleasesDeviceAndSubscribers(t *testing.T) {
	dev := &fakeDevice{width: 32, height: 24}
	cam := testCamera(dev)

	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// second Start is a no-op
	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	frames, cancel := cam.Subscribe(1)

	if err := cam.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := cam.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	cancel()

	// drain then expect closed
	for range frames {
	}

	dev.mu.Lock()
	closed := dev.closed
	dev.mu.Unlock()
	if !closed {
		t.Error("device not closed")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"no device", func(c *Config) { c.Device = "" }, true},
		{"tiny", func(c *Config) { c.Width = 10 }, true},
		{"too tall", func(c *Config) { c.Height = 5000 }, true},
		{"zero fps", func(c *Config) { c.Framerate = 0 }, true},
		{"bad quality", func(c *Config) { c.Quality = 101 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			errs := cfg.Validate()
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", errs, tt.wantErr)
			}
		})
	}

	for name, p := range Presets() {
		if errs := p.Validate(); len(errs) > 0 {
			t.Errorf("preset %s invalid: %v", name, errs)
		}
	}
	if GetPreset("nope") != nil {
		t.Error("GetPreset(unknown) != nil")
	}
}
