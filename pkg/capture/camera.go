// Package capture owns the local camera. A single Camera reads frames from the
// device and shares them: the latest frame as JPEG for landmark sampling, and raw
// BGR frames for subscribers such as the video encoder.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/tarang-care/tarang-live/internal/log"
	"github.com/tarang-care/tarang-live/pkg/landmark"
)

var (
	// ErrCameraUnavailable is returned when the device cannot be opened.
	ErrCameraUnavailable = errors.New("camera unavailable")

	// ErrCameraNotOpen is returned when reading from a camera that is not running.
	ErrCameraNotOpen = errors.New("camera is not open")
)

// RawFrame is one uncompressed BGR24 frame.
type RawFrame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// device is the subset of gocv.VideoCapture the camera uses.
type device interface {
	Read(m *gocv.Mat) bool
	Set(prop gocv.VideoCaptureProperties, param float64)
	Close() error
}

func openDevice(name string) (device, error) {
	vc, err := gocv.OpenVideoCapture(name)
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("device %q did not open", name)
	}
	return vc, nil
}

// Camera captures frames from one device on its own goroutine.
type Camera struct {
	cfg  Config
	log  *slog.Logger
	open func(name string) (device, error)

	mu      sync.Mutex
	dev     device
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	frameMu sync.RWMutex
	latest  *RawFrame

	subMu  sync.Mutex
	subs   map[int]chan RawFrame
	nextID int
}

// New creates a camera. Call Start to open the device.
func New(cfg Config) *Camera {
	return &Camera{
		cfg:  cfg,
		log:  log.Component("capture"),
		open: openDevice,
		subs: make(map[int]chan RawFrame),
	}
}

// Config returns the capture settings.
func (c *Camera) Config() Config {
	return c.cfg
}

// Start opens the device and begins reading frames until ctx is done or Close is called.
func (c *Camera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	dev, err := c.open(c.cfg.Device)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	dev.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
	dev.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	dev.Set(gocv.VideoCaptureFPS, float64(c.cfg.Framerate))

	ctx, cancel := context.WithCancel(ctx)
	c.dev = dev
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.readLoop(ctx, dev)

	c.log.Info("camera started",
		"device", c.cfg.Device,
		"width", c.cfg.Width,
		"height", c.cfg.Height,
		"fps", c.cfg.Framerate,
	)
	return nil
}

// IsOpen reports whether the camera is running.
func (c *Camera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Close stops reading and releases the device. Subscriber channels are closed.
func (c *Camera) Close() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel, dev := c.cancel, c.dev
	c.dev = nil
	c.mu.Unlock()

	cancel()
	c.wg.Wait()

	c.subMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()

	c.log.Info("camera closed")
	return dev.Close()
}

// Subscribe returns a channel of raw frames and a function to cancel the
// subscription. Slow subscribers miss frames rather than stall capture.
func (c *Camera) Subscribe(buffer int) (<-chan RawFrame, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan RawFrame, buffer)

	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			close(sub)
			delete(c.subs, id)
		}
	}
}

// Latest returns the most recent raw frame.
func (c *Camera) Latest() (RawFrame, bool) {
	c.frameMu.RLock()
	defer c.frameMu.RUnlock()
	if c.latest == nil {
		return RawFrame{}, false
	}
	return *c.latest, true
}

// Frame returns the latest frame encoded as JPEG. ok is false before the first
// frame or if encoding fails.
func (c *Camera) Frame() (landmark.Image, bool) {
	raw, ok := c.Latest()
	if !ok {
		return landmark.Image{}, false
	}

	jpg, err := EncodeJPEG(raw, c.cfg.Quality)
	if err != nil {
		c.log.Debug("jpeg encode failed", "error", err)
		return landmark.Image{}, false
	}
	return landmark.Image{
		JPEG:      jpg,
		Width:     raw.Width,
		Height:    raw.Height,
		Timestamp: raw.Timestamp,
	}, true
}

// EncodeJPEG compresses a raw BGR frame.
func EncodeJPEG(raw RawFrame, quality int) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(raw.Height, raw.Width, gocv.MatTypeCV8UC3, raw.Data)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

func (c *Camera) readLoop(ctx context.Context, dev device) {
	defer c.wg.Done()

	interval := time.Second / time.Duration(max(c.cfg.Framerate, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	mat := gocv.NewMat()
	defer mat.Close()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if ok := dev.Read(&mat); !ok || mat.Empty() {
			misses++
			if misses == 10 {
				c.log.Warn("camera returned no frames", "misses", misses)
			}
			continue
		}
		misses = 0

		frame := RawFrame{
			Data:      mat.ToBytes(),
			Width:     mat.Cols(),
			Height:    mat.Rows(),
			Timestamp: time.Now(),
		}

		c.frameMu.Lock()
		c.latest = &frame
		c.frameMu.Unlock()

		c.fanOut(frame)
	}
}

func (c *Camera) fanOut(frame RawFrame) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}
