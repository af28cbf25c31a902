// Package yunet provides a landmark.Model backed by OpenCV's YuNet face detector.
//
// YuNet reports five keypoints per face (eyes, nose tip, mouth corners). It has
// no depth output, so Z is derived from the face width relative to a reference
// width: 0 at the reference distance, negative when the face moves closer.
package yunet

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/tarang-care/tarang-live/pkg/landmark"
)

// Config holds YuNet model configuration.
type Config struct {
	ModelPath          string  // Path to the ONNX model
	ScoreThreshold     float64 // Minimum face confidence
	NMSThreshold       float64
	TopK               int
	InputWidth         int
	InputHeight        int
	ReferenceFaceWidth float64 // Normalized face width that maps to Z = 0
}

// DefaultConfig returns production defaults for YuNet.
func DefaultConfig() Config {
	return Config{
		ModelPath:          "models/face_detection_yunet_2023mar.onnx",
		ScoreThreshold:     0.6,
		NMSThreshold:       0.3,
		TopK:               5000,
		InputWidth:         320,
		InputHeight:        320,
		ReferenceFaceWidth: 0.25,
	}
}

// ErrNotLoaded is returned by Infer before Load has succeeded.
var ErrNotLoaded = errors.New("yunet: model not loaded")

// Model uses gocv's FaceDetectorYN for face keypoints.
type Model struct {
	config   Config
	detector gocv.FaceDetectorYN
	loaded   bool
	mu       sync.Mutex
}

// New creates an unloaded YuNet model.
func New(cfg Config) *Model {
	if cfg.ReferenceFaceWidth <= 0 {
		cfg.ReferenceFaceWidth = DefaultConfig().ReferenceFaceWidth
	}
	return &Model{config: cfg}
}

// Load implements landmark.Model.
func (m *Model) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(m.config.ModelPath); err != nil {
		return fmt.Errorf("model file not found: %s: %w", m.config.ModelPath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return nil
	}

	m.detector = gocv.NewFaceDetectorYNWithParams(
		m.config.ModelPath,
		"", // No config file needed for ONNX
		image.Pt(m.config.InputWidth, m.config.InputHeight),
		float32(m.config.ScoreThreshold),
		float32(m.config.NMSThreshold),
		m.config.TopK,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)
	m.loaded = true
	return nil
}

// Infer implements landmark.Model.
func (m *Model) Infer(img landmark.Image) ([]landmark.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return nil, ErrNotLoaded
	}

	mat, err := gocv.IMDecode(img.JPEG, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	imgW := float64(mat.Cols())
	imgH := float64(mat.Rows())
	m.detector.SetInputSize(image.Pt(mat.Cols(), mat.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()
	m.detector.Detect(mat, &faces)

	frames := make([]landmark.Frame, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		row := make([]float64, 15)
		for c := range row {
			row[c] = float64(faces.GetFloatAt(r, c))
		}
		frames = append(frames, m.rowToFrame(row, imgW, imgH))
	}
	return frames, nil
}

// rowToFrame converts one YuNet output row into a landmark frame.
// Row layout: 0-3 box (x, y, w, h in pixels), 4-13 five (x, y) keypoints, 14 score.
func (m *Model) rowToFrame(row []float64, imgW, imgH float64) landmark.Frame {
	width := row[2] / imgW
	z := depthFromWidth(width, m.config.ReferenceFaceWidth)

	pts := make([]landmark.Point, 5)
	for i := range pts {
		pts[i] = landmark.Point{
			X: row[4+2*i] / imgW,
			Y: row[5+2*i] / imgH,
			Z: z,
		}
	}
	return landmark.Frame{Points: pts, Score: row[14]}
}

// depthFromWidth maps a normalized face width to a relative depth in [-1, 1].
func depthFromWidth(width, reference float64) float64 {
	if reference <= 0 || width <= 0 {
		return 0
	}
	z := 1 - width/reference
	switch {
	case z < -1:
		return -1
	case z > 1:
		return 1
	}
	return z
}

// Close implements landmark.Model.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		m.detector.Close()
		m.loaded = false
	}
	return nil
}
