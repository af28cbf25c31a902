// Package landmark provides the face landmark detector used by the live sampling loop.
//
// A Detector turns one camera image into one face's landmark positions. The heavy
// lifting is done by a Model (see the yunet subpackage); the Adapter here owns the
// model's asynchronous initialization and exposes a Ready flag callers poll instead
// of handling "not loaded yet" errors.
package landmark

import (
	"math"
	"time"
)

// Point is a single facial keypoint. X and Y are normalized image coordinates (0-1),
// Z is a relative depth where 0 is the reference distance from the camera.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Frame is the ordered landmark set of one face in one image.
// Frames are consumed immediately by the metric extractor and never retained.
type Frame struct {
	Points []Point `json:"points"`
	Score  float64 `json:"score"`
}

// Len returns the number of landmarks.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Points)
}

// At returns the landmark at index i, or false if the frame does not have it.
func (f *Frame) At(i int) (Point, bool) {
	if f == nil || i < 0 || i >= len(f.Points) {
		return Point{}, false
	}
	return f.Points[i], true
}

// Image is one captured camera frame as JPEG bytes.
type Image struct {
	JPEG      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Ready reports whether the image carries usable frame data.
func (i Image) Ready() bool {
	return i.Width > 0 && i.Height > 0 && len(i.JPEG) > 0
}

// Detector finds a single face's landmarks in an image.
type Detector interface {
	// Ready reports whether the underlying model has finished loading.
	Ready() bool

	// Detect returns the landmarks of one face, or nil when the model is not
	// ready, the image is not usable, or no face was found.
	Detect(img Image) (*Frame, error)
}

// Layout names the landmark indices the metric extractor needs for a given model.
// "Left" and "Right" are image sides, not the subject's.
type Layout struct {
	Name     string
	Points   int
	LeftEye  int
	RightEye int
	NoseTip  int
}

// MediaPipeLayout matches the 468-point MediaPipe face mesh.
var MediaPipeLayout = Layout{
	Name:     "mediapipe",
	Points:   468,
	LeftEye:  33,
	RightEye: 263,
	NoseTip:  1,
}

// YuNetLayout matches the 5 keypoints of OpenCV's YuNet detector
// (subject's right eye, left eye, nose tip, right and left mouth corners).
var YuNetLayout = Layout{
	Name:     "yunet",
	Points:   5,
	LeftEye:  0,
	RightEye: 1,
	NoseTip:  2,
}

// Frame builds a frame of the layout's size with the three reference points set.
// All other points are zero.
func (l Layout) Frame(leftEye, rightEye, nose Point) Frame {
	n := l.Points
	for _, idx := range []int{l.LeftEye, l.RightEye, l.NoseTip} {
		if idx+1 > n {
			n = idx + 1
		}
	}
	pts := make([]Point, n)
	pts[l.LeftEye] = leftEye
	pts[l.RightEye] = rightEye
	pts[l.NoseTip] = nose
	return Frame{Points: pts, Score: 1}
}
