package landmark

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tarang-care/tarang-live/internal/log"
)

// Model is a face landmark inference backend.
type Model interface {
	// Load prepares the model. It may be slow (file or network I/O).
	Load(ctx context.Context) error

	// Infer returns every face found in the image.
	Infer(img Image) ([]Frame, error)

	// Close releases model resources.
	Close() error
}

// Adapter wraps a Model with asynchronous initialization and a readiness flag.
// Until Init completes successfully, Detect always returns nil.
type Adapter struct {
	model Model
	log   *slog.Logger

	ready atomic.Bool

	initOnce sync.Once
	done     chan struct{}
	errMu    sync.Mutex
	initErr  error

	// Protects inference; models are not safe for concurrent use.
	inferMu sync.Mutex
}

// NewAdapter creates an adapter for the model. Call Init to start loading it.
func NewAdapter(model Model) *Adapter {
	return &Adapter{
		model: model,
		log:   log.Component("landmark"),
		done:  make(chan struct{}),
	}
}

// Init starts loading the model in the background and returns immediately.
// The returned channel is closed once loading has finished, successfully or not.
// Calling Init more than once has no further effect.
func (a *Adapter) Init(ctx context.Context) <-chan struct{} {
	a.initOnce.Do(func() {
		go func() {
			defer close(a.done)
			if err := a.model.Load(ctx); err != nil {
				a.errMu.Lock()
				a.initErr = err
				a.errMu.Unlock()
				a.log.Error("model load failed", "error", err)
				return
			}
			a.ready.Store(true)
			a.log.Info("model ready")
		}()
	})
	return a.done
}

// Ready reports whether the model finished loading.
func (a *Adapter) Ready() bool {
	return a.ready.Load()
}

// Err returns the model load error, if any.
func (a *Adapter) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.initErr
}

// Detect returns the first face found in img, or nil when the model is not
// ready, the image has no usable data, or no face is present.
func (a *Adapter) Detect(img Image) (*Frame, error) {
	if !a.Ready() || !img.Ready() {
		return nil, nil
	}

	a.inferMu.Lock()
	faces, err := a.model.Infer(img)
	a.inferMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("infer landmarks: %w", err)
	}
	if len(faces) == 0 {
		return nil, nil
	}

	face := faces[0]
	return &face, nil
}

// Close marks the adapter not ready and releases the model.
func (a *Adapter) Close() error {
	a.ready.Store(false)
	a.inferMu.Lock()
	defer a.inferMu.Unlock()
	return a.model.Close()
}
