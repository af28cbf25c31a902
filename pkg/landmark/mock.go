package landmark

import (
	"context"
	"sync"
)

// Mock implements Model for testing.
// All methods can be customized via function fields.
type Mock struct {
	// LoadFunc is called by Load. If nil, Load succeeds immediately.
	LoadFunc func(ctx context.Context) error

	// InferFunc is called by Infer. If nil, Infer returns the Faces field.
	InferFunc func(img Image) ([]Frame, error)

	// Faces is returned by Infer when InferFunc is nil.
	Faces []Frame

	mu         sync.Mutex
	inferCalls int
	closed     bool
}

// NewMock creates a mock model that reports the given faces.
func NewMock(faces ...Frame) *Mock {
	return &Mock{Faces: faces}
}

// Load implements Model.
func (m *Mock) Load(ctx context.Context) error {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	return nil
}

// Infer implements Model.
func (m *Mock) Infer(img Image) ([]Frame, error) {
	m.mu.Lock()
	m.inferCalls++
	fn := m.InferFunc
	faces := m.Faces
	m.mu.Unlock()

	if fn != nil {
		return fn(img)
	}
	return faces, nil
}

// Close implements Model.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// InferCalls returns how many times Infer was called.
func (m *Mock) InferCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inferCalls
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
