package camera

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// MockCamera implements Camera with configurable behaviour for dev mode and
// tests. Reads produce solid-colour frames; the first FailReads calls fail.
type MockCamera struct {
	mu sync.Mutex

	Width  int
	Height int

	// OpenErr, when set, is returned by Open.
	OpenErr error
	// FailReads makes the first N Read calls fail before reads succeed.
	FailReads int

	opened  bool
	closed  bool
	reads   int
	readErr int
}

// NewMockCamera creates a mock producing width x height frames.
func NewMockCamera(width, height int) *MockCamera {
	return &MockCamera{Width: width, Height: height}
}

func (m *MockCamera) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.opened = true
	return nil
}

func (m *MockCamera) Read() (gocv.Mat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return gocv.Mat{}, fmt.Errorf("mock camera not opened")
	}
	m.reads++
	if m.readErr < m.FailReads {
		m.readErr++
		return gocv.Mat{}, fmt.Errorf("mock read failure %d", m.readErr)
	}
	// solid grey frame, varying slightly so consecutive frames differ
	shade := float64(32 + (m.reads % 8))
	mat := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(shade, shade, shade, 0),
		m.Height, m.Width, gocv.MatTypeCV8UC3,
	)
	return mat, nil
}

func (m *MockCamera) Resolution() (int, int) {
	return m.Width, m.Height
}

func (m *MockCamera) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.opened = false
	return nil
}

// Reads reports how many Read calls were made.
func (m *MockCamera) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Closed reports whether Close was called.
func (m *MockCamera) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
