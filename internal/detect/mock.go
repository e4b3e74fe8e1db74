package detect

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a scripted Detector for dev mode and tests. It returns the
// configured boxes filtered by threshold and counts Infer calls.
type MockDetector struct {
	mu sync.Mutex

	Boxes []RawBox
	Err   error
	Names map[int]string
	Model string

	calls int
}

// NewMockDetector returns a detector that reports no objects.
func NewMockDetector() *MockDetector {
	return &MockDetector{Model: "mock-detector"}
}

func (m *MockDetector) Infer(img gocv.Mat, threshold float32) ([]RawBox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	var out []RawBox
	for _, b := range m.Boxes {
		if b.Confidence >= threshold {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MockDetector) ClassName(id int) string {
	if name, ok := m.Names[id]; ok {
		return name
	}
	return fmt.Sprintf("class_%d", id)
}

func (m *MockDetector) ModelName() string {
	if m.Model == "" {
		return "mock-detector"
	}
	return m.Model
}

// Calls reports how many times Infer was invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
