package enrollment

import (
	"image"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/vision"
)

// MockSource implements camera.Source for testing
type MockSource struct {
	ReadFunc func(n int) (camera.Frame, error)
	reads    int
	closed   bool
}

func (m *MockSource) Read() (camera.Frame, error) {
	m.reads++
	if m.ReadFunc != nil {
		return m.ReadFunc(m.reads)
	}
	return camera.Frame{Image: image.NewGray(image.Rect(0, 0, 320, 240)), Seq: uint64(m.reads), Timestamp: time.Now()}, nil
}

func (m *MockSource) Close() error {
	m.closed = true
	return nil
}

// MockDetector implements vision.Detector for testing
type MockDetector struct {
	DetectFunc func(frame *image.Gray, p vision.Params) ([]image.Rectangle, error)
	calls      int
}

func (m *MockDetector) Detect(frame *image.Gray, p vision.Params) ([]image.Rectangle, error) {
	m.calls++
	if m.DetectFunc != nil {
		return m.DetectFunc(frame, p)
	}
	return nil, nil
}

func (m *MockDetector) Close() error {
	return nil
}
