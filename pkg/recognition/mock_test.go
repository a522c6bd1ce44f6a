package recognition

import (
	"image"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/vision"
)

// MockDetector implements vision.Detector for testing
type MockDetector struct {
	DetectFunc func(frame *image.Gray, p vision.Params) ([]image.Rectangle, error)
	CloseFunc  func() error
}

func (m *MockDetector) Detect(frame *image.Gray, p vision.Params) ([]image.Rectangle, error) {
	if m.DetectFunc != nil {
		return m.DetectFunc(frame, p)
	}
	return nil, nil
}

func (m *MockDetector) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MockClassifier implements vision.Classifier for testing
type MockClassifier struct {
	PredictFunc func(sample *image.Gray) (vision.Prediction, error)
	closed      int
}

func (m *MockClassifier) Train([]*image.Gray, []int) error { return nil }
func (m *MockClassifier) Save(string) error                { return nil }
func (m *MockClassifier) Load(string) error                { return nil }

func (m *MockClassifier) Predict(sample *image.Gray) (vision.Prediction, error) {
	if m.PredictFunc != nil {
		return m.PredictFunc(sample)
	}
	return vision.Prediction{}, vision.ErrNotTrained
}

func (m *MockClassifier) Close() error {
	m.closed++
	return nil
}

// MockSource implements camera.Source for testing
type MockSource struct {
	ReadFunc func(n int) (camera.Frame, error)
	reads    int
}

func (m *MockSource) Read() (camera.Frame, error) {
	m.reads++
	if m.ReadFunc != nil {
		return m.ReadFunc(m.reads)
	}
	return camera.Frame{Image: image.NewGray(image.Rect(0, 0, 320, 240)), Seq: uint64(m.reads), Timestamp: time.Now()}, nil
}

func (m *MockSource) Close() error {
	return nil
}
