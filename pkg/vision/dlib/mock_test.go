package dlib

import (
	"github.com/Kagami/go-face"
)

type MockFaceEngine struct {
	RecognizeFunc func(data []byte) ([]face.Face, error)
	CloseFunc     func()
	calls         int
}

func (m *MockFaceEngine) Recognize(data []byte) ([]face.Face, error) {
	m.calls++
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}
