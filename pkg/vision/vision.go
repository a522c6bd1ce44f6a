// Package vision defines the seam between rollcall and the face vision
// libraries: a Detector that localizes faces in a grayscale frame and a
// Classifier that maps a face crop to an identity label. Concrete backends
// (OpenCV through gocv, dlib through go-face, and a pure-Go LBPH) register
// themselves with a Manager.
package vision

import (
	"errors"
	"image"
)

var (
	// ErrNotTrained is returned by Predict and Save on an empty classifier.
	ErrNotTrained = errors.New("classifier not trained")
	// ErrEmptyTrainingSet is returned by Train when no samples are given.
	ErrEmptyTrainingSet = errors.New("empty training set")
	// ErrLabelMismatch is returned by Train when samples and labels differ in length.
	ErrLabelMismatch = errors.New("samples and labels differ in length")
	// ErrModelFormat is returned by Load for a file the backend cannot read.
	ErrModelFormat = errors.New("unrecognized model file")
)

// Params tunes face localization.
type Params struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int // smallest accepted square side, 0 = no bound
	MaxSize      int // largest accepted square side, 0 = no bound
	Equalize     bool
}

// DefaultParams mirrors the classroom defaults: small scale steps, five
// neighbours and faces between 80 and 300 pixels.
func DefaultParams() Params {
	return Params{
		ScaleFactor:  1.1,
		MinNeighbors: 5,
		MinSize:      80,
		MaxSize:      300,
		Equalize:     true,
	}
}

// Accepts reports whether a detected box is within the size bounds.
func (p Params) Accepts(r image.Rectangle) bool {
	side := r.Dx()
	if r.Dy() < side {
		side = r.Dy()
	}
	if p.MinSize > 0 && side < p.MinSize {
		return false
	}
	if p.MaxSize > 0 && side > p.MaxSize {
		return false
	}
	return true
}

// Detector localizes faces in a grayscale frame.
type Detector interface {
	Detect(frame *image.Gray, p Params) ([]image.Rectangle, error)
	Close() error
}

// Prediction is a classifier verdict. Confidence is a distance: lower is a
// closer match.
type Prediction struct {
	Label      int
	Confidence float64
}

// Classifier is a trainable face recognizer.
type Classifier interface {
	Train(samples []*image.Gray, labels []int) error
	Predict(sample *image.Gray) (Prediction, error)
	Save(path string) error
	Load(path string) error
	Close() error
}

// CheckTrainingSet validates the arguments every Classifier.Train receives.
func CheckTrainingSet(samples []*image.Gray, labels []int) error {
	if len(samples) == 0 {
		return ErrEmptyTrainingSet
	}
	if len(samples) != len(labels) {
		return ErrLabelMismatch
	}
	return nil
}
