// Package recognition turns camera frames into attendance events: faces
// are localized, classified against the trained model, filtered by a
// confidence threshold and the roster, and debounced by a Cooldown.
package recognition

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/vision"
)

// Display labels for faces that produce no event.
const (
	LabelUnknown = "unknown"
	LabelNoModel = "no model"
)

// DefaultThreshold is the LBPH distance below which a face is accepted.
const DefaultThreshold = 60.0

// Face is one localized face of a frame.
type Face struct {
	Box        image.Rectangle
	IdentityID int64
	Name       string
	Confidence float64
	Known      bool
	Suppressed bool
	Err        error
}

// Event is an admitted recognition.
type Event struct {
	IdentityID int64
	Name       string
	Confidence float64
	At         time.Time
}

// FrameResult is the outcome of processing one frame.
type FrameResult struct {
	Faces    []Face
	Events   []Event
	HasModel bool
	Err      error
}

// Config tunes a Recognizer.
type Config struct {
	Threshold float64
	Params    vision.Params
}

// Recognizer classifies faces. The classifier may be swapped at runtime;
// each frame is processed entirely with one classifier.
type Recognizer struct {
	mu         sync.RWMutex
	detector   vision.Detector
	classifier vision.Classifier
	roster     map[int64]string
	threshold  float64
	params     vision.Params
	log        *logrus.Entry
}

// NewRecognizer creates a recognizer. cls may be nil when no model has
// been trained yet; faces are then reported with LabelNoModel.
func NewRecognizer(det vision.Detector, cls vision.Classifier, roster map[int64]string, cfg Config) *Recognizer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Recognizer{
		detector:   det,
		classifier: cls,
		roster:     copyRoster(roster),
		threshold:  cfg.Threshold,
		params:     cfg.Params,
		log:        logging.Component("recognition"),
	}
}

func copyRoster(in map[int64]string) map[int64]string {
	out := make(map[int64]string, len(in))
	for id, name := range in {
		out[id] = name
	}
	return out
}

// SetThreshold sets the acceptance threshold.
func (r *Recognizer) SetThreshold(threshold float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold = threshold
}

// SetRoster replaces the id to name mapping.
func (r *Recognizer) SetRoster(roster map[int64]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roster = copyRoster(roster)
}

// SetClassifier swaps in cls and closes the previous classifier.
func (r *Recognizer) SetClassifier(cls vision.Classifier) {
	r.mu.Lock()
	old := r.classifier
	r.classifier = cls
	r.mu.Unlock()

	if old != nil && old != cls {
		if err := old.Close(); err != nil {
			r.log.WithError(err).Warn("Failed to close previous classifier")
		}
	}
}

// Reload loads a classifier with load and swaps it in. On failure the
// current classifier stays active.
func (r *Recognizer) Reload(load func() (vision.Classifier, error)) error {
	cls, err := load()
	if err != nil {
		return err
	}
	r.SetClassifier(cls)
	r.log.Info("Recognition model reloaded")
	return nil
}

// HasModel reports whether a classifier is loaded.
func (r *Recognizer) HasModel() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.classifier != nil
}

// Close releases the classifier and the detector.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.classifier != nil {
		errs = append(errs, r.classifier.Close())
		r.classifier = nil
	}
	if r.detector != nil {
		errs = append(errs, r.detector.Close())
		r.detector = nil
	}
	return errors.Join(errs...)
}

// Process localizes and classifies the faces of img seen at at. Accepted
// faces are passed through tracker; the updated tracker is returned with
// the result. A classification failure marks that face and processing
// continues with the next one.
func (r *Recognizer) Process(img image.Image, at time.Time, tracker Cooldown) (FrameResult, Cooldown) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := FrameResult{HasModel: r.classifier != nil}
	if r.detector == nil {
		res.Err = NewError(KindDetection, false, errors.New("recognizer closed"))
		return res, tracker
	}

	gray := vision.Gray(img)
	boxes, err := r.detector.Detect(gray, r.params)
	if err != nil {
		res.Err = NewError(KindDetection, false, err)
		r.log.WithError(err).Warn("Face detection failed")
		return res, tracker
	}

	res.Faces = make([]Face, 0, len(boxes))
	for _, box := range boxes {
		face := Face{Box: box, Name: LabelNoModel}
		if r.classifier == nil {
			res.Faces = append(res.Faces, face)
			continue
		}

		pred, err := r.classifier.Predict(vision.Crop(gray, box))
		if err != nil {
			face.Name = LabelUnknown
			face.Err = NewError(KindClassification, false, err)
			r.log.WithError(err).Warnf("Skipping face at %v", box)
			res.Faces = append(res.Faces, face)
			continue
		}

		face.Confidence = pred.Confidence
		name, enrolled := r.roster[int64(pred.Label)]
		if pred.Confidence >= r.threshold || !enrolled {
			face.Name = LabelUnknown
			r.log.Debugf("Rejected label %d (confidence %.1f, threshold %.1f)", pred.Label, pred.Confidence, r.threshold)
			res.Faces = append(res.Faces, face)
			continue
		}

		face.Known = true
		face.IdentityID = int64(pred.Label)
		face.Name = name

		var admitted bool
		admitted, tracker = tracker.Admit(face.IdentityID, at)
		if admitted {
			res.Events = append(res.Events, Event{
				IdentityID: face.IdentityID,
				Name:       name,
				Confidence: pred.Confidence,
				At:         at,
			})
		} else {
			face.Suppressed = true
		}
		res.Faces = append(res.Faces, face)
	}
	return res, tracker
}

// LoadModel loads the model file at path into a classifier from
// newClassifier. A missing file yields ErrModelNotLoaded.
func LoadModel(path string, newClassifier func() (vision.Classifier, error)) (vision.Classifier, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrModelNotLoaded, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
	}

	cls, err := newClassifier()
	if err != nil {
		return nil, err
	}
	if err := cls.Load(path); err != nil {
		cls.Close()
		return nil, fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
	}
	logging.Component("recognition").WithField("model", path).Info("Recognition model loaded")
	return cls, nil
}
