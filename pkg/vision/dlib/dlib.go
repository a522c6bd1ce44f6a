// Package dlib provides face detection using dlib via go-face.
// Only the detector is exposed; recognition stays on the LBPH classifiers so
// every backend trains the same kind of model.
package dlib

import (
	"bytes"
	"fmt"
	"image"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/disintegration/imaging"

	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/vision"
)

// Models lists the dlib files the detector needs and where fetch-models
// downloads them from.
var Models = []struct {
	Name string
	URL  string
}{
	{
		Name: "shape_predictor_5_face_landmarks.dat",
		URL:  "http://dlib.net/files/shape_predictor_5_face_landmarks.dat.bz2",
	},
	{
		Name: "dlib_face_recognition_resnet_model_v1.dat",
		URL:  "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
	},
	{
		Name: "mmod_human_face_detector.dat",
		URL:  "http://dlib.net/files/mmod_human_face_detector.dat.bz2",
	},
}

func init() {
	vision.Register(vision.Registration{
		Backend: vision.BackendDlib,
		Name:    "dlib (go-face)",
		Tested:  false,
		Warning: "dlib HOG detector ignores scale factor and min neighbours",
		NewDetector: func(opts vision.DetectorOptions) (vision.Detector, error) {
			return NewDetector(opts.ModelDir)
		},
	})
}

// FaceEngine is the subset of go-face the detector uses.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

// Detector implements vision.Detector on a go-face recognizer.
type Detector struct {
	mu     sync.Mutex
	engine FaceEngine
}

// NewDetector loads the dlib models from modelDir.
func NewDetector(modelDir string) (*Detector, error) {
	logging.Component("dlib").Infof("Loading face models from: %s", modelDir)

	rec, err := face.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	return NewDetectorWithEngine(rec), nil
}

// NewDetectorWithEngine wraps an existing engine.
func NewDetectorWithEngine(engine FaceEngine) *Detector {
	return &Detector{engine: engine}
}

// Detect implements vision.Detector. go-face only reads encoded images, so
// the frame goes through a JPEG round trip.
func (d *Detector) Detect(frame *image.Gray, p vision.Params) ([]image.Rectangle, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Clone(frame), imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	d.mu.Lock()
	if d.engine == nil {
		d.mu.Unlock()
		return nil, vision.ErrBackendNotAvailable
	}
	faces, err := d.engine.Recognize(buf.Bytes())
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	// boxes come back relative to the encoded image
	origin := frame.Bounds().Min
	out := make([]image.Rectangle, 0, len(faces))
	for _, f := range faces {
		r := f.Rectangle.Add(origin).Intersect(frame.Bounds())
		if r.Empty() || !p.Accepts(r) {
			continue
		}
		out = append(out, r)
	}
	logging.Component("dlib").Debugf("Detected %d face(s)", len(out))
	return out, nil
}

// Close releases the engine.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.engine != nil {
		d.engine.Close()
		d.engine = nil
	}
	return nil
}
