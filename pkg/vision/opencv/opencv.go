// Package opencv binds OpenCV through gocv: V4L2 capture, Haar cascade
// detection and the contrib LBPH recognizer. Importing it registers the
// backend with the vision manager.
package opencv

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"

	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/vision"
)

// ModelFile is the file name OpenCV LBPH models are stored under.
const ModelFile = "lbph.yml"

// DefaultCascade is the frontal face cascade shipped with OpenCV.
const DefaultCascade = "haarcascade_frontalface_default.xml"

var cascadeDirs = []string{
	"/usr/share/opencv4/haarcascades",
	"/usr/local/share/opencv4/haarcascades",
	"/usr/share/opencv/haarcascades",
	"/opt/homebrew/share/opencv4/haarcascades",
}

func init() {
	vision.Register(vision.Registration{
		Backend:   vision.BackendOpenCV,
		Name:      "OpenCV " + gocv.Version(),
		Tested:    true,
		ModelFile: ModelFile,
		NewDetector: func(opts vision.DetectorOptions) (vision.Detector, error) {
			return NewCascadeDetector(opts.CascadePath)
		},
		NewClassifier: func() (vision.Classifier, error) {
			return NewLBPH(), nil
		},
		OpenSource: func(device string, width, height int) (camera.Source, error) {
			return OpenCapture(device, width, height)
		},
	})
}

// Capture reads frames from a V4L2 device.
type Capture struct {
	mu  sync.Mutex
	vc  *gocv.VideoCapture
	mat gocv.Mat
	seq uint64
}

// OpenCapture opens device ("/dev/video0" or an index such as "0") and
// requests the given resolution. Zero keeps the driver default.
func OpenCapture(device string, width, height int) (*Capture, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", camera.ErrDeviceUnavailable, device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s", camera.ErrDeviceUnavailable, device)
	}
	if width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	logging.Component("opencv").WithFields(logging.Fields{
		"device": device,
		"width":  vc.Get(gocv.VideoCaptureFrameWidth),
		"height": vc.Get(gocv.VideoCaptureFrameHeight),
	}).Debug("Capture opened")

	return &Capture{vc: vc, mat: gocv.NewMat()}, nil
}

// Read grabs the next frame.
func (c *Capture) Read() (camera.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return camera.Frame{}, camera.ErrLeaseReleased
	}
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return camera.Frame{}, camera.ErrNoFrame
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return camera.Frame{}, fmt.Errorf("%w: %v", camera.ErrNoFrame, err)
	}
	c.seq++
	return camera.Frame{Image: img, Seq: c.seq, Timestamp: time.Now()}, nil
}

// Close releases the device.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	c.mat.Close()
	c.vc = nil
	return err
}

// CascadeDetector finds faces with a Haar cascade.
type CascadeDetector struct {
	mu      sync.Mutex
	cascade gocv.CascadeClassifier
	path    string
}

// ResolveCascade returns path if it exists, otherwise the first known
// system location holding the default cascade.
func ResolveCascade(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	name := DefaultCascade
	if path != "" {
		name = filepath.Base(path)
	}
	for _, dir := range cascadeDirs {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cascade %q not found", name)
}

// NewCascadeDetector loads the cascade at path, falling back to the system
// OpenCV data directories.
func NewCascadeDetector(path string) (*CascadeDetector, error) {
	resolved, err := ResolveCascade(path)
	if err != nil {
		return nil, err
	}
	cascade := gocv.NewCascadeClassifier()
	if !cascade.Load(resolved) {
		cascade.Close()
		return nil, fmt.Errorf("failed to load cascade %s", resolved)
	}
	logging.Component("opencv").Debugf("Loaded cascade %s", resolved)
	return &CascadeDetector{cascade: cascade, path: resolved}, nil
}

// Path returns the cascade file in use.
func (d *CascadeDetector) Path() string {
	return d.path
}

// Detect implements vision.Detector.
func (d *CascadeDetector) Detect(frame *image.Gray, p vision.Params) ([]image.Rectangle, error) {
	mat, err := gocv.ImageGrayToMatGray(frame)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	if p.Equalize {
		gocv.EqualizeHist(mat, &mat)
	}

	var minSize, maxSize image.Point
	if p.MinSize > 0 {
		minSize = image.Pt(p.MinSize, p.MinSize)
	}
	if p.MaxSize > 0 {
		maxSize = image.Pt(p.MaxSize, p.MaxSize)
	}

	d.mu.Lock()
	boxes := d.cascade.DetectMultiScaleWithParams(mat, p.ScaleFactor, p.MinNeighbors, 0, minSize, maxSize)
	d.mu.Unlock()

	out := boxes[:0]
	for _, b := range boxes {
		if p.Accepts(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Close releases the cascade.
func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cascade.Close()
}

// FaceSize is the side every crop is resized to before training and
// prediction. The contrib recognizer needs equally sized samples.
const FaceSize = 100

// LBPH wraps the contrib LBPH face recognizer.
type LBPH struct {
	mu      sync.Mutex
	rec     *contrib.LBPHFaceRecognizer
	trained bool
}

// NewLBPH returns an untrained recognizer with OpenCV's default radius,
// neighbours and 8x8 grid.
func NewLBPH() *LBPH {
	return &LBPH{rec: contrib.NewLBPHFaceRecognizer()}
}

func toMat(g *image.Gray) (gocv.Mat, error) {
	if g.Bounds().Dx() != FaceSize || g.Bounds().Dy() != FaceSize {
		g = vision.Resize(g, FaceSize, FaceSize)
	}
	return gocv.ImageGrayToMatGray(g)
}

// Train implements vision.Classifier.
func (l *LBPH) Train(samples []*image.Gray, labels []int) error {
	if err := vision.CheckTrainingSet(samples, labels); err != nil {
		return err
	}

	mats := make([]gocv.Mat, 0, len(samples))
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()
	for i, s := range samples {
		m, err := toMat(s)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		mats = append(mats, m)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec.Train(mats, labels)
	l.trained = true
	return nil
}

// Predict implements vision.Classifier.
func (l *LBPH) Predict(sample *image.Gray) (vision.Prediction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.trained {
		return vision.Prediction{}, vision.ErrNotTrained
	}
	m, err := toMat(sample)
	if err != nil {
		return vision.Prediction{}, err
	}
	defer m.Close()

	resp := l.rec.PredictExtendedResponse(m)
	return vision.Prediction{Label: int(resp.Label), Confidence: float64(resp.Confidence)}, nil
}

// Save implements vision.Classifier.
func (l *LBPH) Save(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.trained {
		return vision.ErrNotTrained
	}
	l.rec.SaveFile(path)
	if err := checkModelFile(path); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}

// yamlHeader starts every FileStorage document OpenCV writes. LoadFile
// aborts the process on anything else, so it is checked first.
var yamlHeader = []byte("%YAML")

// checkModelFile reports ErrModelFormat unless path holds a non-empty
// FileStorage document. SaveFile gives no error, so Save checks its output
// the same way Load checks its input.
func checkModelFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, len(yamlHeader))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, yamlHeader) {
		return fmt.Errorf("%w: %s", vision.ErrModelFormat, path)
	}
	return nil
}

// Load implements vision.Classifier.
func (l *LBPH) Load(path string) error {
	if err := checkModelFile(path); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec.LoadFile(path)
	l.trained = true
	return nil
}

// Close is a no-op: the contrib recognizer is released by its finalizer.
func (l *LBPH) Close() error {
	return nil
}

// ErrNoCascade is reported by Doctor when no cascade file can be found.
var ErrNoCascade = errors.New("no Haar cascade available")

// Doctor checks that a cascade can be resolved and reports the OpenCV build.
func Doctor(cascadePath string) (string, error) {
	p, err := ResolveCascade(cascadePath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCascade, err)
	}
	return fmt.Sprintf("OpenCV %s, cascade %s", gocv.Version(), p), nil
}
