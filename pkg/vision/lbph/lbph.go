// Package lbph is a pure-Go Local Binary Patterns Histograms face
// classifier. It follows OpenCV's LBPH recognizer closely enough that the
// same distance threshold applies: crops are normalized to a fixed size,
// encoded as 8-neighbour LBP codes, split into a grid of cells whose
// normalized 256-bin histograms are concatenated, and compared with the
// alternative chi-square distance against every training sample.
package lbph

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrCodeEU/rollcall/pkg/vision"
)

const (
	formatName = "rollcall-lbph"
	formatRev  = 1
	bins       = 256
)

// ModelFile is the file name native models are stored under.
const ModelFile = "lbph.msgpack"

// Options tune the descriptor. The defaults match OpenCV's.
type Options struct {
	Radius int
	GridX  int
	GridY  int
	Size   int // crops are resized to Size x Size before encoding
}

// DefaultOptions returns radius 1, an 8x8 grid and 100 pixel crops.
func DefaultOptions() Options {
	return Options{Radius: 1, GridX: 8, GridY: 8, Size: 100}
}

// model is the persisted form.
type model struct {
	Format     string      `msgpack:"format"`
	Revision   int         `msgpack:"rev"`
	Options    Options     `msgpack:"options"`
	Labels     []int       `msgpack:"labels"`
	Histograms [][]float32 `msgpack:"histograms"`
}

// Classifier implements vision.Classifier.
type Classifier struct {
	mu   sync.RWMutex
	opts Options
	m    *model
}

var _ vision.Classifier = (*Classifier)(nil)

// New returns an untrained classifier.
func New(opts Options) *Classifier {
	if opts.Radius <= 0 {
		opts.Radius = 1
	}
	if opts.GridX <= 0 {
		opts.GridX = 8
	}
	if opts.GridY <= 0 {
		opts.GridY = 8
	}
	if opts.Size <= 2*opts.Radius {
		opts.Size = 100
	}
	return &Classifier{opts: opts}
}

func init() {
	vision.Register(vision.Registration{
		Backend:   vision.BackendNative,
		Name:      "Native LBPH (pure Go)",
		Tested:    true,
		ModelFile: ModelFile,
		NewClassifier: func() (vision.Classifier, error) {
			return New(DefaultOptions()), nil
		},
	})
}

// Train replaces the model with one fitted to samples.
func (c *Classifier) Train(samples []*image.Gray, labels []int) error {
	if err := vision.CheckTrainingSet(samples, labels); err != nil {
		return err
	}

	m := &model{
		Format:     formatName,
		Revision:   formatRev,
		Options:    c.opts,
		Labels:     append([]int(nil), labels...),
		Histograms: make([][]float32, len(samples)),
	}
	for i, s := range samples {
		m.Histograms[i] = describe(s, c.opts)
	}

	c.mu.Lock()
	c.m = m
	c.mu.Unlock()
	return nil
}

// Predict returns the label of the nearest training sample and its
// chi-square distance.
func (c *Classifier) Predict(sample *image.Gray) (vision.Prediction, error) {
	c.mu.RLock()
	m := c.m
	c.mu.RUnlock()
	if m == nil || len(m.Histograms) == 0 {
		return vision.Prediction{}, vision.ErrNotTrained
	}

	h := describe(sample, m.Options)
	best := vision.Prediction{Label: -1, Confidence: -1}
	for i, ref := range m.Histograms {
		d := chiSquareAlt(h, ref)
		if best.Confidence < 0 || d < best.Confidence {
			best = vision.Prediction{Label: m.Labels[i], Confidence: d}
		}
	}
	return best, nil
}

// Save writes the model to path.
func (c *Classifier) Save(path string) error {
	c.mu.RLock()
	m := c.m
	c.mu.RUnlock()
	if m == nil {
		return vision.ErrNotTrained
	}

	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Load replaces the model with the one stored at path.
func (c *Classifier) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var m model
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %v", vision.ErrModelFormat, err)
	}
	if m.Format != formatName || m.Revision != formatRev {
		return fmt.Errorf("%w: %s rev %d", vision.ErrModelFormat, m.Format, m.Revision)
	}
	if len(m.Labels) != len(m.Histograms) {
		return fmt.Errorf("%w: %d labels for %d histograms", vision.ErrModelFormat, len(m.Labels), len(m.Histograms))
	}

	c.mu.Lock()
	c.m = &m
	c.opts = m.Options
	c.mu.Unlock()
	return nil
}

// Labels returns the distinct labels the model was trained on.
func (c *Classifier) Labels() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.m == nil {
		return nil
	}
	seen := make(map[int]bool)
	var out []int
	for _, l := range c.m.Labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

// Close releases the model.
func (c *Classifier) Close() error {
	c.mu.Lock()
	c.m = nil
	c.mu.Unlock()
	return nil
}
