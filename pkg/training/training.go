// Package training fits a recognition model to the enrolled corpus and
// replaces the persisted model atomically.
package training

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/storage"
	"github.com/MrCodeEU/rollcall/pkg/vision"
)

// ErrNoTrainingData is returned when the corpus is empty. The previous
// model file is left as it was.
var ErrNoTrainingData = errors.New("no training data")

// Corpus yields every enrolled sample.
type Corpus interface {
	Corpus() ([]storage.Sample, error)
}

// Summary describes a finished training run.
type Summary struct {
	Identities  []int64
	Samples     int
	PerIdentity map[int64]int
	ModelPath   string
	Duration    time.Duration
}

// Trainer builds a model from Samples with a fresh classifier from
// NewClassifier and writes it to ModelPath.
type Trainer struct {
	Samples       Corpus
	NewClassifier func() (vision.Classifier, error)
	ModelPath     string
}

// Train runs one training pass.
func (t *Trainer) Train(ctx context.Context) (Summary, error) {
	start := time.Now()
	log := logging.Component("training")

	corpus, err := t.Samples.Corpus()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read corpus: %w", err)
	}
	if len(corpus) == 0 {
		return Summary{}, ErrNoTrainingData
	}

	// identical corpora must give identical models regardless of read order
	sort.SliceStable(corpus, func(i, j int) bool {
		if corpus[i].IdentityID != corpus[j].IdentityID {
			return corpus[i].IdentityID < corpus[j].IdentityID
		}
		return corpus[i].Index < corpus[j].Index
	})

	sum := Summary{PerIdentity: make(map[int64]int), ModelPath: t.ModelPath}
	images := make([]*image.Gray, 0, len(corpus))
	labels := make([]int, 0, len(corpus))
	for _, s := range corpus {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		if s.Image == nil {
			continue
		}
		if sum.PerIdentity[s.IdentityID] == 0 {
			sum.Identities = append(sum.Identities, s.IdentityID)
		}
		sum.PerIdentity[s.IdentityID]++
		images = append(images, s.Image)
		labels = append(labels, int(s.IdentityID))
	}
	if len(images) == 0 {
		return Summary{}, ErrNoTrainingData
	}
	sum.Samples = len(images)

	log.Infof("Training on %d samples of %d identities", sum.Samples, len(sum.Identities))

	cls, err := t.NewClassifier()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to create classifier: %w", err)
	}
	defer cls.Close()

	if err := cls.Train(images, labels); err != nil {
		return Summary{}, fmt.Errorf("training failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	if err := saveAtomic(cls, t.ModelPath); err != nil {
		return Summary{}, err
	}

	sum.Duration = time.Since(start)
	log.WithField("model", t.ModelPath).Infof("Model saved in %s", sum.Duration.Round(time.Millisecond))
	return sum, nil
}

// saveAtomic writes the model next to path and renames it into place so
// readers see either the old or the new file.
func saveAtomic(cls vision.Classifier, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".model-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("failed to create temp model file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := cls.Save(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save model: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace model: %w", err)
	}
	return nil
}
