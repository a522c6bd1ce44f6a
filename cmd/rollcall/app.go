package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/ledger"
	"github.com/MrCodeEU/rollcall/pkg/ledger/mariadb"
	"github.com/MrCodeEU/rollcall/pkg/ledger/memory"
	"github.com/MrCodeEU/rollcall/pkg/ledger/postgres"
	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/recognition"
	"github.com/MrCodeEU/rollcall/pkg/storage"
	"github.com/MrCodeEU/rollcall/pkg/vision"

	// vision backends register themselves
	_ "github.com/MrCodeEU/rollcall/pkg/vision/dlib"
	_ "github.com/MrCodeEU/rollcall/pkg/vision/lbph"
	_ "github.com/MrCodeEU/rollcall/pkg/vision/opencv"
)

// openLedger connects to the configured attendance store.
func openLedger(ctx context.Context) (*ledger.Ledger, error) {
	var (
		store ledger.Store
		err   error
	)
	switch cfg.Database.Driver {
	case "postgres":
		store, err = postgres.Open(ctx, cfg.Database)
	case "mariadb":
		store, err = mariadb.Open(ctx, cfg.Database)
	case "memory":
		logging.Component("ledger").Warn("Using the in-memory ledger: attendance is lost on exit")
		store = memory.New()
	default:
		return nil, newUsageError(fmt.Errorf("unknown database driver %q", cfg.Database.Driver))
	}
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", cfg.Database.Driver, err)
	}
	return ledger.New(store), nil
}

func openSamples() (*storage.SampleStore, error) {
	return storage.NewSampleStore(cfg.SamplesDir(), cfg.Storage.EncryptionEnabled)
}

// openDevice returns the configured camera, or a directory of images
// replayed as frames when the device is a directory.
func openDevice(device string, loop bool) (*camera.Device, error) {
	if device == "" {
		device = cfg.Camera.Device
	}
	if camera.IsDir(device) {
		return camera.NewDevice(device, camera.DirOpener(loop)), nil
	}
	open, err := vision.Default().SourceOpener(vision.BackendAuto, cfg.Camera.Width, cfg.Camera.Height)
	if err != nil {
		return nil, err
	}
	return camera.NewDevice(device, open), nil
}

func detectionParams() vision.Params {
	return vision.Params{
		ScaleFactor:  cfg.Detection.ScaleFactor,
		MinNeighbors: cfg.Detection.MinNeighbors,
		MinSize:      cfg.Detection.MinSize,
		MaxSize:      cfg.Detection.MaxSize,
		Equalize:     cfg.Detection.Equalize,
	}
}

func newDetector() (vision.Detector, error) {
	det, backend, err := vision.Default().Detector(vision.Backend(cfg.Detection.Backend), vision.DetectorOptions{
		CascadePath: cfg.Detection.CascadePath,
		ModelDir:    cfg.ModelsDir(),
	})
	if err != nil {
		return nil, err
	}
	logging.Component("vision").Debugf("Using %s detector", backend)
	return det, nil
}

// classifierFactory resolves the recognition backend once and returns a
// constructor for it together with the model file it reads and writes.
func classifierFactory() (func() (vision.Classifier, error), string, error) {
	first, backend, file, err := vision.Default().Classifier(vision.Backend(cfg.Recognition.Backend))
	if err != nil {
		return nil, "", err
	}
	first.Close()

	newClassifier := func() (vision.Classifier, error) {
		cls, _, _, err := vision.Default().Classifier(backend)
		return cls, err
	}
	logging.Component("vision").Debugf("Using %s classifier", backend)
	return newClassifier, filepath.Join(cfg.Recognition.ModelPath, file), nil
}

// newRecognizer builds a recognizer with the current roster. A missing
// model is returned as the error alongside a usable recognizer so callers
// can decide whether to degrade.
func newRecognizer(ctx context.Context, l *ledger.Ledger) (*recognition.Recognizer, func() error, error) {
	det, err := newDetector()
	if err != nil {
		return nil, nil, err
	}
	newClassifier, modelPath, err := classifierFactory()
	if err != nil {
		det.Close()
		return nil, nil, err
	}
	roster, err := l.Roster(ctx)
	if err != nil {
		det.Close()
		return nil, nil, err
	}

	rec := recognition.NewRecognizer(det, nil, roster, recognition.Config{
		Threshold: cfg.Recognition.Threshold,
		Params:    detectionParams(),
	})

	reload := func() error {
		refreshRoster(context.Background(), l, rec.SetRoster)
		return rec.Reload(func() (vision.Classifier, error) {
			return recognition.LoadModel(modelPath, newClassifier)
		})
	}
	return rec, reload, reload()
}

type rosterSource interface {
	Roster(ctx context.Context) (map[int64]string, error)
}

// refreshRoster hands the current roster to set. When it cannot be read
// the previous roster stays in place and the failure is logged.
func refreshRoster(ctx context.Context, src rosterSource, set func(map[int64]string)) bool {
	roster, err := src.Roster(ctx)
	if err != nil {
		logging.Component("vision").WithError(err).Warn("Roster refresh failed, keeping the previous roster")
		return false
	}
	set(roster)
	return true
}

// replayInterval paces image directories, which would otherwise be read as
// fast as they decode. Cameras block on their own frame rate.
const replayInterval = 100 * time.Millisecond

func frameInterval(device *camera.Device) time.Duration {
	if cfg.Camera.FrameInterval == 0 && camera.IsDir(device.Path()) {
		return replayInterval
	}
	return cfg.Camera.FrameInterval
}
