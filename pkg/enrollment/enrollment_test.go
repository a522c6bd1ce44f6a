package enrollment

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/MrCodeEU/rollcall/internal/facetest"
	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/ledger"
	"github.com/MrCodeEU/rollcall/pkg/ledger/memory"
	"github.com/MrCodeEU/rollcall/pkg/storage"
	"github.com/MrCodeEU/rollcall/pkg/vision"
)

type fixture struct {
	enroller *Enroller
	source   *MockSource
	detector *MockDetector
	samples  *storage.SampleStore
	id       int64
	opened   int
}

// newFixture returns an enroller whose camera shows one face per frame
// except every third frame, which is empty.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}

	store := memory.New()
	ident := ledger.Identity{Name: "Ana"}
	if err := store.CreateIdentity(context.Background(), &ident); err != nil {
		t.Fatal(err)
	}
	f.id = ident.ID

	samples, err := storage.NewSampleStore(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	f.samples = samples

	face := facetest.Stripes(100, 10, 0)
	f.source = &MockSource{}
	f.detector = &MockDetector{
		DetectFunc: func(frame *image.Gray, _ vision.Params) ([]image.Rectangle, error) {
			if f.detector.calls%3 == 0 {
				return nil, nil
			}
			_, box := facetest.Frame(frame.Bounds().Dx(), frame.Bounds().Dy(), face, 40, 30)
			return []image.Rectangle{box}, nil
		},
	}
	dev := camera.NewDevice("/dev/video0", func(string) (camera.Source, error) {
		f.opened++
		return f.source, nil
	})

	f.enroller = &Enroller{
		Device:     dev,
		Detector:   f.detector,
		Samples:    samples,
		Identities: store,
		Params:     vision.DefaultParams(),
	}
	return f
}

func TestEnroll(t *testing.T) {
	f := newFixture(t)
	var progress []int
	f.enroller.Progress = func(saved, target int) {
		progress = append(progress, saved)
	}

	res, err := f.enroller.Enroll(context.Background(), f.id, 5)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if res.Saved != 5 || res.Total != 5 || res.Cancelled {
		t.Errorf("Result = %+v, want 5 saved", res)
	}
	if res.Name != "Ana" {
		t.Errorf("Name = %q, want Ana", res.Name)
	}
	// frames 3 and 6 carry no face
	if res.Frames != 7 {
		t.Errorf("Frames = %d, want 7", res.Frames)
	}
	if len(progress) != 5 || progress[4] != 5 {
		t.Errorf("progress = %v", progress)
	}
	if !f.source.closed {
		t.Error("camera was not released")
	}

	stored, err := f.samples.Load(f.id)
	if err != nil {
		t.Fatal(err)
	}
	if b := stored[0].Image.Bounds(); b.Dx() != 100 || b.Dy() != 100 {
		t.Errorf("stored crop is %v, want 100x100", b)
	}
}

func TestEnrollAddsToExistingSamples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.enroller.Enroll(ctx, f.id, 4); err != nil {
		t.Fatal(err)
	}
	f.source.closed = false
	res, err := f.enroller.Enroll(ctx, f.id, 3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Saved != 3 || res.Total != 7 {
		t.Errorf("Result = %+v, want 3 saved and 7 total", res)
	}

	stored, err := f.samples.Load(f.id)
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range stored {
		if s.Index != i {
			t.Errorf("sample %d has index %d", i, s.Index)
		}
	}
}

func TestEnrollStopsAtTargetWithSeveralFaces(t *testing.T) {
	f := newFixture(t)
	f.detector.DetectFunc = func(*image.Gray, vision.Params) ([]image.Rectangle, error) {
		return []image.Rectangle{
			image.Rect(0, 0, 80, 80),
			image.Rect(100, 0, 180, 80),
			image.Rect(200, 0, 280, 80),
		}, nil
	}

	res, err := f.enroller.Enroll(context.Background(), f.id, 4)
	if err != nil {
		t.Fatal(err)
	}
	if res.Saved != 4 || res.Frames != 2 {
		t.Errorf("Result = %+v, want 4 saved from 2 frames", res)
	}
}

func TestEnrollErrors(t *testing.T) {
	t.Run("UnknownIdentity", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.enroller.Enroll(context.Background(), 404, 5)
		if !errors.Is(err, ledger.ErrUnknownIdentity) {
			t.Errorf("Enroll() error = %v, want ErrUnknownIdentity", err)
		}
		if f.opened != 0 {
			t.Error("camera opened for an unknown identity")
		}
	})

	t.Run("InvalidTarget", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.enroller.Enroll(context.Background(), f.id, 0); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("Enroll() error = %v, want ErrInvalidTarget", err)
		}
	})

	t.Run("DeviceUnavailable", func(t *testing.T) {
		f := newFixture(t)
		f.enroller.Device = camera.NewDevice("/dev/video9", func(string) (camera.Source, error) {
			return nil, errors.New("no such device")
		})
		_, err := f.enroller.Enroll(context.Background(), f.id, 5)
		if !errors.Is(err, camera.ErrDeviceUnavailable) {
			t.Errorf("Enroll() error = %v, want ErrDeviceUnavailable", err)
		}
	})

	t.Run("DeviceBusyNoWait", func(t *testing.T) {
		f := newFixture(t)
		f.enroller.NoWait = true
		held, err := f.enroller.Device.Acquire(context.Background(), "recognition")
		if err != nil {
			t.Fatal(err)
		}
		defer held.Release()

		res, err := f.enroller.Enroll(context.Background(), f.id, 5)
		if !errors.Is(err, camera.ErrDeviceBusy) {
			t.Errorf("Enroll() error = %v, want ErrDeviceBusy", err)
		}
		if res.Saved != 0 || res.Cancelled {
			t.Errorf("Result = %+v, want nothing captured", res)
		}
		if f.opened != 1 {
			t.Errorf("device opened %d times, want only the recognition lease", f.opened)
		}
	})

	t.Run("EndOfStream", func(t *testing.T) {
		f := newFixture(t)
		f.source.ReadFunc = func(n int) (camera.Frame, error) {
			if n > 2 {
				return camera.Frame{}, camera.ErrEndOfStream
			}
			return camera.Frame{Image: image.NewGray(image.Rect(0, 0, 320, 240))}, nil
		}
		res, err := f.enroller.Enroll(context.Background(), f.id, 10)
		if !errors.Is(err, camera.ErrEndOfStream) {
			t.Errorf("Enroll() error = %v, want ErrEndOfStream", err)
		}
		if res.Saved != 2 || res.Total != 2 {
			t.Errorf("Result = %+v, want 2 saved", res)
		}
	})

	t.Run("ReadFailures", func(t *testing.T) {
		f := newFixture(t)
		f.source.ReadFunc = func(int) (camera.Frame, error) {
			return camera.Frame{}, camera.ErrNoFrame
		}
		_, err := f.enroller.Enroll(context.Background(), f.id, 5)
		if !errors.Is(err, camera.ErrNoFrame) {
			t.Errorf("Enroll() error = %v, want ErrNoFrame", err)
		}
		if f.source.reads != maxReadFailures {
			t.Errorf("reads = %d, want %d", f.source.reads, maxReadFailures)
		}
	})
}

func TestEnrollCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.enroller.Progress = func(saved, _ int) {
		if saved == 2 {
			cancel()
		}
	}

	res, err := f.enroller.Enroll(ctx, f.id, 50)
	if err != nil {
		t.Fatalf("Enroll() error = %v, want nil on cancel", err)
	}
	if !res.Cancelled || res.Saved != 2 || res.Total != 2 {
		t.Errorf("Result = %+v, want cancelled after 2", res)
	}
	if !f.source.closed {
		t.Error("camera was not released")
	}
}
