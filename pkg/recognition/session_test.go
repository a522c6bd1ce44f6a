package recognition

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/MrCodeEU/rollcall/internal/facetest"
	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/ledger"
	"github.com/MrCodeEU/rollcall/pkg/ledger/memory"
)

type recordingSink struct {
	mu     sync.Mutex
	frames int
	last   image.Image
}

func (s *recordingSink) Publish(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.last = img
	return nil
}

type failingMarker struct{ calls int }

func (m *failingMarker) MarkPresent(context.Context, int64, time.Time) (ledger.Outcome, error) {
	m.calls++
	return 0, errors.New("database down")
}

// newLedger returns a memory ledger holding Ana as id 7 and Bruno as id 3.
func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l := ledger.New(memory.New())
	ctx := context.Background()
	for _, id := range []ledger.Identity{{ID: 7, Name: "Ana"}, {ID: 3, Name: "Bruno"}} {
		id := id
		if err := l.CreateIdentity(ctx, &id); err != nil {
			t.Fatal(err)
		}
	}
	return l
}

// streamOf returns a source of n frames 100ms apart showing crop, followed
// by end of stream.
func streamOf(crop *image.Gray, n int) *MockSource {
	frame, _ := facetest.Frame(320, 240, crop, 60, 40)
	return &MockSource{ReadFunc: func(i int) (camera.Frame, error) {
		if i > n {
			return camera.Frame{}, camera.ErrEndOfStream
		}
		return camera.Frame{
			Image:     frame,
			Seq:       uint64(i),
			Timestamp: t0.Add(time.Duration(i) * 100 * time.Millisecond),
		}, nil
	}}
}

func newSession(t *testing.T, src camera.Source, marker Marker) (*Session, *recordingSink) {
	t.Helper()
	_, box := facetest.Frame(320, 240, facetest.Stripes(100, 10, 0), 60, 40)
	boxes := []image.Rectangle{box}
	r := NewRecognizer(frameDetector(&boxes), trainedClassifier(t), roster, Config{Threshold: 60})
	sink := &recordingSink{}
	return &Session{
		Device:     camera.NewDevice("/dev/video0", func(string) (camera.Source, error) { return src, nil }),
		Recognizer: r,
		Ledger:     marker,
		Sink:       sink,
		Cooldown:   2 * time.Second,
	}, sink
}

func TestSessionMarksRecognizedStudent(t *testing.T) {
	l := newLedger(t)
	// 30 frames span 3s: one event at 0.1s and one after the window
	s, sink := newSession(t, streamOf(facetest.Stripes(100, 10, 0), 30), l)

	var events []Event
	s.OnEvent = func(ev Event, _ ledger.Outcome, _ error) { events = append(events, ev) }

	stats, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Frames != 30 || stats.Faces != 30 {
		t.Errorf("stats = %+v, want 30 frames with one face each", stats)
	}
	if stats.Events != 2 || stats.Marked != 1 {
		t.Errorf("stats = %+v, want 2 events and 1 newly present", stats)
	}
	if len(events) != 2 || events[0].IdentityID != 7 || events[0].Confidence > 60 {
		t.Errorf("events = %+v", events)
	}
	if sink.frames != 30 {
		t.Errorf("sink got %d frames, want 30", sink.frames)
	}

	rows, err := l.Day(context.Background(), t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].IdentityID != 7 || rows[0].Status != ledger.StatusPresent {
		t.Errorf("Day() = %+v, want Ana present", rows)
	}
}

func TestSessionUnknownFaceWritesNothing(t *testing.T) {
	l := newLedger(t)
	s, _ := newSession(t, streamOf(facetest.Noise(100, 9), 5), l)

	stats, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Events != 0 {
		t.Errorf("Events = %d, want 0", stats.Events)
	}
	rows, _ := l.Day(context.Background(), t0)
	if len(rows) != 0 {
		t.Errorf("Day() = %+v, want no records", rows)
	}
}

func TestSessionLedgerFailureIsNotFatal(t *testing.T) {
	m := &failingMarker{}
	s, _ := newSession(t, streamOf(facetest.Stripes(100, 10, 0), 3), m)

	stats, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if stats.WriteErrors != 1 || m.calls != 1 || stats.Frames != 3 {
		t.Errorf("stats = %+v, calls = %d", stats, m.calls)
	}
}

func TestSessionCameraErrors(t *testing.T) {
	t.Run("Unavailable", func(t *testing.T) {
		s, _ := newSession(t, nil, newLedger(t))
		s.Device = camera.NewDevice("/dev/video9", func(string) (camera.Source, error) {
			return nil, errors.New("no such device")
		})
		_, err := s.Run(context.Background())
		if !errors.Is(err, camera.ErrDeviceUnavailable) || !IsFatal(err) {
			t.Errorf("Run() error = %v, want fatal ErrDeviceUnavailable", err)
		}
	})

	t.Run("ReadFailures", func(t *testing.T) {
		src := &MockSource{ReadFunc: func(int) (camera.Frame, error) { return camera.Frame{}, camera.ErrNoFrame }}
		s, _ := newSession(t, src, newLedger(t))
		stats, err := s.Run(context.Background())
		if KindOf(err) != KindCamera || !errors.Is(err, camera.ErrNoFrame) {
			t.Errorf("Run() error = %v, want camera error", err)
		}
		if stats.ReadErrors != maxReadFailures {
			t.Errorf("ReadErrors = %d, want %d", stats.ReadErrors, maxReadFailures)
		}
	})
}

func TestSessionStopsOnCancel(t *testing.T) {
	s, _ := newSession(t, &MockSource{}, newLedger(t))
	s.FrameInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	var err error
	go func() {
		_, err = s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
	if err != nil {
		t.Errorf("Run() error = %v, want nil on cancel", err)
	}
	if holder := s.Device.Holder(); holder != "" {
		t.Errorf("device still held by %q", holder)
	}
}
