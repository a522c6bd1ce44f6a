package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
)

type fakeSource struct {
	frames int
	closed *atomic.Int32
}

func (s *fakeSource) Read() (Frame, error) {
	s.frames++
	return Frame{Image: image.NewGray(image.Rect(0, 0, 4, 4)), Seq: uint64(s.frames), Timestamp: time.Now()}, nil
}

func (s *fakeSource) Close() error {
	s.closed.Add(1)
	return nil
}

func fakeOpener(closed *atomic.Int32) Opener {
	return func(string) (Source, error) {
		return &fakeSource{closed: closed}, nil
	}
}

func TestDevice_AcquireRelease(t *testing.T) {
	var closed atomic.Int32
	dev := NewDevice("/dev/video0", fakeOpener(&closed))

	lease, err := dev.Acquire(context.Background(), "enrollment")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if dev.Holder() != "enrollment" {
		t.Errorf("Holder() = %q, want enrollment", dev.Holder())
	}

	frame, err := lease.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if frame.Seq != 1 {
		t.Errorf("first frame seq = %d, want 1", frame.Seq)
	}

	if err := lease.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := lease.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	if closed.Load() != 1 {
		t.Errorf("source closed %d times, want 1", closed.Load())
	}
	if dev.Holder() != "" {
		t.Errorf("Holder() after release = %q", dev.Holder())
	}
	if _, err := lease.Read(); !errors.Is(err, ErrLeaseReleased) {
		t.Errorf("Read() after release error = %v, want ErrLeaseReleased", err)
	}
}

func TestDevice_TryAcquireBusy(t *testing.T) {
	var closed atomic.Int32
	dev := NewDevice("/dev/video0", fakeOpener(&closed))

	lease, err := dev.TryAcquire("recognition")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	defer lease.Release()

	_, err = dev.TryAcquire("enrollment")
	if !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("second TryAcquire() error = %v, want ErrDeviceBusy", err)
	}
}

func TestDevice_AcquireWaitsForRelease(t *testing.T) {
	var closed atomic.Int32
	dev := NewDevice("/dev/video0", fakeOpener(&closed))

	first, err := dev.Acquire(context.Background(), "recognition")
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan *Lease)
	go func() {
		l, err := dev.Acquire(context.Background(), "enrollment")
		if err != nil {
			t.Errorf("waiting Acquire() error = %v", err)
		}
		got <- l
	}()

	select {
	case <-got:
		t.Fatal("second lease granted while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()

	select {
	case l := <-got:
		if l == nil {
			t.Fatal("nil lease")
		}
		l.Release()
	case <-time.After(time.Second):
		t.Fatal("second lease not granted after release")
	}
}

func TestDevice_AcquireCancelled(t *testing.T) {
	var closed atomic.Int32
	dev := NewDevice("/dev/video0", fakeOpener(&closed))

	lease, err := dev.Acquire(context.Background(), "recognition")
	if err != nil {
		t.Fatal(err)
	}
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := dev.Acquire(ctx, "enrollment"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want deadline exceeded", err)
	}
}

func TestDevice_OpenFailure(t *testing.T) {
	dev := NewDevice("/dev/video9", func(string) (Source, error) {
		return nil, errors.New("no such device")
	})

	_, err := dev.Acquire(context.Background(), "enrollment")
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Acquire() error = %v, want ErrDeviceUnavailable", err)
	}

	// a failed open must not leak the slot
	var closed atomic.Int32
	dev.open = fakeOpener(&closed)
	lease, err := dev.TryAcquire("enrollment")
	if err != nil {
		t.Fatalf("TryAcquire() after failed open error = %v", err)
	}
	lease.Release()
}

func writeFrames(t *testing.T, dir string, names ...string) {
	t.Helper()
	for i, name := range names {
		img := image.NewGray(image.Rect(0, 0, 8, 8))
		img.SetGray(0, 0, color.Gray{Y: uint8(10 * (i + 1))})
		if err := imaging.Save(img, filepath.Join(dir, name)); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "b.png", "a.png")

	src, err := OpenDir(dir, false)
	if err != nil {
		t.Fatalf("OpenDir() error = %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", src.Len())
	}

	first, err := src.Read()
	if err != nil {
		t.Fatal(err)
	}
	// a.png sorts first and carries the darker marker pixel
	r, _, _, _ := first.Image.At(0, 0).RGBA()
	if r>>8 != 20 {
		t.Errorf("first frame marker = %d, want 20 (a.png)", r>>8)
	}
	if _, err := src.Read(); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Read(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("third Read() error = %v, want ErrEndOfStream", err)
	}
}

func TestDirSource_Loop(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "only.png")

	src, err := OpenDir(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		f, err := src.Read()
		if err != nil {
			t.Fatalf("Read() #%d error = %v", i, err)
		}
		if f.Seq != uint64(i+1) {
			t.Errorf("seq = %d, want %d", f.Seq, i+1)
		}
	}
}

func TestOpenDir_Empty(t *testing.T) {
	if _, err := OpenDir(t.TempDir(), false); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("OpenDir(empty) error = %v, want ErrDeviceUnavailable", err)
	}
	if IsDir("/definitely/not/here") {
		t.Error("IsDir reported a missing path as directory")
	}
}
