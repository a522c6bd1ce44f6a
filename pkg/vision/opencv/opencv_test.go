package opencv

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrCodeEU/rollcall/pkg/vision"
)

func TestResolveCascade(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "faces.xml")
	if err := os.WriteFile(path, []byte("<opencv_storage/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveCascade(path)
	if err != nil {
		t.Fatalf("ResolveCascade() error = %v", err)
	}
	if got != path {
		t.Errorf("ResolveCascade() = %q, want %q", got, path)
	}

	if _, err := ResolveCascade(filepath.Join(dir, "no-such-cascade-file.xml")); err == nil {
		t.Error("expected error for missing cascade")
	}
}

func TestLBPH_LoadRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yml")
	if err := os.WriteFile(path, []byte("not a model"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := NewLBPH().Load(path)
	if !errors.Is(err, vision.ErrModelFormat) {
		t.Errorf("Load() error = %v, want ErrModelFormat", err)
	}
}

func TestCheckModelFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"empty temp file left by a failed save", "", true},
		{"short", "%YA", true},
		{"foreign", "not a model at all", true},
		{"filestorage", "%YAML:1.0\n---\nradius: 1\n", false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("model-%d.yml", i))
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			err := checkModelFile(path)
			if tt.wantErr && !errors.Is(err, vision.ErrModelFormat) {
				t.Errorf("checkModelFile() error = %v, want ErrModelFormat", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("checkModelFile() error = %v", err)
			}
		})
	}

	if err := checkModelFile(filepath.Join(dir, "missing.yml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestLBPH_Untrained(t *testing.T) {
	l := NewLBPH()
	if _, err := l.Predict(image.NewGray(image.Rect(0, 0, FaceSize, FaceSize))); !errors.Is(err, vision.ErrNotTrained) {
		t.Errorf("Predict() error = %v, want ErrNotTrained", err)
	}
	if err := l.Save(filepath.Join(t.TempDir(), ModelFile)); !errors.Is(err, vision.ErrNotTrained) {
		t.Errorf("Save() error = %v, want ErrNotTrained", err)
	}
}

func TestRegistered(t *testing.T) {
	info, ok := vision.Default().Info(vision.BackendOpenCV)
	if !ok {
		t.Fatal("opencv backend not registered")
	}
	for _, c := range []vision.Capability{vision.CapDetect, vision.CapClassify, vision.CapCapture} {
		if !info.Provides(c) {
			t.Errorf("opencv backend does not provide %s", c)
		}
	}
	if info.ModelFile != ModelFile {
		t.Errorf("ModelFile = %q, want %q", info.ModelFile, ModelFile)
	}
}
