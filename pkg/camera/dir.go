package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".gif": true, ".tif": true, ".tiff": true,
}

// DirSource replays the still images of a directory in name order. It lets
// recognition run against recorded frames instead of a live camera.
type DirSource struct {
	files []string
	next  int
	seq   uint64
	loop  bool
	now   func() time.Time
}

// IsDir reports whether device names a directory rather than a camera.
func IsDir(device string) bool {
	info, err := os.Stat(device)
	return err == nil && info.IsDir()
}

// OpenDir opens a directory source. With loop set, it restarts at the first
// image instead of returning ErrEndOfStream.
func OpenDir(dir string, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrDeviceUnavailable, dir)
	}
	sort.Strings(files)

	return &DirSource{files: files, loop: loop, now: time.Now}, nil
}

// DirOpener adapts OpenDir to an Opener.
func DirOpener(loop bool) Opener {
	return func(device string) (Source, error) {
		return OpenDir(device, loop)
	}
}

// Read decodes the next image.
func (s *DirSource) Read() (Frame, error) {
	if s.next >= len(s.files) {
		if !s.loop {
			return Frame{}, ErrEndOfStream
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++

	img, err := imaging.Open(path)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %s: %v", ErrNoFrame, filepath.Base(path), err)
	}
	s.seq++
	return Frame{Image: img, Seq: s.seq, Timestamp: s.now()}, nil
}

// Len returns the number of images.
func (s *DirSource) Len() int {
	return len(s.files)
}

// Close implements Source.
func (s *DirSource) Close() error {
	return nil
}
