// Package storage keeps the enrolled face corpus on disk: one directory per
// identity holding grayscale PNG crops, optionally sealed with NaCl
// secretbox under a machine-bound key.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/vision"
)

const (
	sampleExt    = ".png"
	encryptedExt = ".png.enc"
)

// ErrNoSamples is returned when an identity has no stored crops.
var ErrNoSamples = errors.New("no samples for identity")

// ErrStorageAccess is returned when storage cannot be accessed.
var ErrStorageAccess = errors.New("failed to access storage")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// Sample is one enrolled face crop.
type Sample struct {
	IdentityID int64
	Index      int
	Path       string
	Image      *image.Gray
}

// SampleStore stores face crops under <dir>/<identity>/user_<identity>_<n>.png.
type SampleStore struct {
	dir               string
	encryptionEnabled bool
	key               [KeySize]byte

	mu sync.Mutex
}

// NewSampleStore opens (creating if needed) the corpus rooted at dir.
func NewSampleStore(dir string, encryptionEnabled bool) (*SampleStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	s := &SampleStore{dir: dir, encryptionEnabled: encryptionEnabled}
	if encryptionEnabled {
		s.key = deriveKey()
	}
	return s, nil
}

// Dir returns the corpus root.
func (s *SampleStore) Dir() string {
	return s.dir
}

func (s *SampleStore) identityDir(id int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(id, 10))
}

func (s *SampleStore) fileName(id int64, n int) string {
	ext := sampleExt
	if s.encryptionEnabled {
		ext = encryptedExt
	}
	return fmt.Sprintf("user_%d_%d%s", id, n, ext)
}

// parseFileName extracts the identity and index from a sample file name.
func parseFileName(name string) (id int64, n int, encrypted bool, ok bool) {
	switch {
	case strings.HasSuffix(name, encryptedExt):
		name, encrypted = strings.TrimSuffix(name, encryptedExt), true
	case strings.HasSuffix(name, sampleExt):
		name = strings.TrimSuffix(name, sampleExt)
	default:
		return 0, 0, false, false
	}

	parts := strings.Split(name, "_")
	if len(parts) != 3 || parts[0] != "user" {
		return 0, 0, false, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false, false
	}
	n, err = strconv.Atoi(parts[2])
	if err != nil || n < 0 {
		return 0, 0, false, false
	}
	return id, n, encrypted, true
}

type sampleFile struct {
	path      string
	index     int
	encrypted bool
}

// list returns the sample files of one identity sorted by index.
func (s *SampleStore) list(id int64) ([]sampleFile, error) {
	entries, err := os.ReadDir(s.identityDir(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	var files []sampleFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fid, n, enc, ok := parseFileName(e.Name())
		if !ok || fid != id {
			continue
		}
		files = append(files, sampleFile{path: filepath.Join(s.identityDir(id), e.Name()), index: n, encrypted: enc})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })
	return files, nil
}

// Save stores a crop as the next sample of id.
func (s *SampleStore) Save(id int64, crop *image.Gray) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.identityDir(id), 0700); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	files, err := s.list(id)
	if err != nil {
		return Sample{}, err
	}
	next := 0
	if len(files) > 0 {
		next = files[len(files)-1].index + 1
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, crop, imaging.PNG); err != nil {
		return Sample{}, fmt.Errorf("failed to encode sample: %w", err)
	}
	data := buf.Bytes()
	if s.encryptionEnabled {
		if data, err = seal(&s.key, data); err != nil {
			return Sample{}, fmt.Errorf("failed to encrypt sample: %w", err)
		}
	}

	path := filepath.Join(s.identityDir(id), s.fileName(id, next))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return Sample{}, fmt.Errorf("failed to write sample: %w", err)
	}

	logging.Component("storage").Debugf("Saved sample %d for identity %d", next, id)
	return Sample{IdentityID: id, Index: next, Path: path, Image: crop}, nil
}

func (s *SampleStore) read(id int64, f sampleFile) (Sample, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	if f.encrypted {
		if !s.encryptionEnabled {
			return Sample{}, fmt.Errorf("%s: %w: encryption disabled", filepath.Base(f.path), ErrEncryption)
		}
		if data, err = open(&s.key, data); err != nil {
			return Sample{}, fmt.Errorf("%s: %w", filepath.Base(f.path), err)
		}
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Sample{}, fmt.Errorf("failed to decode %s: %w", filepath.Base(f.path), err)
	}
	return Sample{IdentityID: id, Index: f.index, Path: f.path, Image: vision.Gray(img)}, nil
}

// Load returns all samples of one identity.
func (s *SampleStore) Load(id int64) ([]Sample, error) {
	s.mu.Lock()
	files, err := s.list(id)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoSamples
	}

	samples := make([]Sample, 0, len(files))
	for _, f := range files {
		sample, err := s.read(id, f)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// Count returns the number of samples stored for id.
func (s *SampleStore) Count(id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, err := s.list(id)
	return len(files), err
}

// Identities returns the ids with at least one sample, ascending.
func (s *SampleStore) Identities() ([]int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []int64{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	ids := []int64{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		if n, err := s.Count(id); err == nil && n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Corpus returns every stored sample ordered by identity, then index.
// Unreadable files are logged and skipped so one corrupt crop cannot
// block training.
func (s *SampleStore) Corpus() ([]Sample, error) {
	ids, err := s.Identities()
	if err != nil {
		return nil, err
	}

	log := logging.Component("storage")
	var corpus []Sample
	for _, id := range ids {
		s.mu.Lock()
		files, err := s.list(id)
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			sample, err := s.read(id, f)
			if err != nil {
				log.WithError(err).Warnf("Skipping sample %s", filepath.Base(f.path))
				continue
			}
			corpus = append(corpus, sample)
		}
	}
	return corpus, nil
}

// Delete removes all samples of id and returns how many there were.
func (s *SampleStore) Delete(id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.list(id)
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(s.identityDir(id)); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	logging.Component("storage").Infof("Deleted %d samples for identity %d", len(files), id)
	return len(files), nil
}
