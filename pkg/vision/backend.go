package vision

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/logging"
)

// Backend names a vision library binding.
type Backend string

const (
	// BackendAuto selects the best available backend for a capability.
	BackendAuto Backend = "auto"

	// BackendOpenCV binds OpenCV through gocv: Haar cascade detection,
	// contrib LBPH recognition and V4L2 capture.
	BackendOpenCV Backend = "opencv"

	// BackendDlib binds dlib through go-face. Detection only.
	// WARNING: its HOG detector ignores Params.ScaleFactor and MinNeighbors.
	BackendDlib Backend = "dlib"

	// BackendNative is the pure-Go LBPH classifier. Classification only.
	BackendNative Backend = "native"
)

// Capability is something a backend can provide.
type Capability string

const (
	CapDetect   Capability = "detect"
	CapClassify Capability = "classify"
	CapCapture  Capability = "capture"
)

// ErrBackendNotAvailable is returned when a requested backend is not
// registered or cannot provide the capability.
var ErrBackendNotAvailable = errors.New("vision backend not available")

// DetectorOptions carries the files a detector needs.
type DetectorOptions struct {
	CascadePath string // Haar cascade XML (opencv)
	ModelDir    string // dlib model directory (dlib)
}

// Registration describes one backend and its factories. A nil factory means
// the capability is not provided.
type Registration struct {
	Backend       Backend
	Name          string
	Tested        bool
	Warning       string
	ModelFile     string // classifier file name inside the model directory
	NewDetector   func(DetectorOptions) (Detector, error)
	NewClassifier func() (Classifier, error)
	OpenSource    func(device string, width, height int) (camera.Source, error)
}

// BackendInfo contains information about a registered backend.
type BackendInfo struct {
	Backend      Backend
	Name         string
	Tested       bool
	Warning      string
	ModelFile    string
	Capabilities []Capability
}

// Provides reports whether the backend offers c.
func (b BackendInfo) Provides(c Capability) bool {
	for _, have := range b.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// priorities orders auto selection per capability.
var priorities = map[Capability][]Backend{
	CapDetect:   {BackendOpenCV, BackendDlib},
	CapClassify: {BackendOpenCV, BackendNative},
	CapCapture:  {BackendOpenCV},
}

// Manager keeps the registered backends.
type Manager struct {
	mu       sync.RWMutex
	backends map[Backend]*Registration
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{backends: make(map[Backend]*Registration)}
}

var defaultManager = NewManager()

// Default returns the process-wide manager backends register with.
func Default() *Manager {
	return defaultManager
}

// Register adds a backend to the default manager.
func Register(r Registration) {
	defaultManager.Register(r)
}

// Register adds or replaces a backend.
func (m *Manager) Register(r Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg := r
	m.backends[r.Backend] = &reg
}

func (r *Registration) info() BackendInfo {
	info := BackendInfo{
		Backend:   r.Backend,
		Name:      r.Name,
		Tested:    r.Tested,
		Warning:   r.Warning,
		ModelFile: r.ModelFile,
	}
	if r.NewDetector != nil {
		info.Capabilities = append(info.Capabilities, CapDetect)
	}
	if r.NewClassifier != nil {
		info.Capabilities = append(info.Capabilities, CapClassify)
	}
	if r.OpenSource != nil {
		info.Capabilities = append(info.Capabilities, CapCapture)
	}
	return info
}

// Backends lists registered backends sorted by name.
func (m *Manager) Backends() []BackendInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]BackendInfo, 0, len(m.backends))
	for _, r := range m.backends {
		out = append(out, r.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

// Info returns a single backend's information.
func (m *Manager) Info(b Backend) (BackendInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.backends[b]
	if !ok {
		return BackendInfo{}, false
	}
	return r.info(), true
}

// Select resolves preferred (possibly auto) to a backend providing c.
func (m *Manager) Select(preferred Backend, c Capability) (Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if preferred != "" && preferred != BackendAuto {
		r, ok := m.backends[preferred]
		if ok && r.info().Provides(c) {
			return preferred, nil
		}
		return "", fmt.Errorf("%w: %s cannot %s", ErrBackendNotAvailable, preferred, c)
	}

	for _, b := range priorities[c] {
		if r, ok := m.backends[b]; ok && r.info().Provides(c) {
			return b, nil
		}
	}
	return "", fmt.Errorf("%w: nothing registered can %s", ErrBackendNotAvailable, c)
}

func (m *Manager) registration(preferred Backend, c Capability) (*Registration, error) {
	b, err := m.Select(preferred, c)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.backends[b]
	if r.Warning != "" {
		logging.Component("vision").Warnf("Backend warning: %s", r.Warning)
	}
	return r, nil
}

// Detector builds a detector from the selected backend.
func (m *Manager) Detector(preferred Backend, opts DetectorOptions) (Detector, Backend, error) {
	r, err := m.registration(preferred, CapDetect)
	if err != nil {
		return nil, "", err
	}
	d, err := r.NewDetector(opts)
	if err != nil {
		return nil, r.Backend, fmt.Errorf("%s detector: %w", r.Backend, err)
	}
	return d, r.Backend, nil
}

// Classifier builds an untrained classifier from the selected backend and
// returns the file name its models are stored under.
func (m *Manager) Classifier(preferred Backend) (Classifier, Backend, string, error) {
	r, err := m.registration(preferred, CapClassify)
	if err != nil {
		return nil, "", "", err
	}
	c, err := r.NewClassifier()
	if err != nil {
		return nil, r.Backend, "", fmt.Errorf("%s classifier: %w", r.Backend, err)
	}
	return c, r.Backend, r.ModelFile, nil
}

// SourceOpener returns a camera.Opener backed by the selected capture backend.
func (m *Manager) SourceOpener(preferred Backend, width, height int) (camera.Opener, error) {
	r, err := m.registration(preferred, CapCapture)
	if err != nil {
		return nil, err
	}
	open := r.OpenSource
	return func(device string) (camera.Source, error) {
		return open(device, width, height)
	}, nil
}
