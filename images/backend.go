package images

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")
var ErrNoBackend = errors.New("no suitable image backend")

// Property keys every backend fills from its format specific metadata.
const (
	PropertyVendor          = "pado.vendor"
	PropertyComment         = "pado.comment"
	PropertyQuickHash1      = "pado.quickhash-1"
	PropertyBackgroundColor = "pado.background-color"
	PropertyObjectivePower  = "pado.objective-power"
	PropertyMPPX            = "pado.mpp-x"
	PropertyMPPY            = "pado.mpp-y"
	PropertyBoundsX         = "pado.bounds-x"
	PropertyBoundsY         = "pado.bounds-y"
	PropertyBoundsWidth     = "pado.bounds-width"
	PropertyBoundsHeight    = "pado.bounds-height"
)

// Slide is an opened multi resolution image.
type Slide interface {
	Properties() map[string]string
	LevelCount() int
	// LevelDimensions returns width and height of level.
	LevelDimensions(level int) (int, int)
	LevelDownsample(level int) float64
	// ReadRegion reads w x h pixels of level starting at x, y in level 0
	// coordinates. Pixels outside the image are transparent.
	ReadRegion(x, y, level, w, h int) (image.Image, error)
	Close() error
}

// Backend opens slides. Open returns ErrUnsupportedFormat for files it does
// not understand, so the next backend is tried.
type Backend interface {
	Name() string
	Version() string
	Open(fs afero.Fs, path string) (Slide, error)
}

var (
	backendsMu sync.RWMutex
	backends   []Backend
)

// RegisterBackend appends b to the backends tried when opening images.
// A backend with the same name is replaced in place.
func RegisterBackend(b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	for i := range backends {
		if backends[i].Name() == b.Name() {
			backends[i] = b
			return
		}
	}
	backends = append(backends, b)
}

func openSlide(fs afero.Fs, path string) (Slide, Backend, error) {
	backendsMu.RLock()
	bs := make([]Backend, len(backends))
	copy(bs, backends)
	backendsMu.RUnlock()

	for _, b := range bs {
		s, err := b.Open(fs, path)
		if errors.Is(err, ErrUnsupportedFormat) {
			continue
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "backend %s", b.Name())
		}
		return s, b, nil
	}

	return nil, nil, errors.Wrapf(ErrNoBackend, "%s", path)
}

func init() {
	RegisterBackend(rasterBackend{})
}
