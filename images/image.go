package images

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/denismitr/pado/internal/ctxlog"
	"github.com/denismitr/pado/urlpath"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

var ErrNotOpen = errors.New("image not opened")
var ErrInvalidMetadata = errors.New("invalid image metadata")
var ErrInvalidRegion = errors.New("invalid region request")

// ImageMetadata is what pado keeps about the pixels of an image. Zero
// values of the optional fields mean unset.
type ImageMetadata struct {
	Width          int
	Height         int
	ObjectivePower string
	MPPX           float64
	MPPY           float64
	Downsamples    []float64
	Vendor         string

	Comment         string
	QuickHash1      string
	BackgroundColor string
	BoundsX         int
	BoundsY         int
	BoundsWidth     int
	BoundsHeight    int

	// ExtraJSON holds all backend properties not mapped to a field above.
	ExtraJSON string
}

func (m *ImageMetadata) validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return errors.Wrapf(ErrInvalidMetadata, "dimensions %dx%d", m.Width, m.Height)
	}
	if m.MPPX <= 0 || m.MPPY <= 0 {
		return errors.Wrapf(ErrInvalidMetadata, "mpp must be positive, got x=%g y=%g", m.MPPX, m.MPPY)
	}
	if len(m.Downsamples) == 0 {
		return errors.Wrap(ErrInvalidMetadata, "no downsamples")
	}
	return nil
}

// FileInfo describes the image file on disk.
type FileInfo struct {
	SizeBytes int64
	MD5       string
	ATime     time.Time
	MTime     time.Time
	CTime     time.Time
}

type LoadOptions struct {
	Metadata bool
	FileInfo bool
	Checksum bool
	// DefaultMPP is used when the file carries no resolution.
	DefaultMPP float64
}

// Image wraps a whole slide image addressed by a urlpath. Pixel access
// requires Open; metadata and file info are cached once loaded.
type Image struct {
	mu sync.Mutex

	urlpath string
	opts    urlpath.Options

	metadata       *ImageMetadata
	fileInfo       *FileInfo
	backend        string
	backendVersion string

	slide Slide
}

func NewImage(u string, opts urlpath.Options) *Image {
	return &Image{urlpath: u, opts: opts}
}

func (img *Image) URLPath() string {
	return img.urlpath
}

func (img *Image) String() string {
	return fmt.Sprintf("Image(%q)", img.urlpath)
}

// Open finds a backend able to read the image. Opening an open image is a no-op.
func (img *Image) Open(ctx context.Context) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.slide != nil {
		return nil
	}

	fs, p, err := urlpath.Resolve(img.urlpath, img.opts)
	if err != nil {
		return err
	}

	s, b, err := openSlide(fs, p)
	if err != nil {
		ctxlog.FromContext(ctx).Error("could not open image", "urlpath", img.urlpath, "error", err)
		return errors.Wrapf(err, "could not open %s", img.urlpath)
	}

	img.slide = s
	img.backend = b.Name()
	img.backendVersion = b.Version()
	return nil
}

func (img *Image) Close() error {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.slide == nil {
		return nil
	}

	err := img.slide.Close()
	img.slide = nil
	return err
}

func (img *Image) IsOpen() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.slide != nil
}

// Load opens the image if needed, loads what opts ask for and closes it
// again if it was not open before.
func (img *Image) Load(ctx context.Context, opts LoadOptions) error {
	wasOpen := img.IsOpen()
	if !wasOpen {
		if err := img.Open(ctx); err != nil {
			return err
		}
		defer img.Close()
	}

	img.mu.Lock()
	defer img.mu.Unlock()

	if opts.Metadata {
		md, err := img.readMetadataUnderLock(opts.DefaultMPP)
		if err != nil {
			return errors.Wrapf(err, "%s", img.urlpath)
		}
		img.metadata = md
	}

	if opts.FileInfo || opts.Checksum {
		fi, err := img.readFileInfo(opts.Checksum)
		if err != nil {
			return err
		}
		img.fileInfo = fi
	}

	return nil
}

var mappedProperties = []string{
	PropertyVendor, PropertyComment, PropertyQuickHash1, PropertyBackgroundColor,
	PropertyObjectivePower, PropertyMPPX, PropertyMPPY,
	PropertyBoundsX, PropertyBoundsY, PropertyBoundsWidth, PropertyBoundsHeight,
}

func (img *Image) readMetadataUnderLock(defaultMPP float64) (*ImageMetadata, error) {
	props := img.slide.Properties()

	md := &ImageMetadata{
		ObjectivePower:  props[PropertyObjectivePower],
		Vendor:          props[PropertyVendor],
		Comment:         props[PropertyComment],
		QuickHash1:      props[PropertyQuickHash1],
		BackgroundColor: props[PropertyBackgroundColor],
		BoundsX:         atoiOrZero(props[PropertyBoundsX]),
		BoundsY:         atoiOrZero(props[PropertyBoundsY]),
		BoundsWidth:     atoiOrZero(props[PropertyBoundsWidth]),
		BoundsHeight:    atoiOrZero(props[PropertyBoundsHeight]),
	}

	md.Width, md.Height = img.slide.LevelDimensions(0)
	for lvl := 0; lvl < img.slide.LevelCount(); lvl++ {
		md.Downsamples = append(md.Downsamples, img.slide.LevelDownsample(lvl))
	}

	md.MPPX, _ = strconv.ParseFloat(props[PropertyMPPX], 64)
	md.MPPY, _ = strconv.ParseFloat(props[PropertyMPPY], 64)
	if md.MPPX <= 0 || md.MPPY <= 0 {
		md.MPPX, md.MPPY = defaultMPP, defaultMPP
	}

	for _, k := range mappedProperties {
		delete(props, k)
	}

	// encoding/json sorts map keys
	extra, err := json.Marshal(props)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode extra properties")
	}
	md.ExtraJSON = string(extra)

	if err := md.validate(); err != nil {
		return nil, err
	}

	return md, nil
}

func (img *Image) readFileInfo(checksum bool) (*FileInfo, error) {
	fs, p, err := urlpath.Resolve(img.urlpath, img.opts)
	if err != nil {
		return nil, err
	}

	st, err := fs.Stat(p)
	if err != nil {
		return nil, errors.Wrapf(err, "could not stat %s", img.urlpath)
	}

	fi := &FileInfo{SizeBytes: st.Size(), MTime: st.ModTime()}
	fi.ATime, fi.CTime = fileTimes(st)

	if checksum {
		fi.MD5, err = urlpath.Checksum(fs, p)
		if err != nil {
			return nil, err
		}
	}

	return fi, nil
}

// Metadata returns the loaded metadata, loading it from an open image.
func (img *Image) Metadata() (*ImageMetadata, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.metadata != nil {
		return img.metadata, nil
	}

	if img.slide == nil {
		return nil, errors.Wrapf(ErrNotOpen, "%s", img)
	}

	md, err := img.readMetadataUnderLock(0)
	if err != nil {
		return nil, err
	}
	img.metadata = md
	return md, nil
}

// FileInfo returns the loaded file info, stat'ing an open image without checksum.
func (img *Image) FileInfo() (*FileInfo, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.fileInfo != nil {
		return img.fileInfo, nil
	}

	if img.slide == nil {
		return nil, errors.Wrapf(ErrNotOpen, "%s", img)
	}

	fi, err := img.readFileInfo(false)
	if err != nil {
		return nil, err
	}
	img.fileInfo = fi
	return fi, nil
}

// Equal compares checksums when both images have one, otherwise file size
// and metadata.
func (img *Image) Equal(other *Image) bool {
	if other == nil {
		return false
	}

	a, aerr := img.FileInfo()
	b, berr := other.FileInfo()
	if aerr != nil || berr != nil {
		return false
	}

	if a.MD5 != "" && b.MD5 != "" {
		return a.MD5 == b.MD5
	}

	if a.SizeBytes != b.SizeBytes {
		return false
	}

	am, aerr := img.Metadata()
	bm, berr := other.Metadata()
	if aerr != nil || berr != nil {
		return false
	}

	return metadataEqual(am, bm)
}

func metadataEqual(a, b *ImageMetadata) bool {
	return reflect.DeepEqual(a, b)
}

func (img *Image) openSlide() (Slide, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.slide == nil {
		return nil, errors.Wrapf(ErrNotOpen, "%s", img)
	}
	return img.slide, nil
}

func (img *Image) LevelCount() (int, error) {
	s, err := img.openSlide()
	if err != nil {
		return 0, err
	}
	return s.LevelCount(), nil
}

func (img *Image) MPP() (MPP, error) {
	md, err := img.Metadata()
	if err != nil {
		return MPP{}, err
	}
	return MPP{X: md.MPPX, Y: md.MPPY}, nil
}

func (img *Image) Dimensions() (IntSize, error) {
	md, err := img.Metadata()
	if err != nil {
		return IntSize{}, err
	}
	return IntSize{W: md.Width, H: md.Height, MPP: MPP{X: md.MPPX, Y: md.MPPY}}, nil
}

// LevelMPP returns the resolution of every level, indexed by level.
func (img *Image) LevelMPP() ([]MPP, error) {
	s, err := img.openSlide()
	if err != nil {
		return nil, err
	}

	mpp0, err := img.MPP()
	if err != nil {
		return nil, err
	}

	out := make([]MPP, s.LevelCount())
	for lvl := range out {
		out[lvl] = mpp0.Scale(s.LevelDownsample(lvl))
	}
	return out, nil
}

// LevelDimensions returns the size of every level, indexed by level.
func (img *Image) LevelDimensions() ([]IntSize, error) {
	s, err := img.openSlide()
	if err != nil {
		return nil, err
	}

	mpps, err := img.LevelMPP()
	if err != nil {
		return nil, err
	}

	out := make([]IntSize, len(mpps))
	for lvl := range out {
		w, h := s.LevelDimensions(lvl)
		out[lvl] = IntSize{W: w, H: h, MPP: mpps[lvl]}
	}
	return out, nil
}

// Thumbnail scales the smallest level to fit into w x h keeping the aspect ratio.
func (img *Image) Thumbnail(w, h int) (image.Image, error) {
	if w <= 0 || h <= 0 {
		return nil, errors.Wrapf(ErrInvalidRegion, "thumbnail size %dx%d", w, h)
	}

	s, err := img.openSlide()
	if err != nil {
		return nil, err
	}

	lvl := s.LevelCount() - 1
	lw, lh := s.LevelDimensions(lvl)
	src, err := s.ReadRegion(0, 0, lvl, lw, lh)
	if err != nil {
		return nil, err
	}

	scale := float64(w) / float64(lw)
	if sh := float64(h) / float64(lh); sh < scale {
		scale = sh
	}

	tw, th := maxInt(1, int(math.Round(float64(lw)*scale))), maxInt(1, int(math.Round(float64(lh)*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// Region reads region pixels of level at location. location is in level 0
// coordinates. Resolutions set on location or region must match level 0
// and level respectively.
func (img *Image) Region(location IntPoint, region IntSize, level int) (image.Image, error) {
	s, err := img.openSlide()
	if err != nil {
		return nil, err
	}

	mpps, err := img.LevelMPP()
	if err != nil {
		return nil, err
	}

	if !location.MPP.IsZero() && !location.MPP.Equal(mpps[0]) {
		return nil, errors.Wrapf(ErrInvalidRegion, "location not at level 0, got %s at %s", location, guessLevel(mpps, location.MPP))
	}

	if level < 0 || level >= len(mpps) {
		return nil, errors.Wrapf(ErrInvalidRegion, "level error: 0 <= %d < %d", level, len(mpps))
	}

	if !region.MPP.IsZero() && !region.MPP.Equal(mpps[level]) {
		return nil, errors.Wrapf(ErrInvalidRegion, "region not at level %d, got %s at %s", level, region, guessLevel(mpps, region.MPP))
	}

	if region.W <= 0 || region.H <= 0 {
		return nil, errors.Wrapf(ErrInvalidRegion, "empty region %s", region)
	}

	return s.ReadRegion(location.X, location.Y, level, region.W, region.H)
}

// Level reads a whole level.
func (img *Image) Level(level int) (image.Image, error) {
	s, err := img.openSlide()
	if err != nil {
		return nil, err
	}

	if level < 0 || level >= s.LevelCount() {
		return nil, errors.Wrapf(ErrInvalidRegion, "level %d not available", level)
	}

	w, h := s.LevelDimensions(level)
	return s.ReadRegion(0, 0, level, w, h)
}

func guessLevel(mpps []MPP, m MPP) string {
	for lvl, lm := range mpps {
		if lm.Equal(m) {
			return "level " + strconv.Itoa(lvl)
		}
	}
	return "level-not-in-image"
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
