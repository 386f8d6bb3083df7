package images

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"strconv"
	"strings"

	"github.com/denismitr/pado/internal/buildinfo"
	"github.com/denismitr/pado/internal/tiffmeta"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// levels are added while the shorter side of the next level is at least
// this many pixels
const pyramidMinSize = 256

// rasterBackend decodes tiff, png and jpeg files fully into memory and builds
// a 2x downsampled pyramid from level 0.
type rasterBackend struct{}

func (rasterBackend) Name() string    { return "raster" }
func (rasterBackend) Version() string { return buildinfo.Version }

func (b rasterBackend) Open(fs afero.Fs, path string) (Slide, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", path)
	}

	props := make(map[string]string)

	var img image.Image
	switch {
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		tags, err := tiffmeta.Read(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrapf(ErrUnsupportedFormat, "%s: %s", path, err.Error())
		}
		tiffProperties(tags, props)

		img, err = tiff.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrapf(err, "could not decode tiff %s", path)
		}
		props["raster.format"] = "tiff"
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		img, err = png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrapf(err, "could not decode png %s", path)
		}
		props["raster.format"] = "png"
	case bytes.HasPrefix(data, []byte{0xff, 0xd8, 0xff}):
		img, err = jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrapf(err, "could not decode jpeg %s", path)
		}
		props["raster.format"] = "jpeg"
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s", path)
	}

	return newRasterSlide(img, props), nil
}

func tiffProperties(tags *tiffmeta.Tags, props map[string]string) {
	if tags.Make != "" {
		props["tiff.Make"] = tags.Make
		props[PropertyVendor] = tags.Make
	}

	if tags.Description != "" {
		props["tiff.ImageDescription"] = tags.Description
	}

	if x, y, ok := tags.MPP(); ok {
		props[PropertyMPPX] = strconv.FormatFloat(x, 'g', -1, 64)
		props[PropertyMPPY] = strconv.FormatFloat(y, 'g', -1, 64)
	}

	if !strings.HasPrefix(tags.Description, "Aperio") {
		if tags.Description != "" {
			props[PropertyComment] = tags.Description
		}
		return
	}

	props[PropertyVendor] = "aperio"
	sections := strings.Split(tags.Description, "|")
	props[PropertyComment] = strings.TrimSpace(sections[0])
	for _, kv := range sections[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		props["aperio."+k] = v

		switch k {
		case "AppMag":
			props[PropertyObjectivePower] = v
		case "MPP":
			props[PropertyMPPX] = v
			props[PropertyMPPY] = v
		}
	}
}

type rasterSlide struct {
	levels []image.Image
	props  map[string]string
}

func newRasterSlide(img image.Image, props map[string]string) *rasterSlide {
	s := &rasterSlide{levels: []image.Image{img}, props: props}

	cur := img.Bounds()
	for {
		w, h := cur.Dx()/2, cur.Dy()/2
		if w < pyramidMinSize || h < pyramidMinSize {
			break
		}

		next := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(next, next.Bounds(), s.levels[len(s.levels)-1], cur, draw.Src, nil)
		s.levels = append(s.levels, next)
		cur = next.Bounds()
	}

	return s
}

func (s *rasterSlide) Properties() map[string]string {
	cp := make(map[string]string, len(s.props))
	for k, v := range s.props {
		cp[k] = v
	}
	return cp
}

func (s *rasterSlide) LevelCount() int {
	return len(s.levels)
}

func (s *rasterSlide) LevelDimensions(level int) (int, int) {
	b := s.levels[level].Bounds()
	return b.Dx(), b.Dy()
}

func (s *rasterSlide) LevelDownsample(level int) float64 {
	return float64(s.levels[0].Bounds().Dx()) / float64(s.levels[level].Bounds().Dx())
}

func (s *rasterSlide) ReadRegion(x, y, level, w, h int) (image.Image, error) {
	if level < 0 || level >= len(s.levels) {
		return nil, errors.Errorf("level %d not in [0, %d)", level, len(s.levels))
	}

	src := s.levels[level]
	ds := s.LevelDownsample(level)
	origin := src.Bounds().Min.Add(image.Pt(int(float64(x)/ds), int(float64(y)/ds)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, origin, draw.Src)
	return dst, nil
}

func (s *rasterSlide) Close() error {
	s.levels = nil
	return nil
}
