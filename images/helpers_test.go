package images

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/denismitr/pado/urlpath"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// fake slides are text files: "FAKESLIDE <width> <height> <levels> <mpp>"
type fakeBackend struct{}

func (fakeBackend) Name() string    { return "fake" }
func (fakeBackend) Version() string { return "0.0.1" }

func (fakeBackend) Open(fs afero.Fs, path string) (Slide, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}

	if !bytes.HasPrefix(data, []byte("FAKESLIDE ")) {
		return nil, ErrUnsupportedFormat
	}

	s := &fakeSlide{}
	if _, err := fmt.Sscanf(string(data), "FAKESLIDE %d %d %d %g", &s.w, &s.h, &s.levels, &s.mpp); err != nil {
		return nil, errors.Wrap(err, "broken fake slide")
	}
	return s, nil
}

type fakeSlide struct {
	w, h, levels int
	mpp          float64
}

func (s *fakeSlide) Properties() map[string]string {
	props := map[string]string{
		PropertyVendor: "fake",
		"fake.serial":  "42",
	}
	if s.mpp > 0 {
		props[PropertyMPPX] = fmt.Sprint(s.mpp)
		props[PropertyMPPY] = fmt.Sprint(s.mpp)
	}
	return props
}

func (s *fakeSlide) LevelCount() int { return s.levels }

func (s *fakeSlide) LevelDimensions(level int) (int, int) {
	return s.w >> level, s.h >> level
}

func (s *fakeSlide) LevelDownsample(level int) float64 {
	return float64(int(1) << level)
}

// ReadRegion encodes the level 0 location into the first pixel.
func (s *fakeSlide) ReadRegion(x, y, level, w, h int) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: uint8(x / 16), G: uint8(y / 16), B: uint8(level), A: 255})
	return img, nil
}

func (s *fakeSlide) Close() error { return nil }

func init() {
	RegisterBackend(fakeBackend{})
}

func memoryFs(t *testing.T) afero.Fs {
	t.Helper()
	return urlpath.ResetMemory()
}

func writeFakeSlide(t *testing.T, fs afero.Fs, path string, w, h, levels int, mpp float64) string {
	t.Helper()
	content := fmt.Sprintf("FAKESLIDE %d %d %d %g", w, h, levels, mpp)
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0644))
	return "memory://" + path
}

func writePNG(t *testing.T, fs afero.Fs, path string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0644))
	return "memory://" + path
}

func loadedImage(t *testing.T, u string) *Image {
	t.Helper()
	img := NewImage(u, nil)
	require.NoError(t, img.Load(context.Background(), LoadOptions{Metadata: true, FileInfo: true}))
	return img
}
