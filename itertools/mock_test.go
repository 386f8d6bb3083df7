package itertools

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/denismitr/pado"
	"github.com/denismitr/pado/images"
	"github.com/denismitr/pado/urlpath"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// mockDataset serves numImages 32x16 png slides at 1 micron per pixel.
type mockDataset struct {
	mu    sync.Mutex
	ids   []images.ImageID
	items map[string]*pado.Item
	fail  error
	gets  int
}

var _ Source = (*mockDataset)(nil)

func newMockDataset(t *testing.T, numImages int) *mockDataset {
	t.Helper()
	fs := urlpath.ResetMemory()

	ds := &mockDataset{items: make(map[string]*pado.Item)}
	for i := 0; i < numImages; i++ {
		name := fmt.Sprintf("i%d.png", i)
		img := images.NewImage(writePNG(t, fs, "/mock/"+name, 32, 16), nil)
		require.NoError(t, img.Load(context.Background(), images.LoadOptions{Metadata: true, DefaultMPP: 1}))

		id := images.MustImageID("mock", name)
		ds.ids = append(ds.ids, id)
		ds.items[id.String()] = &pado.Item{ID: id, Image: img}
	}

	t.Cleanup(func() {
		for _, item := range ds.items {
			item.Image.Close()
		}
	})
	return ds
}

func (m *mockDataset) Index(context.Context) ([]images.ImageID, error) {
	return append([]images.ImageID(nil), m.ids...), nil
}

func (m *mockDataset) Get(_ context.Context, id images.ImageID) (*pado.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gets++
	if m.fail != nil {
		return nil, m.fail
	}

	item, ok := m.items[id.String()]
	if !ok {
		return nil, errors.Wrapf(pado.ErrNotFound, "%s", id)
	}
	return item, nil
}

func (m *mockDataset) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func writePNG(t *testing.T, fs afero.Fs, path string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(8 * x), G: uint8(8 * y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0644))
	return "memory://" + path
}
