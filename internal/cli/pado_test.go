package cli

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/denismitr/pado"
	"github.com/denismitr/pado/images"
	"github.com/denismitr/pado/internal/buildinfo"
	"github.com/denismitr/pado/settings"
	"github.com/denismitr/pado/urlpath"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type padoHarness struct {
	env        *Env
	out        *bytes.Buffer
	errOut     *bytes.Buffer
	memory     afero.Fs
	settingsFs afero.Fs
}

func newPadoHarness(t *testing.T) *padoHarness {
	t.Helper()
	h := &padoHarness{
		out:        &bytes.Buffer{},
		errOut:     &bytes.Buffer{},
		memory:     urlpath.ResetMemory(),
		settingsFs: afero.NewMemMapFs(),
	}
	require.NoError(t, afero.WriteFile(h.settingsFs, "/home/"+settings.SettingsFile, []byte("default_mpp = 0.5\ncreate_workers = 2\n"), 0644))

	h.env = &Env{
		Stdout: h.out,
		Stderr: h.errOut,
		Settings: func() (*settings.Settings, error) {
			return settings.Load(settings.WithFs(h.settingsFs), settings.WithHome("/home"))
		},
	}
	return h
}

func (h *padoHarness) run(args ...string) error {
	h.out.Reset()
	h.errOut.Reset()
	return Execute(context.Background(), NewPadoCommand(h.env), args)
}

func writePNG(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0644))
}

// seedDataset creates memory:///ds holding the slides a.png and b.png.
func (h *padoHarness) seedDataset(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	writePNG(t, h.memory, "/slides/a.png")
	writePNG(t, h.memory, "/slides/b.png")

	p, err := images.CreateImageProvider(ctx, "memory:///slides", "*.png", "", images.CreateOptions{
		Identifier: "imgs",
		IDFunc:     images.IDFromParts,
		DefaultMPP: 0.5,
	})
	require.NoError(t, err)

	ds, err := pado.Open(ctx, "memory:///ds", pado.ModeExclusive, &pado.Options{Identifier: "cli-ds"})
	require.NoError(t, err)
	require.NoError(t, ds.IngestImages(ctx, p))
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	return exitErr.Code
}

func TestPado_Root(t *testing.T) {
	h := newPadoHarness(t)

	t.Run("version", func(t *testing.T) {
		require.NoError(t, h.run("--version"))
		assert.Equal(t, buildinfo.Version+"\n", h.out.String())
	})

	t.Run("help", func(t *testing.T) {
		require.NoError(t, h.run())
		assert.Contains(t, h.out.String(), "registry")
	})

	t.Run("invalid log level", func(t *testing.T) {
		err := h.run("--log-level", "loud", "info", "memory:///ds")
		assert.Equal(t, 2, exitCode(t, err))
	})

	t.Run("invalid log format", func(t *testing.T) {
		err := h.run("--log-format", "xml", "info", "memory:///ds")
		assert.Equal(t, 2, exitCode(t, err))
	})

	t.Run("unknown flag", func(t *testing.T) {
		assert.Equal(t, 2, exitCode(t, h.run("--nope")))
	})
}

func TestPado_Inspect(t *testing.T) {
	h := newPadoHarness(t)
	h.seedDataset(t)

	t.Run("info", func(t *testing.T) {
		require.NoError(t, h.run("info", "memory:///ds"))
		assert.Contains(t, h.out.String(), "cli-ds")
		assert.Contains(t, h.out.String(), "images                2")
	})

	t.Run("info on missing dataset", func(t *testing.T) {
		err := h.run("info", "memory:///missing")
		assert.Equal(t, 1, exitCode(t, err))
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("info needs a dataset", func(t *testing.T) {
		assert.Equal(t, 2, exitCode(t, h.run("info")))
	})

	t.Run("invalid storage options", func(t *testing.T) {
		err := h.run("info", "memory:///ds", "--storage-options", "[1]")
		assert.Equal(t, 2, exitCode(t, err))
	})

	t.Run("stores", func(t *testing.T) {
		require.NoError(t, h.run("stores", "memory:///ds"))
		lines := strings.Split(strings.TrimSpace(h.out.String()), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[1], "imgs.image.parquet")
		assert.Contains(t, lines[1], "image")
	})

	t.Run("list ids", func(t *testing.T) {
		require.NoError(t, h.run("ops", "list-ids", "memory:///ds"))
		assert.Equal(t, "ImageId('a.png', site='imgs')\nImageId('b.png', site='imgs')\n", h.out.String())

		require.NoError(t, h.run("ops", "list-ids", "memory:///ds", "--limit", "1"))
		assert.Equal(t, "ImageId('a.png', site='imgs')\n", h.out.String())

		require.NoError(t, h.run("ops", "list-ids", "memory:///ds", "--site", "other"))
		assert.Empty(t, h.out.String())
	})
}

func TestPado_Registry(t *testing.T) {
	h := newPadoHarness(t)
	h.seedDataset(t)

	require.NoError(t, h.run("registry", "add", "mine", "memory:///ds"))
	assert.Equal(t, "registered mine\n", h.out.String())

	err := h.run("registry", "add", "broken", "memory:///missing")
	assert.Equal(t, 1, exitCode(t, err))

	require.NoError(t, h.run("registry", "list"))
	assert.Contains(t, h.out.String(), "mine")
	assert.Contains(t, h.out.String(), "memory:///ds")
	assert.NotContains(t, h.out.String(), "broken")

	require.NoError(t, h.run("info", "--name", "mine"))
	assert.Contains(t, h.out.String(), "cli-ds")

	assert.Equal(t, 2, exitCode(t, h.run("info", "memory:///ds", "--name", "mine")))

	require.NoError(t, h.run("registry", "remove", "mine"))
	err = h.run("registry", "remove", "mine")
	assert.Equal(t, 1, exitCode(t, err))
	assert.Contains(t, err.Error(), "not registered")

	require.NoError(t, h.run("registry", "list"))
	assert.Empty(t, h.out.String())
}

func TestPado_Create(t *testing.T) {
	h := newPadoHarness(t)

	writePNG(t, h.memory, "/slides/x/a.png")
	writePNG(t, h.memory, "/slides/y/b.png")

	t.Run("images", func(t *testing.T) {
		require.NoError(t, h.run("create", "images", "memory:///slides", "**/*.png", "memory:///out/imgs.image.parquet", "--identifier", "imgs"))
		assert.Equal(t, "created imgs with 2 images at memory:///out/imgs.image.parquet\n", h.out.String())

		p, err := images.ReadImageProvider("memory:///out/imgs.image.parquet", nil)
		require.NoError(t, err)
		assert.Equal(t, 2, p.Len())
	})

	t.Run("annotations", func(t *testing.T) {
		geojson := `{"type": "FeatureCollection", "features": [
			{"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 2]}, "properties": {"classification": "tumor"}}
		]}`
		require.NoError(t, afero.WriteFile(h.memory, "/anns/a.png.geojson", []byte(geojson), 0644))

		require.NoError(t, h.run("create", "annotations", "memory:///anns", "*.geojson", "memory:///out/anns.annotation.parquet",
			"--identifier", "anns", "--images", "memory:///out/imgs.image.parquet"))
		assert.Equal(t, "created anns with annotations for 1 images at memory:///out/anns.annotation.parquet\n", h.out.String())
	})

	t.Run("update urlpaths", func(t *testing.T) {
		for _, name := range []string{"x/a.png", "y/b.png"} {
			b, err := afero.ReadFile(h.memory, "/slides/"+name)
			require.NoError(t, err)
			require.NoError(t, afero.WriteFile(h.memory, "/moved/"+name, b, 0644))
		}

		require.NoError(t, h.run("ops", "update-urlpaths", "memory:///out/imgs.image.parquet", "memory:///moved", "**/*.png"))
		assert.Equal(t, "2 urlpaths would change, use --inplace to write them\n", h.out.String())

		require.NoError(t, h.run("ops", "update-urlpaths", "memory:///out/imgs.image.parquet", "memory:///moved", "**/*.png", "--inplace"))
		assert.Equal(t, "updated 2 urlpaths in memory:///out/imgs.image.parquet\n", h.out.String())

		p, err := images.ReadImageProvider("memory:///out/imgs.image.parquet", nil)
		require.NoError(t, err)
		for _, id := range p.IDs() {
			img, err := p.Get(id)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(img.URLPath(), "memory:///moved/"), img.URLPath())
		}
	})

	t.Run("wrong arguments", func(t *testing.T) {
		assert.Equal(t, 2, exitCode(t, h.run("create", "images", "memory:///slides")))
	})
}

func TestPado_CreateIntoDataset(t *testing.T) {
	h := newPadoHarness(t)
	ctx := context.Background()

	writePNG(t, h.memory, "/slides/x/s1.svs.png")
	geojson := `{"type": "FeatureCollection", "features": [
		{"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 2]}, "properties": {"classification": "tumor"}}
	]}`
	require.NoError(t, afero.WriteFile(h.memory, "/anns/s1.svs.png.geojson", []byte(geojson), 0644))

	_, err := pado.Open(ctx, "memory:///ds", pado.ModeExclusive, &pado.Options{Identifier: "created"})
	require.NoError(t, err)

	require.NoError(t, h.run("create", "images", "memory:///slides", "**/*.png", "memory:///ds/imgs.image.parquet", "--identifier", "imgs"))

	for _, args := range [][]string{
		{"create", "annotations", "memory:///anns", "*.geojson", "memory:///ds/matched.annotation.parquet",
			"--identifier", "matched", "--images", "memory:///ds/imgs.image.parquet"},
		{"create", "annotations", "memory:///anns", "*.geojson", "memory:///ds/plain.annotation.parquet",
			"--identifier", "plain"},
	} {
		require.NoError(t, h.run(args...))
	}

	ds, err := pado.Open(ctx, "memory:///ds", pado.ModeRead, nil)
	require.NoError(t, err)
	ids, err := ds.Index(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "imgs", ids[0].Site())

	item, err := ds.Get(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, item.Annotations)
	assert.Equal(t, 1, item.Annotations.Len())

	anns, err := ds.Annotations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, len(anns.Providers()))
}

func TestPado_CountTiles(t *testing.T) {
	h := newPadoHarness(t)
	ctx := context.Background()

	writePNG(t, h.memory, "/slides/x/a.png")
	writePNG(t, h.memory, "/slides/x/b.png")

	_, err := pado.Open(ctx, "memory:///ds", pado.ModeExclusive, &pado.Options{Identifier: "tiles"})
	require.NoError(t, err)
	require.NoError(t, h.run("create", "images", "memory:///slides", "**/*.png", "memory:///ds/imgs.image.parquet"))

	require.NoError(t, h.run("ops", "count-tiles", "memory:///ds", "--tile-size", "4"))
	lines := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[0], "\t8"), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "\t8"), lines[1])
	assert.Equal(t, "total\t16", lines[2])

	require.NoError(t, h.run("ops", "count-tiles", "memory:///ds", "--tile-size", "5", "--min-chunk-size", "0.5"))
	assert.Contains(t, h.out.String(), "total\t12\n")

	err = h.run("ops", "count-tiles", "memory:///ds", "--tile-size", "0")
	assert.Equal(t, 1, exitCode(t, err))
}

func TestPado_CreateImagesDefaults(t *testing.T) {
	h := newPadoHarness(t)

	writePNG(t, h.memory, "/slides/x/a.png")
	require.NoError(t, afero.WriteFile(h.memory, "/slides/x/broken.png", []byte("not a png"), 0644))

	require.NoError(t, h.run("create", "images", "memory:///slides", "**/*.png", "memory:///out/imgs.image.parquet", "--identifier", "imgs"))
	assert.Equal(t, "created imgs with 1 images at memory:///out/imgs.image.parquet\n", h.out.String())

	p, err := images.ReadImageProvider("memory:///out/imgs.image.parquet", nil)
	require.NoError(t, err)
	require.Equal(t, 1, p.Len())
	rec, err := p.Record(p.IDs()[0])
	require.NoError(t, err)
	assert.NotEmpty(t, rec.MD5Computed)

	err = h.run("create", "images", "memory:///slides", "**/*.png", "memory:///strict/imgs.image.parquet",
		"--ignore-broken=false", "--checksum=false")
	assert.Equal(t, 1, exitCode(t, err))
}
