package images

import (
	"context"
	"image/color"
	"testing"

	"github.com/denismitr/pado/internal/tiffmeta"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImage_Load(t *testing.T) {
	fs := memoryFs(t)
	u := writeFakeSlide(t, fs, "/images/a.fake", 1000, 800, 3, 0.5)
	ctx := context.Background()

	t.Run("not opened", func(t *testing.T) {
		img := NewImage(u, nil)

		_, err := img.Metadata()
		require.ErrorIs(t, err, ErrNotOpen)

		_, err = img.LevelCount()
		require.ErrorIs(t, err, ErrNotOpen)

		_, err = img.Record()
		require.ErrorIs(t, err, ErrNotOpen)
	})

	t.Run("metadata and file info", func(t *testing.T) {
		img := NewImage(u, nil)
		require.NoError(t, img.Load(ctx, LoadOptions{Metadata: true, FileInfo: true, Checksum: true}))
		assert.False(t, img.IsOpen())

		md, err := img.Metadata()
		require.NoError(t, err)
		assert.Equal(t, 1000, md.Width)
		assert.Equal(t, 800, md.Height)
		assert.Equal(t, 0.5, md.MPPX)
		assert.Equal(t, 0.5, md.MPPY)
		assert.Equal(t, []float64{1, 2, 4}, md.Downsamples)
		assert.Equal(t, "fake", md.Vendor)
		assert.JSONEq(t, `{"fake.serial":"42"}`, md.ExtraJSON)

		fi, err := img.FileInfo()
		require.NoError(t, err)
		assert.Equal(t, int64(len("FAKESLIDE 1000 800 3 0.5")), fi.SizeBytes)
		assert.Len(t, fi.MD5, 32)
	})

	t.Run("missing resolution", func(t *testing.T) {
		nompp := writeFakeSlide(t, fs, "/images/nompp.fake", 100, 100, 1, 0)

		err := NewImage(nompp, nil).Load(ctx, LoadOptions{Metadata: true})
		require.ErrorIs(t, err, ErrInvalidMetadata)

		img := NewImage(nompp, nil)
		require.NoError(t, img.Load(ctx, LoadOptions{Metadata: true, DefaultMPP: 0.25}))
		m, err := img.MPP()
		require.NoError(t, err)
		assert.Equal(t, MPP{X: 0.25, Y: 0.25}, m)
	})

	t.Run("no backend", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "/images/readme.txt", []byte("hello"), 0644))
		err := NewImage("memory:///images/readme.txt", nil).Open(ctx)
		require.ErrorIs(t, err, ErrNoBackend)
	})
}

func TestImage_RecordRoundTrip(t *testing.T) {
	fs := memoryFs(t)
	u := writeFakeSlide(t, fs, "/images/a.fake", 1000, 800, 2, 0.5)

	img := loadedImage(t, u)
	rec, err := img.Record()
	require.NoError(t, err)
	assert.Equal(t, u, rec.URLPath)
	assert.Equal(t, "fake", rec.Backend)
	assert.Equal(t, "0.0.1", rec.BackendVersion)

	restored, err := ImageFromRecord(rec)
	require.NoError(t, err)

	again, err := restored.Record()
	require.NoError(t, err)
	assert.Equal(t, rec, again)
	assert.True(t, img.Equal(restored))

	t.Run("invalid record", func(t *testing.T) {
		bad := rec
		bad.MPPX = 0
		_, err := ImageFromRecord(bad)
		require.ErrorIs(t, err, ErrInvalidMetadata)
	})
}

func TestImage_Equal(t *testing.T) {
	fs := memoryFs(t)
	a := loadedImage(t, writeFakeSlide(t, fs, "/a.fake", 1000, 800, 2, 0.5))
	b := loadedImage(t, writeFakeSlide(t, fs, "/b.fake", 1000, 800, 2, 0.5))
	c := loadedImage(t, writeFakeSlide(t, fs, "/c.fake", 1000, 800, 2, 0.7))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))

	ra, _ := a.Record()
	rb, _ := b.Record()
	ra.MD5Computed, rb.MD5Computed = "aaa", "bbb"
	ia, err := ImageFromRecord(ra)
	require.NoError(t, err)
	ib, err := ImageFromRecord(rb)
	require.NoError(t, err)
	assert.False(t, ia.Equal(ib))
}

func TestImage_Levels(t *testing.T) {
	fs := memoryFs(t)
	img := NewImage(writeFakeSlide(t, fs, "/a.fake", 1000, 800, 3, 0.5), nil)
	require.NoError(t, img.Open(context.Background()))
	defer img.Close()

	n, err := img.LevelCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	dims, err := img.LevelDimensions()
	require.NoError(t, err)
	assert.Equal(t, []IntSize{
		{W: 1000, H: 800, MPP: MPP{X: 0.5, Y: 0.5}},
		{W: 500, H: 400, MPP: MPP{X: 1, Y: 1}},
		{W: 250, H: 200, MPP: MPP{X: 2, Y: 2}},
	}, dims)

	size, err := img.Dimensions()
	require.NoError(t, err)
	assert.Equal(t, dims[0], size)
}

func TestImage_Region(t *testing.T) {
	fs := memoryFs(t)
	img := NewImage(writeFakeSlide(t, fs, "/a.fake", 1000, 800, 2, 0.5), nil)
	require.NoError(t, img.Open(context.Background()))
	defer img.Close()

	t.Run("reads at level 0 location", func(t *testing.T) {
		data, err := img.Region(IntPoint{X: 160, Y: 32}, IntSize{W: 8, H: 4}, 1)
		require.NoError(t, err)
		assert.Equal(t, 8, data.Bounds().Dx())
		assert.Equal(t, 4, data.Bounds().Dy())
		assert.Equal(t, color.RGBA{R: 10, G: 2, B: 1, A: 255}, data.At(0, 0))
	})

	t.Run("matching resolutions", func(t *testing.T) {
		_, err := img.Region(
			IntPoint{X: 0, Y: 0, MPP: MPP{X: 0.5, Y: 0.5}},
			IntSize{W: 8, H: 8, MPP: MPP{X: 1, Y: 1}},
			1,
		)
		require.NoError(t, err)
	})

	t.Run("location not at level 0", func(t *testing.T) {
		_, err := img.Region(IntPoint{MPP: MPP{X: 1, Y: 1}}, IntSize{W: 8, H: 8}, 0)
		require.ErrorIs(t, err, ErrInvalidRegion)
		assert.Contains(t, err.Error(), "level 1")
	})

	t.Run("region not at level", func(t *testing.T) {
		_, err := img.Region(IntPoint{}, IntSize{W: 8, H: 8, MPP: MPP{X: 0.5, Y: 0.5}}, 1)
		require.ErrorIs(t, err, ErrInvalidRegion)
	})

	t.Run("level out of range", func(t *testing.T) {
		_, err := img.Region(IntPoint{}, IntSize{W: 8, H: 8}, 2)
		require.ErrorIs(t, err, ErrInvalidRegion)

		_, err = img.Level(-1)
		require.ErrorIs(t, err, ErrInvalidRegion)
	})
}

func TestRasterBackend_PNG(t *testing.T) {
	fs := memoryFs(t)
	u := writePNG(t, fs, "/images/p.png", 600, 600)

	img := NewImage(u, nil)
	require.NoError(t, img.Load(context.Background(), LoadOptions{Metadata: true, DefaultMPP: 1}))
	require.NoError(t, img.Open(context.Background()))
	defer img.Close()

	md, err := img.Metadata()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, md.Downsamples)
	assert.JSONEq(t, `{"raster.format":"png"}`, md.ExtraJSON)

	region, err := img.Region(IntPoint{X: 10, Y: 20}, IntSize{W: 2, H: 2}, 0)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 128, A: 255}, region.At(0, 0))

	lvl, err := img.Level(1)
	require.NoError(t, err)
	assert.Equal(t, 300, lvl.Bounds().Dx())

	thumb, err := img.Thumbnail(100, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, thumb.Bounds().Dx())
	assert.Equal(t, 50, thumb.Bounds().Dy())
}

func TestTiffProperties(t *testing.T) {
	t.Run("aperio description", func(t *testing.T) {
		props := map[string]string{}
		tiffProperties(&tiffmeta.Tags{
			Description: "Aperio Image Library v11.2.1 |AppMag = 20|MPP = 0.4990|Filename = CMU-1",
		}, props)

		assert.Equal(t, "aperio", props[PropertyVendor])
		assert.Equal(t, "20", props[PropertyObjectivePower])
		assert.Equal(t, "0.4990", props[PropertyMPPX])
		assert.Equal(t, "0.4990", props[PropertyMPPY])
		assert.Equal(t, "Aperio Image Library v11.2.1", props[PropertyComment])
		assert.Equal(t, "CMU-1", props["aperio.Filename"])
	})

	t.Run("resolution tags", func(t *testing.T) {
		props := map[string]string{}
		tiffProperties(&tiffmeta.Tags{
			Make:           "scanner",
			XResolution:    20000,
			YResolution:    20000,
			ResolutionUnit: tiffmeta.UnitCentimeter,
		}, props)

		assert.Equal(t, "scanner", props[PropertyVendor])
		assert.Equal(t, "0.5", props[PropertyMPPX])
		assert.Equal(t, "0.5", props[PropertyMPPY])
	})
}
