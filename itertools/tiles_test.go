package itertools

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/denismitr/pado/images"
	"github.com/denismitr/pado/settings"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridTiling() FastGridTiling {
	return FastGridTiling{
		TileSize:            images.IntSize{W: 10, H: 10},
		TargetMPP:           images.MPP{X: 1, Y: 1},
		MinChunkSize:        0,
		NormalizeChunkSizes: true,
	}
}

func pixelSum(img image.Image) int {
	n := 0
	b := img.Bounds()
	for x := b.Min.X; x < b.Max.X; x++ {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			n += int(r + g + bl)
		}
	}
	return n
}

func TestTileDataset(t *testing.T) {
	ctx := context.Background()
	ds := newMockDataset(t, 7)

	tiles, err := NewTileDataset(ctx, ds, gridTiling())
	require.NoError(t, err)
	t.Cleanup(func() { tiles.Close() })

	require.NoError(t, tiles.PrecomputeTiling(ctx))

	// 4 columns of which the last is padded, 2 rows of which the last is padded
	n, err := tiles.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 7*8, n)

	for i := 0; i < n; i++ {
		item, err := tiles.Get(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, ds.ids[i/8], item.ID)
		assert.Equal(t, image.Rect(0, 0, 10, 10), item.Tile.Data.Bounds())
		assert.Positive(t, pixelSum(item.Tile.Data))
	}

	item, err := tiles.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, images.Bounds{X0: 0, Y0: 10, X1: 10, Y1: 20}, item.Tile.Bounds)

	_, err = tiles.Get(ctx, n)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestTileDataset_Resampled(t *testing.T) {
	ctx := context.Background()
	ds := newMockDataset(t, 1)

	tiling := gridTiling()
	tiling.TargetMPP = images.MPP{X: 2, Y: 2}
	tiles, err := NewTileDataset(ctx, ds, tiling)
	require.NoError(t, err)
	t.Cleanup(func() { tiles.Close() })

	n, err := tiles.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	item, err := tiles.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, images.MPP{X: 2, Y: 2}, item.Tile.MPP)
	assert.Equal(t, images.Bounds{X0: 10, Y0: 0, X1: 20, Y1: 10}, item.Tile.Bounds)
	assert.Equal(t, image.Rect(0, 0, 10, 10), item.Tile.Data.Bounds())
}

func TestTileDataset_SkipsSmallBorderTiles(t *testing.T) {
	ctx := context.Background()
	ds := newMockDataset(t, 2)

	tiling := gridTiling()
	tiling.MinChunkSize = 0.5
	tiling.NormalizeChunkSizes = false
	tiles, err := NewTileDataset(ctx, ds, tiling)
	require.NoError(t, err)
	t.Cleanup(func() { tiles.Close() })

	// the 2 pixel column is dropped, the 6 pixel row is kept and clipped
	n, err := tiles.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2*6, n)

	item, err := tiles.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, images.Bounds{X0: 20, Y0: 10, X1: 30, Y1: 16}, item.Tile.Bounds)
	assert.Equal(t, image.Rect(0, 0, 10, 6), item.Tile.Data.Bounds())
}

func TestTileDataset_InvalidTiling(t *testing.T) {
	ctx := context.Background()
	ds := newMockDataset(t, 1)

	for name, tiling := range map[string]FastGridTiling{
		"empty tile":        {TileSize: images.IntSize{W: 0, H: 10}},
		"overlap too large": {TileSize: images.IntSize{W: 10, H: 10}, Overlap: 10},
		"min chunk size":    {TileSize: images.IntSize{W: 10, H: 10}, MinChunkSize: 2},
	} {
		t.Run(name, func(t *testing.T) {
			tiles, err := NewTileDataset(ctx, ds, tiling)
			require.NoError(t, err)
			assert.ErrorIs(t, tiles.PrecomputeTiling(ctx), ErrInvalidTiling)
		})
	}
}

func TestTileDataset_RetryHandler(t *testing.T) {
	ctx := context.Background()
	ds := newMockDataset(t, 7)

	var delays []time.Duration
	retry := &RetryErrorHandler{
		RetryDelay:         time.Second,
		TotalDelay:         30 * time.Second,
		ExponentialBackoff: true,
		Sleep:              recordSleeps(&delays),
	}

	tiles, err := NewTileDataset(ctx, ds, gridTiling(), WithErrorHandler(retry))
	require.NoError(t, err)
	t.Cleanup(func() { tiles.Close() })
	require.NoError(t, tiles.PrecomputeTiling(ctx))
	require.Empty(t, delays)

	ds.failWith(errDivision)
	_, err = tiles.Get(ctx, 0)
	require.ErrorIs(t, err, errDivision)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
}

func TestTileDataset_TileCacheFromSettings(t *testing.T) {
	ctx := context.Background()
	ds := newMockDataset(t, 2)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/home/.pado.toml", []byte("tile_cache_bytes = 65536\n"), 0644))
	s, err := settings.Load(settings.WithFs(fs), settings.WithHome("/home"))
	require.NoError(t, err)

	tiles, err := NewTileDataset(ctx, ds, gridTiling(), WithSettings(s))
	require.NoError(t, err)
	t.Cleanup(func() { tiles.Close() })

	cache := tiles.TileCache()
	require.NotNil(t, cache)
	assert.Zero(t, cache.Len())

	first, err := tiles.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	again, err := tiles.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, first.Tile.Data.At(3, 3), again.Tile.Data.At(3, 3))
}
