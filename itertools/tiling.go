package itertools

import (
	"context"
	"image"
	"math"

	"github.com/denismitr/pado/images"
	"github.com/denismitr/pado/internal/ctxlog"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

var ErrInvalidTiling = errors.New("invalid tiling")

// TilingStrategy cuts one open image into tiles.
type TilingStrategy interface {
	Precompute(ctx context.Context, img *images.Image, cache *images.TileCache) (*Tiling, error)
}

// FastGridTiling is a regular grid of TileSize tiles at TargetMPP. Tiles are
// read from the coarsest level at least as fine as TargetMPP and scaled.
type FastGridTiling struct {
	TileSize images.IntSize
	// TargetMPP is the resolution of the tiles, level 0 when zero.
	TargetMPP images.MPP
	// Overlap is shared by neighbouring tiles, in pixels at TargetMPP.
	Overlap int
	// MinChunkSize is the smallest fraction of a tile that a border tile
	// must cover along both axes to be kept.
	MinChunkSize float64
	// NormalizeChunkSizes pads border tiles to TileSize.
	NormalizeChunkSizes bool
}

var _ TilingStrategy = FastGridTiling{}

func (g FastGridTiling) validate() error {
	if g.TileSize.W <= 0 || g.TileSize.H <= 0 {
		return errors.Wrapf(ErrInvalidTiling, "tile size %s", g.TileSize)
	}
	if g.Overlap < 0 || g.Overlap >= g.TileSize.W || g.Overlap >= g.TileSize.H {
		return errors.Wrapf(ErrInvalidTiling, "overlap %d for tile size %s", g.Overlap, g.TileSize)
	}
	if g.MinChunkSize < 0 || g.MinChunkSize > 1 {
		return errors.Wrapf(ErrInvalidTiling, "min chunk size %g not in [0, 1]", g.MinChunkSize)
	}
	if g.TargetMPP.X < 0 || g.TargetMPP.Y < 0 {
		return errors.Wrapf(ErrInvalidTiling, "target %s", g.TargetMPP)
	}
	return nil
}

func (g FastGridTiling) Precompute(ctx context.Context, img *images.Image, cache *images.TileCache) (*Tiling, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}

	mpps, err := img.LevelMPP()
	if err != nil {
		return nil, err
	}

	target := g.TargetMPP
	if target.IsZero() {
		target = mpps[0]
	}

	level := 0
	for lvl, m := range mpps {
		if m.X <= target.X || m.Equal(target) {
			level = lvl
		}
	}

	sx, sy := target.X/mpps[level].X, target.Y/mpps[level].Y
	size := images.IntSize{
		W: maxInt(1, int(math.Round(float64(g.TileSize.W)*sx))),
		H: maxInt(1, int(math.Round(float64(g.TileSize.H)*sy))),
	}
	overlap := int(math.Round(float64(g.Overlap) * math.Min(sx, sy)))
	if overlap >= size.W || overlap >= size.H {
		overlap = minInt(size.W, size.H) - 1
	}

	opts := []images.TileIteratorOption{
		images.WithOverlap(overlap),
		images.WithBorderTiles(g.MinChunkSize, g.NormalizeChunkSizes),
	}
	if cache != nil {
		opts = append(opts, images.WithTileCache(cache))
	}

	it, err := images.NewTileIterator(img, size, level, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "tiling %s", img)
	}

	if g.NormalizeChunkSizes && !padded(it, img) {
		ctxlog.FromContext(ctx).Debug("all chunk sizes identical, nothing to normalize", "image", img.URLPath())
	}

	return &Tiling{it: it, target: target, resample: !mpps[level].Equal(target)}, nil
}

func padded(it *images.TileIterator, img *images.Image) bool {
	dims, err := img.LevelDimensions()
	if err != nil {
		return false
	}

	lvl := dims[it.Level()]
	for _, b := range it.Bounds() {
		if b.X1 > lvl.W || b.Y1 > lvl.H {
			return true
		}
	}
	return false
}

// Tiling is the precomputed grid of one image.
type Tiling struct {
	it       *images.TileIterator
	target   images.MPP
	resample bool
}

func (t *Tiling) Len() int {
	return t.it.Len()
}

func (t *Tiling) MPP() images.MPP {
	return t.target
}

// Tile reads the i-th tile at the target resolution.
func (t *Tiling) Tile(i int) (*images.Tile, error) {
	tile, err := t.it.ReadTile(i)
	if err != nil || !t.resample {
		return tile, err
	}

	b := tile.BoundsAtMPP(t.target)
	w, h := maxInt(1, b.X1-b.X0), maxInt(1, b.Y1-b.Y0)
	b.X1, b.Y1 = b.X0+w, b.Y0+h

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), tile.Data, tile.Data.Bounds(), draw.Src, nil)
	return &images.Tile{MPP: t.target, Bounds: b, Data: dst, Parent: tile.Parent}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
