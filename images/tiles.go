package images

import (
	"fmt"
	"image"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Bounds is a pixel rectangle (x0, y0) inclusive to (x1, y1) exclusive.
type Bounds struct {
	X0, Y0, X1, Y1 int
}

func (b Bounds) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", b.X0, b.Y0, b.X1, b.Y1)
}

func (b Bounds) orb() orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(b.X0), float64(b.Y0)},
		Max: orb.Point{float64(b.X1), float64(b.Y1)},
	}
}

// Tile is a rectangular region of an image at a fixed resolution.
type Tile struct {
	MPP    MPP
	Bounds Bounds
	Data   image.Image
	Parent *Image
}

func (t *Tile) Size() IntSize {
	return IntSize{W: t.Bounds.X1 - t.Bounds.X0, H: t.Bounds.Y1 - t.Bounds.Y0, MPP: t.MPP}
}

func (t *Tile) X0Y0() IntPoint {
	return IntPoint{X: t.Bounds.X0, Y: t.Bounds.Y0, MPP: t.MPP}
}

func (t *Tile) Shape() orb.Polygon {
	return t.Bounds.orb().ToPolygon()
}

// BoundsAtMPP scales the bounds to another resolution, truncating to pixels.
func (t *Tile) BoundsAtMPP(m MPP) Bounds {
	rx, ry := t.MPP.X/m.X, t.MPP.Y/m.Y
	return Bounds{
		X0: int(float64(t.Bounds.X0) * rx),
		Y0: int(float64(t.Bounds.Y0) * ry),
		X1: int(float64(t.Bounds.X1) * rx),
		Y1: int(float64(t.Bounds.Y1) * ry),
	}
}

func (t *Tile) SizeAtMPP(m MPP) IntSize {
	b := t.BoundsAtMPP(m)
	return IntSize{W: b.X1 - b.X0, H: b.Y1 - b.Y0, MPP: m}
}

func (t *Tile) ShapeAtMPP(m MPP) orb.Polygon {
	return t.BoundsAtMPP(m).orb().ToPolygon()
}

type TileIteratorOption func(*TileIterator)

// WithTileCache serves tile pixels from c and fills it on misses.
func WithTileCache(c *TileCache) TileIteratorOption {
	return func(it *TileIterator) {
		it.cache = c
	}
}

// WithOverlap makes neighbouring tiles share px pixels.
func WithOverlap(px int) TileIteratorOption {
	return func(it *TileIterator) {
		it.overlap = px
	}
}

// WithBorderTiles keeps border tiles covering at least minFraction of the
// tile size along both axes. pad extends them to the full tile size with
// transparent pixels, otherwise their bounds are clipped to the level.
func WithBorderTiles(minFraction float64, pad bool) TileIteratorOption {
	return func(it *TileIterator) {
		it.border = true
		it.minFraction = minFraction
		it.pad = pad
	}
}

// TileIterator walks a grid of tiles over one level, column by column.
// Border tiles smaller than the tile size are skipped unless WithBorderTiles
// is given.
//
//	it, err := images.NewTileIterator(img, images.IntSize{W: 256, H: 256}, 0)
//	for it.Next() {
//		tile := it.Tile()
//	}
//	err = it.Err()
type TileIterator struct {
	img   *Image
	size  IntSize
	level int
	mpp   MPP
	ds    float64
	cache *TileCache

	overlap     int
	border      bool
	minFraction float64
	pad         bool

	bounds []Bounds
	pos    int
	cur    *Tile
	err    error
}

func NewTileIterator(img *Image, size IntSize, level int, opts ...TileIteratorOption) (*TileIterator, error) {
	if size.W <= 0 || size.H <= 0 {
		return nil, errors.Wrapf(ErrInvalidRegion, "tile size %s", size)
	}

	dims, err := img.LevelDimensions()
	if err != nil {
		return nil, err
	}

	if level < 0 || level >= len(dims) {
		return nil, errors.Wrapf(ErrInvalidRegion, "level=%d not in range(%d)", level, len(dims))
	}

	md, err := img.Metadata()
	if err != nil {
		return nil, err
	}

	it := &TileIterator{
		img:   img,
		size:  size,
		level: level,
		mpp:   dims[level].MPP,
		ds:    md.Downsamples[level],
	}
	for _, opt := range opts {
		opt(it)
	}

	if it.overlap < 0 || it.overlap >= size.W || it.overlap >= size.H {
		return nil, errors.Wrapf(ErrInvalidRegion, "overlap %d for tile size %s", it.overlap, size)
	}

	lvl := dims[level]
	xs := gridStarts(lvl.W, size.W, size.W-it.overlap, it.keep)
	ys := gridStarts(lvl.H, size.H, size.H-it.overlap, it.keep)
	for _, x := range xs {
		for _, y := range ys {
			b := Bounds{X0: x, Y0: y, X1: x + size.W, Y1: y + size.H}
			if !it.pad {
				b.X1, b.Y1 = minInt(b.X1, lvl.W), minInt(b.Y1, lvl.H)
			}
			it.bounds = append(it.bounds, b)
		}
	}

	return it, nil
}

// keep reports whether a tile of which covered of size pixels lie inside
// the level is part of the grid.
func (it *TileIterator) keep(covered, size int) bool {
	if covered == size {
		return true
	}
	if !it.border || covered <= 0 {
		return false
	}
	return float64(covered)/float64(size) >= it.minFraction
}

func gridStarts(extent, size, stride int, keep func(covered, size int) bool) []int {
	var out []int
	for x := 0; x < extent; x += stride {
		covered := minInt(size, extent-x)
		if !keep(covered, size) {
			break
		}
		out = append(out, x)
		if x+size >= extent {
			break
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Len is the total number of tiles.
func (it *TileIterator) Len() int {
	return len(it.bounds)
}

// Bounds returns the bounds of all tiles in iteration order.
func (it *TileIterator) Bounds() []Bounds {
	return append([]Bounds(nil), it.bounds...)
}

// Level is the level the tiles are read at.
func (it *TileIterator) Level() int {
	return it.level
}

func (it *TileIterator) Next() bool {
	if it.err != nil || it.pos >= len(it.bounds) {
		it.cur = nil
		return false
	}

	tile, err := it.ReadTile(it.pos)
	it.pos++
	if err != nil {
		it.err = err
		it.cur = nil
		return false
	}

	it.cur = tile
	return true
}

// ReadTile reads the i-th tile without moving the iterator.
func (it *TileIterator) ReadTile(i int) (*Tile, error) {
	if i < 0 || i >= len(it.bounds) {
		return nil, errors.Wrapf(ErrInvalidRegion, "tile %d not in range(%d)", i, len(it.bounds))
	}

	b := it.bounds[i]
	data, err := it.read(b)
	if err != nil {
		return nil, errors.Wrapf(err, "tile %s of %s", b, it.img)
	}
	return &Tile{MPP: it.mpp, Bounds: b, Data: data, Parent: it.img}, nil
}

func (it *TileIterator) read(b Bounds) (image.Image, error) {
	dims, err := it.img.LevelDimensions()
	if err != nil {
		return nil, err
	}

	// pixels inside the level, padded tiles reach past it
	in := Bounds{X0: b.X0, Y0: b.Y0, X1: minInt(b.X1, dims[it.level].W), Y1: minInt(b.Y1, dims[it.level].H)}

	data, err := it.readInside(in)
	if err != nil {
		return nil, err
	}

	if in == b {
		return data, nil
	}

	padded := image.NewRGBA(image.Rect(0, 0, b.X1-b.X0, b.Y1-b.Y0))
	draw.Draw(padded, data.Bounds().Sub(data.Bounds().Min), data, data.Bounds().Min, draw.Src)
	return padded, nil
}

func (it *TileIterator) readInside(b Bounds) (image.Image, error) {
	if it.cache != nil {
		if data, ok := it.cache.Get(it.img.URLPath(), it.level, b); ok {
			return data, nil
		}
	}

	// bounds are level coordinates, the slide wants level 0 locations
	x0 := int(float64(b.X0) * it.ds)
	y0 := int(float64(b.Y0) * it.ds)
	data, err := it.img.Region(IntPoint{X: x0, Y: y0}, IntSize{W: b.X1 - b.X0, H: b.Y1 - b.Y0}, it.level)
	if err != nil {
		return nil, err
	}

	if it.cache != nil {
		it.cache.Put(it.img.URLPath(), it.level, b, data)
	}

	return data, nil
}

func (it *TileIterator) Tile() *Tile {
	return it.cur
}

func (it *TileIterator) Err() error {
	return it.err
}
