package images

import (
	"bytes"
	"encoding/binary"
	"image"

	"github.com/cespare/xxhash/v2"
	"github.com/denismitr/pado/internal/lru"
	"github.com/golang/snappy"
	"github.com/pbnjay/memory"
	"golang.org/x/image/draw"
)

const tileCacheShards = 16

// TileCache keeps decoded tile pixels snappy compressed in a byte bounded LRU.
type TileCache struct {
	lru *lru.Cache
}

// DefaultTileCacheBytes is a sixty-fourth of the total system memory.
func DefaultTileCacheBytes() uint64 {
	total := memory.TotalMemory()
	if total == 0 {
		return 64 << 20
	}
	return total / 64
}

// NewTileCache allocates a cache of maxBytes compressed bytes, zero means
// DefaultTileCacheBytes.
func NewTileCache(maxBytes uint64) (*TileCache, error) {
	if maxBytes == 0 {
		maxBytes = DefaultTileCacheBytes()
	}

	shards := tileCacheShards
	if maxBytes < 1<<20 {
		shards = 1
	}

	c, err := lru.New(shards, maxBytes, nil)
	if err != nil {
		return nil, err
	}
	return &TileCache{lru: c}, nil
}

type tileID struct {
	urlpath string
	level   int
	bounds  Bounds
}

func (k tileID) hash() uint64 {
	d := xxhash.New()
	_, _ = d.Write(k.header())
	return d.Sum64()
}

// header is the exact key stored in front of the compressed pixels, a hash
// collision between two tiles then reads as a miss.
func (k tileID) header() []byte {
	buf := make([]byte, 0, 4+len(k.urlpath)+8*5)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(k.urlpath)))
	buf = append(buf, k.urlpath...)
	for _, v := range []int{k.level, k.bounds.X0, k.bounds.Y0, k.bounds.X1, k.bounds.Y1} {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
	}
	return buf
}

func (c *TileCache) Get(u string, level int, b Bounds) (*image.RGBA, bool) {
	k := tileID{urlpath: u, level: level, bounds: b}
	v, ok := c.lru.Get(k.hash())
	if !ok {
		return nil, false
	}

	h := k.header()
	if len(v) < len(h) || !bytes.Equal(v[:len(h)], h) {
		return nil, false
	}

	pix, err := snappy.Decode(nil, v[len(h):])
	w, hh := b.X1-b.X0, b.Y1-b.Y0
	if err != nil || len(pix) != w*hh*4 {
		return nil, false
	}

	return &image.RGBA{Pix: pix, Stride: w * 4, Rect: image.Rect(0, 0, w, hh)}, true
}

// Put stores img as the pixels of the bounds. Images of another size are ignored.
func (c *TileCache) Put(u string, level int, b Bounds, img image.Image) {
	w, h := b.X1-b.X0, b.Y1-b.Y0
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		return
	}

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != w*4 || len(rgba.Pix) != w*h*4 || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	}

	k := tileID{urlpath: u, level: level, bounds: b}
	c.lru.Add(k.hash(), append(k.header(), snappy.Encode(nil, rgba.Pix)...))
}

func (c *TileCache) Len() int {
	return c.lru.Count()
}

func (c *TileCache) Bytes() uint64 {
	return c.lru.Bytes()
}

func (c *TileCache) Purge() {
	c.lru.Purge()
}
