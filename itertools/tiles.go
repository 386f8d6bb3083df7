package itertools

import (
	"context"
	"sort"
	"sync"

	"github.com/denismitr/pado"
	"github.com/denismitr/pado/images"
	"github.com/denismitr/pado/internal/ctxlog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// TileItem is one tile of a dataset image.
type TileItem struct {
	ID   images.ImageID
	Tile *images.Tile
	Item *pado.Item
}

// TileDataset is the tiles of all images of a source by position, image
// by image in index order. Images stay open until Close.
type TileDataset struct {
	src      Source
	strategy TilingStrategy
	cfg      *config

	mu      sync.Mutex
	ids     []images.ImageID
	images  []*images.Image
	tilings []*Tiling
	// offsets[k] is the position of the first tile of image k
	offsets []int
}

func NewTileDataset(ctx context.Context, src Source, strategy TilingStrategy, opts ...Option) (*TileDataset, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	ids, err := src.Index(ctx)
	if err != nil {
		return nil, err
	}

	return &TileDataset{src: src, strategy: strategy, cfg: cfg, ids: ids}, nil
}

// TileCache returns the cache shared by the tile reads, nil when uncached.
func (d *TileDataset) TileCache() *images.TileCache {
	return d.cfg.cache
}

// PrecomputeTiling opens every image and computes its tiling. Computing an
// already computed tiling is a no-op.
func (d *TileDataset) PrecomputeTiling(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.precomputeUnderLock(ctx)
}

func (d *TileDataset) precomputeUnderLock(ctx context.Context) error {
	if d.tilings != nil {
		return nil
	}

	imgs := make([]*images.Image, len(d.ids))
	tilings := make([]*Tiling, len(d.ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(1, d.cfg.workers))
	for k := range d.ids {
		k := k
		g.Go(func() error {
			var item *pado.Item
			err := d.cfg.handler.Handle(gctx, func() error {
				var err error
				item, err = d.src.Get(gctx, d.ids[k])
				return err
			})
			if err != nil {
				return err
			}

			if err := item.Image.Open(gctx); err != nil {
				return err
			}
			imgs[k] = item.Image

			tilings[k], err = d.strategy.Precompute(gctx, item.Image, d.cfg.cache)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		closeAll(imgs)
		return err
	}

	d.images, d.tilings = imgs, tilings
	d.offsets = make([]int, len(tilings)+1)
	for k, t := range tilings {
		d.offsets[k+1] = d.offsets[k] + t.Len()
	}

	ctxlog.FromContext(ctx).Debug("tiling precomputed", "images", len(d.ids), "tiles", d.offsets[len(tilings)])
	return nil
}

func (d *TileDataset) IDs() []images.ImageID {
	return append([]images.ImageID(nil), d.ids...)
}

// Counts returns the number of tiles of every image in index order, nil
// before the tiling is computed.
func (d *TileDataset) Counts() []int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tilings == nil {
		return nil
	}
	out := make([]int, len(d.tilings))
	for k, t := range d.tilings {
		out[k] = t.Len()
	}
	return out
}

// Len is the number of tiles, computing the tiling if needed.
func (d *TileDataset) Len(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.precomputeUnderLock(ctx); err != nil {
		return 0, err
	}
	return d.offsets[len(d.tilings)], nil
}

// Get returns the i-th tile. The item is fetched through the error handler
// on every call.
func (d *TileDataset) Get(ctx context.Context, i int) (*TileItem, error) {
	d.mu.Lock()
	if err := d.precomputeUnderLock(ctx); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	tilings, offsets := d.tilings, d.offsets
	d.mu.Unlock()

	n := offsets[len(tilings)]
	if i < 0 || i >= n {
		return nil, errors.Wrapf(ErrOutOfRange, "tile %d of %d", i, n)
	}

	// first image whose tiles end after i
	k := sort.Search(len(tilings), func(k int) bool { return offsets[k+1] > i })
	id := d.ids[k]

	out := &TileItem{ID: id}
	err := d.cfg.handler.Handle(ctx, func() error {
		item, err := d.src.Get(ctx, id)
		if err != nil {
			return err
		}
		out.Item = item

		out.Tile, err = tilings[k].Tile(i - offsets[k])
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the images opened by the tiling.
func (d *TileDataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := closeAll(d.images)
	d.images, d.tilings, d.offsets = nil, nil, nil
	return err
}

func closeAll(imgs []*images.Image) error {
	var first error
	for _, img := range imgs {
		if img == nil {
			continue
		}
		if err := img.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
