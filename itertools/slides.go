// Package itertools indexes datasets by position for training loops, whole
// slides with SlideDataset and tiles across all slides with TileDataset.
package itertools

import (
	"context"

	"github.com/denismitr/pado"
	"github.com/denismitr/pado/images"
	"github.com/denismitr/pado/settings"
	"github.com/pkg/errors"
)

var ErrOutOfRange = errors.New("index out of range")

// Source is what the iterators read items from.
type Source interface {
	Index(ctx context.Context) ([]images.ImageID, error)
	Get(ctx context.Context, id images.ImageID) (*pado.Item, error)
}

var _ Source = (*pado.Dataset)(nil)

type config struct {
	handler  ErrorHandler
	cache    *images.TileCache
	settings *settings.Settings
	workers  int
}

type Option func(cfg *config)

// WithErrorHandler wraps every item access, FailFast when not given.
func WithErrorHandler(h ErrorHandler) Option {
	return func(cfg *config) {
		cfg.handler = h
	}
}

// WithTileCache shares c between tile reads.
func WithTileCache(c *images.TileCache) Option {
	return func(cfg *config) {
		cfg.cache = c
	}
}

// WithSettings builds a tile cache of the tile_cache_bytes setting unless
// WithTileCache is given too, and precomputes with create_workers.
func WithSettings(s *settings.Settings) Option {
	return func(cfg *config) {
		cfg.settings = s
	}
}

func newConfig(opts []Option) (*config, error) {
	cfg := &config{handler: FailFast{}, workers: images.DefaultCreateWorkers}
	for _, o := range opts {
		o(cfg)
	}

	if s := cfg.settings; s != nil {
		cfg.workers = s.CreateWorkers
		if cfg.cache == nil {
			c, err := images.NewTileCache(s.TileCacheBytes)
			if err != nil {
				return nil, err
			}
			cfg.cache = c
		}
	}
	return cfg, nil
}

// SlideDataset is the items of a source by position, in index order.
type SlideDataset struct {
	src     Source
	ids     []images.ImageID
	handler ErrorHandler
}

func NewSlideDataset(ctx context.Context, src Source, opts ...Option) (*SlideDataset, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	ids, err := src.Index(ctx)
	if err != nil {
		return nil, err
	}

	return &SlideDataset{src: src, ids: ids, handler: cfg.handler}, nil
}

func (s *SlideDataset) Len() int {
	return len(s.ids)
}

func (s *SlideDataset) IDs() []images.ImageID {
	return append([]images.ImageID(nil), s.ids...)
}

func (s *SlideDataset) Get(ctx context.Context, i int) (*pado.Item, error) {
	if i < 0 || i >= len(s.ids) {
		return nil, errors.Wrapf(ErrOutOfRange, "slide %d of %d", i, len(s.ids))
	}

	var item *pado.Item
	err := s.handler.Handle(ctx, func() error {
		var err error
		item, err = s.src.Get(ctx, s.ids[i])
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}
