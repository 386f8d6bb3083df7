package pado

import (
	"context"

	"github.com/denismitr/pado/images"
	"github.com/pkg/errors"
)

// View is a read only subset of a dataset.
type View struct {
	ds     *Dataset
	images *images.FilteredImageProvider
}

// Filter restricts the dataset to ids, all of which have to be present.
func (d *Dataset) Filter(ctx context.Context, ids []images.ImageID) (*View, error) {
	imgs, err := d.Images(ctx)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if !imgs.Has(id) {
			return nil, errors.Wrapf(ErrNotFound, "image %s", id)
		}
	}

	if ids == nil {
		ids = []images.ImageID{}
	}
	return &View{ds: d, images: images.NewFilteredImageProvider(imgs, ids)}, nil
}

func (v *View) Dataset() *Dataset {
	return v.ds
}

func (v *View) Images() images.Provider {
	return v.images
}

func (v *View) Index() []images.ImageID {
	return v.images.IDs()
}

func (v *View) Len() int {
	return v.images.Len()
}

func (v *View) Has(id images.ImageID) bool {
	return v.images.Has(id)
}

func (v *View) Get(ctx context.Context, id images.ImageID) (*Item, error) {
	if !v.images.Has(id) {
		return nil, errors.Wrapf(ErrNotFound, "image %s", id)
	}
	return v.ds.Get(ctx, id)
}
