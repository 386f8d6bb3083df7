package images

import (
	"fmt"

	"github.com/denismitr/pado/urlpath"
	"github.com/pkg/errors"
)

// FilteredImageProvider exposes a subset of another provider, read only.
type FilteredImageProvider struct {
	provider Provider
	valid    map[string]bool
}

var _ Provider = (*FilteredImageProvider)(nil)

// NewFilteredImageProvider limits p to validIDs, nil keeps all current ids.
func NewFilteredImageProvider(p Provider, validIDs []ImageID) *FilteredImageProvider {
	if validIDs == nil {
		validIDs = p.IDs()
	}

	valid := make(map[string]bool, len(validIDs))
	for _, id := range validIDs {
		valid[id.String()] = true
	}

	return &FilteredImageProvider{provider: p, valid: valid}
}

func (f *FilteredImageProvider) Identifier() string {
	return f.provider.Identifier()
}

func (f *FilteredImageProvider) String() string {
	return fmt.Sprintf("FilteredImageProvider(%s)", f.provider)
}

// ValidIDs returns the ids the filter allows, present in the provider or not.
func (f *FilteredImageProvider) ValidIDs() []ImageID {
	ids := make([]ImageID, 0, len(f.valid))
	for k := range f.valid {
		if id, err := FromString(k); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func (f *FilteredImageProvider) Get(id ImageID) (*Image, error) {
	if !f.valid[id.String()] {
		return nil, errors.Wrapf(ErrNotFound, "%s", id)
	}
	return f.provider.Get(id)
}

func (f *FilteredImageProvider) Set(ImageID, *Image) error {
	return errors.Wrap(ErrUnsupportedOperation, "can't add to FilteredImageProvider")
}

func (f *FilteredImageProvider) Delete(ImageID) error {
	return errors.Wrap(ErrUnsupportedOperation, "can't delete from FilteredImageProvider")
}

func (f *FilteredImageProvider) Has(id ImageID) bool {
	return f.valid[id.String()] && f.provider.Has(id)
}

func (f *FilteredImageProvider) Len() int {
	return len(f.IDs())
}

func (f *FilteredImageProvider) IDs() []ImageID {
	var ids []ImageID
	for _, id := range f.provider.IDs() {
		if f.valid[id.String()] {
			ids = append(ids, id)
		}
	}
	return ids
}

func (f *FilteredImageProvider) Range(fn func(id ImageID, img *Image) bool) error {
	for _, id := range f.IDs() {
		img, err := f.provider.Get(id)
		if err != nil {
			return err
		}
		if !fn(id, img) {
			return nil
		}
	}
	return nil
}

func (f *FilteredImageProvider) WriteParquet(u string, opts urlpath.Options) error {
	p, err := CopyImageProvider(f, f.Identifier())
	if err != nil {
		return err
	}
	return p.WriteParquet(u, opts)
}
