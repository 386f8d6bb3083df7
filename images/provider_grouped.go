package images

import (
	"fmt"
	"strings"

	"github.com/denismitr/pado/urlpath"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// GroupedImageProvider is a read mostly union of providers. Lookups return
// the first provider's image, iteration starts with the last provider.
type GroupedImageProvider struct {
	identifier string
	providers  []Provider
}

var _ Provider = (*GroupedImageProvider)(nil)

// NewGroupedImageProvider flattens nested groups into one group.
func NewGroupedImageProvider(providers ...Provider) *GroupedImageProvider {
	g := &GroupedImageProvider{identifier: uuid.NewString()}
	for _, p := range providers {
		if nested, ok := p.(*GroupedImageProvider); ok {
			g.providers = append(g.providers, nested.providers...)
		} else {
			g.providers = append(g.providers, p)
		}
	}
	return g
}

func (g *GroupedImageProvider) Identifier() string {
	return g.identifier
}

func (g *GroupedImageProvider) Providers() []Provider {
	return append([]Provider(nil), g.providers...)
}

func (g *GroupedImageProvider) String() string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("GroupedImageProvider(%s)", strings.Join(names, ", "))
}

func (g *GroupedImageProvider) Get(id ImageID) (*Image, error) {
	for _, p := range g.providers {
		img, err := p.Get(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return img, err
	}
	return nil, errors.Wrapf(ErrNotFound, "%s", id)
}

// Set updates the image in the first provider having id, new ids can not be added.
func (g *GroupedImageProvider) Set(id ImageID, img *Image) error {
	for _, p := range g.providers {
		if p.Has(id) {
			return p.Set(id, img)
		}
	}
	return errors.Wrap(ErrUnsupportedOperation, "can't add new item to GroupedImageProvider")
}

func (g *GroupedImageProvider) Delete(ImageID) error {
	return errors.Wrap(ErrUnsupportedOperation, "can't delete from GroupedImageProvider")
}

func (g *GroupedImageProvider) Has(id ImageID) bool {
	for _, p := range g.providers {
		if p.Has(id) {
			return true
		}
	}
	return false
}

func (g *GroupedImageProvider) Len() int {
	return len(g.IDs())
}

func (g *GroupedImageProvider) IDs() []ImageID {
	seen := make(map[string]bool)
	var ids []ImageID
	for i := len(g.providers) - 1; i >= 0; i-- {
		for _, id := range g.providers[i].IDs() {
			k := id.String()
			if !seen[k] {
				seen[k] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (g *GroupedImageProvider) Range(fn func(id ImageID, img *Image) bool) error {
	for _, id := range g.IDs() {
		img, err := g.Get(id)
		if err != nil {
			return err
		}
		if !fn(id, img) {
			return nil
		}
	}
	return nil
}

// WriteParquet stores the union as a single provider.
func (g *GroupedImageProvider) WriteParquet(u string, opts urlpath.Options) error {
	p, err := CopyImageProvider(g, g.identifier)
	if err != nil {
		return err
	}
	return p.WriteParquet(u, opts)
}
