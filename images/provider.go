package images

import (
	"fmt"
	"sort"
	"sync"

	"github.com/denismitr/pado/internal/store"
	"github.com/denismitr/pado/urlpath"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"github.com/tidwall/btree"
)

var ErrNotFound = errors.New("image not found")
var ErrUnsupportedOperation = errors.New("unsupported provider operation")
var ErrUnexpectedMetadata = errors.New("unexpected provider metadata")

const (
	providerVersionKey = "image_provider_version"
	providerVersion    = 1
)

var imageStore = &store.Store{
	Version: 1,
	Type:    store.TypeImage,
	Hook: store.VersionHook{
		Key:     providerVersionKey,
		Version: providerVersion,
		Name:    "ImageProvider",
	},
}

// Provider maps image ids to images.
type Provider interface {
	Identifier() string
	Get(id ImageID) (*Image, error)
	Set(id ImageID, img *Image) error
	Delete(id ImageID) error
	Has(id ImageID) bool
	Len() int
	// IDs returns the ids in iteration order.
	IDs() []ImageID
	// Range calls fn in iteration order until it returns false. A record that
	// cannot be restored stops the iteration with its error.
	Range(fn func(id ImageID, img *Image) bool) error
}

type imageEntry struct {
	id  ImageID
	rec Record
}

func (e *imageEntry) key() ImageID { return e.id }

type imageRow struct {
	ImageID string `parquet:"image_id"`
	Image   Record `parquet:"image"`
}

// ImageProvider is an in-memory provider ordered by image id.
type ImageProvider struct {
	mu         sync.RWMutex
	identifier string
	index      *btree.BTree
}

var _ Provider = (*ImageProvider)(nil)

// NewImageProvider creates an empty provider, an empty identifier gets a
// random one.
func NewImageProvider(identifier string) *ImageProvider {
	if identifier == "" {
		identifier = uuid.NewString()
	}

	return &ImageProvider{
		identifier: identifier,
		index:      btree.NewNonConcurrent(byImageID),
	}
}

// CopyImageProvider deep copies any provider. An empty identifier keeps the
// identifier of an ImageProvider source and is random otherwise.
func CopyImageProvider(p Provider, identifier string) (*ImageProvider, error) {
	if src, ok := p.(*ImageProvider); ok {
		if identifier == "" {
			identifier = src.Identifier()
		}

		dst := NewImageProvider(identifier)

		src.mu.RLock()
		defer src.mu.RUnlock()

		var err error
		src.index.Ascend(nil, func(item interface{}) bool {
			e := item.(*imageEntry)
			cp := &imageEntry{id: e.id}
			if err = copier.CopyWithOption(&cp.rec, &e.rec, copier.Option{DeepCopy: true}); err != nil {
				err = errors.Wrapf(err, "could not copy %s", e.id)
				return false
			}
			dst.index.Set(cp)
			return true
		})

		return dst, err
	}

	dst := NewImageProvider(identifier)

	var err error
	if rerr := p.Range(func(id ImageID, img *Image) bool {
		err = dst.Set(id, img)
		return err == nil
	}); rerr != nil {
		return nil, rerr
	}

	return dst, err
}

func (p *ImageProvider) Identifier() string {
	return p.identifier
}

func (p *ImageProvider) String() string {
	return fmt.Sprintf("ImageProvider(%q)", p.identifier)
}

func (p *ImageProvider) Get(id ImageID) (*Image, error) {
	rec, err := p.Record(id)
	if err != nil {
		return nil, err
	}
	return ImageFromRecord(rec)
}

// Record returns a copy of the stored record of id.
func (p *ImageProvider) Record(id ImageID) (Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	item := p.index.Get(idKey(id))
	if item == nil {
		return Record{}, errors.Wrapf(ErrNotFound, "%s", id)
	}

	rec := item.(*imageEntry).rec
	rec.Downsamples = append([]float64(nil), rec.Downsamples...)
	return rec, nil
}

func (p *ImageProvider) Set(id ImageID, img *Image) error {
	if id.IsZero() {
		return errors.Wrap(ErrInvalidImageID, "empty image id")
	}

	rec, err := img.Record()
	if err != nil {
		return err
	}

	return p.SetRecord(id, rec)
}

func (p *ImageProvider) SetRecord(id ImageID, rec Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.index.Set(&imageEntry{id: id, rec: rec})
	return nil
}

func (p *ImageProvider) Delete(id ImageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.index.Delete(idKey(id)) == nil {
		return errors.Wrapf(ErrNotFound, "%s", id)
	}
	return nil
}

func (p *ImageProvider) Has(id ImageID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.index.Get(idKey(id)) != nil
}

func (p *ImageProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.index.Len()
}

func (p *ImageProvider) IDs() []ImageID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]ImageID, 0, p.index.Len())
	p.index.Ascend(nil, func(item interface{}) bool {
		ids = append(ids, item.(*imageEntry).id)
		return true
	})
	return ids
}

func (p *ImageProvider) Range(fn func(id ImageID, img *Image) bool) error {
	for _, e := range p.entries() {
		img, err := ImageFromRecord(e.rec)
		if err != nil {
			return errors.Wrapf(err, "range over %s at %s", p.identifier, e.id)
		}
		if !fn(e.id, img) {
			return nil
		}
	}
	return nil
}

func (p *ImageProvider) entries() []imageEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]imageEntry, 0, p.index.Len())
	p.index.Ascend(nil, func(item interface{}) bool {
		out = append(out, *item.(*imageEntry))
		return true
	})
	return out
}

// UpdateURLPaths replaces the urlpath of every image with fn's result and
// returns how many changed.
func (p *ImageProvider) UpdateURLPaths(fn func(id ImageID, current string) string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := 0
	p.index.Ascend(nil, func(item interface{}) bool {
		e := item.(*imageEntry)
		if u := fn(e.id, e.rec.URLPath); u != e.rec.URLPath {
			e.rec.URLPath = u
			changed++
		}
		return true
	})
	return changed
}

// WriteParquet stores the provider at u.
func (p *ImageProvider) WriteParquet(u string, opts urlpath.Options) error {
	return writeImageParquet(p.identifier, p.entries(), u, opts)
}

func writeImageParquet(identifier string, entries []imageEntry, u string, opts urlpath.Options) error {
	fs, path, err := urlpath.Resolve(u, opts)
	if err != nil {
		return err
	}

	rows := make([]imageRow, len(entries))
	for i, e := range entries {
		rows[i] = imageRow{ImageID: e.id.String(), Image: e.rec}
	}

	return store.Write(imageStore, fs, path, rows, identifier, nil)
}

var allowedImageKeys = map[string]bool{
	store.KeyIdentifier:   true,
	store.KeyPadoVersion:  true,
	store.KeyStoreVersion: true,
	store.KeyStoreType:    true,
	store.KeyCreatedAt:    true,
	store.KeyCreatedBy:    true,
	providerVersionKey:    true,
}

// ReadImageProvider loads a provider written by WriteParquet.
func ReadImageProvider(u string, opts urlpath.Options) (*ImageProvider, error) {
	fs, path, err := urlpath.Resolve(u, opts)
	if err != nil {
		return nil, err
	}

	rows, info, err := store.Read[imageRow](imageStore, fs, path)
	if err != nil {
		return nil, err
	}

	var unexpected []string
	for _, k := range info.Keys() {
		if !allowedImageKeys[k] {
			unexpected = append(unexpected, k)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, errors.Wrapf(ErrUnexpectedMetadata, "%s: currently unused %q", u, unexpected)
	}

	p := NewImageProvider(info.Identifier)
	for _, row := range rows {
		id, err := FromString(row.ImageID)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", u)
		}
		if _, err := ImageFromRecord(row.Image); err != nil {
			return nil, errors.Wrapf(err, "%s", u)
		}
		p.index.Set(&imageEntry{id: id, rec: row.Image})
	}

	return p, nil
}
