package metadata

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/denismitr/pado/images"
	"github.com/denismitr/pado/internal/store"
	"github.com/denismitr/pado/urlpath"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tidwall/btree"
)

var ErrNotFound = errors.New("metadata not found")
var ErrUnsupportedOperation = errors.New("unsupported provider operation")
var ErrUnexpectedMetadata = errors.New("unexpected provider metadata")

const (
	metadataVersionKey = "metadata_version"
	metadataVersion    = 1
)

var metadataStore = &store.Store{
	Version: 1,
	Type:    store.TypeMetadata,
	Hook: store.VersionHook{
		Key:     metadataVersionKey,
		Version: metadataVersion,
		Name:    "MetadataProvider",
	},
}

type Provider interface {
	Identifier() string
	Get(id images.ImageID) ([]Record, error)
	Set(id images.ImageID, records []Record) error
	Delete(id images.ImageID) error
	Has(id images.ImageID) bool
	Len() int
	IDs() []images.ImageID
}

// row is one record of one image, data holds the record json.
type row struct {
	ImageID string `parquet:"image_id"`
	Data    string `parquet:"data"`
}

type entry struct {
	id      images.ImageID
	records []Record
}

func byImageID(a, b interface{}) bool {
	return images.Less(a.(*entry).id, b.(*entry).id)
}

type MetadataProvider struct {
	mu         sync.RWMutex
	identifier string
	index      *btree.BTree
}

var _ Provider = (*MetadataProvider)(nil)

func NewMetadataProvider(identifier string) *MetadataProvider {
	if identifier == "" {
		identifier = uuid.NewString()
	}
	return &MetadataProvider{identifier: identifier, index: btree.NewNonConcurrent(byImageID)}
}

func CopyMetadataProvider(p Provider, identifier string) (*MetadataProvider, error) {
	if src, ok := p.(*MetadataProvider); ok && identifier == "" {
		identifier = src.identifier
	}

	dst := NewMetadataProvider(identifier)
	for _, id := range p.IDs() {
		rs, err := p.Get(id)
		if err != nil {
			return nil, err
		}
		if err := dst.Set(id, rs); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func (p *MetadataProvider) Identifier() string {
	return p.identifier
}

func (p *MetadataProvider) String() string {
	return fmt.Sprintf("MetadataProvider(%q)", p.identifier)
}

func (p *MetadataProvider) Get(id images.ImageID) ([]Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	item := p.index.Get(&entry{id: id})
	if item == nil {
		return nil, errors.Wrapf(ErrNotFound, "%s", id)
	}
	return append([]Record(nil), item.(*entry).records...), nil
}

func (p *MetadataProvider) Set(id images.ImageID, records []Record) error {
	if id.IsZero() {
		return errors.Wrap(images.ErrInvalidImageID, "empty image id")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.index.Set(&entry{id: id, records: append([]Record(nil), records...)})
	return nil
}

// Add appends a record to the records of id.
func (p *MetadataProvider) Add(id images.ImageID, r Record) error {
	if id.IsZero() {
		return errors.Wrap(images.ErrInvalidImageID, "empty image id")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if item := p.index.Get(&entry{id: id}); item != nil {
		e := item.(*entry)
		e.records = append(e.records, r)
		return nil
	}
	p.index.Set(&entry{id: id, records: []Record{r}})
	return nil
}

func (p *MetadataProvider) Delete(id images.ImageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.index.Delete(&entry{id: id}) == nil {
		return errors.Wrapf(ErrNotFound, "%s", id)
	}
	return nil
}

func (p *MetadataProvider) Has(id images.ImageID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.index.Get(&entry{id: id}) != nil
}

func (p *MetadataProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.index.Len()
}

func (p *MetadataProvider) IDs() []images.ImageID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]images.ImageID, 0, p.index.Len())
	p.index.Ascend(nil, func(item interface{}) bool {
		ids = append(ids, item.(*entry).id)
		return true
	})
	return ids
}

func (p *MetadataProvider) WriteParquet(u string, opts urlpath.Options) error {
	return writeMetadataParquet(p, p.identifier, u, opts)
}

func writeMetadataParquet(p Provider, identifier, u string, opts urlpath.Options) error {
	fs, path, err := urlpath.Resolve(u, opts)
	if err != nil {
		return err
	}

	var rows []row
	for _, id := range p.IDs() {
		rs, err := p.Get(id)
		if err != nil {
			return err
		}
		for _, r := range rs {
			rows = append(rows, row{ImageID: id.String(), Data: r.JSON()})
		}
	}

	return store.Write(metadataStore, fs, path, rows, identifier, nil)
}

var allowedMetadataKeys = map[string]bool{
	store.KeyIdentifier:   true,
	store.KeyPadoVersion:  true,
	store.KeyStoreVersion: true,
	store.KeyStoreType:    true,
	store.KeyCreatedAt:    true,
	store.KeyCreatedBy:    true,
	metadataVersionKey:    true,
}

func ReadMetadataProvider(u string, opts urlpath.Options) (*MetadataProvider, error) {
	fs, path, err := urlpath.Resolve(u, opts)
	if err != nil {
		return nil, err
	}

	rows, info, err := store.Read[row](metadataStore, fs, path)
	if err != nil {
		return nil, err
	}

	var unexpected []string
	for _, k := range info.Keys() {
		if !allowedMetadataKeys[k] {
			unexpected = append(unexpected, k)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, errors.Wrapf(ErrUnexpectedMetadata, "%s: currently unused %q", u, unexpected)
	}

	p := NewMetadataProvider(info.Identifier)
	for _, r := range rows {
		id, err := images.FromString(r.ImageID)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", u)
		}
		rec, err := NewRecord([]byte(r.Data))
		if err != nil {
			return nil, errors.Wrapf(err, "%s: %s", u, r.ImageID)
		}
		if err := p.Add(id, rec); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Query returns the ids with at least one record whose value at path
// matches v, in provider order.
func Query(p Provider, path string, v interface{}) ([]images.ImageID, error) {
	var out []images.ImageID
	for _, id := range p.IDs() {
		rs, err := p.Get(id)
		if err != nil {
			return nil, err
		}
		for _, r := range rs {
			if r.Matches(path, v) {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

// Columns returns the sorted union of top level record keys.
func Columns(p Provider) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, id := range p.IDs() {
		rs, err := p.Get(id)
		if err != nil {
			return nil, err
		}
		for _, r := range rs {
			for _, k := range r.Keys() {
				if !seen[k] {
					seen[k] = true
					out = append(out, k)
				}
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// GroupedMetadataProvider is a read only union, lookups return the first
// provider's records.
type GroupedMetadataProvider struct {
	identifier string
	providers  []Provider
}

var _ Provider = (*GroupedMetadataProvider)(nil)

func NewGroupedMetadataProvider(providers ...Provider) *GroupedMetadataProvider {
	g := &GroupedMetadataProvider{identifier: uuid.NewString()}
	for _, p := range providers {
		if nested, ok := p.(*GroupedMetadataProvider); ok {
			g.providers = append(g.providers, nested.providers...)
		} else {
			g.providers = append(g.providers, p)
		}
	}
	return g
}

func (g *GroupedMetadataProvider) Identifier() string {
	return g.identifier
}

func (g *GroupedMetadataProvider) Providers() []Provider {
	return append([]Provider(nil), g.providers...)
}

func (g *GroupedMetadataProvider) String() string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("GroupedMetadataProvider(%s)", strings.Join(names, ", "))
}

func (g *GroupedMetadataProvider) Get(id images.ImageID) ([]Record, error) {
	for _, p := range g.providers {
		rs, err := p.Get(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return rs, err
	}
	return nil, errors.Wrapf(ErrNotFound, "%s", id)
}

func (g *GroupedMetadataProvider) Set(images.ImageID, []Record) error {
	return errors.Wrap(ErrUnsupportedOperation, "can't add new item to GroupedMetadataProvider")
}

func (g *GroupedMetadataProvider) Delete(images.ImageID) error {
	return errors.Wrap(ErrUnsupportedOperation, "can't delete from GroupedMetadataProvider")
}

func (g *GroupedMetadataProvider) Has(id images.ImageID) bool {
	for _, p := range g.providers {
		if p.Has(id) {
			return true
		}
	}
	return false
}

func (g *GroupedMetadataProvider) Len() int {
	return len(g.IDs())
}

func (g *GroupedMetadataProvider) IDs() []images.ImageID {
	seen := make(map[string]bool)
	var ids []images.ImageID
	for i := len(g.providers) - 1; i >= 0; i-- {
		for _, id := range g.providers[i].IDs() {
			if k := id.String(); !seen[k] {
				seen[k] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (g *GroupedMetadataProvider) WriteParquet(u string, opts urlpath.Options) error {
	return writeMetadataParquet(g, g.identifier, u, opts)
}
