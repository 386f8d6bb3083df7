package annotations

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

var ErrNotFound = errors.New("annotations not found")
var ErrImageIDMismatch = errors.New("image ids don't match")
var ErrUnsupportedOperation = errors.New("unsupported provider operation")
var ErrUnexpectedMetadata = errors.New("unexpected provider metadata")

const (
	annotationVersionKey = "annotation_version"
	annotationVersion    = 1
)

var annotationStore = &store.Store{
	Version: 1,
	Type:    store.TypeAnnotation,
	Hook: store.VersionHook{
		Key:     annotationVersionKey,
		Version: annotationVersion,
		Name:    "AnnotationProvider",
	},
}

type Provider interface {
	Identifier() string
	Get(id images.ImageID) (*Annotations, error)
	Set(id images.ImageID, as *Annotations) error
	Delete(id images.ImageID) error
	Has(id images.ImageID) bool
	Len() int
	IDs() []images.ImageID
}

type entry struct {
	id    images.ImageID
	items []Annotation
}

func byImageID(a, b interface{}) bool {
	return images.Less(a.(*entry).id, b.(*entry).id)
}

// AnnotationProvider keeps annotations per image id, ordered by id.
type AnnotationProvider struct {
	mu         sync.RWMutex
	identifier string
	index      *btree.BTree
}

var _ Provider = (*AnnotationProvider)(nil)

func NewAnnotationProvider(identifier string) *AnnotationProvider {
	if identifier == "" {
		identifier = uuid.NewString()
	}
	return &AnnotationProvider{identifier: identifier, index: btree.NewNonConcurrent(byImageID)}
}

// CopyAnnotationProvider copies any provider, an empty identifier keeps the
// source identifier for AnnotationProvider sources.
func CopyAnnotationProvider(p Provider, identifier string) (*AnnotationProvider, error) {
	if src, ok := p.(*AnnotationProvider); ok && identifier == "" {
		identifier = src.identifier
	}

	dst := NewAnnotationProvider(identifier)
	for _, id := range p.IDs() {
		as, err := p.Get(id)
		if err != nil {
			return nil, err
		}
		if err := dst.Set(id, as); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func (p *AnnotationProvider) Identifier() string {
	return p.identifier
}

func (p *AnnotationProvider) String() string {
	return fmt.Sprintf("AnnotationProvider(%q)", p.identifier)
}

func (p *AnnotationProvider) Get(id images.ImageID) (*Annotations, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	item := p.index.Get(&entry{id: id})
	if item == nil {
		return nil, errors.Wrapf(ErrNotFound, "%s", id)
	}

	e := item.(*entry)
	return &Annotations{ImageID: e.id, Items: append([]Annotation(nil), e.items...)}, nil
}

// Set stores as under id. Annotations without image id take id, others must match it.
func (p *AnnotationProvider) Set(id images.ImageID, as *Annotations) error {
	if as.ImageID.IsZero() {
		as.ImageID = id
	} else if !as.ImageID.Equal(id) {
		return errors.Wrapf(ErrImageIDMismatch, "%s vs %s", id, as.ImageID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.index.Set(&entry{id: id, items: append([]Annotation(nil), as.Items...)})
	return nil
}

func (p *AnnotationProvider) Delete(id images.ImageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.index.Delete(&entry{id: id}) == nil {
		return errors.Wrapf(ErrNotFound, "%s", id)
	}
	return nil
}

func (p *AnnotationProvider) Has(id images.ImageID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.index.Get(&entry{id: id}) != nil
}

func (p *AnnotationProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.index.Len()
}

func (p *AnnotationProvider) IDs() []images.ImageID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]images.ImageID, 0, p.index.Len())
	p.index.Ascend(nil, func(item interface{}) bool {
		ids = append(ids, item.(*entry).id)
		return true
	})
	return ids
}

// WriteParquet stores one row per annotation.
func (p *AnnotationProvider) WriteParquet(u string, opts urlpath.Options) error {
	fs, path, err := urlpath.Resolve(u, opts)
	if err != nil {
		return err
	}

	var rows []Record
	p.mu.RLock()
	p.index.Ascend(nil, func(item interface{}) bool {
		e := item.(*entry)
		for _, a := range e.items {
			rows = append(rows, a.Record(e.id))
		}
		return true
	})
	p.mu.RUnlock()

	return store.Write(annotationStore, fs, path, rows, p.identifier, nil)
}

var allowedAnnotationKeys = map[string]bool{
	store.KeyIdentifier:   true,
	store.KeyPadoVersion:  true,
	store.KeyStoreVersion: true,
	store.KeyStoreType:    true,
	store.KeyCreatedAt:    true,
	store.KeyCreatedBy:    true,
	annotationVersionKey:  true,
}

func ReadAnnotationProvider(u string, opts urlpath.Options) (*AnnotationProvider, error) {
	fs, path, err := urlpath.Resolve(u, opts)
	if err != nil {
		return nil, err
	}

	rows, info, err := store.Read[Record](annotationStore, fs, path)
	if err != nil {
		return nil, err
	}

	var unexpected []string
	for _, k := range info.Keys() {
		if !allowedAnnotationKeys[k] {
			unexpected = append(unexpected, k)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, errors.Wrapf(ErrUnexpectedMetadata, "%s: currently unused %q", u, unexpected)
	}

	p := NewAnnotationProvider(info.Identifier)
	grouped := make(map[string]*entry)
	for _, r := range rows {
		e, ok := grouped[r.ImageID]
		if !ok {
			id, err := images.FromString(r.ImageID)
			if err != nil {
				return nil, errors.Wrapf(err, "%s", u)
			}
			e = &entry{id: id}
			grouped[r.ImageID] = e
			p.index.Set(e)
		}

		a, err := FromRecord(r)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", u)
		}
		e.items = append(e.items, a)
	}

	return p, nil
}

// GroupedAnnotationProvider is a read only union, lookups return the first
// provider's annotations.
type GroupedAnnotationProvider struct {
	identifier string
	providers  []Provider
}

var _ Provider = (*GroupedAnnotationProvider)(nil)

func NewGroupedAnnotationProvider(providers ...Provider) *GroupedAnnotationProvider {
	g := &GroupedAnnotationProvider{identifier: uuid.NewString()}
	for _, p := range providers {
		if nested, ok := p.(*GroupedAnnotationProvider); ok {
			g.providers = append(g.providers, nested.providers...)
		} else {
			g.providers = append(g.providers, p)
		}
	}
	return g
}

func (g *GroupedAnnotationProvider) Identifier() string {
	return g.identifier
}

func (g *GroupedAnnotationProvider) Providers() []Provider {
	return append([]Provider(nil), g.providers...)
}

func (g *GroupedAnnotationProvider) String() string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("GroupedAnnotationProvider(%s)", strings.Join(names, ", "))
}

func (g *GroupedAnnotationProvider) Get(id images.ImageID) (*Annotations, error) {
	for _, p := range g.providers {
		as, err := p.Get(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return as, err
	}
	return nil, errors.Wrapf(ErrNotFound, "%s", id)
}

func (g *GroupedAnnotationProvider) Set(images.ImageID, *Annotations) error {
	return errors.Wrap(ErrUnsupportedOperation, "can't add new item to GroupedAnnotationProvider")
}

func (g *GroupedAnnotationProvider) Delete(images.ImageID) error {
	return errors.Wrap(ErrUnsupportedOperation, "can't delete from GroupedAnnotationProvider")
}

func (g *GroupedAnnotationProvider) Has(id images.ImageID) bool {
	for _, p := range g.providers {
		if p.Has(id) {
			return true
		}
	}
	return false
}

func (g *GroupedAnnotationProvider) Len() int {
	return len(g.IDs())
}

func (g *GroupedAnnotationProvider) IDs() []images.ImageID {
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

func (g *GroupedAnnotationProvider) WriteParquet(u string, opts urlpath.Options) error {
	p, err := CopyAnnotationProvider(g, g.identifier)
	if err != nil {
		return err
	}
	return p.WriteParquet(u, opts)
}
