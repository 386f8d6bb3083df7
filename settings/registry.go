package settings

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/denismitr/pado/internal/ctxlog"
	"github.com/denismitr/pado/urlpath"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
)

const RegistryFilename = ".pado_dataset_registry.json"

var ErrNotRegistered = errors.New("dataset is not registered")
var ErrInvalidName = errors.New("invalid registry name")
var ErrReadOnlyTx = errors.New("registry opened read only")

// RegistryItem locates a registered dataset.
type RegistryItem struct {
	URLPath        string
	StorageOptions urlpath.Options
}

// Registry is a json file mapping dataset names to their locations.
type Registry struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

type RegistryCallback func(tx *RegistryTx) error

// Registry returns the dataset registry inside the config directory.
func (s *Settings) Registry() (*Registry, error) {
	dir, err := s.ConfigPath("", true)
	if err != nil {
		return nil, err
	}
	return NewRegistry(s.fs, filepath.Join(dir, RegistryFilename)), nil
}

func NewRegistry(fs afero.Fs, path string) *Registry {
	return &Registry{fs: fs, path: path}
}

func (r *Registry) Path() string {
	return r.path
}

// View runs cb on the current registry content.
func (r *Registry) View(ctx context.Context, cb RegistryCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.begin(ctx, true)
	if err != nil {
		return err
	}

	return cb(tx)
}

// Update runs cb and saves the registry when cb succeeds.
func (r *Registry) Update(ctx context.Context, cb RegistryCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.begin(ctx, false)
	if err != nil {
		return err
	}

	if err := cb(tx); err != nil {
		return errors.Wrap(err, "registry update failed, nothing saved")
	}

	return r.save(tx.data)
}

func (r *Registry) begin(ctx context.Context, readOnly bool) (*RegistryTx, error) {
	data, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return &RegistryTx{data: data, readOnly: readOnly}, nil
}

func (r *Registry) load(ctx context.Context) (map[string]RegistryItem, error) {
	data := make(map[string]RegistryItem)

	b, err := afero.ReadFile(r.fs, r.path)
	if os.IsNotExist(err) {
		return data, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "could not read registry %s", r.path)
	}

	doc := gjson.ParseBytes(b)
	if !gjson.ValidBytes(b) || !doc.IsObject() {
		corrupted := r.path + ".corrupted"
		if err := r.fs.Rename(r.path, corrupted); err != nil {
			return nil, errors.Wrapf(err, "could not move corrupted registry %s", r.path)
		}
		ctxlog.FromContext(ctx).Warn("registry corrupted and moved", "path", corrupted)
		return data, nil
	}

	var perr error
	doc.ForEach(func(k, v gjson.Result) bool {
		switch {
		case v.Type == gjson.String:
			data[k.String()] = RegistryItem{URLPath: v.String()}
		case v.IsObject() && v.Get("urlpath").Type == gjson.String:
			item := RegistryItem{URLPath: v.Get("urlpath").String()}
			if so, ok := v.Get("storage_options").Value().(map[string]interface{}); ok {
				item.StorageOptions = so
			}
			data[k.String()] = item
		default:
			perr = errors.Errorf("registry %s: unsupported entry %q", r.path, k.String())
			return false
		}
		return true
	})

	return data, perr
}

func (r *Registry) save(data map[string]RegistryItem) error {
	out := make(map[string]interface{}, len(data))
	for name, item := range data {
		if item.StorageOptions == nil {
			out[name] = item.URLPath
			continue
		}
		out[name] = map[string]interface{}{
			"urlpath":         item.URLPath,
			"storage_options": item.StorageOptions,
		}
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "could not encode registry")
	}

	return urlpath.WriteAtomic(r.fs, r.path, b)
}

// RegistryTx is the registry content during View or Update.
type RegistryTx struct {
	data     map[string]RegistryItem
	readOnly bool
}

func (tx *RegistryTx) Get(name string) (RegistryItem, error) {
	item, ok := tx.data[name]
	if !ok {
		return RegistryItem{}, errors.Wrapf(ErrNotRegistered, "%q", name)
	}
	return item, nil
}

func (tx *RegistryTx) Set(name string, item RegistryItem) error {
	if tx.readOnly {
		return ErrReadOnlyTx
	}
	if name == "" {
		return errors.Wrap(ErrInvalidName, "name must not be empty")
	}
	if item.URLPath == "" {
		return errors.Wrapf(ErrInvalidName, "%q: urlpath must not be empty", name)
	}

	tx.data[name] = item
	return nil
}

func (tx *RegistryTx) Delete(name string) error {
	if tx.readOnly {
		return ErrReadOnlyTx
	}
	if _, ok := tx.data[name]; !ok {
		return errors.Wrapf(ErrNotRegistered, "%q", name)
	}

	delete(tx.data, name)
	return nil
}

func (tx *RegistryTx) Has(name string) bool {
	_, ok := tx.data[name]
	return ok
}

func (tx *RegistryTx) Len() int {
	return len(tx.data)
}

// Names returns the registered names, sorted.
func (tx *RegistryTx) Names() []string {
	names := make([]string, 0, len(tx.data))
	for name := range tx.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type NamedItem struct {
	Name string
	RegistryItem
}

func (tx *RegistryTx) Items() []NamedItem {
	names := tx.Names()
	items := make([]NamedItem, len(names))
	for i, name := range names {
		items[i] = NamedItem{Name: name, RegistryItem: tx.data[name]}
	}
	return items
}
