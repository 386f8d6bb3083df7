// Package pado reads and writes pado datasets: directories of image,
// annotation and metadata parquet stores keyed by image id.
package pado

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/denismitr/pado/annotations"
	"github.com/denismitr/pado/images"
	"github.com/denismitr/pado/internal/buildinfo"
	"github.com/denismitr/pado/internal/ctxlog"
	"github.com/denismitr/pado/metadata"
	"github.com/denismitr/pado/settings"
	"github.com/denismitr/pado/urlpath"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/tidwall/btree"
)

const (
	DatasetFile           = "pado.dataset.toml"
	ImageStoreSuffix      = ".image.parquet"
	AnnotationStoreSuffix = ".annotation.parquet"
	MetadataStoreSuffix   = ".metadata.parquet"
)

var (
	// ErrNotFound is returned for missing datasets and unknown image ids.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when mode x meets an existing dataset or an
	// ingest would overwrite a store.
	ErrExists = errors.New("already exists")
	// ErrReadOnly is returned by writes to datasets opened with ModeRead.
	ErrReadOnly = errors.New("dataset is read only")
	// ErrNotADataset is returned when the dataset file is missing or malformed.
	ErrNotADataset = errors.New("not a pado dataset")
)

type Options struct {
	// Identifier names a newly created dataset, random when empty.
	Identifier     string
	StorageOptions urlpath.Options
}

// Info is the content of the dataset file.
type Info struct {
	Identifier  string
	PadoVersion string
	CreatedAt   time.Time
	CreatedBy   string
}

type Dataset struct {
	mu             sync.Mutex
	urlpath        string
	storageOptions urlpath.Options
	fs             afero.Fs
	root           string
	mode           Mode
	info           Info

	images      *images.GroupedImageProvider
	annotations *annotations.GroupedAnnotationProvider
	metadata    *metadata.GroupedMetadataProvider
	index       *btree.BTree
}

// Open opens or creates the dataset at u according to mode.
func Open(ctx context.Context, u string, mode Mode, opts *Options) (*Dataset, error) {
	if opts == nil {
		opts = &Options{}
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}

	so := make(urlpath.Options, len(opts.StorageOptions)+1)
	for k, v := range opts.StorageOptions {
		so[k] = v
	}
	if mode.ReadOnly() {
		so["readonly"] = true
	}

	fs, root, err := urlpath.Resolve(u, so)
	if err != nil {
		return nil, err
	}

	d := &Dataset{urlpath: u, storageOptions: so, fs: fs, root: root, mode: mode}

	exists, err := afero.Exists(fs, d.path(DatasetFile))
	if err != nil {
		return nil, errors.Wrapf(err, "could not stat %s", u)
	}

	switch {
	case !exists && mode.mustExist():
		return nil, errors.Wrapf(ErrNotFound, "dataset %s", u)
	case exists && mode.mustNotExist():
		return nil, errors.Wrapf(ErrExists, "dataset %s", u)
	case exists && mode.truncate():
		if err := d.truncate(); err != nil {
			return nil, err
		}
		exists = false
	}

	if exists {
		err = d.readInfo()
	} else {
		err = d.create(opts.Identifier)
	}
	if err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Debug("dataset opened", "urlpath", u, "mode", string(mode), "identifier", d.info.Identifier)
	return d, nil
}

// OpenRegistered opens a dataset by registry name. storageOptions are
// merged over the registered ones.
func OpenRegistered(ctx context.Context, reg *settings.Registry, name string, mode Mode, storageOptions urlpath.Options) (*Dataset, error) {
	var item settings.RegistryItem
	err := reg.View(ctx, func(tx *settings.RegistryTx) error {
		var err error
		item, err = tx.Get(name)
		return err
	})
	if err != nil {
		return nil, err
	}

	so := make(urlpath.Options)
	for k, v := range item.StorageOptions {
		so[k] = v
	}
	for k, v := range storageOptions {
		so[k] = v
	}

	return Open(ctx, item.URLPath, mode, &Options{StorageOptions: so})
}

func (d *Dataset) path(name string) string {
	return filepath.Join(d.root, name)
}

func (d *Dataset) storeURL(name string) (string, error) {
	return urlpath.Join(d.urlpath, name)
}

func (d *Dataset) create(identifier string) error {
	if identifier == "" {
		identifier = uuid.NewString()
	}

	d.info = Info{
		Identifier:  identifier,
		PadoVersion: buildinfo.Version,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
		CreatedBy:   buildinfo.CurrentUser(),
	}

	if err := d.fs.MkdirAll(d.root, 0755); err != nil {
		return errors.Wrapf(err, "could not create dataset directory %s", d.urlpath)
	}

	v := viper.New()
	v.SetFs(d.fs)
	v.SetConfigType("toml")
	v.Set("identifier", d.info.Identifier)
	v.Set("pado_version", d.info.PadoVersion)
	v.Set("created_at", d.info.CreatedAt.Format(time.RFC3339))
	v.Set("created_by", d.info.CreatedBy)

	if err := v.WriteConfigAs(d.path(DatasetFile)); err != nil {
		return errors.Wrapf(err, "could not write %s", DatasetFile)
	}
	return nil
}

func (d *Dataset) readInfo() error {
	v := viper.New()
	v.SetFs(d.fs)
	v.SetConfigFile(d.path(DatasetFile))
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(ErrNotADataset, "%s: %s", d.urlpath, err.Error())
	}

	d.info = Info{
		Identifier:  v.GetString("identifier"),
		PadoVersion: v.GetString("pado_version"),
		CreatedBy:   v.GetString("created_by"),
	}
	if ts, err := time.Parse(time.RFC3339, v.GetString("created_at")); err == nil {
		d.info.CreatedAt = ts
	}

	if d.info.Identifier == "" {
		return errors.Wrapf(ErrNotADataset, "%s: no identifier", d.urlpath)
	}
	return nil
}

// truncate removes the dataset file and all stores, other files stay.
func (d *Dataset) truncate() error {
	infos, err := afero.ReadDir(d.fs, d.root)
	if err != nil {
		return errors.Wrapf(err, "could not list %s", d.urlpath)
	}

	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || !(name == DatasetFile || isStore(name)) {
			continue
		}
		if err := d.fs.Remove(d.path(name)); err != nil {
			return errors.Wrapf(err, "could not remove %s", name)
		}
	}
	return nil
}

func isStore(name string) bool {
	for _, suffix := range []string{ImageStoreSuffix, AnnotationStoreSuffix, MetadataStoreSuffix} {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return true
		}
	}
	return false
}

// storeNames lists the stores with suffix, sorted by name.
func (d *Dataset) storeNames(suffix string) ([]string, error) {
	infos, err := afero.ReadDir(d.fs, d.root)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list %s", d.urlpath)
	}

	var names []string
	for _, fi := range infos {
		if !fi.IsDir() && strings.HasSuffix(fi.Name(), suffix) && len(fi.Name()) > len(suffix) {
			names = append(names, fi.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *Dataset) URLPath() string {
	return d.urlpath
}

func (d *Dataset) Identifier() string {
	return d.info.Identifier
}

func (d *Dataset) Info() Info {
	return d.info
}

func (d *Dataset) Mode() Mode {
	return d.mode
}

func (d *Dataset) Readonly() bool {
	return d.mode.ReadOnly()
}

func (d *Dataset) String() string {
	return "PadoDataset(" + d.urlpath + ", mode=" + string(d.mode) + ")"
}

// Images returns all image stores as one provider.
func (d *Dataset) Images(ctx context.Context) (*images.GroupedImageProvider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.imagesUnderLock(ctx)
}

func (d *Dataset) imagesUnderLock(ctx context.Context) (*images.GroupedImageProvider, error) {
	if d.images != nil {
		return d.images, nil
	}

	names, err := d.storeNames(ImageStoreSuffix)
	if err != nil {
		return nil, err
	}

	var ps []images.Provider
	for _, name := range names {
		u, err := d.storeURL(name)
		if err != nil {
			return nil, err
		}
		p, err := images.ReadImageProvider(u, d.storageOptions)
		if err != nil {
			return nil, errors.Wrapf(err, "dataset %s", d.info.Identifier)
		}
		ps = append(ps, p)
	}

	ctxlog.FromContext(ctx).Debug("image stores loaded", "dataset", d.info.Identifier, "stores", len(ps))
	d.images = images.NewGroupedImageProvider(ps...)
	return d.images, nil
}

// Annotations returns all annotation stores as one provider.
func (d *Dataset) Annotations(ctx context.Context) (*annotations.GroupedAnnotationProvider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.annotations != nil {
		return d.annotations, nil
	}

	names, err := d.storeNames(AnnotationStoreSuffix)
	if err != nil {
		return nil, err
	}

	var ps []annotations.Provider
	for _, name := range names {
		u, err := d.storeURL(name)
		if err != nil {
			return nil, err
		}
		p, err := annotations.ReadAnnotationProvider(u, d.storageOptions)
		if err != nil {
			return nil, errors.Wrapf(err, "dataset %s", d.info.Identifier)
		}
		ps = append(ps, p)
	}

	d.annotations = annotations.NewGroupedAnnotationProvider(ps...)
	return d.annotations, nil
}

// Metadata returns all metadata stores as one provider.
func (d *Dataset) Metadata(ctx context.Context) (*metadata.GroupedMetadataProvider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.metadata != nil {
		return d.metadata, nil
	}

	names, err := d.storeNames(MetadataStoreSuffix)
	if err != nil {
		return nil, err
	}

	var ps []metadata.Provider
	for _, name := range names {
		u, err := d.storeURL(name)
		if err != nil {
			return nil, err
		}
		p, err := metadata.ReadMetadataProvider(u, d.storageOptions)
		if err != nil {
			return nil, errors.Wrapf(err, "dataset %s", d.info.Identifier)
		}
		ps = append(ps, p)
	}

	d.metadata = metadata.NewGroupedMetadataProvider(ps...)
	return d.metadata, nil
}

type parquetWriter interface {
	WriteParquet(u string, opts urlpath.Options) error
}

// IngestImages stores p as a new image store named by its identifier.
func (d *Dataset) IngestImages(ctx context.Context, p images.Provider) error {
	w, ok := p.(parquetWriter)
	if !ok {
		cp, err := images.CopyImageProvider(p, p.Identifier())
		if err != nil {
			return err
		}
		w = cp
	}
	return d.ingest(ctx, p.Identifier()+ImageStoreSuffix, w)
}

// IngestAnnotations stores p as a new annotation store named by its identifier.
func (d *Dataset) IngestAnnotations(ctx context.Context, p annotations.Provider) error {
	w, ok := p.(parquetWriter)
	if !ok {
		cp, err := annotations.CopyAnnotationProvider(p, p.Identifier())
		if err != nil {
			return err
		}
		w = cp
	}
	return d.ingest(ctx, p.Identifier()+AnnotationStoreSuffix, w)
}

// IngestMetadata stores p as a new metadata store named by its identifier.
func (d *Dataset) IngestMetadata(ctx context.Context, p metadata.Provider) error {
	w, ok := p.(parquetWriter)
	if !ok {
		cp, err := metadata.CopyMetadataProvider(p, p.Identifier())
		if err != nil {
			return err
		}
		w = cp
	}
	return d.ingest(ctx, p.Identifier()+MetadataStoreSuffix, w)
}

func (d *Dataset) ingest(ctx context.Context, name string, w parquetWriter) error {
	if d.mode.ReadOnly() {
		return errors.Wrapf(ErrReadOnly, "can't ingest %s", name)
	}
	if strings.ContainsAny(name, `/\`) || !isStore(name) {
		return errors.Errorf("invalid provider identifier for store %q", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	exists, err := afero.Exists(d.fs, d.path(name))
	if err != nil {
		return errors.Wrapf(err, "could not stat %s", name)
	}
	if exists && !d.mode.truncate() {
		return errors.Wrapf(ErrExists, "store %s", name)
	}

	u, err := d.storeURL(name)
	if err != nil {
		return err
	}
	if err := w.WriteParquet(u, d.storageOptions); err != nil {
		return err
	}

	d.images, d.annotations, d.metadata, d.index = nil, nil, nil, nil
	ctxlog.FromContext(ctx).Info("store ingested", "dataset", d.info.Identifier, "store", name)
	return nil
}

// Index returns the image ids of the dataset in image provider order.
func (d *Dataset) Index(ctx context.Context) ([]images.ImageID, error) {
	imgs, err := d.Images(ctx)
	if err != nil {
		return nil, err
	}
	return imgs.IDs(), nil
}

// Item is everything a dataset knows about one image.
type Item struct {
	ID          images.ImageID
	Image       *images.Image
	Annotations *annotations.Annotations
	Metadata    []metadata.Record
}

// Get returns the item of id. Annotations and metadata are nil when the
// dataset has none for the image.
func (d *Dataset) Get(ctx context.Context, id images.ImageID) (*Item, error) {
	imgs, err := d.Images(ctx)
	if err != nil {
		return nil, err
	}

	img, err := imgs.Get(id)
	if errors.Is(err, images.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "image %s", id)
	} else if err != nil {
		return nil, err
	}

	item := &Item{ID: id, Image: img}

	anns, err := d.Annotations(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range lookupIDs(id) {
		item.Annotations, err = anns.Get(key)
		if err == nil {
			break
		} else if !errors.Is(err, annotations.ErrNotFound) {
			return nil, err
		}
	}

	md, err := d.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range lookupIDs(id) {
		item.Metadata, err = md.Get(key)
		if err == nil {
			break
		} else if !errors.Is(err, metadata.ErrNotFound) {
			return nil, err
		}
	}

	return item, nil
}

// lookupIDs is id followed by id without site. Annotations and metadata
// stored without site belong to the image of any site.
func lookupIDs(id images.ImageID) []images.ImageID {
	if id.Site() == "" {
		return []images.ImageID{id}
	}
	return []images.ImageID{id, images.MustImageID("", id.Parts()...)}
}

// Search returns the urlpaths of files in the dataset matching glob.
func (d *Dataset) Search(ctx context.Context, glob string) ([]string, error) {
	files, err := urlpath.FindFiles(ctx, d.urlpath, glob, d.storageOptions)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.URLPath
	}
	return out, nil
}
