package pado

import (
	"context"
	"sort"
	"strings"

	"github.com/denismitr/pado/images"
	"github.com/denismitr/pado/internal/store"
	"github.com/denismitr/pado/metadata"
	"github.com/pkg/errors"
)

// StoreFile is a parquet store inside the dataset directory.
type StoreFile struct {
	Name    string
	URLPath string
	*store.Summary
}

// Stores lists image, annotation and metadata stores, in that order.
func (d *Dataset) Stores(ctx context.Context) ([]StoreFile, error) {
	var out []StoreFile
	for _, suffix := range []string{ImageStoreSuffix, AnnotationStoreSuffix, MetadataStoreSuffix} {
		names, err := d.storeNames(suffix)
		if err != nil {
			return nil, err
		}

		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			sum, err := store.Inspect(d.fs, d.path(name))
			if err != nil {
				return nil, err
			}
			u, err := d.storeURL(name)
			if err != nil {
				return nil, err
			}
			out = append(out, StoreFile{Name: name, URLPath: u, Summary: sum})
		}
	}
	return out, nil
}

// Summary gives an overview of a dataset.
type Summary struct {
	Info
	URLPath string
	Mode    Mode

	NumImages      int
	TotalSizeBytes int64
	Vendors        []string

	NumAnnotatedImages int
	NumAnnotations     int
	Classifications    []string

	NumMetadataImages int
	MetadataColumns   []string

	Stores []StoreFile
}

func (d *Dataset) Describe(ctx context.Context) (*Summary, error) {
	imgs, err := d.Images(ctx)
	if err != nil {
		return nil, err
	}
	anns, err := d.Annotations(ctx)
	if err != nil {
		return nil, err
	}
	md, err := d.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	s := &Summary{Info: d.info, URLPath: d.urlpath, Mode: d.mode, NumImages: imgs.Len()}

	vendors := make(map[string]bool)
	err = imgs.Range(func(_ images.ImageID, img *images.Image) bool {
		if fi, err := img.FileInfo(); err == nil {
			s.TotalSizeBytes += fi.SizeBytes
		}
		if m, err := img.Metadata(); err == nil && m.Vendor != "" {
			vendors[m.Vendor] = true
		}
		return ctx.Err() == nil
	})
	if err != nil {
		return nil, err
	}
	s.Vendors = sortedKeys(vendors)

	classes := make(map[string]bool)
	for _, id := range anns.IDs() {
		as, err := anns.Get(id)
		if err != nil {
			return nil, err
		}
		s.NumAnnotatedImages++
		s.NumAnnotations += as.Len()
		for _, c := range as.Classifications() {
			classes[c] = true
		}
	}
	s.Classifications = sortedKeys(classes)

	s.NumMetadataImages = md.Len()
	if s.MetadataColumns, err = metadata.Columns(md); err != nil {
		return nil, err
	}

	if s.Stores, err = d.Stores(ctx); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "describe interrupted")
	}
	return s, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// String renders the summary as aligned key value lines.
func (s *Summary) String() string {
	var b strings.Builder
	line := func(k, v string) {
		b.WriteString(k)
		b.WriteString(strings.Repeat(" ", 22-len(k)))
		b.WriteString(v)
		b.WriteByte('\n')
	}

	line("identifier", s.Identifier)
	line("urlpath", s.URLPath)
	line("mode", string(s.Mode))
	line("pado version", s.PadoVersion)
	line("created by", s.CreatedBy)
	if !s.CreatedAt.IsZero() {
		line("created at", s.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	line("images", itoa(s.NumImages))
	line("total size", humanBytes(s.TotalSizeBytes))
	line("vendors", strings.Join(s.Vendors, ", "))
	line("annotated images", itoa(s.NumAnnotatedImages))
	line("annotations", itoa(s.NumAnnotations))
	line("classifications", strings.Join(s.Classifications, ", "))
	line("images with metadata", itoa(s.NumMetadataImages))
	line("metadata columns", strings.Join(s.MetadataColumns, ", "))
	return b.String()
}
