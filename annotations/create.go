package annotations

import (
	"context"
	"fmt"
	"io"

	"github.com/denismitr/pado/images"
	"github.com/denismitr/pado/internal/ctxlog"
	"github.com/denismitr/pado/urlpath"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

type CreateOptions struct {
	// IDFunc derives the image id of an annotation file.
	IDFunc images.IDFunc
	// Loader reads an annotation file, GeoJSONLoader when nil.
	Loader     Loader
	Identifier string
	Resume     bool
	// ValidIDs restricts the result to these ids. Ids not contained are
	// matched partially from the last part backwards.
	ValidIDs       []images.ImageID
	Progress       io.Writer
	StorageOptions urlpath.Options
}

// CreateAnnotationProvider loads annotation files found below search. When
// output is set the provider is written there, also after a failure.
func CreateAnnotationProvider(ctx context.Context, search, glob, output string, opts CreateOptions) (p *AnnotationProvider, err error) {
	if opts.IDFunc == nil {
		return nil, errors.New("an image id func is required")
	}
	if opts.Loader == nil {
		opts.Loader = GeoJSONLoader
	}

	files, err := urlpath.FindFiles(ctx, search, glob, opts.StorageOptions)
	if err != nil {
		return nil, err
	}

	if opts.Resume {
		if output == "" {
			return nil, errors.New("resume requires an output urlpath")
		}
		p, err = ReadAnnotationProvider(output, opts.StorageOptions)
		if err != nil {
			return nil, errors.Wrap(err, "could not resume")
		}
	} else {
		p = NewAnnotationProvider(opts.Identifier)
	}

	if output != "" {
		defer func() {
			if werr := p.WriteParquet(output, opts.StorageOptions); werr != nil && err == nil {
				err = werr
			}
		}()
	}

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(
			len(files),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("annotations"),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(opts.Progress) }),
		)
	}

	log := ctxlog.FromContext(ctx)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return p, err
		}
		if bar != nil {
			_ = bar.Add(1)
		}

		id, ok, err := opts.IDFunc(f, p.Identifier())
		if err != nil {
			return p, errors.Wrapf(err, "could not derive image id of %s", f.URLPath)
		}
		if !ok {
			continue
		}

		if opts.ValidIDs != nil {
			id, ok, err = validID(opts.ValidIDs, id)
			if err != nil {
				return p, err
			}
			if !ok {
				log.Debug("skipping annotations of unknown image", "urlpath", f.URLPath)
				continue
			}
		}

		if opts.Resume && p.Has(id) {
			continue
		}

		as, ok, err := opts.Loader(f)
		if err != nil {
			return p, err
		}
		if !ok {
			continue
		}

		as.ImageID = images.ImageID{}
		if err := p.Set(id, as); err != nil {
			return p, err
		}
	}

	return p, nil
}

// validID returns the valid image id id refers to, annotations are stored
// under the image id so lookups by image id find them.
func validID(valid []images.ImageID, id images.ImageID) (images.ImageID, bool, error) {
	for _, v := range valid {
		if v.Equal(id) {
			return v, true, nil
		}
	}
	return images.MatchPartialIDsReversed(valid, id)
}
