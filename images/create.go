package images

import (
	"context"
	"fmt"
	"io"

	"github.com/denismitr/pado/internal/ctxlog"
	"github.com/denismitr/pado/urlpath"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

const DefaultCreateWorkers = 4

type CreateOptions struct {
	// Identifier of a new provider, random when empty.
	Identifier string
	Checksum   bool
	// Resume continues the provider stored at the output urlpath.
	Resume       bool
	IgnoreBroken bool
	IDFunc       IDFunc
	Workers      int
	// Progress receives a progress bar when set.
	Progress       io.Writer
	DefaultMPP     float64
	StorageOptions urlpath.Options
}

type createJob struct {
	id   ImageID
	file urlpath.FileAndParts
}

// CreateImageProvider loads every image found below search matching glob.
// When output is set the provider is written there, also when loading
// failed part way.
func CreateImageProvider(ctx context.Context, search, glob, output string, opts CreateOptions) (p *ImageProvider, err error) {
	log := ctxlog.FromContext(ctx)

	if opts.IDFunc == nil {
		opts.IDFunc = IDFromParts
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultCreateWorkers
	}

	files, err := urlpath.FindFiles(ctx, search, glob, opts.StorageOptions)
	if err != nil {
		return nil, err
	}

	if opts.Resume {
		if output == "" {
			return nil, errors.New("resume requires an output urlpath")
		}
		p, err = ReadImageProvider(output, opts.StorageOptions)
		if err != nil {
			return nil, errors.Wrap(err, "could not resume")
		}
	} else {
		p = NewImageProvider(opts.Identifier)
	}

	if output != "" {
		defer func() {
			if werr := p.WriteParquet(output, opts.StorageOptions); werr != nil && err == nil {
				err = werr
			}
		}()
	}

	var jobs []createJob
	for _, f := range files {
		id, ok, err := opts.IDFunc(f, p.Identifier())
		if err != nil {
			return p, errors.Wrapf(err, "could not derive image id of %s", f.URLPath)
		}
		if !ok || (opts.Resume && p.Has(id)) {
			continue
		}
		jobs = append(jobs, createJob{id: id, file: f})
	}

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(
			len(jobs),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("images"),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(opts.Progress) }),
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			img := NewImage(job.file.URLPath, opts.StorageOptions)
			lerr := img.Load(gctx, LoadOptions{
				Metadata:   true,
				FileInfo:   true,
				Checksum:   opts.Checksum,
				DefaultMPP: opts.DefaultMPP,
			})

			if bar != nil {
				_ = bar.Add(1)
			}

			if lerr != nil {
				if opts.IgnoreBroken {
					log.Warn("skipping broken image", "urlpath", job.file.URLPath, "error", lerr)
					return nil
				}
				return lerr
			}

			return p.Set(job.id, img)
		})
	}

	if err := g.Wait(); err != nil {
		return p, err
	}

	return p, nil
}

type UpdateOptions struct {
	// Inplace writes the updated provider back to its urlpath.
	Inplace         bool
	IgnoreAmbiguous bool
	StorageOptions  urlpath.Options
}

// UpdateImageProviderURLPaths re-associates the image urlpaths of the
// provider stored at providerURL with files found below search, matching
// path parts from the file name backwards. It returns the number of
// changed urlpaths.
func UpdateImageProviderURLPaths(ctx context.Context, search, glob, providerURL string, opts UpdateOptions) (*ImageProvider, int, error) {
	files, err := urlpath.FindFiles(ctx, search, glob, opts.StorageOptions)
	if err != nil {
		return nil, 0, err
	}

	p, err := ReadImageProvider(providerURL, opts.StorageOptions)
	if err != nil {
		return nil, 0, err
	}

	entries := p.entries()
	current := make([]string, len(entries))
	for i, e := range entries {
		current[i] = e.rec.URLPath
	}

	found := make([]string, len(files))
	for i, f := range files {
		found[i] = f.URLPath
	}

	updated, _, err := urlpath.MatchPartialPathsReversed(current, found, opts.IgnoreAmbiguous)
	if err != nil {
		return nil, 0, err
	}

	byID := make(map[string]string, len(entries))
	for i, e := range entries {
		byID[e.id.String()] = updated[i]
	}

	changed := p.UpdateURLPaths(func(id ImageID, cur string) string {
		if u, ok := byID[id.String()]; ok {
			return u
		}
		return cur
	})

	ctxlog.FromContext(ctx).Info("re-associated image urlpaths", "provider", providerURL, "changed", changed)

	if opts.Inplace {
		if err := p.WriteParquet(providerURL, opts.StorageOptions); err != nil {
			return nil, 0, err
		}
	}

	return p, changed, nil
}
