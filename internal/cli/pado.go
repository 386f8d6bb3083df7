package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/denismitr/pado"
	"github.com/denismitr/pado/annotations"
	"github.com/denismitr/pado/images"
	"github.com/denismitr/pado/internal/buildinfo"
	"github.com/denismitr/pado/itertools"
	"github.com/denismitr/pado/options"
	"github.com/denismitr/pado/settings"
	"github.com/denismitr/pado/urlpath"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

type datasetFlags struct {
	name           string
	storageOptions string
}

func (f *datasetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "open the registered dataset `name` instead of an urlpath")
	cmd.Flags().StringVar(&f.storageOptions, "storage-options", "", "json object of storage options")
}

// open opens the dataset named by the flags or the only positional argument.
func (f *datasetFlags) open(ctx context.Context, env *Env, args []string) (*pado.Dataset, error) {
	so, err := parseStorageOptions(f.storageOptions)
	if err != nil {
		return nil, err
	}

	switch {
	case f.name != "" && len(args) > 0:
		return nil, &ExitError{Code: 2, Message: "provide either an urlpath or --name, not both"}
	case f.name != "":
		s, err := env.settings()
		if err != nil {
			return nil, err
		}
		reg, err := s.Registry()
		if err != nil {
			return nil, err
		}
		return pado.OpenRegistered(ctx, reg, f.name, pado.ModeRead, so)
	case len(args) == 1:
		return pado.Open(ctx, args[0], pado.ModeRead, &pado.Options{StorageOptions: so})
	default:
		return nil, &ExitError{Code: 2, Message: "provide a dataset urlpath or --name"}
	}
}

func parseStorageOptions(s string) (urlpath.Options, error) {
	if s == "" {
		return nil, nil
	}
	if !gjson.Valid(s) {
		return nil, &ExitError{Code: 2, Message: "invalid --storage-options: not json"}
	}
	m, ok := gjson.Parse(s).Value().(map[string]interface{})
	if !ok {
		return nil, &ExitError{Code: 2, Message: "invalid --storage-options: must be a json object"}
	}
	return urlpath.Options(m), nil
}

// NewPadoCommand builds the pado command tree.
func NewPadoCommand(env *Env) *cobra.Command {
	var (
		version   bool
		logLevel  string
		logFormat string
	)

	root := &cobra.Command{
		Use:   "pado",
		Short: "pado dataset management for whole slide image datasets",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(logLevel)
			if err != nil {
				return err
			}
			logger, err := newLogger(level, logFormat, env.Stderr)
			if err != nil {
				return err
			}
			withLogger(cmd, logger)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if version {
				env.println(buildinfo.Version)
				return nil
			}
			return cmd.Help()
		},
	}
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)

	root.Flags().BoolVar(&version, "version", false, "print version")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "logging level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format: text or json")

	root.AddCommand(
		newInfoCommand(env),
		newStoresCommand(env),
		newOpsCommand(env),
		newCreateCommand(env),
		newRegistryCommand(env),
	)
	return root
}

func newInfoCommand(env *Env) *cobra.Command {
	var df datasetFlags
	cmd := &cobra.Command{
		Use:   "info [urlpath]",
		Short: "summarize a dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := df.open(cmd.Context(), env, args)
			if err != nil {
				return err
			}
			s, err := ds.Describe(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(env.Stdout, s.String())
			return nil
		},
	}
	df.register(cmd)
	return cmd
}

func newStoresCommand(env *Env) *cobra.Command {
	var df datasetFlags
	cmd := &cobra.Command{
		Use:   "stores [urlpath]",
		Short: "list the parquet stores of a dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := df.open(cmd.Context(), env, args)
			if err != nil {
				return err
			}
			stores, err := ds.Stores(cmd.Context())
			if err != nil {
				return err
			}

			env.printf("%-40s %-12s %8s %-8s %s\n", "name", "type", "rows", "version", "identifier")
			for _, s := range stores {
				env.printf("%-40s %-12s %8d %-8d %s\n", s.Name, s.StoreType, s.Rows, s.StoreVersion, s.Identifier)
			}
			return nil
		},
	}
	df.register(cmd)
	return cmd
}

func newOpsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "operations on datasets and providers",
	}
	cmd.AddCommand(newListIDsCommand(env), newUpdateURLPathsCommand(env), newCountTilesCommand(env))
	return cmd
}

func newListIDsCommand(env *Env) *cobra.Command {
	var (
		df     datasetFlags
		prefix string
		site   string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list-ids [urlpath]",
		Short: "print the image ids of a dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := df.open(cmd.Context(), env, args)
			if err != nil {
				return err
			}

			opts := options.Find().Limit(limit)
			if prefix != "" {
				opts.Prefix(strings.Split(prefix, "/")...)
			}
			if site != "" {
				opts.Site(site)
			}

			ids, err := ds.Find(cmd.Context(), opts)
			if err != nil {
				return err
			}
			for _, id := range ids {
				env.println(id.String())
			}
			return nil
		},
	}
	df.register(cmd)
	cmd.Flags().StringVar(&prefix, "prefix", "", "only ids starting with these `/` separated parts")
	cmd.Flags().StringVar(&site, "site", "", "only ids of this site")
	cmd.Flags().IntVar(&limit, "limit", 0, "print at most this many ids")
	return cmd
}

func newCountTilesCommand(env *Env) *cobra.Command {
	var (
		df           datasetFlags
		tileSize     int
		mpp          float64
		overlap      int
		minChunkSize float64
		normalize    bool
	)
	cmd := &cobra.Command{
		Use:   "count-tiles [urlpath]",
		Short: "print the number of grid tiles of every image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := env.settings()
			if err != nil {
				return err
			}
			ds, err := df.open(cmd.Context(), env, args)
			if err != nil {
				return err
			}

			tiling := itertools.FastGridTiling{
				TileSize:            images.IntSize{W: tileSize, H: tileSize},
				TargetMPP:           images.MPP{X: mpp, Y: mpp},
				Overlap:             overlap,
				MinChunkSize:        minChunkSize,
				NormalizeChunkSizes: normalize,
			}
			tiles, err := itertools.NewTileDataset(cmd.Context(), ds, tiling, itertools.WithSettings(s))
			if err != nil {
				return err
			}
			defer tiles.Close()

			if err := tiles.PrecomputeTiling(cmd.Context()); err != nil {
				return err
			}

			counts := tiles.Counts()
			total := 0
			for i, id := range tiles.IDs() {
				env.printf("%s\t%d\n", id, counts[i])
				total += counts[i]
			}
			env.printf("total\t%d\n", total)
			return nil
		},
	}
	df.register(cmd)
	cmd.Flags().IntVar(&tileSize, "tile-size", 256, "tile width and height in pixels")
	cmd.Flags().Float64Var(&mpp, "mpp", 0, "tile resolution in microns per pixel, level 0 when 0")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "pixels shared by neighbouring tiles")
	cmd.Flags().Float64Var(&minChunkSize, "min-chunk-size", 1, "smallest covered fraction of a kept border tile")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "pad border tiles to the tile size")
	return cmd
}

func newUpdateURLPathsCommand(env *Env) *cobra.Command {
	var (
		inplace         bool
		ignoreAmbiguous bool
		storageOptions  string
	)
	cmd := &cobra.Command{
		Use:   "update-urlpaths <provider> <search> <glob>",
		Short: "re-associate image urlpaths of a provider with moved files",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			so, err := parseStorageOptions(storageOptions)
			if err != nil {
				return err
			}

			_, n, err := images.UpdateImageProviderURLPaths(cmd.Context(), args[1], args[2], args[0], images.UpdateOptions{
				Inplace:         inplace,
				IgnoreAmbiguous: ignoreAmbiguous,
				StorageOptions:  so,
			})
			if err != nil {
				return err
			}

			if inplace {
				env.printf("updated %d urlpaths in %s\n", n, args[0])
			} else {
				env.printf("%d urlpaths would change, use --inplace to write them\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&inplace, "inplace", false, "write the updated provider back")
	cmd.Flags().BoolVar(&ignoreAmbiguous, "ignore-ambiguous", false, "keep urlpaths that match more than one file")
	cmd.Flags().StringVar(&storageOptions, "storage-options", "", "json object of storage options")
	return cmd
}

func newCreateCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create providers from files",
	}
	cmd.AddCommand(newCreateImagesCommand(env), newCreateAnnotationsCommand(env))
	return cmd
}

func newCreateImagesCommand(env *Env) *cobra.Command {
	var (
		identifier   string
		checksum     bool
		resume       bool
		ignoreBroken bool
		workers      int
		progress     bool
	)
	cmd := &cobra.Command{
		Use:   "images <search> <glob> <output>",
		Short: "create an image provider from slide files",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := env.settings()
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = s.CreateWorkers
			}

			opts := images.CreateOptions{
				Identifier:   identifier,
				Checksum:     checksum,
				Resume:       resume,
				IgnoreBroken: ignoreBroken,
				IDFunc:       images.IDFromParts,
				Workers:      workers,
				DefaultMPP:   s.DefaultMPP,
			}
			if progress {
				opts.Progress = env.Stderr
			}

			p, err := images.CreateImageProvider(cmd.Context(), args[0], args[1], args[2], opts)
			if err != nil {
				return err
			}
			env.printf("created %s with %d images at %s\n", p.Identifier(), p.Len(), args[2])
			return nil
		},
	}
	cmd.Flags().StringVar(&identifier, "identifier", "", "provider identifier, random when empty")
	cmd.Flags().BoolVar(&checksum, "checksum", true, "compute file checksums")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue a provider stored at output")
	cmd.Flags().BoolVar(&ignoreBroken, "ignore-broken", true, "skip files that can't be opened")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent loaders, create_workers setting when 0")
	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar")
	return cmd
}

func newCreateAnnotationsCommand(env *Env) *cobra.Command {
	var (
		identifier string
		resume     bool
		imagesFrom string
		progress   bool
	)
	cmd := &cobra.Command{
		Use:   "annotations <search> <glob> <output>",
		Short: "create an annotation provider from geojson files",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := annotations.CreateOptions{
				IDFunc:     annotationID,
				Identifier: identifier,
				Resume:     resume,
			}
			if progress {
				opts.Progress = env.Stderr
			}

			if imagesFrom != "" {
				ip, err := images.ReadImageProvider(imagesFrom, nil)
				if err != nil {
					return err
				}
				opts.ValidIDs = ip.IDs()
			}

			p, err := annotations.CreateAnnotationProvider(cmd.Context(), args[0], args[1], args[2], opts)
			if err != nil {
				return err
			}
			env.printf("created %s with annotations for %d images at %s\n", p.Identifier(), p.Len(), args[2])
			return nil
		},
	}
	cmd.Flags().StringVar(&identifier, "identifier", "", "provider identifier, random when empty")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue a provider stored at output")
	cmd.Flags().StringVar(&imagesFrom, "images", "", "image provider `urlpath` whose ids the annotation files are matched to")
	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar")
	return cmd
}

// annotationID names "slide.svs.geojson" after the slide "slide.svs".
// The ids carry no site so they match image ids of any site.
func annotationID(file urlpath.FileAndParts, _ string) (images.ImageID, bool, error) {
	return images.IDFromPartsWithoutExtension(file, "")
}

func newRegistryCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "manage named datasets",
	}

	registry := func() (*settings.Registry, error) {
		s, err := env.settings()
		if err != nil {
			return nil, err
		}
		return s.Registry()
	}

	var storageOptions string
	add := &cobra.Command{
		Use:   "add <name> <urlpath>",
		Short: "register a dataset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			so, err := parseStorageOptions(storageOptions)
			if err != nil {
				return err
			}
			reg, err := registry()
			if err != nil {
				return err
			}

			// the dataset has to be readable with the given options
			if _, err := pado.Open(cmd.Context(), args[1], pado.ModeRead, &pado.Options{StorageOptions: so}); err != nil {
				return err
			}

			err = reg.Update(cmd.Context(), func(tx *settings.RegistryTx) error {
				return tx.Set(args[0], settings.RegistryItem{URLPath: args[1], StorageOptions: so})
			})
			if err != nil {
				return err
			}
			env.printf("registered %s\n", args[0])
			return nil
		},
	}
	add.Flags().StringVar(&storageOptions, "storage-options", "", "json object of storage options")

	list := &cobra.Command{
		Use:   "list",
		Short: "list registered datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := registry()
			if err != nil {
				return err
			}
			return reg.View(cmd.Context(), func(tx *settings.RegistryTx) error {
				for _, item := range tx.Items() {
					env.printf("%-24s %s\n", item.Name, item.URLPath)
				}
				return nil
			})
		},
	}

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "remove a registered dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry()
			if err != nil {
				return err
			}
			err = reg.Update(cmd.Context(), func(tx *settings.RegistryTx) error {
				return tx.Delete(args[0])
			})
			if errors.Is(err, settings.ErrNotRegistered) {
				return &ExitError{Code: 1, Message: fmt.Sprintf("ERROR: %q is not registered", args[0])}
			} else if err != nil {
				return err
			}
			env.printf("removed %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}
