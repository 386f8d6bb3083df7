// Package settings loads pado settings and keeps the dataset registry.
package settings

import (
	"os"
	"path/filepath"

	"github.com/denismitr/pado/images"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	EnvPrefix    = "PADO"
	SettingsFile = ".pado.toml"

	KeyConfigPath     = "config_path"
	KeyCachePath      = "cache_path"
	KeyDefaultMPP     = "default_mpp"
	KeyTileCacheBytes = "tile_cache_bytes"
	KeyCreateWorkers  = "create_workers"
)

var ErrInvalidSettings = errors.New("invalid pado settings")

type Settings struct {
	DefaultMPP     float64
	TileCacheBytes uint64
	CreateWorkers  int

	configPath string
	cachePath  string
	fs         afero.Fs
}

type loadConfig struct {
	fs   afero.Fs
	home string
}

type Option func(cfg *loadConfig)

// WithFs loads the settings file from fs and creates directories on it.
func WithFs(fs afero.Fs) Option {
	return func(cfg *loadConfig) {
		cfg.fs = fs
	}
}

// WithHome overrides the directory holding the settings file.
func WithHome(dir string) Option {
	return func(cfg *loadConfig) {
		cfg.home = dir
	}
}

// Load reads PADO_ environment variables and the optional ~/.pado.toml,
// environment variables take precedence.
func Load(opts ...Option) (*Settings, error) {
	cfg := loadConfig{fs: afero.NewOsFs()}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "could not find home directory")
		}
		cfg.home = home
	}

	v := viper.New()
	v.SetFs(cfg.fs)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault(KeyConfigPath, defaultDir(os.UserConfigDir, filepath.Join(cfg.home, ".config")))
	v.SetDefault(KeyCachePath, defaultDir(os.UserCacheDir, filepath.Join(cfg.home, ".cache")))
	v.SetDefault(KeyDefaultMPP, 0.0)
	v.SetDefault(KeyTileCacheBytes, images.DefaultTileCacheBytes())
	v.SetDefault(KeyCreateWorkers, images.DefaultCreateWorkers)

	file := filepath.Join(cfg.home, SettingsFile)
	exists, err := afero.Exists(cfg.fs, file)
	if err != nil {
		return nil, errors.Wrapf(err, "could not stat %s", file)
	}
	if exists {
		v.SetConfigFile(file)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(ErrInvalidSettings, "%s: %s", file, err.Error())
		}
	}

	s := &Settings{
		DefaultMPP:     v.GetFloat64(KeyDefaultMPP),
		TileCacheBytes: v.GetUint64(KeyTileCacheBytes),
		CreateWorkers:  v.GetInt(KeyCreateWorkers),
		configPath:     v.GetString(KeyConfigPath),
		cachePath:      v.GetString(KeyCachePath),
		fs:             cfg.fs,
	}

	if s.DefaultMPP < 0 {
		return nil, errors.Wrapf(ErrInvalidSettings, "%s must not be negative", KeyDefaultMPP)
	}
	if s.CreateWorkers < 1 {
		return nil, errors.Wrapf(ErrInvalidSettings, "%s must be positive", KeyCreateWorkers)
	}
	if s.TileCacheBytes == 0 {
		return nil, errors.Wrapf(ErrInvalidSettings, "%s must be positive", KeyTileCacheBytes)
	}

	return s, nil
}

func defaultDir(lookup func() (string, error), fallback string) string {
	dir, err := lookup()
	if err != nil || dir == "" {
		dir = fallback
	}
	return filepath.Join(dir, "pado")
}

func (s *Settings) Fs() afero.Fs {
	return s.fs
}

// ConfigPath returns the config directory, or the pkg directory inside it.
// ensure creates the directory.
func (s *Settings) ConfigPath(pkg string, ensure bool) (string, error) {
	return s.dir(s.configPath, pkg, ensure)
}

// CachePath returns the cache directory, or the pkg directory inside it.
func (s *Settings) CachePath(pkg string, ensure bool) (string, error) {
	return s.dir(s.cachePath, pkg, ensure)
}

func (s *Settings) dir(base, pkg string, ensure bool) (string, error) {
	p := base
	if pkg != "" {
		p = filepath.Join(p, pkg)
	}

	if ensure {
		if err := s.fs.MkdirAll(p, 0755); err != nil {
			return "", errors.Wrapf(err, "could not create %s", p)
		}
	}
	return p, nil
}
