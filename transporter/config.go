package transporter

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	ConfigDirName  = "pado.transporter"
	ConfigVersion  = "0.1"
	ConfigFileName = "pado-transporter-config.toml"

	keyTargetHost = "target_host"
	keyTunnelHost = "tunnel_host"
)

var ErrNoConfig = errors.New("please provide target or configure via `config` subcommand")

// Config holds the default hosts.
type Config struct {
	TargetHost string
	TunnelHost string
}

// DefaultConfigFile is the config file inside the user config directory.
func DefaultConfigFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "could not find user config directory")
	}
	return ConfigFile(dir), nil
}

func ConfigFile(configDir string) string {
	return filepath.Join(configDir, ConfigDirName, ConfigVersion, ConfigFileName)
}

func LoadConfig(fs afero.Fs, path string) (Config, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "could not stat %s", path)
	}
	if !exists {
		return Config{}, ErrNoConfig
	}

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrapf(err, "could not read %s", path)
	}

	cfg := Config{
		TargetHost: v.GetString(keyTargetHost),
		TunnelHost: v.GetString(keyTunnelHost),
	}
	if cfg.TargetHost == "" {
		return Config{}, errors.Wrapf(ErrNoConfig, "%s has no %s", path, keyTargetHost)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, an empty tunnel is omitted.
func SaveConfig(fs afero.Fs, path string, cfg Config) error {
	if cfg.TargetHost == "" {
		return errors.Wrap(ErrInvalidCommand, "target host required")
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "could not create %s", filepath.Dir(path))
	}

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("toml")
	v.Set(keyTargetHost, cfg.TargetHost)
	if cfg.TunnelHost != "" {
		v.Set(keyTunnelHost, cfg.TunnelHost)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return errors.Wrapf(err, "could not write %s", path)
	}
	return nil
}
