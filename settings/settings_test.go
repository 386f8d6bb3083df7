package settings

import (
	"testing"

	"github.com/denismitr/pado/images"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
		t.Setenv("XDG_CACHE_HOME", "/xdg/cache")

		s, err := Load(WithFs(fs), WithHome("/home/u"))
		require.NoError(t, err)
		assert.Zero(t, s.DefaultMPP)
		assert.Equal(t, images.DefaultCreateWorkers, s.CreateWorkers)
		assert.Equal(t, images.DefaultTileCacheBytes(), s.TileCacheBytes)

		p, err := s.ConfigPath("", false)
		require.NoError(t, err)
		assert.Equal(t, "/xdg/config/pado", p)

		p, err = s.CachePath("tiles", true)
		require.NoError(t, err)
		assert.Equal(t, "/xdg/cache/pado/tiles", p)

		ok, err := afero.DirExists(fs, p)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("settings file and env", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/home/u/.pado.toml", []byte(`
config_path = "/etc/pado"
default_mpp = 0.25
create_workers = 2
`), 0644))
		t.Setenv("PADO_CREATE_WORKERS", "8")
		t.Setenv("PADO_CACHE_PATH", "/tmp/pado-cache")

		s, err := Load(WithFs(fs), WithHome("/home/u"))
		require.NoError(t, err)
		assert.Equal(t, 0.25, s.DefaultMPP)
		assert.Equal(t, 8, s.CreateWorkers)

		p, err := s.ConfigPath("pado.transporter", false)
		require.NoError(t, err)
		assert.Equal(t, "/etc/pado/pado.transporter", p)

		p, err = s.CachePath("", false)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/pado-cache", p)
	})

	t.Run("invalid", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/home/u/.pado.toml", []byte(`default_mpp = `), 0644))

		_, err := Load(WithFs(fs), WithHome("/home/u"))
		require.ErrorIs(t, err, ErrInvalidSettings)

		t.Setenv("PADO_CREATE_WORKERS", "0")
		_, err = Load(WithFs(afero.NewMemMapFs()), WithHome("/home/u"))
		require.ErrorIs(t, err, ErrInvalidSettings)
	})
}
