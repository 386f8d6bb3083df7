package settings

import (
	"context"
	"testing"

	"github.com/denismitr/pado/urlpath"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	t.Setenv("PADO_CONFIG_PATH", "/config")

	s, err := Load(WithFs(fs), WithHome("/home/u"))
	require.NoError(t, err)

	r, err := s.Registry()
	require.NoError(t, err)
	assert.Equal(t, "/config/"+RegistryFilename, r.Path())
	return r, fs
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("update and view", func(t *testing.T) {
		r, fs := newTestRegistry(t)

		err := r.Update(ctx, func(tx *RegistryTx) error {
			require.NoError(t, tx.Set("local", RegistryItem{URLPath: "/data/ds"}))
			return tx.Set("remote", RegistryItem{
				URLPath:        "memory:///ds",
				StorageOptions: urlpath.Options{"readonly": true},
			})
		})
		require.NoError(t, err)

		b, err := afero.ReadFile(fs, r.Path())
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"local": "/data/ds",
			"remote": {"urlpath": "memory:///ds", "storage_options": {"readonly": true}}
		}`, string(b))

		err = r.View(ctx, func(tx *RegistryTx) error {
			assert.Equal(t, 2, tx.Len())
			assert.Equal(t, []string{"local", "remote"}, tx.Names())
			assert.True(t, tx.Has("local"))

			item, err := tx.Get("remote")
			require.NoError(t, err)
			assert.Equal(t, "memory:///ds", item.URLPath)
			assert.Equal(t, true, item.StorageOptions["readonly"])

			items := tx.Items()
			require.Len(t, items, 2)
			assert.Equal(t, "local", items[0].Name)
			assert.Nil(t, items[0].StorageOptions)

			_, err = tx.Get("missing")
			require.ErrorIs(t, err, ErrNotRegistered)

			require.ErrorIs(t, tx.Set("x", RegistryItem{URLPath: "/x"}), ErrReadOnlyTx)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("failed update saves nothing", func(t *testing.T) {
		r, fs := newTestRegistry(t)

		boom := errors.New("boom")
		err := r.Update(ctx, func(tx *RegistryTx) error {
			require.NoError(t, tx.Set("a", RegistryItem{URLPath: "/a"}))
			return boom
		})
		require.ErrorIs(t, err, boom)

		ok, err := afero.Exists(fs, r.Path())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalid names", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		err := r.Update(ctx, func(tx *RegistryTx) error {
			require.ErrorIs(t, tx.Set("", RegistryItem{URLPath: "/a"}), ErrInvalidName)
			require.ErrorIs(t, tx.Set("a", RegistryItem{}), ErrInvalidName)
			require.ErrorIs(t, tx.Delete("a"), ErrNotRegistered)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		require.NoError(t, r.Update(ctx, func(tx *RegistryTx) error {
			return tx.Set("a", RegistryItem{URLPath: "/a"})
		}))
		require.NoError(t, r.Update(ctx, func(tx *RegistryTx) error {
			return tx.Delete("a")
		}))
		require.NoError(t, r.View(ctx, func(tx *RegistryTx) error {
			assert.Zero(t, tx.Len())
			return nil
		}))
	})

	t.Run("corrupted file is moved aside", func(t *testing.T) {
		r, fs := newTestRegistry(t)
		require.NoError(t, afero.WriteFile(fs, r.Path(), []byte(`{"a": `), 0644))

		require.NoError(t, r.View(ctx, func(tx *RegistryTx) error {
			assert.Zero(t, tx.Len())
			return nil
		}))

		ok, err := afero.Exists(fs, r.Path()+".corrupted")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = afero.Exists(fs, r.Path())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unsupported entry", func(t *testing.T) {
		r, fs := newTestRegistry(t)
		require.NoError(t, afero.WriteFile(fs, r.Path(), []byte(`{"a": 1}`), 0644))

		err := r.View(ctx, func(tx *RegistryTx) error { return nil })
		require.Error(t, err)
	})
}
