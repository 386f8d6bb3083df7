package itertools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlideDataset(t *testing.T) {
	ctx := context.Background()
	ds := newMockDataset(t, 7)

	slides, err := NewSlideDataset(ctx, ds)
	require.NoError(t, err)
	require.Equal(t, 7, slides.Len())

	for i := 0; i < slides.Len(); i++ {
		item, err := slides.Get(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, ds.ids[i], item.ID)
		assert.NotNil(t, item.Image)
	}

	_, err = slides.Get(ctx, 7)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = slides.Get(ctx, -1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
