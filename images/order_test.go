package images

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLess(t *testing.T) {
	tt := []struct {
		a, b ImageID
		less bool
	}{
		{MustImageID("", "11"), MustImageID("", "100"), true},
		{MustImageID("", "1"), MustImageID("", "999"), true},
		{MustImageID("", "100"), MustImageID("", "11"), false},
		{MustImageID("", "a"), MustImageID("", "b"), true},
		{MustImageID("", "c"), MustImageID("", "b"), false},
		{MustImageID("", "user", "a", "2"), MustImageID("", "user", "b", "1"), true},
		{MustImageID("", "user"), MustImageID("", "user", "1"), true},
		{MustImageID("", "user", "1"), MustImageID("", "user"), false},
		{MustImageID("", "1"), MustImageID("", "a"), true},
		{MustImageID("", "a"), MustImageID("", "1"), false},
		{MustImageID("", "7"), MustImageID("", "007"), true},
		{MustImageID("", "8976"), MustImageID("", "8976"), false},
		{MustImageID("", "a"), MustImageID("s", "a"), true},
		{MustImageID("s", "a"), MustImageID("", "a"), false},
		{MustImageID("", "1"), MustImageID("", "+1"), true},
		{MustImageID("", "+1"), MustImageID("", "1"), false},
		{MustImageID("", "0"), MustImageID("", "-0"), true},
		{MustImageID("", "+1"), MustImageID("", "-0"), true},
		{MustImageID("", "1e3"), MustImageID("", "1000"), false},
	}

	for _, tc := range tt {
		t.Run(tc.a.String()+"_"+tc.b.String(), func(t *testing.T) {
			assert.Equal(t, tc.less, Less(tc.a, tc.b))
		})
	}
}

func TestLess_SortsConsistently(t *testing.T) {
	ids := []ImageID{
		MustImageID("", "10"),
		MustImageID("", "b"),
		MustImageID("", "2"),
		MustImageID("", "1a"),
		MustImageID("", "01"),
	}

	sort.Slice(ids, func(i, j int) bool { return Less(ids[i], ids[j]) })

	var got []string
	for _, id := range ids {
		got = append(got, id.Last())
	}
	assert.Equal(t, []string{"2", "10", "01", "1a", "b"}, got)
}

func TestImageProvider_SignedPartsStayDistinct(t *testing.T) {
	fs := memoryFs(t)
	p := seedProvider(t, fs, "signed", "1", "+1", "0", "-0")

	assert.Equal(t, 4, p.Len())
	assert.Equal(t, []string{"0", "1", "+1", "-0"}, lastParts(p.IDs()))

	for _, name := range []string{"1", "+1", "0", "-0"} {
		img, err := p.Get(MustImageID("", name))
		require.NoError(t, err)
		assert.Equal(t, "memory:///signed/"+name, img.URLPath())
	}
}
