package filters

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeOmitsDefaults(t *testing.T) {
	assert.Empty(t, Encode(Default()).Encode())

	s := State{Search: "Stand up", Status: "active", Page: 3}
	assert.Equal(t, "page=3&search=Stand+up&status=active", Encode(s).Encode())

	onlySearch := Default().WithSearch("abc")
	assert.Equal(t, "search=abc", Encode(onlySearch).Encode())
}

func TestDecodeRoundTrip(t *testing.T) {
	states := []State{
		Default(),
		Default().WithSearch("Stand"),
		Default().WithStatus("completed").WithPage(4),
		{Search: "x", Status: "cancelled", Page: 2},
	}
	for _, s := range states {
		got, err := Decode(Encode(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestDecodeRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"status=bogus", "page=0", "page=-2", "page=abc"} {
		v, err := url.ParseQuery(raw)
		require.NoError(t, err)
		_, err = Decode(v)
		assert.ErrorIs(t, err, ErrInvalid, raw)
	}
}

func TestFilterChangesResetPage(t *testing.T) {
	s := Default().WithSearch("a").WithPage(5)
	assert.Equal(t, 5, s.Page)
	assert.Equal(t, 1, s.WithSearch("b").Page)
	assert.Equal(t, 1, s.WithStatus("active").Page)

	kept := s.WithPage(2)
	assert.Equal(t, "a", kept.Search)
	assert.Equal(t, 2, kept.Page)
}

func TestStatusFilter(t *testing.T) {
	assert.Equal(t, "", string(Default().StatusFilter()))
	assert.Equal(t, "active", string(Default().WithStatus("active").StatusFilter()))
	assert.Equal(t, StatusAll, Default().WithStatus("").Status)
}
