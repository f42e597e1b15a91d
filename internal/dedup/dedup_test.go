package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

func TestFilter(t *testing.T) {
	t.Parallel()

	candidates := []archiver.Candidate{
		{URL: "https://example.com/a", Title: "first a"},
		{URL: "https://example.com/b"},
		{URL: "https://example.com/a", Title: "second a"},
		{URL: ""},
		{URL: "https://example.com/c"},
	}
	existing := archiver.URLSet{"https://example.com/b": {}}

	got := Filter(candidates, existing)
	require.Len(t, got, 2)
	require.Equal(t, "https://example.com/a", got[0].URL)
	require.Equal(t, "first a", got[0].Title)
	require.Equal(t, "https://example.com/c", got[1].URL)

	require.Len(t, candidates, 5, "input must not be modified")
	require.Len(t, existing, 1)
}

func TestFilterNilSet(t *testing.T) {
	t.Parallel()

	got := Filter([]archiver.Candidate{{URL: "https://example.com/a"}}, nil)
	require.Len(t, got, 1)
	require.Empty(t, Filter(nil, nil))
}

func TestURLs(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		[]string{"https://example.com/a", "https://example.com/b"},
		URLs([]archiver.Candidate{{URL: "https://example.com/a"}, {URL: "https://example.com/b"}}),
	)
}
