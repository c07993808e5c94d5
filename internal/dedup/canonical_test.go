package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reliefworks/jobharvester/internal/hash/sha256"
)

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Program Officer", "program officer"},
		{"  Program   Officer ", "program officer"},
		{"PROGRAM\tOFFICER\n", "program officer"},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, NormalizeTitle(tt.in))
	}
}

func TestNormalizeApplyURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"tracking params stripped",
			"https://jobs.example.org/apply/123?utm_source=twitter&utm_campaign=aug&id=5",
			"https://jobs.example.org/apply/123?id=5",
		},
		{
			"host lowercased and fragment dropped",
			"HTTPS://Jobs.Example.ORG/Apply/123#section",
			"https://jobs.example.org/Apply/123",
		},
		{
			"default port stripped",
			"https://jobs.example.org:443/apply",
			"https://jobs.example.org/apply",
		},
		{
			"trailing slash trimmed on non-root path",
			"https://jobs.example.org/apply/123/",
			"https://jobs.example.org/apply/123",
		},
		{
			"root path kept",
			"https://jobs.example.org/",
			"https://jobs.example.org/",
		},
		{
			"query params sorted",
			"https://jobs.example.org/apply?b=2&a=1",
			"https://jobs.example.org/apply?a=1&b=2",
		},
		{
			"gclid and ref removed",
			"https://jobs.example.org/apply?gclid=xyz&ref=homepage&id=9",
			"https://jobs.example.org/apply?id=9",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NormalizeApplyURL(tt.in))
		})
	}
}

func TestCanonicalHashStability(t *testing.T) {
	t.Parallel()

	hasher := sha256.New()

	a, err := CanonicalHash(hasher, "Program Officer", "https://jobs.example.org/apply/123?utm_source=x")
	require.NoError(t, err)
	b, err := CanonicalHash(hasher, "  program   officer ", "https://jobs.example.org/apply/123/")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := CanonicalHash(hasher, "Program Officer", "https://jobs.example.org/apply/124")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}
