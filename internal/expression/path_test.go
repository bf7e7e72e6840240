package expression

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLexPath(t *testing.T) {
	segs, err := lexPath("Settings.Rules[2][0].Name")
	require.NoError(t, err)
	require.Equal(t, []segment{
		{name: "Settings"},
		{name: "Rules"},
		{index: 2},
		{index: 0},
		{name: "Name"},
	}, segs)

	segs, err = lexPath("user-id")
	require.NoError(t, err)
	require.Equal(t, []segment{{name: "user-id"}}, segs)
}

func TestLexPath_Rejects(t *testing.T) {
	for _, p := range []string{
		"",
		".a",
		"a.",
		"a..b",
		"[0]",
		"a[",
		"a[]",
		"a[-1]",
		"a[+1]",
		"a[x]",
		"a]b",
		"a[0]b",
	} {
		_, err := lexPath(p)
		require.Error(t, err, p)
	}
}

func TestCompilePath(t *testing.T) {
	seen := map[string]string{}
	tok := func(n string) string {
		if tk, ok := seen[n]; ok {
			return tk
		}
		tk := "#" + n
		seen[n] = tk
		return tk
	}
	got, err := compilePath("a.b[1].a", tok)
	require.NoError(t, err)
	require.Equal(t, "#a.#b[1].#a", got)
}
