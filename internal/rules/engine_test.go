package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngineLiteralAndRegexRules(t *testing.T) {
	t.Parallel()

	engine := mustParse(t, `
# literal
pull request => PR
# regex, case-insensitive by default
s/\bmag\s*nus\b/Magnus/g
`)
	require.Equal(t, 2, engine.Len())

	got, err := engine.Apply("hey MAG nus open a pull request")
	require.NoError(t, err)
	require.Equal(t, "hey Magnus open a PR", got)
}

func TestEngineIteratesUntilStable(t *testing.T) {
	t.Parallel()

	engine := mustParse(t, "b => c\na => b\n")
	got, err := engine.Apply("a")
	require.NoError(t, err)
	require.Equal(t, "c", got)
}

func TestEngineStopsAtIterationLimit(t *testing.T) {
	t.Parallel()

	engine, err := Parse(strings.NewReader("x => xx"), 3)
	require.NoError(t, err)

	got, err := engine.Apply("x")
	require.NoError(t, err)
	require.Equal(t, "xxxxxxxx", got)
}

func TestEngineRegexWithoutGlobalReplacesFirstMatch(t *testing.T) {
	t.Parallel()

	engine, err := Parse(strings.NewReader(`s/(\d+) dollars/$$$1/`), 1)
	require.NoError(t, err)

	got, err := engine.Apply("5 dollars and 7 dollars")
	require.NoError(t, err)
	require.Equal(t, "$5 and 7 dollars", got)
}

func TestEngineLiteralReplacementIsNotExpanded(t *testing.T) {
	t.Parallel()

	engine := mustParse(t, "price => $1 each")
	got, err := engine.Apply("price")
	require.NoError(t, err)
	require.Equal(t, "$1 each", got)
}

func TestEngineLiteralStartingWithS(t *testing.T) {
	t.Parallel()

	engine := mustParse(t, "solid complaint => SOLID-compliant")
	got, err := engine.Apply("this is solid complaint code")
	require.NoError(t, err)
	require.Equal(t, "this is SOLID-compliant code", got)
}

func TestEngineAlternateDelimiterAndEscapes(t *testing.T) {
	t.Parallel()

	engine := mustParse(t, `s#a\#b#c#g`)
	got, err := engine.Apply("a#b a#b")
	require.NoError(t, err)
	require.Equal(t, "c c", got)
}

func TestParseRejectsBadRules(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unsupported":  "just words",
		"empty source": " => nothing",
		"unterminated": "s/abc/def",
		"bad flag":     "s/a/b/x",
		"bad regex":    "s/(/b/",
	}
	for name, input := range cases {
		input := input
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(strings.NewReader("# ok\n"+input), 0)
			require.ErrorContains(t, err, "line 2")
		})
	}
}

func TestLoadMissingOrBlankPathIsNoop(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"", filepath.Join(t.TempDir(), "absent.rules")} {
		engine, err := Load(path, 0)
		require.NoError(t, err)
		require.Zero(t, engine.Len())

		got, err := engine.Apply("unchanged")
		require.NoError(t, err)
		require.Equal(t, "unchanged", got)
	}
}

func TestLoadReadsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corrections.rules")
	require.NoError(t, os.WriteFile(path, []byte("deep gram => Deepgram\n"), 0o600))

	engine, err := Load(path, 0)
	require.NoError(t, err)

	got, err := engine.Apply("use deep gram")
	require.NoError(t, err)
	require.Equal(t, "use Deepgram", got)

	require.NoError(t, os.WriteFile(path, []byte("broken"), 0o600))
	_, err = Load(path, 0)
	require.ErrorContains(t, err, path)
}

func mustParse(t *testing.T, contents string) *Engine {
	t.Helper()
	engine, err := Parse(strings.NewReader(contents), 0)
	require.NoError(t, err)
	return engine
}
