package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComposeScript(t *testing.T) {
	script := ComposeScript("x = 1\nprint(x)", true)

	require.Contains(t, script, "def save_context(")
	require.Contains(t, script, "\n_plunge_restore()\n")
	require.Contains(t, script, "_plunge_atexit.register(save_context)")
	require.Contains(t, script, "x = 1\nprint(x)\n")

	// User code comes after the preamble
	require.Less(t,
		strings.Index(script, "_plunge_atexit.register"),
		strings.Index(script, "x = 1"))
}

func TestComposeScriptWithoutRestore(t *testing.T) {
	script := ComposeScript("x = 1", false)

	// The helper is still defined but never invoked
	require.Contains(t, script, "def _plunge_restore(")
	require.NotContains(t, script, "\n_plunge_restore()\n")
}

func TestComposeScriptTrailingNewline(t *testing.T) {
	require.True(t, strings.HasSuffix(ComposeScript("x = 1", false), "x = 1\n"))
	require.True(t, strings.HasSuffix(ComposeScript("x = 1\n", false), "x = 1\n"))
	require.False(t, strings.HasSuffix(ComposeScript("x = 1\n", false), "x = 1\n\n"))
}
