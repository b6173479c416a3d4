package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, opts Options) (*Logger, string) {
	t.Helper()
	opts.Path = filepath.Join(t.TempDir(), "logs", "webterm.log")
	l, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, opts.Path
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" WARNING "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("chatty"))
	assert.Equal(t, "WARN", LevelWarn.String())
}

func TestFiltersByLevelAndArea(t *testing.T) {
	var console bytes.Buffer
	l, path := newTestLogger(t, Options{
		Enabled: true,
		Level:   LevelInfo,
		Areas:   map[LogArea]bool{AreaShell: true},
		Console: &console,
	})

	l.Logf(0, LevelDebug, AreaShell, "hidden debug")
	l.Logf(0, LevelInfo, AreaStorage, "hidden area")
	l.Logf(0, LevelInfo, AreaShell, "ran %s", "ls")
	l.Logf(0, LevelWarn, AreaShell, "slow")
	l.SetArea(AreaStorage, true)
	l.Logf(0, LevelInfo, AreaStorage, "now visible")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO [logger_test.go:")
	assert.Contains(t, out, "[SHELL] ran ls")
	assert.Contains(t, out, "[STORAGE] now visible")

	assert.Contains(t, console.String(), "[WARN] [SHELL] slow")
	assert.NotContains(t, console.String(), "ran ls")
}

func TestDisabledLoggerWritesNothing(t *testing.T) {
	l, path := newTestLogger(t, Options{Areas: map[LogArea]bool{AreaShell: true}})
	l.Logf(0, LevelError, AreaShell, "nope")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.log")
	r, err := openRotating(path, 64, 2)
	require.NoError(t, err)

	line := strings.Repeat("x", 40) + "\n"
	for i := 0; i < 6; i++ {
		r.WriteString(line)
	}
	require.NoError(t, r.Close())

	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	assert.NoFileExists(t, path+".3")
}

func TestPackageFunctionsUseDefault(t *testing.T) {
	l, path := newTestLogger(t, Options{
		Enabled: true,
		Level:   LevelDebug,
		Areas:   map[LogArea]bool{AreaGeneral: true},
	})
	SetDefault(l)
	t.Cleanup(func() { SetDefault(nil) })

	Debug(AreaGeneral, "d")
	Info(AreaGeneral, "i")
	Warn(AreaGeneral, "w")
	Error(AreaGeneral, "e")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	for _, lvl := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		assert.Contains(t, out, lvl+" [logger_test.go:")
	}
}
