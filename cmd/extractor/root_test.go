package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetRetryFlags() {
	retryFlags.file = ""
	retryFlags.set = nil
	retryFlags.instructions = ""
}

func TestParseCorrections(t *testing.T) {
	defer resetRetryFlags()

	path := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"corrections":{"Masraf":{"Kod":"A"}},"instructions":"fix header"}`), 0o644))
	retryFlags.file = path
	retryFlags.set = []string{`MasrafAlt=[]`, `Masraf={"Kod":"B"}`}

	c, err := parseCorrections()
	require.NoError(t, err)
	assert.Equal(t, "fix header", c.Instructions)
	assert.Equal(t, []any{}, c.Fields["MasrafAlt"])
	assert.Equal(t, map[string]any{"Kod": "B"}, c.Fields["Masraf"])
}

func TestParseCorrections_Errors(t *testing.T) {
	defer resetRetryFlags()

	retryFlags.set = []string{"no-equals"}
	_, err := parseCorrections()
	assert.Error(t, err)

	retryFlags.set = []string{"Masraf={"}
	_, err = parseCorrections()
	assert.Error(t, err)
}

func TestDetectMime(t *testing.T) {
	assert.Equal(t, "application/pdf", detectMime("a.pdf", nil))
	assert.Equal(t, "image/png", detectMime("scan", []byte("\x89PNG\r\n\x1a\n0000")))
}

func TestDBHealthCommand(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_URL", "file:"+filepath.Join(t.TempDir(), "cli.db")+"?_pragma=busy_timeout(5000)")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"dbhealth"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "DB health: OK (sqlite)")
}
