package store

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	s := New(path)

	data := map[string]any{
		"server": map[string]any{"host": "localhost", "port": 8080},
		"ratio":  0.5,
		"tags":   []any{"a", "b"},
		"debug":  true,
	}
	require.NoError(t, s.Save(data))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestYAMLLargeUnsignedKeepsMagnitude(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("big: 18446744073709551615\nsmall: 3\n"), 0o644))
	s := New(path)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, float64(math.MaxUint64), got["big"])
	assert.Equal(t, 3, got["small"])

	require.NoError(t, s.Save(got))
	again, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, float64(math.MaxUint64), again["big"])

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "-1")
}

func TestJSONRoundTripKeepsIntegers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s := New(path)

	data := map[string]any{
		"server": map[string]any{"port": 8080, "timeout": 1.5},
		"nothing": nil,
	}
	require.NoError(t, s.Save(data))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, got["server"].(map[string]any)["port"])
	assert.Equal(t, 1.5, got["server"].(map[string]any)["timeout"])
	assert.Nil(t, got["nothing"])

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "\n  \"server\"")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, IsNotExist(err))
}

func TestLoadEmptyFile(t *testing.T) {
	for _, name := range []string{"empty.yaml", "empty.json"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		got, err := Read(path)
		require.NoError(t, err, name)
		assert.Empty(t, got, name)
	}
}

func TestLoadRejectsBrokenJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a": 1} {"b": 2}`), 0o644))

	_, err := Read(path)
	assert.Error(t, err)
	assert.False(t, IsNotExist(err))
}

func TestSaveCreatesDirectoryAndKeepsMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")
	s := New(path)
	require.NoError(t, s.Save(nil))

	require.NoError(t, os.Chmod(path, 0o600))
	require.NoError(t, s.Save(map[string]any{"a": 1}))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestParserFor(t *testing.T) {
	assert.IsType(t, &JSONParser{}, ParserFor("x.JSON"))
	assert.NotNil(t, ParserFor("x.yml"))
	assert.Equal(t, "x.yml", New("x.yml").Path())
}
