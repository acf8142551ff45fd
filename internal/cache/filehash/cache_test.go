package filehash

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheReusesEntryUntilFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0644))

	calls := 0
	counter := func(string) (int64, error) {
		calls++
		return int64(calls * 10), nil
	}

	c := New()
	n, err := c.Lines(path, counter)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	n, err = c.Lines(path, counter)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n, "unchanged file is served from cache")

	hash, err := c.GetOrCalculate(path)
	require.NoError(t, err)
	assert.Equal(t, "dd8c6a395b5dd36c56d23275028f526c", hash)
	assert.Equal(t, 1, c.Size())

	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	n, err = c.Lines(path, counter)
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
	assert.Equal(t, 2, calls)

	c.Invalidate(path)
	assert.Equal(t, 0, c.Size())
}

func TestCacheMissingFile(t *testing.T) {
	c := New()
	_, err := c.GetOrCalculate(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
