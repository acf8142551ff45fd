package resource

import (
	"archive/zip"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
}

func newStore(t *testing.T, baseURL string) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFileStore(dir, baseURL)
	require.NoError(t, err)
	return s, dir
}

func TestCountWordlists(t *testing.T) {
	s, dir := newStore(t, "")
	ctx := context.Background()

	writeFile(t, filepath.Join(dir, "wordlists", "plain.txt"), "password\n123456\nletmein")

	gzPath := filepath.Join(dir, "wordlists", "packed.txt.gz")
	f, err := os.Create(gzPath)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte("a\nb\nc\nd\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	zipPath := filepath.Join(dir, "wordlists", "archive.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	w, err := zw.Create("words.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("x\ny\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	tests := []struct {
		ref  string
		want int64
	}{
		{ref: "wordlists/plain.txt", want: 3},
		{ref: "wordlists/packed.txt.gz", want: 4},
		{ref: "wordlists/archive.zip", want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			n, err := s.Count(ctx, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestCountRulesSkipsComments(t *testing.T) {
	s, dir := newStore(t, "")
	writeFile(t, filepath.Join(dir, "rules", "best.rule"), "# best rules\n:\n\nc\n$1 $2\n")

	n, err := s.Count(context.Background(), "rules/best.rule")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestResolveRejectsMissingAndEscapingRefs(t *testing.T) {
	s, _ := newStore(t, "")
	ctx := context.Background()

	_, err := s.Count(ctx, "wordlists/nope.txt")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = s.Count(ctx, "wordlists")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// traversal is clamped to the data directory
	_, err = s.Count(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = s.Path("")
	assert.Error(t, err)
}

func TestLocate(t *testing.T) {
	s, dir := newStore(t, "https://coordinator.example/api/agent/files/")
	writeFile(t, filepath.Join(dir, "wordlists", "my list.txt"), "a\n")

	loc, err := s.Locate(context.Background(), "wordlists/my list.txt")
	require.NoError(t, err)
	assert.Equal(t, "https://coordinator.example/api/agent/files/wordlists/my%20list.txt", loc)

	local, _ := newStore(t, "")
	writeFile(t, filepath.Join(local.root, "rules", "r.rule"), ":\n")
	loc, err = local.Locate(context.Background(), "rules/r.rule")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(local.root, "rules", "r.rule"), loc)

	sum, err := local.Checksum("rules/r.rule")
	require.NoError(t, err)
	assert.Len(t, sum, 32)
}
