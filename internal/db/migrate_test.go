package db

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keyspaceColumn = regexp.MustCompile(`(?m)^\s*(keyspace|chunk_cursor|keyspace_offset|keyspace_limit|progress)\s+(\S+)`)

func TestKeyspaceColumnsHaveNoPrecisionLimit(t *testing.T) {
	files, err := fs.Glob(migrationFiles, "migrations/*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	found := 0
	for _, name := range files {
		body, err := fs.ReadFile(migrationFiles, name)
		require.NoError(t, err)
		for _, m := range keyspaceColumn.FindAllStringSubmatch(string(body), -1) {
			found++
			assert.Equal(t, "NUMERIC", strings.TrimSuffix(m[2], ","), "%s: column %s", name, m[1])
		}
	}
	assert.Equal(t, 5, found)
}
