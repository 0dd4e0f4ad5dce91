package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSContainsPairedMigrations(t *testing.T) {
	up, err := fs.Glob(FS, "*.up.sql")
	require.NoError(t, err)
	down, err := fs.Glob(FS, "*.down.sql")
	require.NoError(t, err)

	assert.NotEmpty(t, up)
	assert.Len(t, down, len(up))

	body, err := fs.ReadFile(FS, "000001_scheduled_reopens.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "scheduled_reopens")
}
