package atomicfile

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_Success(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/steps/01-01.json"

	require.NoError(t, Write(fs, path, []byte(`{"a":1}`), nil))

	got, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	exists, err := afero.Exists(fs, path+".bak")
	require.NoError(t, err)
	assert.False(t, exists, "first write has nothing to back up")
}

func TestWrite_CreatesBackup(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/steps/01-01.json"

	require.NoError(t, Write(fs, path, []byte("v1"), nil))
	require.NoError(t, Write(fs, path, []byte("v2"), nil))

	bak, err := afero.ReadFile(fs, path+".bak")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(bak))

	cur, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(cur))
}

func TestWrite_ValidationFailureKeepsOriginal(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/steps/01-01.json"
	require.NoError(t, Write(fs, path, []byte("good"), nil))

	reject := func([]byte) error { return errors.New("bad content") }
	err := Write(fs, path, []byte("bad"), reject)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad content")

	cur, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "good", string(cur))

	entries, err := afero.ReadDir(fs, filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".des-tmp-", "temp file should be cleaned up")
	}
}

func TestWrite_OnDisk(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()
	path := filepath.Join(dir, "nested", "step.json")

	require.NoError(t, Write(fs, path, []byte("{}"), nil))
	got, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))
}
