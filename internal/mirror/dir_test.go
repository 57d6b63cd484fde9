package mirror

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDir(t *testing.T) *Dir {
	t.Helper()

	d, err := NewDir(t.TempDir())
	require.NoError(t, err)

	return d
}

func TestNewDir_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "notes", "workspace")

	d, err := NewDir(root)
	require.NoError(t, err)

	info, err := os.Stat(d.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewDir_EmptyPath(t *testing.T) {
	_, err := NewDir("")

	require.Error(t, err)
}

func TestWriteNote_RoundTrip(t *testing.T) {
	d := testDir(t)

	require.NoError(t, d.WriteNote("work/note_1.md", "# Plans\nalpha"))

	got, err := d.ReadNote("work/note_1.md")
	require.NoError(t, err)
	assert.Equal(t, "# Plans\nalpha", got)
}

func TestWriteNote_LeavesNoTempFiles(t *testing.T) {
	d := testDir(t)

	require.NoError(t, d.WriteNote("note_1.md", "body"))

	entries, err := os.ReadDir(d.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "note_1.md", entries[0].Name())
}

func TestResolve_RejectsTraversal(t *testing.T) {
	d := testDir(t)

	for _, rel := range []string{"../outside.md", "work/../../outside.md", ""} {
		_, err := d.ReadNote(rel)
		assert.Error(t, err, "path %q must be rejected", rel)
	}
}

func TestResolve_RejectsSymlinkEscape(t *testing.T) {
	d := testDir(t)
	outside := t.TempDir()

	require.NoError(t, os.Symlink(outside, filepath.Join(d.Root(), "link")))

	err := d.WriteNote("link/note_1.md", "body")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "symlink")
}

func TestRemoveNote_MissingIsFine(t *testing.T) {
	d := testDir(t)

	require.NoError(t, d.RemoveNote("note_1.md"))
}

func TestNoteFiles_FiltersNoise(t *testing.T) {
	d := testDir(t)

	require.NoError(t, d.WriteNote("note_1.md", "a"))
	require.NoError(t, d.WriteNote("work/note_2.md", "b"))
	require.NoError(t, os.MkdirAll(filepath.Join(d.Root(), ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(d.Root(), ".git", "config.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(d.Root(), "scratch.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(d.Root(), "backup.md~"), []byte("x"), 0o644))

	got, err := d.NoteFiles()
	require.NoError(t, err)

	assert.Equal(t, []string{"note_1.md", "work/note_2.md"}, got)
}

func TestPruneFolders_RemovesOnlyEmptyUnkept(t *testing.T) {
	d := testDir(t)

	require.NoError(t, d.EnsureFolder("gone"))
	require.NoError(t, d.EnsureFolder("kept"))
	require.NoError(t, d.WriteNote("full/note_1.md", "x"))

	require.NoError(t, d.PruneFolders(map[string]struct{}{"kept": {}}))

	_, err := os.Stat(filepath.Join(d.Root(), "gone"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(d.Root(), "kept"))
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(d.Root(), "full"))
	assert.NoError(t, err, "non-empty folders must never be pruned")
}
