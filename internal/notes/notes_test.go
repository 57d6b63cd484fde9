package notes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.UnixMilli(1700000000000)

// --- New ---

func TestNew_PlainContent(t *testing.T) {
	n := New("Ideas", "first line\nsecond", "", testTime)

	assert.Equal(t, "Ideas", n.Title)
	assert.Equal(t, "first line\nsecond", n.Content)
	assert.Equal(t, "note_1700000000000.md", n.Path)
	assert.Equal(t, "", n.Folder)
	assert.False(t, n.Synced)
	assert.Equal(t, StateDirty, n.State)
	assert.True(t, IsLocalID(n.ID))
}

func TestNew_HeadingInContentWinsAsTitle(t *testing.T) {
	n := New("Ignored", "# Ideas\nfirst", "", testTime)

	assert.Equal(t, "Ideas", n.Title)
	assert.Equal(t, "first", n.Content)
}

func TestNew_InFolder(t *testing.T) {
	n := New("T", "C", "work", testTime)

	assert.Equal(t, "work/note_1700000000000.md", n.Path)
	assert.Equal(t, "work", n.Folder)
}

func TestNew_UniqueLocalIDs(t *testing.T) {
	a := New("A", "", "", testTime)
	b := New("B", "", "", testTime)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestNew_NormalizesTitle(t *testing.T) {
	// Decomposed e + combining acute becomes the precomposed form.
	n := New("Café", "body", "", testTime)
	assert.Equal(t, "Café", n.Title)
}

// --- FromFile ---

func TestFromFile_HeadingAndBody(t *testing.T) {
	n := FromFile("note_1.md", "# Hello\nworld", "sha-abc", testTime)

	assert.Equal(t, "sha-abc", n.ID)
	assert.Equal(t, "Hello", n.Title)
	assert.Equal(t, "world", n.Content)
	assert.Equal(t, "note_1.md", n.Path)
	assert.Equal(t, "", n.Folder)
	assert.True(t, n.Synced)
	assert.Equal(t, StateClean, n.State)
}

func TestFromFile_FolderFromPath(t *testing.T) {
	n := FromFile("work/note_2.md", "# T\nbody", "sha", testTime)
	assert.Equal(t, "work", n.Folder)
}

func TestFromFile_NoHeadingFallsBackToFileName(t *testing.T) {
	n := FromFile("work/meeting-notes.md", "plain text only", "sha", testTime)

	assert.Equal(t, "meeting-notes", n.Title)
	assert.Equal(t, "plain text only", n.Content)
}

// --- identifiers ---

func TestIsLocalID(t *testing.T) {
	assert.True(t, IsLocalID(NewLocalID()))
	assert.False(t, IsLocalID("9fb1c9a8"))
	assert.False(t, IsLocalID(""))
}

// --- NewFolder ---

func TestNewFolder(t *testing.T) {
	f := NewFolder("work")

	assert.Equal(t, "work", f.ID)
	assert.Equal(t, "work", f.Name)
	assert.Equal(t, "work", f.Path)
}

func TestNewFolder_TrimsWhitespace(t *testing.T) {
	f := NewFolder("  ideas ")
	assert.Equal(t, "ideas", f.Name)
}

// --- ValidateFolderName ---

func TestValidateFolderName(t *testing.T) {
	tests := []struct {
		name    string
		folder  string
		wantErr bool
	}{
		{"simple name", "work", false},
		{"with spaces", "my notes", false},
		{"unicode", "idées", false},
		{"empty", "", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"dot", ".", true},
		{"dotdot", "..", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFolderName(tt.folder)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
