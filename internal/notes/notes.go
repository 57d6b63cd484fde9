// Package notes defines the note and folder entities shared by the sync
// engine, the local cache, and the remote adapter, together with the
// invariants tying a note's path to its folder.
package notes

import (
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// SyncState describes where a note stands relative to its remote copy.
type SyncState string

const (
	// StateClean means the local content matches the last fetched or
	// written remote version.
	StateClean SyncState = "clean"

	// StateDirty means a local edit has not reached the remote store yet.
	StateDirty SyncState = "dirty"

	// StateWriting means a remote write for this note is in flight.
	StateWriting SyncState = "writing"

	// StateConflicted means the remote changed while a local edit was
	// pending. The local version stays visible until the user resolves it.
	StateConflicted SyncState = "conflicted"
)

// localIDPrefix marks identifiers of notes that have never been written to
// the remote store. Once written, the remote content hash becomes the ID.
const localIDPrefix = "local-"

// Note is a single Markdown note. For synced notes the ID holds the remote
// blob hash, which doubles as the compare-and-swap token for the next
// remote write. Content never carries the synthesized heading line; that
// is added at serialization time only.
type Note struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Path         string    `json:"path"`
	Folder       string    `json:"folder,omitempty"`
	LastModified time.Time `json:"lastModified"`
	Synced       bool      `json:"synced"`
	State        SyncState `json:"state"`
}

// Folder groups notes by the first segment of their path. Member notes are
// derived from the note set, never stored on the folder itself. The name
// doubles as the ID since names are unique within a snapshot.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// NewLocalID returns a temporary identifier for a note that has not been
// written to the remote store yet.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id is a temporary local identifier rather than
// a remote content hash.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// New builds a freshly created, not yet synced note with a path derived
// from the creation time and folder. When the content's first line is a
// Markdown heading it wins as the title and is stripped from the body,
// matching how fetched files are interpreted.
func New(title, content, folder string, now time.Time) Note {
	if t, body, ok := splitHeading(content); ok && t != "" {
		title, content = t, body
	}

	folder = CleanName(folder)

	return Note{
		ID:           NewLocalID(),
		Title:        CleanName(title),
		Content:      content,
		Path:         NotePath(folder, now),
		Folder:       folder,
		LastModified: now,
		Synced:       false,
		State:        StateDirty,
	}
}

// FromFile interprets a fetched remote file as a clean note entity.
func FromFile(path, raw, hash string, now time.Time) Note {
	title, body := ParseMarkdown(path, raw)

	return Note{
		ID:           hash,
		Title:        title,
		Content:      body,
		Path:         path,
		Folder:       FolderOf(path),
		LastModified: now,
		Synced:       true,
		State:        StateClean,
	}
}

// NewFolder builds a top-level folder entity, using the name as both ID
// and path.
func NewFolder(name string) Folder {
	name = CleanName(name)

	return Folder{ID: name, Name: name, Path: name}
}

// CleanName normalizes a name or title to NFC and trims surrounding
// whitespace. macOS hands over decomposed unicode, which would otherwise
// produce paths that never match their remote counterparts.
func CleanName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// folderNamePattern rejects path separators and the relative-path names
// that would escape the repository root.
var folderNamePattern = regexp.MustCompile(`^[^/\\]+$`)

// ValidateFolderName checks the folder naming invariant: required, no
// path separator, and nothing that would escape the repository root.
func ValidateFolderName(name string) error {
	if name == "." || name == ".." {
		return validation.NewError("validation_folder_name", "folder name cannot be a relative path")
	}

	return validation.Validate(name,
		validation.Required,
		validation.Match(folderNamePattern).Error("folder name cannot contain slashes"),
	)
}
