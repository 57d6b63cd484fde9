// Package remote defines the content-store contract the sync engine
// reads and writes through, plus the GitHub-backed implementation. The
// engine only ever sees this interface, so everything GitHub-specific
// (markers, commit messages, path escaping) stays on this side of it.
package remote

import (
	"context"
	"fmt"
)

//go:generate mockgen -source=store.go -destination=store_mock.go -package=remote

// Selection identifies the repository and branch a session syncs against.
type Selection struct {
	Owner  string
	Name   string
	Branch string
}

// Key returns the stable identifier used to partition cached state per
// repository selection.
func (s Selection) Key() string {
	return fmt.Sprintf("%s/%s@%s", s.Owner, s.Name, s.Branch)
}

// FileInfo identifies one version of a remote note file. SHA is the
// store's content hash for the file as last observed; it doubles as the
// compare-and-swap token for writes and deletes.
type FileInfo struct {
	Path string
	SHA  string
}

// File is a remote note file together with its content.
type File struct {
	FileInfo
	Content string
}

// Listing is a snapshot of the note files and folders visible in the
// remote store. Marker files and the repository README are already
// filtered out.
type Listing struct {
	Files   []FileInfo
	Folders []string
}

// Store is the narrow contract between the sync engine and a remote
// content store. Writes and deletes are compare-and-swap on the last
// known content hash: a stale expectedSHA fails with apperr.ErrConflict,
// and a vanished path fails with apperr.ErrNotFound. Implementations
// must not retry internally; the engine owns retry policy.
type Store interface {
	// List walks the store and returns every note file and folder.
	List(ctx context.Context) (*Listing, error)

	// ReadFile returns the file at path with its current content hash.
	ReadFile(ctx context.Context, path string) (*File, error)

	// WriteFile creates or updates the file at path. expectedSHA must be
	// empty for a create and the last known hash for an update. Returns
	// the new content hash.
	WriteFile(ctx context.Context, path, content, expectedSHA string) (string, error)

	// DeleteFile removes the file at path if its hash still matches
	// expectedSHA.
	DeleteFile(ctx context.Context, path, expectedSHA string) error

	// CreateFolderMarker makes the folder visible in the store before it
	// contains any notes. Creating a marker that already exists is not an
	// error.
	CreateFolderMarker(ctx context.Context, folder string) error

	// DeleteFolderMarker removes any marker files left in folder. A
	// folder with no marker is not an error.
	DeleteFolderMarker(ctx context.Context, folder string) error
}
