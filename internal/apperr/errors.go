// Package apperr defines the failure categories shared by every layer.
// Remote calls are mapped onto these sentinels at the transport boundary
// so callers can branch with errors.Is instead of inspecting status codes.
package apperr

import "errors"

// Remote store errors.
var (
	// ErrUnauthorized means the access token was rejected. Not retried;
	// the user has to re-authenticate.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the remote path no longer exists. During sync this
	// is treated as a remote deletion, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a compare-and-swap write found a different content
	// hash than expected. The note routes to the conflicted state and is
	// never blindly retried.
	ErrConflict = errors.New("conflict")

	// ErrNetworkUnavailable means the remote store could not be reached at
	// all. The engine switches to offline and keeps optimistic local edits.
	ErrNetworkUnavailable = errors.New("network unavailable")
)

// Engine contract errors.
var (
	ErrNoRepository   = errors.New("no repository selected")
	ErrNoteNotFound   = errors.New("note not found")
	ErrFolderNotFound = errors.New("folder not found")
)
