package engine

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffCleanupThreshold is the minimum number of diffs before running the
// semantic cleanup pass. Below this count the diff is already simple.
const diffCleanupThreshold = 2

// Conflict is a note whose local edits and the remote state diverged.
// Both versions are captured at detection time for display; resolution
// re-reads the remote side so a stale snapshot cannot clobber newer
// remote changes.
type Conflict struct {
	NoteID        string `json:"noteId"`
	Path          string `json:"path"`
	LocalTitle    string `json:"localTitle"`
	LocalContent  string `json:"localContent"`
	RemoteSHA     string `json:"remoteSha"`
	RemoteTitle   string `json:"remoteTitle"`
	RemoteContent string `json:"remoteContent"`
}

// Diff renders the divergence between the remote and local versions,
// remote-only text in [-...-] and local-only text in [+...+].
func (c Conflict) Diff() string {
	dmp := diffmatchpatch.New()

	diffs := dmp.DiffMain(c.RemoteContent, c.LocalContent, true)
	if len(diffs) > diffCleanupThreshold {
		diffs = dmp.DiffCleanupSemantic(diffs)
	}

	var b strings.Builder

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			b.WriteString("[-")
			b.WriteString(d.Text)
			b.WriteString("-]")
		case diffmatchpatch.DiffInsert:
			b.WriteString("[+")
			b.WriteString(d.Text)
			b.WriteString("+]")
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		}
	}

	return b.String()
}

// Resolution picks a side when resolving a conflict.
type Resolution string

const (
	// KeepMine force-writes the local version over the remote one.
	KeepMine Resolution = "keep-mine"

	// TakeTheirs discards the local edits in favor of the remote version.
	TakeTheirs Resolution = "take-theirs"
)
