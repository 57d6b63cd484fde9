package engine

import (
	"sort"
	"time"

	"github.com/alexjbarnes/gitnotes/internal/notes"
	"github.com/alexjbarnes/gitnotes/internal/remote"
)

// Result is the outcome of folding a remote snapshot into the local
// note set.
type Result struct {
	Notes     []notes.Note
	Conflicts []Conflict
}

// Merge folds a fetched remote snapshot into the local note set. This is
// a pure decision function with no I/O: the engine lists and reads the
// remote side first, then applies the whole snapshot in one step.
//
// The rules, keyed by path:
//   - Remote file with no local note: adopt as Clean.
//   - Remote hash equal to the local note's ID: the remote side has not
//     moved since it was last read, so the local note is kept exactly as
//     is, pending edits included. A Conflicted note demotes to Dirty,
//     since the divergence it recorded no longer exists.
//   - Remote hash differs and the local note is Clean: the fetched
//     version replaces it.
//   - Remote hash differs and the local note has unsynced edits: when
//     the parsed contents agree the note becomes Clean under the new
//     hash, otherwise it turns Conflicted with the local version
//     retained. Local edits are never overwritten here.
//   - Local note with no remote file: dropped when synced (deleted
//     remotely), kept when not (never pushed).
//
// Content of fetched files is only consulted when the hash differs from
// the local note's ID, so callers may leave Content empty for unchanged
// paths. Notes come back sorted by path.
func Merge(local []notes.Note, fetched []remote.File, now time.Time) Result {
	byPath := make(map[string]notes.Note, len(local))
	for _, n := range local {
		byPath[n.Path] = n
	}

	var result Result

	for _, f := range fetched {
		n, ok := byPath[f.Path]
		if !ok {
			result.Notes = append(result.Notes, notes.FromFile(f.Path, f.Content, f.SHA, now))
			continue
		}

		delete(byPath, f.Path)

		// Remote unchanged since last read. Keep the local note exactly,
		// pending edits included.
		if f.SHA == n.ID {
			if n.State == notes.StateConflicted {
				n.State = notes.StateDirty
			}

			result.Notes = append(result.Notes, n)

			continue
		}

		// Remote moved and the local copy is clean: remote wins.
		if n.State == notes.StateClean && n.Synced {
			result.Notes = append(result.Notes, notes.FromFile(f.Path, f.Content, f.SHA, now))
			continue
		}

		// Remote moved under unsynced local edits. If both sides ended up
		// with the same text the divergence is cosmetic; otherwise the
		// note needs explicit resolution.
		remoteTitle, remoteBody := notes.ParseMarkdown(f.Path, f.Content)
		if remoteTitle == n.Title && remoteBody == n.Content {
			n.ID = f.SHA
			n.State = notes.StateClean
			n.Synced = true
			result.Notes = append(result.Notes, n)

			continue
		}

		n.State = notes.StateConflicted
		n.Synced = false
		result.Notes = append(result.Notes, n)
		result.Conflicts = append(result.Conflicts, Conflict{
			NoteID:        n.ID,
			Path:          n.Path,
			LocalTitle:    n.Title,
			LocalContent:  n.Content,
			RemoteSHA:     f.SHA,
			RemoteTitle:   remoteTitle,
			RemoteContent: remoteBody,
		})
	}

	// Local notes the remote no longer has: synced ones were deleted
	// remotely, unsynced ones still wait for their first push. A
	// Conflicted survivor demotes to Dirty since the remote version it
	// diverged from is gone.
	for _, n := range byPath {
		if n.Synced {
			continue
		}

		if n.State == notes.StateConflicted {
			n.State = notes.StateDirty
		}

		result.Notes = append(result.Notes, n)
	}

	sort.Slice(result.Notes, func(i, j int) bool {
		return result.Notes[i].Path < result.Notes[j].Path
	})
	sort.Slice(result.Conflicts, func(i, j int) bool {
		return result.Conflicts[i].Path < result.Conflicts[j].Path
	})

	return result
}

// MergeFolders assembles the folder set visible after a fetch: every
// top-level directory the remote reported, every folder still referenced
// by a surviving note, and folders created locally whose marker write is
// still pending.
func MergeFolders(remoteNames []string, merged []notes.Note, pending []string) []notes.Folder {
	seen := make(map[string]struct{})

	var out []notes.Folder

	add := func(name string) {
		if name == "" {
			return
		}

		if _, ok := seen[name]; ok {
			return
		}

		seen[name] = struct{}{}
		out = append(out, notes.NewFolder(name))
	}

	for _, name := range remoteNames {
		add(name)
	}

	for _, n := range merged {
		add(n.Folder)
	}

	for _, name := range pending {
		add(name)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}
