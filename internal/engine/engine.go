// Package engine implements the reconciliation core: it owns the
// in-memory note set, serializes every mutation against the remote
// store, and derives the process-wide sync status. Local mutations land
// optimistically and are mirrored to the cache before any network
// attempt, so a crash or an outage never loses an edit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alexjbarnes/gitnotes/internal/apperr"
	"github.com/alexjbarnes/gitnotes/internal/cache"
	"github.com/alexjbarnes/gitnotes/internal/github"
	"github.com/alexjbarnes/gitnotes/internal/netmon"
	"github.com/alexjbarnes/gitnotes/internal/notes"
	"github.com/alexjbarnes/gitnotes/internal/remote"
)

// Status is the process-wide sync state. It is derived, never stored:
// conflicts outrank connectivity, connectivity outranks pending edits.
type Status string

const (
	StatusSynced     Status = "synced"
	StatusPending    Status = "pending"
	StatusConflicted Status = "conflicted"
	StatusOffline    Status = "offline"
)

// Engine reconciles the local note set against the remote store. All
// mutating operations serialize on one mutex, network attempt included,
// so remote writes never interleave; reads go through a separate RWMutex
// and stay responsive during long network calls.
type Engine struct {
	store    remote.Store
	cache    *cache.Cache
	mon      *netmon.Monitor
	logger   *slog.Logger
	repoKey  string
	interval time.Duration
	nowFn    func() time.Time

	// opMu serializes mutating operations end to end.
	opMu sync.Mutex

	mu             sync.RWMutex
	byPath         map[string]notes.Note
	folders        map[string]notes.Folder
	pendingFolders map[string]struct{}
	conflicts      map[string]Conflict
	currentNoteID  string
	lastSyncedAt   time.Time
	loading        bool
	lastErr        string
	subs           []func()

	kick chan struct{}
}

// New creates an engine for one repository selection and seeds its state
// from the local cache, so restarting offline still shows every note. It
// subscribes to the connectivity monitor to kick a sync cycle whenever
// the network comes back.
func New(store remote.Store, c *cache.Cache, mon *netmon.Monitor, repoKey string, interval time.Duration, logger *slog.Logger) (*Engine, error) {
	if err := c.InitRepo(repoKey); err != nil {
		return nil, fmt.Errorf("initializing cache for %s: %w", repoKey, err)
	}

	e := &Engine{
		store:          store,
		cache:          c,
		mon:            mon,
		logger:         logger,
		repoKey:        repoKey,
		interval:       interval,
		nowFn:          time.Now,
		byPath:         make(map[string]notes.Note),
		folders:        make(map[string]notes.Folder),
		pendingFolders: make(map[string]struct{}),
		conflicts:      make(map[string]Conflict),
		kick:           make(chan struct{}, 1),
	}

	e.seedFromCache()

	mon.Subscribe(func(online bool) {
		if online {
			e.Kick()
		}
	})

	return e, nil
}

// seedFromCache restores the last known note set. An unreadable cache
// degrades to an empty start, never a failed one.
func (e *Engine) seedFromCache() {
	cached, err := e.cache.Notes(e.repoKey)
	if err != nil {
		e.logger.Warn("note cache unreadable, starting empty", slog.String("error", err.Error()))
		cached = nil
	}

	for _, n := range cached {
		// A write that was in flight when the process died never finished.
		if n.State == notes.StateWriting {
			n.State = notes.StateDirty
		}

		e.byPath[n.Path] = n
	}

	meta, err := e.cache.Meta(e.repoKey)
	if err != nil {
		e.logger.Warn("meta cache unreadable", slog.String("error", err.Error()))
		return
	}

	for _, f := range meta.Folders {
		e.folders[f.Name] = f
	}

	for _, name := range meta.PendingFolders {
		e.pendingFolders[name] = struct{}{}
	}

	e.currentNoteID = meta.CurrentNoteID
	e.lastSyncedAt = meta.SyncedAt
}

// Repo returns the repository selection key this engine syncs against.
func (e *Engine) Repo() string {
	return e.repoKey
}

// Subscribe registers fn to run after every operation that may have
// changed the note set. Callbacks run on the mutating goroutine and
// must not block.
func (e *Engine) Subscribe(fn func()) {
	e.mu.Lock()
	e.subs = append(e.subs, fn)
	e.mu.Unlock()
}

func (e *Engine) notify() {
	e.mu.RLock()
	subs := make([]func(), len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
}

// --- read accessors ---

// Notes returns the visible note set, most recently modified first.
func (e *Engine) Notes() []notes.Note {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]notes.Note, 0, len(e.byPath))
	for _, n := range e.byPath {
		out = append(out, n)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.After(out[j].LastModified)
		}

		return out[i].Path < out[j].Path
	})

	return out
}

// Folders returns the folder set sorted by name.
func (e *Engine) Folders() []notes.Folder {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.foldersLocked()
}

func (e *Engine) foldersLocked() []notes.Folder {
	out := make([]notes.Folder, 0, len(e.folders))
	for _, f := range e.folders {
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Note returns the note with the given ID.
func (e *Engine) Note(id string) (notes.Note, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.findByIDLocked(id)
}

// CurrentNote returns the selected note, if one is selected.
func (e *Engine) CurrentNote() (notes.Note, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.currentNoteID == "" {
		return notes.Note{}, false
	}

	return e.findByIDLocked(e.currentNoteID)
}

// Conflicts returns the unresolved conflicts sorted by path.
func (e *Engine) Conflicts() []Conflict {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Conflict, 0, len(e.conflicts))
	for _, c := range e.conflicts {
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out
}

// Status derives the process-wide sync status.
func (e *Engine) Status() Status {
	e.mu.RLock()
	conflicted := len(e.conflicts) > 0
	pending := len(e.pendingFolders) > 0

	if !pending {
		for _, n := range e.byPath {
			if !n.Synced {
				pending = true
				break
			}
		}
	}
	e.mu.RUnlock()

	switch {
	case conflicted:
		return StatusConflicted
	case !e.mon.Online():
		return StatusOffline
	case pending:
		return StatusPending
	default:
		return StatusSynced
	}
}

// Loading reports whether a fetch is in flight.
func (e *Engine) Loading() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.loading
}

// LastError returns the last unexpected failure message, or "".
func (e *Engine) LastError() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.lastErr
}

// LastSyncedAt returns when the last successful fetch completed.
func (e *Engine) LastSyncedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.lastSyncedAt
}

// --- operations ---

// FetchNotes lists and reads the remote snapshot and merges it into the
// local set. Expected failures (offline, auth) fold into Status and
// LastError instead of propagating, and local state is never torn down
// on a failed fetch.
func (e *Engine) FetchNotes(ctx context.Context) error {
	e.opMu.Lock()
	defer e.notify()
	defer e.opMu.Unlock()

	e.fetchLocked(ctx)

	return nil
}

func (e *Engine) fetchLocked(ctx context.Context) {
	e.setLoading(true)
	defer e.setLoading(false)

	listing, err := e.store.List(ctx)
	if err != nil {
		e.remoteFailure("listing remote notes", err)
		return
	}

	fetched := make([]remote.File, 0, len(listing.Files))

	for _, fi := range listing.Files {
		// Unchanged files need no read; Merge keys on the hash.
		if e.sameVersion(fi) {
			fetched = append(fetched, remote.File{FileInfo: fi})
			continue
		}

		file, err := e.store.ReadFile(ctx, fi.Path)
		if err != nil {
			// Deleted between list and read; the next fetch settles it.
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}

			e.remoteFailure("reading "+fi.Path, err)

			return
		}

		fetched = append(fetched, *file)
	}

	now := e.nowFn()

	e.mu.Lock()
	local := make([]notes.Note, 0, len(e.byPath))
	for _, n := range e.byPath {
		local = append(local, n)
	}

	res := Merge(local, fetched, now)

	e.byPath = make(map[string]notes.Note, len(res.Notes))
	for _, n := range res.Notes {
		e.byPath[n.Path] = n
	}

	e.conflicts = make(map[string]Conflict, len(res.Conflicts))
	for _, c := range res.Conflicts {
		e.conflicts[c.Path] = c
	}

	pending := make([]string, 0, len(e.pendingFolders))
	for name := range e.pendingFolders {
		pending = append(pending, name)
	}

	e.folders = make(map[string]notes.Folder)
	for _, f := range MergeFolders(listing.Folders, res.Notes, pending) {
		e.folders[f.Name] = f
	}

	if e.currentNoteID != "" {
		if _, ok := e.findByIDLocked(e.currentNoteID); !ok {
			e.currentNoteID = ""
		}
	}

	e.lastSyncedAt = now
	e.mu.Unlock()

	e.mon.SetOnline(true)
	e.setLastError("")

	if err := e.cache.ReplaceNotes(e.repoKey, res.Notes); err != nil {
		e.logger.Warn("caching fetched notes", slog.String("error", err.Error()))
	}

	e.mirrorMeta()

	e.logger.Info("fetched remote snapshot",
		slog.Int("notes", len(res.Notes)),
		slog.Int("folders", len(listing.Folders)),
		slog.Int("conflicts", len(res.Conflicts)),
	)
}

// sameVersion reports whether the local note at this path already holds
// the listed remote version.
func (e *Engine) sameVersion(fi remote.FileInfo) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n, ok := e.byPath[fi.Path]

	return ok && n.ID == fi.SHA
}

// CreateNote inserts a note locally and attempts a best-effort remote
// create when online. The note is visible immediately either way.
func (e *Engine) CreateNote(ctx context.Context, title, content, folder string) (notes.Note, error) {
	e.opMu.Lock()
	defer e.notify()
	defer e.opMu.Unlock()

	folder = notes.CleanName(folder)

	if folder != "" && !e.folderExists(folder) {
		return notes.Note{}, fmt.Errorf("%w: %q", apperr.ErrFolderNotFound, folder)
	}

	n := notes.New(title, content, folder, e.nowFn())

	e.mu.Lock()
	if _, taken := e.byPath[n.Path]; taken {
		n.Path = e.uniquePathLocked(folder, e.nowFn())
	}

	e.byPath[n.Path] = n
	e.mu.Unlock()

	e.mirrorNote(n)

	e.logger.Info("created note", slog.String("path", n.Path), slog.String("title", n.Title))

	if e.mon.Online() {
		n = e.writeNote(ctx, n)
	}

	return n, nil
}

// UpdateNote applies new content to a note, re-deriving its title, and
// optionally moves it to another folder (folder nil keeps the current
// one, empty string means root). A move is delete-then-create on the
// remote side, since the store has no rename. The local mutation lands
// immediately; the remote write is best-effort.
func (e *Engine) UpdateNote(ctx context.Context, id, content string, folder *string) (notes.Note, error) {
	e.opMu.Lock()
	defer e.notify()
	defer e.opMu.Unlock()

	n, ok := e.noteByID(id)
	if !ok {
		return notes.Note{}, fmt.Errorf("%w: %s", apperr.ErrNoteNotFound, id)
	}

	var (
		oldPath, oldID string
		moved          bool
	)

	if folder != nil {
		target := notes.CleanName(*folder)
		if target != n.Folder {
			if target != "" && !e.folderExists(target) {
				return notes.Note{}, fmt.Errorf("%w: %q", apperr.ErrFolderNotFound, target)
			}

			oldPath, oldID, moved = n.Path, n.ID, true

			e.mu.Lock()
			delete(e.byPath, oldPath)
			delete(e.conflicts, oldPath)

			newPath := notes.Rebase(oldPath, target)
			if _, taken := e.byPath[newPath]; taken {
				newPath = e.uniquePathLocked(target, e.nowFn())
			}
			e.mu.Unlock()

			n.Path = newPath
			n.Folder = target
			// The new path does not exist remotely yet, so the note
			// becomes a pure create there.
			n.ID = notes.NewLocalID()
		}
	}

	n.Title, n.Content = notes.ParseMarkdown(n.Path, content)
	n.LastModified = e.nowFn()
	n.State = notes.StateDirty
	n.Synced = false

	e.mu.Lock()
	e.byPath[n.Path] = n

	if moved && e.currentNoteID == oldID {
		e.currentNoteID = n.ID
	}
	e.mu.Unlock()

	if moved {
		e.unmirrorNote(oldID)
		e.mirrorMeta()
	}

	e.mirrorNote(n)

	e.logger.Info("updated note", slog.String("path", n.Path), slog.Bool("moved", moved))

	if !e.mon.Online() {
		return n, nil
	}

	if moved && !notes.IsLocalID(oldID) {
		if err := e.store.DeleteFile(ctx, oldPath, oldID); err != nil {
			// The old file stays behind; the next fetch surfaces whatever
			// the remote holds there as a note of its own.
			e.logger.Warn("deleting old path after move",
				slog.String("path", oldPath),
				slog.String("error", err.Error()),
			)

			if errors.Is(err, apperr.ErrNetworkUnavailable) {
				e.mon.SetOnline(false)

				return n, nil
			}
		}
	}

	n = e.writeNote(ctx, n)

	return n, nil
}

// DeleteNote removes a note locally and best-effort deletes its remote
// file keyed on the last known hash. The local removal is never rolled
// back on remote failure.
func (e *Engine) DeleteNote(ctx context.Context, id string) error {
	e.opMu.Lock()
	defer e.notify()
	defer e.opMu.Unlock()

	n, ok := e.noteByID(id)
	if !ok {
		return fmt.Errorf("%w: %s", apperr.ErrNoteNotFound, id)
	}

	e.removeNoteLocally(n)

	e.logger.Info("deleted note", slog.String("path", n.Path))

	if !e.mon.Online() || notes.IsLocalID(n.ID) {
		return nil
	}

	if err := e.store.DeleteFile(ctx, n.Path, n.ID); err != nil {
		e.logger.Warn("deleting remote note",
			slog.String("path", n.Path),
			slog.String("error", err.Error()),
		)

		if errors.Is(err, apperr.ErrNetworkUnavailable) {
			e.mon.SetOnline(false)
		}
	}

	return nil
}

// CreateFolder registers a folder and writes its remote marker so the
// folder exists before holding any notes. Creating a folder that
// already exists returns it unchanged.
func (e *Engine) CreateFolder(ctx context.Context, name string) (notes.Folder, error) {
	e.opMu.Lock()
	defer e.notify()
	defer e.opMu.Unlock()

	name = notes.CleanName(name)
	if err := notes.ValidateFolderName(name); err != nil {
		return notes.Folder{}, fmt.Errorf("invalid folder name: %w", err)
	}

	e.mu.RLock()
	existing, ok := e.folders[name]
	e.mu.RUnlock()

	if ok {
		return existing, nil
	}

	f := notes.NewFolder(name)

	e.mu.Lock()
	e.folders[f.Name] = f
	e.pendingFolders[f.Name] = struct{}{}
	e.mu.Unlock()

	e.mirrorMeta()

	e.logger.Info("created folder", slog.String("name", f.Name))

	if e.mon.Online() {
		e.writeFolderMarker(ctx, f.Name)
	}

	return f, nil
}

// DeleteFolder removes a folder: every member note goes through the
// regular delete path, then the marker. Remote failures are logged and
// do not stop the sweep; the local set always reflects the intended end
// state.
func (e *Engine) DeleteFolder(ctx context.Context, id string) error {
	e.opMu.Lock()
	defer e.notify()
	defer e.opMu.Unlock()

	e.mu.RLock()
	f, ok := e.folders[id]

	var members []notes.Note

	if ok {
		for _, n := range e.byPath {
			if n.Folder == f.Name {
				members = append(members, n)
			}
		}
	}
	e.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", apperr.ErrFolderNotFound, id)
	}

	sort.Slice(members, func(i, j int) bool { return members[i].Path < members[j].Path })

	for _, n := range members {
		e.removeNoteLocally(n)

		if !e.mon.Online() || notes.IsLocalID(n.ID) {
			continue
		}

		if err := e.store.DeleteFile(ctx, n.Path, n.ID); err != nil {
			e.logger.Warn("deleting folder member",
				slog.String("path", n.Path),
				slog.String("error", err.Error()),
			)

			if errors.Is(err, apperr.ErrNetworkUnavailable) {
				e.mon.SetOnline(false)
			}
		}
	}

	if e.mon.Online() {
		if err := e.store.DeleteFolderMarker(ctx, f.Name); err != nil {
			e.logger.Warn("deleting folder marker",
				slog.String("folder", f.Name),
				slog.String("error", err.Error()),
			)

			if errors.Is(err, apperr.ErrNetworkUnavailable) {
				e.mon.SetOnline(false)
			}
		}
	}

	e.mu.Lock()
	delete(e.folders, f.Name)
	delete(e.pendingFolders, f.Name)
	e.mu.Unlock()

	e.mirrorMeta()

	e.logger.Info("deleted folder", slog.String("name", f.Name), slog.Int("notes", len(members)))

	return nil
}

// SyncNotes pushes every unsynced note and pending folder marker. Notes
// whose compare-and-swap loses turn Conflicted and stay local; nothing
// escalates to the caller. A no-op while offline.
func (e *Engine) SyncNotes(ctx context.Context) error {
	e.opMu.Lock()
	defer e.notify()
	defer e.opMu.Unlock()

	e.syncLocked(ctx)

	return nil
}

func (e *Engine) syncLocked(ctx context.Context) {
	if !e.mon.Online() {
		return
	}

	e.mu.RLock()
	pending := make([]string, 0, len(e.pendingFolders))
	for name := range e.pendingFolders {
		pending = append(pending, name)
	}

	var queue []notes.Note

	for _, n := range e.byPath {
		if n.State == notes.StateDirty || n.State == notes.StateConflicted {
			queue = append(queue, n)
		}
	}
	e.mu.RUnlock()

	sort.Strings(pending)
	sort.Slice(queue, func(i, j int) bool { return queue[i].Path < queue[j].Path })

	for _, name := range pending {
		e.writeFolderMarker(ctx, name)
	}

	for _, n := range queue {
		// An outage mid-sweep leaves the rest queued for the next pass.
		if !e.mon.Online() {
			return
		}

		e.writeNote(ctx, n)
	}
}

// SetCurrentNote marks the note the caller is focused on; persisted so a
// restart restores the selection. An empty ID clears it.
func (e *Engine) SetCurrentNote(id string) error {
	e.opMu.Lock()
	defer e.notify()
	defer e.opMu.Unlock()

	if id != "" {
		if _, ok := e.noteByID(id); !ok {
			return fmt.Errorf("%w: %s", apperr.ErrNoteNotFound, id)
		}
	}

	e.mu.Lock()
	e.currentNoteID = id
	e.mu.Unlock()

	e.mirrorMeta()

	return nil
}

// ResolveConflict settles a conflicted note. KeepMine re-reads the
// current remote hash and force-writes the local version over it;
// TakeTheirs replaces the local note with the remote version (or drops
// it if the remote file is gone). A note that is not conflicted is left
// untouched.
func (e *Engine) ResolveConflict(ctx context.Context, id string, res Resolution) error {
	e.opMu.Lock()
	defer e.notify()
	defer e.opMu.Unlock()

	n, ok := e.noteByID(id)
	if !ok {
		return fmt.Errorf("%w: %s", apperr.ErrNoteNotFound, id)
	}

	if n.State != notes.StateConflicted {
		return nil
	}

	switch res {
	case KeepMine:
		e.resolveKeepMine(ctx, n)
	case TakeTheirs:
		e.resolveTakeTheirs(ctx, n)
	default:
		return fmt.Errorf("unknown resolution %q", res)
	}

	return nil
}

func (e *Engine) resolveKeepMine(ctx context.Context, n notes.Note) {
	oldID := n.ID

	file, err := e.store.ReadFile(ctx, n.Path)

	switch {
	case err == nil:
		n.ID = file.SHA
	case errors.Is(err, apperr.ErrNotFound):
		n.ID = notes.NewLocalID()
	default:
		e.remoteFailure("reading remote version for resolution", err)
		return
	}

	e.mu.Lock()
	delete(e.conflicts, n.Path)
	e.byPath[n.Path] = n

	if e.currentNoteID == oldID {
		e.currentNoteID = n.ID
	}
	e.mu.Unlock()

	if oldID != n.ID {
		e.unmirrorNote(oldID)
		e.mirrorMeta()
	}

	e.mirrorNote(n)

	e.logger.Info("resolving conflict, keeping local", slog.String("path", n.Path))

	e.writeNote(ctx, n)
}

func (e *Engine) resolveTakeTheirs(ctx context.Context, n notes.Note) {
	file, err := e.store.ReadFile(ctx, n.Path)
	if errors.Is(err, apperr.ErrNotFound) {
		// The remote side deleted it; taking theirs drops the note.
		e.removeNoteLocally(n)

		e.logger.Info("resolving conflict, remote deleted", slog.String("path", n.Path))

		return
	}

	if err != nil {
		e.remoteFailure("reading remote version for resolution", err)
		return
	}

	fetched := notes.FromFile(file.Path, file.Content, file.SHA, e.nowFn())

	e.mu.Lock()
	e.byPath[fetched.Path] = fetched
	delete(e.conflicts, fetched.Path)

	if e.currentNoteID == n.ID {
		e.currentNoteID = fetched.ID
	}
	e.mu.Unlock()

	e.unmirrorNote(n.ID)
	e.mirrorNote(fetched)
	e.mirrorMeta()
	e.mon.SetOnline(true)

	e.logger.Info("resolving conflict, taking remote", slog.String("path", fetched.Path))
}

// --- run loop ---

// Kick requests an immediate fetch-and-sync cycle from Run.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drives the periodic fetch-and-sync loop until ctx is cancelled.
// Connectivity restoration and external edits schedule extra cycles
// through Kick.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-e.kick:
		}

		e.cycle(ctx)
	}
}

// cycle runs one fetch-then-push pass. Fetch first so pushes see fresh
// conflict state.
func (e *Engine) cycle(ctx context.Context) {
	if !e.mon.Online() {
		return
	}

	e.opMu.Lock()
	defer e.notify()
	defer e.opMu.Unlock()

	e.fetchLocked(ctx)
	e.syncLocked(ctx)
}

// --- write path ---

// writeNote pushes one note to the remote store. The caller holds opMu.
// The returned note reflects the outcome: Clean under a fresh hash on
// success, Dirty again on retryable failures, Conflicted when the
// compare-and-swap lost.
func (e *Engine) writeNote(ctx context.Context, n notes.Note) notes.Note {
	n.State = notes.StateWriting
	e.storeNote(n)

	expectedSHA := n.ID
	if notes.IsLocalID(n.ID) {
		expectedSHA = ""
	}

	raw := notes.Markdown(n.Title, n.Content)

	newSHA, err := e.store.WriteFile(ctx, n.Path, raw, expectedSHA)

	// The remote file vanished under an update. Recreate it rather than
	// drop the local edit.
	if err != nil && expectedSHA != "" && errors.Is(err, apperr.ErrNotFound) {
		newSHA, err = e.store.WriteFile(ctx, n.Path, raw, "")
	}

	if err == nil {
		oldID := n.ID
		n.ID = newSHA
		n.State = notes.StateClean
		n.Synced = true

		e.mu.Lock()
		e.byPath[n.Path] = n
		delete(e.conflicts, n.Path)

		if e.currentNoteID == oldID {
			e.currentNoteID = n.ID
		}
		e.mu.Unlock()

		if oldID != n.ID {
			e.unmirrorNote(oldID)
		}

		e.mirrorNote(n)
		e.mirrorMeta()
		e.mon.SetOnline(true)

		e.logger.Info("wrote note", slog.String("path", n.Path))

		return n
	}

	switch {
	case errors.Is(err, apperr.ErrConflict):
		n.State = notes.StateConflicted
		n.Synced = false
		e.storeNote(n)
		e.recordConflict(ctx, n)

		e.logger.Warn("write lost compare-and-swap", slog.String("path", n.Path))

	case errors.Is(err, apperr.ErrNetworkUnavailable):
		n.State = notes.StateDirty
		e.storeNote(n)
		e.mon.SetOnline(false)

	case errors.Is(err, apperr.ErrUnauthorized):
		n.State = notes.StateDirty
		e.storeNote(n)
		e.setLastError("remote store rejected the access token")

		e.logger.Error("writing note",
			slog.String("path", n.Path),
			slog.String("error", err.Error()),
		)

	case github.IsTransient(err):
		n.State = notes.StateDirty
		e.storeNote(n)

		e.logger.Warn("writing note failed, queued for retry",
			slog.String("path", n.Path),
			slog.String("error", err.Error()),
		)

	default:
		n.State = notes.StateDirty
		e.storeNote(n)
		e.setLastError(err.Error())

		e.logger.Error("writing note",
			slog.String("path", n.Path),
			slog.String("error", err.Error()),
		)
	}

	return n
}

// writeFolderMarker writes one folder marker, clearing its pending flag
// on success.
func (e *Engine) writeFolderMarker(ctx context.Context, name string) {
	if err := e.store.CreateFolderMarker(ctx, name); err != nil {
		e.logger.Warn("writing folder marker",
			slog.String("folder", name),
			slog.String("error", err.Error()),
		)

		if errors.Is(err, apperr.ErrNetworkUnavailable) {
			e.mon.SetOnline(false)
		}

		return
	}

	e.mu.Lock()
	delete(e.pendingFolders, name)
	e.mu.Unlock()

	e.mirrorMeta()
}

// recordConflict captures the remote side of a diverged note for
// display. Read failures leave the remote fields empty; resolution
// re-reads the remote side anyway.
func (e *Engine) recordConflict(ctx context.Context, n notes.Note) {
	c := Conflict{
		NoteID:       n.ID,
		Path:         n.Path,
		LocalTitle:   n.Title,
		LocalContent: n.Content,
	}

	if file, err := e.store.ReadFile(ctx, n.Path); err == nil {
		c.RemoteSHA = file.SHA
		c.RemoteTitle, c.RemoteContent = notes.ParseMarkdown(file.Path, file.Content)
	}

	e.mu.Lock()
	e.conflicts[n.Path] = c
	e.mu.Unlock()
}

// remoteFailure folds a failed remote call into engine state: transport
// failures flip the connectivity belief, auth failures surface through
// LastError, and everything leaves local state intact.
func (e *Engine) remoteFailure(doing string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNetworkUnavailable):
		e.mon.SetOnline(false)

	case errors.Is(err, apperr.ErrUnauthorized):
		e.setLastError("remote store rejected the access token")
		e.logger.Error(doing, slog.String("error", err.Error()))

	case github.IsTransient(err):
		e.logger.Warn(doing+" failed, will retry", slog.String("error", err.Error()))

	default:
		e.setLastError(err.Error())
		e.logger.Error(doing, slog.String("error", err.Error()))
	}
}

// --- state helpers ---

func (e *Engine) noteByID(id string) (notes.Note, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.findByIDLocked(id)
}

func (e *Engine) findByIDLocked(id string) (notes.Note, bool) {
	for _, n := range e.byPath {
		if n.ID == id {
			return n, true
		}
	}

	return notes.Note{}, false
}

func (e *Engine) folderExists(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.folders[name]

	return ok
}

// uniquePathLocked finds a free note path by advancing the timestamp a
// millisecond at a time. Paths are unique within a snapshot.
func (e *Engine) uniquePathLocked(folder string, ts time.Time) string {
	for i := 1; ; i++ {
		p := notes.NotePath(folder, ts.Add(time.Duration(i)*time.Millisecond))
		if _, taken := e.byPath[p]; !taken {
			return p
		}
	}
}

func (e *Engine) storeNote(n notes.Note) {
	e.mu.Lock()
	e.byPath[n.Path] = n
	e.mu.Unlock()

	e.mirrorNote(n)
}

func (e *Engine) removeNoteLocally(n notes.Note) {
	e.mu.Lock()
	delete(e.byPath, n.Path)
	delete(e.conflicts, n.Path)

	current := e.currentNoteID == n.ID
	if current {
		e.currentNoteID = ""
	}
	e.mu.Unlock()

	e.unmirrorNote(n.ID)

	if current {
		e.mirrorMeta()
	}
}

func (e *Engine) setLoading(v bool) {
	e.mu.Lock()
	e.loading = v
	e.mu.Unlock()
}

func (e *Engine) setLastError(msg string) {
	e.mu.Lock()
	e.lastErr = msg
	e.mu.Unlock()
}

// --- cache mirroring ---

// Cache writes are best-effort: the cache is a convenience for restarts,
// never a reason to fail an operation.

func (e *Engine) mirrorNote(n notes.Note) {
	if err := e.cache.SaveNote(e.repoKey, n); err != nil {
		e.logger.Warn("caching note", slog.String("path", n.Path), slog.String("error", err.Error()))
	}
}

func (e *Engine) unmirrorNote(id string) {
	if err := e.cache.DeleteNote(e.repoKey, id); err != nil {
		e.logger.Warn("dropping cached note", slog.String("id", id), slog.String("error", err.Error()))
	}
}

func (e *Engine) mirrorMeta() {
	e.mu.RLock()
	m := cache.Meta{
		Folders:       e.foldersLocked(),
		CurrentNoteID: e.currentNoteID,
		SyncedAt:      e.lastSyncedAt,
	}

	for name := range e.pendingFolders {
		m.PendingFolders = append(m.PendingFolders, name)
	}
	e.mu.RUnlock()

	sort.Strings(m.PendingFolders)

	if err := e.cache.SetMeta(e.repoKey, m); err != nil {
		e.logger.Warn("caching metadata", slog.String("error", err.Error()))
	}
}
