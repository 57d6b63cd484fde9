package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alexjbarnes/gitnotes/internal/notes"
)

// DefaultDebounce batches the bursts of events editors produce for a
// single save.
const DefaultDebounce = 500 * time.Millisecond

// Syncer is the slice of the engine the mirror drives. External edits
// go through the same operations any other caller uses, so they get the
// same optimistic-local, best-effort-remote treatment.
type Syncer interface {
	Notes() []notes.Note
	Folders() []notes.Folder
	CreateNote(ctx context.Context, title, content, folder string) (notes.Note, error)
	UpdateNote(ctx context.Context, id, content string, folder *string) (notes.Note, error)
	DeleteNote(ctx context.Context, id string) error
	CreateFolder(ctx context.Context, name string) (notes.Folder, error)
	Subscribe(fn func())
}

// Mirror keeps the workspace directory and the engine's note set in
// step, in both directions.
type Mirror struct {
	dir      *Dir
	eng      Syncer
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]struct{}

	exportKick chan struct{}
}

// New creates a mirror over dir. Run starts the two-way flow.
func New(dir *Dir, eng Syncer, debounce time.Duration, logger *slog.Logger) *Mirror {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Mirror{
		dir:        dir,
		eng:        eng,
		logger:     logger,
		debounce:   debounce,
		pending:    make(map[string]struct{}),
		exportKick: make(chan struct{}, 1),
	}
}

// Run watches the workspace and the engine until ctx is cancelled. It
// exports the current note set first, so the directory is populated
// before any external edit can land.
func (m *Mirror) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := m.addRecursive(watcher); err != nil {
		return fmt.Errorf("watching %s: %w", m.dir.Root(), err)
	}

	m.eng.Subscribe(func() { m.kickExport() })

	m.export()

	timer := time.NewTimer(m.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-m.exportKick:
			m.export()

		case <-timer.C:
			m.flush(ctx)

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("fsnotify events channel closed")
			}

			if m.noteEvent(watcher, event) {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}

				timer.Reset(m.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("fsnotify errors channel closed")
			}

			m.logger.Warn("workspace watcher error", slog.String("error", err.Error()))
		}
	}
}

func (m *Mirror) kickExport() {
	select {
	case m.exportKick <- struct{}{}:
	default:
	}
}

// addRecursive puts a watch on the root and every non-hidden
// subdirectory.
func (m *Mirror) addRecursive(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(m.dir.Root(), func(p string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.IsDir() {
			return nil
		}

		if p != m.dir.Root() && strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}

		return watcher.Add(p)
	})
}

// noteEvent queues one fsnotify event for the next flush and reports
// whether the debounce timer should restart.
func (m *Mirror) noteEvent(watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	if ignoredName(filepath.Base(event.Name)) {
		return false
	}

	// New directory: watch it so files created inside are seen. Lstat
	// avoids following symlinks to directories outside the workspace.
	if event.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			_ = watcher.Add(event.Name)
		}
	}

	rel, err := filepath.Rel(m.dir.Root(), event.Name)
	if err != nil || rel == "." {
		return false
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	m.mu.Lock()
	m.pending[filepath.ToSlash(rel)] = struct{}{}
	m.mu.Unlock()

	return true
}

// flush applies every queued path. The decision is made on the state of
// the file now, not on the event kind, so reordered or collapsed event
// bursts resolve correctly.
func (m *Mirror) flush(ctx context.Context) {
	m.mu.Lock()
	paths := make([]string, 0, len(m.pending))
	for p := range m.pending {
		paths = append(paths, p)
	}

	m.pending = make(map[string]struct{})
	m.mu.Unlock()

	sort.Strings(paths)

	byPath := m.notesByPath()

	for _, p := range paths {
		info, err := m.dir.Stat(p)

		switch {
		case err != nil:
			m.handleMissing(ctx, p, byPath)
		case info.IsDir():
			m.handleDir(ctx, p)
		default:
			m.handleFile(ctx, p, byPath)
		}
	}
}

func (m *Mirror) notesByPath() map[string]notes.Note {
	set := m.eng.Notes()

	byPath := make(map[string]notes.Note, len(set))
	for _, n := range set {
		byPath[n.Path] = n
	}

	return byPath
}

// handleFile routes an external write: known paths become updates,
// unknown note files become new notes which the engine renames to its
// own layout.
func (m *Mirror) handleFile(ctx context.Context, p string, byPath map[string]notes.Note) {
	content, err := m.dir.ReadNote(p)
	if err != nil {
		m.logger.Warn("reading edited file", slog.String("path", p), slog.String("error", err.Error()))
		return
	}

	if n, ok := byPath[p]; ok {
		// Echo of our own export.
		if notes.Markdown(n.Title, n.Content) == content {
			return
		}

		if _, err := m.eng.UpdateNote(ctx, n.ID, content, nil); err != nil {
			m.logger.Warn("applying external edit", slog.String("path", p), slog.String("error", err.Error()))
		}

		return
	}

	if !notes.IsNoteFile(path.Base(p)) {
		return
	}

	folder := notes.FolderOf(p)
	if folder != "" {
		if _, err := m.eng.CreateFolder(ctx, folder); err != nil {
			m.logger.Warn("creating folder for external file",
				slog.String("folder", folder),
				slog.String("error", err.Error()),
			)

			return
		}
	}

	title, _ := notes.ParseMarkdown(p, content)

	created, err := m.eng.CreateNote(ctx, title, content, folder)
	if err != nil {
		m.logger.Warn("importing external file", slog.String("path", p), slog.String("error", err.Error()))
		return
	}

	m.logger.Info("imported external file",
		slog.String("from", p),
		slog.String("to", created.Path),
	)

	// The note now lives under the engine's naming; drop the original
	// so the next export does not duplicate it.
	if created.Path != p {
		if err := m.dir.RemoveNote(p); err != nil {
			m.logger.Warn("removing imported file", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
}

func (m *Mirror) handleDir(ctx context.Context, p string) {
	// Folders are single-level; nested directories only matter as note
	// path prefixes.
	if strings.Contains(p, "/") {
		return
	}

	if _, err := m.eng.CreateFolder(ctx, p); err != nil {
		m.logger.Warn("creating folder from directory", slog.String("name", p), slog.String("error", err.Error()))
	}
}

func (m *Mirror) handleMissing(ctx context.Context, p string, byPath map[string]notes.Note) {
	n, ok := byPath[p]
	if !ok {
		return
	}

	if err := m.eng.DeleteNote(ctx, n.ID); err != nil {
		m.logger.Warn("applying external delete", slog.String("path", p), slog.String("error", err.Error()))
	}
}

// export writes the engine's note set into the workspace: changed notes
// rewritten, vanished notes removed, folder directories kept present.
func (m *Mirror) export() {
	set := m.eng.Notes()
	folders := m.eng.Folders()

	keep := make(map[string]struct{}, len(folders))

	for _, f := range folders {
		keep[f.Name] = struct{}{}

		if err := m.dir.EnsureFolder(f.Name); err != nil {
			m.logger.Warn("creating folder directory", slog.String("name", f.Name), slog.String("error", err.Error()))
		}
	}

	want := make(map[string]string, len(set))
	for _, n := range set {
		want[n.Path] = notes.Markdown(n.Title, n.Content)
	}

	existing, err := m.dir.NoteFiles()
	if err != nil {
		m.logger.Warn("listing workspace", slog.String("error", err.Error()))
		return
	}

	for _, p := range existing {
		content, ok := want[p]
		if !ok {
			if err := m.dir.RemoveNote(p); err != nil {
				m.logger.Warn("removing stale file", slog.String("path", p), slog.String("error", err.Error()))
			}

			continue
		}

		delete(want, p)

		current, err := m.dir.ReadNote(p)
		if err == nil && current == content {
			continue
		}

		if err := m.dir.WriteNote(p, content); err != nil {
			m.logger.Warn("writing note file", slog.String("path", p), slog.String("error", err.Error()))
		}
	}

	for p, content := range want {
		if err := m.dir.WriteNote(p, content); err != nil {
			m.logger.Warn("writing note file", slog.String("path", p), slog.String("error", err.Error()))
		}
	}

	if err := m.dir.PruneFolders(keep); err != nil {
		m.logger.Warn("pruning folders", slog.String("error", err.Error()))
	}
}
