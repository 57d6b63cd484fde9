// Package mirror materializes the engine's note set as Markdown files
// in a local workspace directory and routes external edits made there
// back through the sync engine. Notes stay editable with ordinary tools
// even when the process is offline.
package mirror

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alexjbarnes/gitnotes/internal/notes"
)

const (
	dirPerm = 0o755

	// tempPrefix marks in-progress atomic writes so the watcher can
	// ignore them.
	tempPrefix = ".notes-write-"
)

// Dir is the workspace directory the mirror reads and writes. Every
// operation takes a slash-separated path relative to the root and
// refuses paths that would land outside it.
type Dir struct {
	root string
}

// NewDir opens the workspace directory, creating it if needed.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, errors.New("workspace path must not be empty")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("creating workspace directory: %w", err)
	}

	// Canonicalize so the escape checks in resolve compare against the
	// real location even when the root itself sits behind a symlink.
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}

	return &Dir{root: real}, nil
}

// Root returns the absolute workspace root.
func (d *Dir) Root() string {
	return d.root
}

// resolve converts a workspace-relative path to an absolute one,
// rejecting traversal and symlink escape out of the root.
func (d *Dir) resolve(rel string) (string, error) {
	if rel == "" || strings.Contains(rel, "..") {
		return "", fmt.Errorf("path escapes workspace: %q", rel)
	}

	abs := filepath.Join(d.root, filepath.FromSlash(rel))
	if !strings.HasPrefix(abs, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %q", rel)
	}

	real, err := evalExistingPrefix(abs)
	if err != nil {
		return "", fmt.Errorf("evaluating path: %w", err)
	}

	if !strings.HasPrefix(real, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace via symlink: %q", rel)
	}

	return abs, nil
}

// evalExistingPrefix resolves symlinks for the longest existing prefix
// of the path, so escape is caught even when the final components do
// not exist yet.
func evalExistingPrefix(abs string) (string, error) {
	real, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return real, nil
	}

	dir := filepath.Dir(abs)
	if dir == abs {
		return abs, nil
	}

	parent, err := evalExistingPrefix(dir)
	if err != nil {
		return "", err
	}

	return filepath.Join(parent, filepath.Base(abs)), nil
}

// ReadNote returns the content of one note file.
func (d *Dir) ReadNote(rel string) (string, error) {
	abs, err := d.resolve(rel)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", rel, err)
	}

	return string(data), nil
}

// WriteNote writes a note file atomically, creating parent directories
// as needed.
func (d *Dir) WriteNote(rel, content string) error {
	abs, err := d.resolve(rel)
	if err != nil {
		return err
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating directories for %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, abs); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}

// RemoveNote deletes one note file. A file that is already gone is not
// an error.
func (d *Dir) RemoveNote(rel string) error {
	abs, err := d.resolve(rel)
	if err != nil {
		return err
	}

	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", rel, err)
	}

	return nil
}

// Stat reports on the entry at rel, if any.
func (d *Dir) Stat(rel string) (fs.FileInfo, error) {
	abs, err := d.resolve(rel)
	if err != nil {
		return nil, err
	}

	return os.Stat(abs)
}

// EnsureFolder creates the directory for a folder.
func (d *Dir) EnsureFolder(name string) error {
	abs, err := d.resolve(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return fmt.Errorf("creating folder %s: %w", name, err)
	}

	return nil
}

// NoteFiles walks the workspace and returns the relative paths of every
// note file, sorted. Hidden entries and editor temp files are skipped.
func (d *Dir) NoteFiles() ([]string, error) {
	var out []string

	err := filepath.WalkDir(d.root, func(p string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := entry.Name()

		if entry.IsDir() {
			if p != d.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}

			return nil
		}

		if ignoredName(name) || !notes.IsNoteFile(name) {
			return nil
		}

		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return nil
		}

		out = append(out, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking workspace: %w", err)
	}

	sort.Strings(out)

	return out, nil
}

// PruneFolders removes top-level directories that are not in keep, but
// only when they are empty. User files never disappear with a folder.
func (d *Dir) PruneFolders(keep map[string]struct{}) error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return fmt.Errorf("reading workspace root: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()

		if !entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		if _, ok := keep[name]; ok {
			continue
		}

		// Remove fails on non-empty directories, which is exactly the
		// guard we want.
		_ = os.Remove(filepath.Join(d.root, name))
	}

	return nil
}

// ignoredName reports whether a file name is workspace noise rather
// than a note: hidden files, editor temp files, and our own in-progress
// writes.
func ignoredName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}

	if strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") {
		return true
	}

	return strings.HasPrefix(name, tempPrefix)
}
