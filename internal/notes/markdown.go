package notes

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// notePrefix is the reserved file name prefix for note files.
	notePrefix = "note_"

	// noteExt is the file extension note files are created with.
	noteExt = ".md"
)

// NotePath returns the repository path for a note created at ts, following
// the note_<epoch-ms>.md convention, nested one level when folder is set.
func NotePath(folder string, ts time.Time) string {
	name := fmt.Sprintf("%s%d%s", notePrefix, ts.UnixMilli(), noteExt)
	if folder == "" {
		return name
	}

	return folder + "/" + name
}

// FolderOf returns the folder segment of a note path, or "" for notes at
// the repository root.
func FolderOf(p string) string {
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}

	return ""
}

// Rebase moves a note path into another folder, keeping the file name.
// An empty folder moves the note to the repository root.
func Rebase(p, folder string) string {
	base := path.Base(p)
	if folder == "" {
		return base
	}

	return folder + "/" + base
}

// IsNoteFile reports whether a file name follows the note convention:
// a .md extension in any case, or the reserved note_ prefix.
func IsNoteFile(name string) bool {
	if strings.HasPrefix(name, notePrefix) {
		return true
	}

	return strings.EqualFold(path.Ext(name), noteExt)
}

// Markdown renders the file form of a note: a synthesized heading line
// followed by the body. ParseMarkdown strips the heading again, so the
// two functions round-trip.
func Markdown(title, content string) string {
	return "# " + title + "\n" + content
}

// ParseMarkdown splits a raw note file into title and body. The title
// comes from the first line when it is a heading (markers stripped),
// otherwise from the file name stem with the whole text kept as body.
func ParseMarkdown(p, raw string) (title, body string) {
	if t, rest, ok := splitHeading(raw); ok && t != "" {
		return t, rest
	}

	return TitleFromPath(p), raw
}

// TitleFromPath is the title fallback for files without a heading line:
// the file name without directory or extension.
func TitleFromPath(p string) string {
	base := path.Base(p)

	return strings.TrimSuffix(base, path.Ext(base))
}

// splitHeading splits raw into heading text and remainder when the first
// line is a Markdown heading.
func splitHeading(raw string) (title, rest string, ok bool) {
	line := raw
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		line, rest = raw[:i], raw[i+1:]
	}

	if !strings.HasPrefix(line, "#") {
		return "", "", false
	}

	return strings.TrimSpace(strings.TrimLeft(line, "#")), rest, true
}
