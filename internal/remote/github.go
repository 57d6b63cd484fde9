package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexjbarnes/gitnotes/internal/apperr"
	"github.com/alexjbarnes/gitnotes/internal/github"
	"github.com/alexjbarnes/gitnotes/internal/notes"
)

const (
	// keepMarker is the marker file written to keep empty folders
	// visible. GitHub's tree model drops directories with no files.
	keepMarker = ".gitkeep"

	// readmeMarker is the legacy marker some folders carry instead.
	// At the repository root it is the repo README, never a note.
	readmeMarker = "README.md"
)

// GitHub implements Store against one GitHub repository and branch
// through the contents API.
type GitHub struct {
	client *github.Client
	sel    Selection
}

// NewGitHub returns a Store backed by the given repository selection.
func NewGitHub(client *github.Client, sel Selection) *GitHub {
	return &GitHub{client: client, sel: sel}
}

// Selection returns the repository selection this store writes to.
func (g *GitHub) Selection() Selection {
	return g.sel
}

// List walks the repository and returns its note files and folders.
// Top-level directories become folders; markers and the repository
// README are filtered out. An empty repository lists as empty rather
// than failing, since the contents API 404s on a root with no commits.
func (g *GitHub) List(ctx context.Context) (*Listing, error) {
	listing := &Listing{}

	if err := g.walk(ctx, "", 0, listing); err != nil {
		return nil, fmt.Errorf("listing %s: %w", g.sel.Key(), err)
	}

	return listing, nil
}

func (g *GitHub) walk(ctx context.Context, dir string, depth int, listing *Listing) error {
	_, entries, err := g.client.GetContents(ctx, g.sel.Owner, g.sel.Name, dir, g.sel.Branch)
	if err != nil {
		if dir == "" && errors.Is(err, apperr.ErrNotFound) {
			return nil
		}

		return err
	}

	for _, entry := range entries {
		switch entry.Type {
		case "dir":
			if depth == 0 {
				listing.Folders = append(listing.Folders, entry.Name)
			}

			if err := g.walk(ctx, entry.Path, depth+1, listing); err != nil {
				return err
			}

		case "file":
			if isMarker(entry.Name) || !notes.IsNoteFile(entry.Name) {
				continue
			}

			listing.Files = append(listing.Files, FileInfo{Path: entry.Path, SHA: entry.SHA})
		}
	}

	return nil
}

// isMarker reports whether a file name is folder-marker machinery (or
// the repository README) rather than a note.
func isMarker(name string) bool {
	return name == keepMarker || name == readmeMarker
}

// ReadFile fetches the file at path with its current content hash.
func (g *GitHub) ReadFile(ctx context.Context, path string) (*File, error) {
	file, _, err := g.client.GetContents(ctx, g.sel.Owner, g.sel.Name, path, g.sel.Branch)
	if err != nil {
		return nil, err
	}

	if file == nil {
		return nil, fmt.Errorf("%w: %q is a directory", apperr.ErrNotFound, path)
	}

	data, err := file.Decoded()
	if err != nil {
		return nil, err
	}

	return &File{
		FileInfo: FileInfo{Path: path, SHA: file.SHA},
		Content:  string(data),
	}, nil
}

// WriteFile creates or updates the file at path with a compare-and-swap
// on expectedSHA, returning the new content hash.
func (g *GitHub) WriteFile(ctx context.Context, path, content, expectedSHA string) (string, error) {
	message := "Update " + path
	if expectedSHA == "" {
		message = "Create " + path
	}

	newSHA, err := g.client.PutContents(ctx, g.sel.Owner, g.sel.Name, path,
		[]byte(content), expectedSHA, g.sel.Branch, message)
	if err != nil {
		return "", err
	}

	return newSHA, nil
}

// DeleteFile removes the file at path if its hash still matches
// expectedSHA.
func (g *GitHub) DeleteFile(ctx context.Context, path, expectedSHA string) error {
	return g.client.DeleteContents(ctx, g.sel.Owner, g.sel.Name, path,
		expectedSHA, g.sel.Branch, "Delete "+path)
}

// CreateFolderMarker writes the folder's keep marker so the folder
// exists remotely before it holds any notes. A marker that is already
// present counts as success.
func (g *GitHub) CreateFolderMarker(ctx context.Context, folder string) error {
	path := folder + "/" + keepMarker

	_, err := g.client.PutContents(ctx, g.sel.Owner, g.sel.Name, path,
		nil, "", g.sel.Branch, "Create "+path)
	if err != nil && !errors.Is(err, apperr.ErrConflict) {
		return err
	}

	return nil
}

// DeleteFolderMarker removes whichever marker files the folder carries.
// Folders created elsewhere may use a README instead of a keep file, so
// both are tried. A marker that is already gone counts as success.
func (g *GitHub) DeleteFolderMarker(ctx context.Context, folder string) error {
	for _, name := range []string{keepMarker, readmeMarker} {
		path := folder + "/" + name

		file, _, err := g.client.GetContents(ctx, g.sel.Owner, g.sel.Name, path, g.sel.Branch)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}

			return err
		}

		if file == nil {
			continue
		}

		err = g.client.DeleteContents(ctx, g.sel.Owner, g.sel.Name, path,
			file.SHA, g.sel.Branch, "Delete "+path)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
	}

	return nil
}
