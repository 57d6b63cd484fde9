package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// ContentEntry is one element of a directory listing from the contents
// API. Type is "file" or "dir".
type ContentEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	SHA  string `json:"sha"`
	Type string `json:"type"`
}

// FileContent is the contents API response for a single file. Content is
// base64 with embedded newlines, as the API serves it.
type FileContent struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Decoded returns the file's bytes after base64 decoding.
func (f *FileContent) Decoded() ([]byte, error) {
	// The API wraps base64 at 60 columns; strip the newlines first.
	raw := strings.ReplaceAll(f.Content, "\n", "")

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding content of %s: %w", f.Path, err)
	}

	return data, nil
}

type putContentsRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type putContentsResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

type deleteContentsRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch,omitempty"`
}

// contentsEndpoint builds the contents API path for a file or directory,
// escaping each path segment but keeping the separators.
func contentsEndpoint(owner, repo, path string) string {
	endpoint := fmt.Sprintf("/repos/%s/%s/contents", url.PathEscape(owner), url.PathEscape(repo))
	if path == "" {
		return endpoint
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return endpoint + "/" + strings.Join(segments, "/")
}

// GetContents fetches a path from a repository. Exactly one of file or
// entries is non-nil: the API returns an object for files and an array
// for directories. An empty path lists the repository root.
func (c *Client) GetContents(ctx context.Context, owner, repo, path, ref string) (*FileContent, []ContentEntry, error) {
	endpoint := contentsEndpoint(owner, repo, path)
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, nil, fmt.Errorf("getting contents of %q: %w", path, err)
	}

	if gjson.ParseBytes(raw).IsArray() {
		var entries []ContentEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, nil, fmt.Errorf("decoding directory listing of %q: %w", path, err)
		}

		return nil, entries, nil
	}

	var file FileContent
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, nil, fmt.Errorf("decoding file contents of %q: %w", path, err)
	}

	return &file, nil, nil
}

// PutContents creates or updates a file. sha must be empty for a create
// and must carry the last known blob hash for an update; a mismatch with
// the remote state fails with apperr.ErrConflict. Returns the new blob
// hash on success.
func (c *Client) PutContents(ctx context.Context, owner, repo, path string, content []byte, sha, branch, message string) (string, error) {
	req := putContentsRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     sha,
		Branch:  branch,
	}

	var resp putContentsResponse
	if err := c.do(ctx, http.MethodPut, contentsEndpoint(owner, repo, path), req, &resp); err != nil {
		return "", fmt.Errorf("putting contents of %q: %w", path, err)
	}

	return resp.Content.SHA, nil
}

// DeleteContents deletes a file. sha must carry the last known blob hash;
// a mismatch fails with apperr.ErrConflict.
func (c *Client) DeleteContents(ctx context.Context, owner, repo, path, sha, branch, message string) error {
	req := deleteContentsRequest{
		Message: message,
		SHA:     sha,
		Branch:  branch,
	}

	if err := c.do(ctx, http.MethodDelete, contentsEndpoint(owner, repo, path), req, nil); err != nil {
		return fmt.Errorf("deleting contents of %q: %w", path, err)
	}

	return nil
}
