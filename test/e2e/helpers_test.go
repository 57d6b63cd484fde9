package e2e_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/gitnotes/internal/apperr"
	"github.com/alexjbarnes/gitnotes/internal/cache"
	"github.com/alexjbarnes/gitnotes/internal/engine"
	"github.com/alexjbarnes/gitnotes/internal/mcpserver"
	"github.com/alexjbarnes/gitnotes/internal/netmon"
	"github.com/alexjbarnes/gitnotes/internal/notes"
	"github.com/alexjbarnes/gitnotes/internal/remote"
)

const testRepoKey = "alice/notes@main"

// harness holds the full e2e stack: a real HTTP server exposing the MCP
// tool surface of an engine synced against an in-memory remote store.
type harness struct {
	URL    string
	Store  *memStore
	Client *http.Client
}

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

// memFile is one stored file version.
type memFile struct {
	sha     string
	content string
}

// memStore is an in-memory Store with the same compare-and-swap
// contract as the GitHub adapter.
type memStore struct {
	mu      sync.Mutex
	files   map[string]memFile
	markers map[string]struct{}
	seq     int
}

func newMemStore() *memStore {
	return &memStore{
		files:   make(map[string]memFile),
		markers: make(map[string]struct{}),
	}
}

// put writes a file out-of-band, as another client would, bumping the
// content hash even when the rendered content is unchanged.
func (s *memStore) put(p, title, body string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	sha := fmt.Sprintf("sha-%d", s.seq)
	s.files[p] = memFile{sha: sha, content: notes.Markdown(title, body)}

	return sha
}

func (s *memStore) addMarker(folder string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markers[folder] = struct{}{}
}

func (s *memStore) content(p string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[p]

	return f.content, ok
}

func (s *memStore) markerExists(folder string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.markers[folder]

	return ok
}

func (s *memStore) List(context.Context) (*remote.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing := &remote.Listing{}
	folders := make(map[string]struct{})

	for f := range s.markers {
		folders[f] = struct{}{}
	}

	for p, f := range s.files {
		listing.Files = append(listing.Files, remote.FileInfo{Path: p, SHA: f.sha})

		if folder := notes.FolderOf(p); folder != "" {
			folders[folder] = struct{}{}
		}
	}

	for f := range folders {
		listing.Folders = append(listing.Folders, f)
	}

	sort.Slice(listing.Files, func(i, j int) bool { return listing.Files[i].Path < listing.Files[j].Path })
	sort.Strings(listing.Folders)

	return listing, nil
}

func (s *memStore) ReadFile(_ context.Context, p string) (*remote.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, p)
	}

	return &remote.File{FileInfo: remote.FileInfo{Path: p, SHA: f.sha}, Content: f.content}, nil
}

func (s *memStore) WriteFile(_ context.Context, p, content, expectedSHA string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, exists := s.files[p]

	switch {
	case expectedSHA == "" && exists:
		return "", fmt.Errorf("%w: %s already exists", apperr.ErrConflict, p)
	case expectedSHA != "" && !exists:
		return "", fmt.Errorf("%w: %s", apperr.ErrNotFound, p)
	case expectedSHA != "" && f.sha != expectedSHA:
		return "", fmt.Errorf("%w: stale hash for %s", apperr.ErrConflict, p)
	}

	s.seq++
	sha := fmt.Sprintf("sha-%d", s.seq)
	s.files[p] = memFile{sha: sha, content: content}

	return sha, nil
}

func (s *memStore) DeleteFile(_ context.Context, p, expectedSHA string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[p]
	if !ok {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, p)
	}

	if f.sha != expectedSHA {
		return fmt.Errorf("%w: stale hash for %s", apperr.ErrConflict, p)
	}

	delete(s.files, p)

	return nil
}

func (s *memStore) CreateFolderMarker(_ context.Context, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markers[folder] = struct{}{}

	return nil
}

func (s *memStore) DeleteFolderMarker(_ context.Context, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.markers, folder)

	return nil
}

// newHarness seeds a remote store, syncs a fresh engine against it, and
// starts an httptest server exposing the tools over streamable HTTP.
func newHarness(t *testing.T) *harness {
	t.Helper()

	store := newMemStore()
	store.put("plans.md", "Plans", "alpha")
	store.put("work/report.md", "Report", "quarterly numbers")
	store.addMarker("work")

	c, err := cache.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	logger := slog.New(slog.DiscardHandler)
	mon := netmon.NewMonitor(stubPinger{}, logger, time.Minute)

	eng, err := engine.New(store, c, mon, testRepoKey, time.Minute, logger)
	require.NoError(t, err)
	require.NoError(t, eng.FetchNotes(t.Context()))

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "gitnotes-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, eng)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpHandler)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &harness{URL: ts.URL, Store: store, Client: ts.Client()}
}

// mcpSession creates an MCP client session over the harness's HTTP
// endpoint using the SDK's StreamableClientTransport.
func (h *harness) mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint:             h.URL + "/mcp",
		HTTPClient:           h.Client,
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// callTool invokes a tool over the session; protocol errors fail the
// test, tool errors come back in the result.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)

	return result
}

// extractJSON unmarshals the first text content from a CallToolResult.
func extractJSON(t *testing.T, result *mcp.CallToolResult, dest any) {
	t.Helper()
	require.NotEmpty(t, result.Content, "result has no content")
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "first content is not TextContent")
	require.NoError(t, json.Unmarshal([]byte(tc.Text), dest))
}
