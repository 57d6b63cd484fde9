package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexjbarnes/gitnotes/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient creates a Client pointed at the given httptest server for
// both the API and OAuth hosts.
func newTestClient(srv *httptest.Server, token string) *Client {
	return NewClientAt(srv.URL, srv.URL, srv.Client(), token)
}

// --- do() internals ---

func TestDo_SetsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, "2022-11-28", r.Header.Get("X-GitHub-Api-Version"))
		assert.Equal(t, "Bearer tok_1", r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "tok_1")
	err := c.do(context.Background(), http.MethodGet, "/test", nil, nil)
	require.NoError(t, err)
}

func TestDo_NoAuthHeaderWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "")
	require.NoError(t, c.do(context.Background(), http.MethodGet, "/test", nil, nil))
}

func TestDo_NetworkErrorIsTransientAndOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := newTestClient(srv, "")
	err := c.do(context.Background(), http.MethodGet, "/test", nil, nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, apperr.ErrNetworkUnavailable)
}

func TestDo_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantIs    error
		transient bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"Bad credentials"}`, apperr.ErrUnauthorized, false},
		{"forbidden", http.StatusForbidden, `{"message":"Resource not accessible"}`, apperr.ErrUnauthorized, false},
		{"rate limited", http.StatusForbidden, `{"message":"API rate limit exceeded"}`, nil, true},
		{"not found", http.StatusNotFound, `{"message":"Not Found"}`, apperr.ErrNotFound, false},
		{"conflict 409", http.StatusConflict, `{"message":"is at abc but expected def"}`, apperr.ErrConflict, false},
		{"conflict 422", http.StatusUnprocessableEntity, `{"message":"sha does not match"}`, apperr.ErrConflict, false},
		{"server error", http.StatusInternalServerError, `boom`, nil, true},
		{"bad gateway", http.StatusBadGateway, ``, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestClient(srv, "tok")
			err := c.do(context.Background(), http.MethodGet, "/test", nil, nil)
			require.Error(t, err)

			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}

			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestDo_ErrorIncludesMessageField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found","documentation_url":"https://docs.github.com"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "tok")
	err := c.do(context.Background(), http.MethodGet, "/missing", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not Found")
	assert.Contains(t, err.Error(), "404")
}

// --- GetContents ---

func TestGetContents_File(t *testing.T) {
	content := base64.StdEncoding.EncodeToString([]byte("# Hi\nbody"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/alice/notes/contents/note_1.md", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		json.NewEncoder(w).Encode(FileContent{
			Name:     "note_1.md",
			Path:     "note_1.md",
			SHA:      "sha-1",
			Type:     "file",
			Content:  content,
			Encoding: "base64",
		})
	}))
	defer srv.Close()

	c := newTestClient(srv, "tok")
	file, entries, err := c.GetContents(context.Background(), "alice", "notes", "note_1.md", "main")
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Nil(t, entries)
	assert.Equal(t, "sha-1", file.SHA)

	data, err := file.Decoded()
	require.NoError(t, err)
	assert.Equal(t, "# Hi\nbody", string(data))
}

func TestGetContents_Directory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/alice/notes/contents", r.URL.Path)
		w.Write([]byte(`[
			{"name":"note_1.md","path":"note_1.md","sha":"s1","type":"file"},
			{"name":"work","path":"work","sha":"s2","type":"dir"}
		]`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "tok")
	file, entries, err := c.GetContents(context.Background(), "alice", "notes", "", "")
	require.NoError(t, err)
	assert.Nil(t, file)
	require.Len(t, entries, 2)
	assert.Equal(t, "note_1.md", entries[0].Name)
	assert.Equal(t, "dir", entries[1].Type)
}

func TestGetContents_EscapesPathSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/alice/notes/contents/my%20notes/note_1.md", r.URL.EscapedPath())
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "tok")
	_, _, err := c.GetContents(context.Background(), "alice", "notes", "my notes/note_1.md", "")
	require.NoError(t, err)
}

func TestGetContents_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "tok")
	_, _, err := c.GetContents(context.Background(), "alice", "notes", "gone.md", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFileContent_DecodedHandlesWrappedBase64(t *testing.T) {
	// The API wraps base64 payloads with newlines at 60 columns.
	f := &FileContent{Path: "x.md", Content: "IyBI\naQpi\nb2R5"}
	data, err := f.Decoded()
	require.NoError(t, err)
	assert.Equal(t, "# Hi\nbody", string(data))
}

// --- PutContents ---

func TestPutContents_Create(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/repos/alice/notes/contents/note_1.md", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var req putContentsRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "Create note_1.md", req.Message)
		assert.Empty(t, req.SHA)
		assert.Equal(t, "main", req.Branch)

		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		require.NoError(t, err)
		assert.Equal(t, "# T\nC", string(decoded))

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"content":{"sha":"new-sha"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "tok")
	sha, err := c.PutContents(context.Background(), "alice", "notes", "note_1.md",
		[]byte("# T\nC"), "", "main", "Create note_1.md")
	require.NoError(t, err)
	assert.Equal(t, "new-sha", sha)
}

func TestPutContents_UpdateSendsSHA(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req putContentsRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "old-sha", req.SHA)
		w.Write([]byte(`{"content":{"sha":"next-sha"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "tok")
	sha, err := c.PutContents(context.Background(), "alice", "notes", "note_1.md",
		[]byte("x"), "old-sha", "", "Update note_1.md")
	require.NoError(t, err)
	assert.Equal(t, "next-sha", sha)
}

func TestPutContents_ConflictOnStaleSHA(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"note_1.md does not match"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "tok")
	_, err := c.PutContents(context.Background(), "alice", "notes", "note_1.md",
		[]byte("x"), "stale", "", "Update note_1.md")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

// --- DeleteContents ---

func TestDeleteContents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)

		body, _ := io.ReadAll(r.Body)
		var req deleteContentsRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "sha-1", req.SHA)
		assert.Equal(t, "Delete note_1.md", req.Message)

		w.Write([]byte(`{"content":null}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "tok")
	err := c.DeleteContents(context.Background(), "alice", "notes", "note_1.md", "sha-1", "", "Delete note_1.md")
	require.NoError(t, err)
}

func TestDeleteContents_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"sha mismatch"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "tok")
	err := c.DeleteContents(context.Background(), "alice", "notes", "note_1.md", "stale", "", "Delete")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

// --- ExchangeCode ---

func TestExchangeCode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/login/oauth/access_token", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		body, _ := io.ReadAll(r.Body)
		var req exchangeCodeRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "client-1", req.ClientID)
		assert.Equal(t, "code-abc", req.Code)

		w.Write([]byte(`{"access_token":"gho_xyz","token_type":"bearer","scope":"repo"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "")
	token, err := c.ExchangeCode(context.Background(), "client-1", "secret", "code-abc")
	require.NoError(t, err)
	assert.Equal(t, "gho_xyz", token)
}

func TestExchangeCode_ErrorBodyOn200(t *testing.T) {
	// The token endpoint reports failures as 200 with error fields.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"bad_verification_code","error_description":"The code is incorrect or expired."}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "")
	_, err := c.ExchangeCode(context.Background(), "client-1", "secret", "expired")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Contains(t, err.Error(), "bad_verification_code")
}

func TestExchangeCode_EmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "")
	_, err := c.ExchangeCode(context.Background(), "client-1", "secret", "code")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

// --- AuthenticatedUser ---

func TestAuthenticatedUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user", r.URL.Path)
		assert.Equal(t, "Bearer gho_xyz", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id":7,"login":"alice","name":"Alice","avatar_url":"https://example.com/a.png"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "gho_xyz")
	user, err := c.AuthenticatedUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, "alice", user.Login)
}

func TestAuthenticatedUser_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "revoked")
	_, err := c.AuthenticatedUser(context.Background())
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

// --- Ping ---

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/zen", r.URL.Path)
		w.Write([]byte("Keep it logically awesome."))
	}))
	defer srv.Close()

	c := newTestClient(srv, "")
	require.NoError(t, c.Ping(context.Background()))
}

func TestPing_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := newTestClient(srv, "")
	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, apperr.ErrNetworkUnavailable)
}

// --- transient helpers ---

func TestIsTransient(t *testing.T) {
	base := errors.New("plain")
	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(&TransientError{Err: base}))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", &TransientError{Err: base})))
}
