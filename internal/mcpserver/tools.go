// Package mcpserver registers MCP tools that expose the sync engine.
// It adapts the engine's public API to the MCP SDK's tool handler
// interface; every result carries enough sync state for a client to
// tell what has and has not reached the remote repository.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexjbarnes/gitnotes/internal/apperr"
	"github.com/alexjbarnes/gitnotes/internal/engine"
	"github.com/alexjbarnes/gitnotes/internal/notes"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterTools adds all note tools to the given MCP server.
func RegisterTools(server *mcp.Server, e *engine.Engine) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "notes_list",
		Description: "List every note with sync metadata (id, title, path, folder, state) plus folders and the overall sync status. No note content. Use this as the first call to get a complete map of the note set.",
	}, listHandler(e))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "notes_read",
		Description: "Read a single note by id, including its content and the Markdown document as stored in the repository.",
	}, readHandler(e))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "notes_create",
		Description: "Create a note. A leading '# heading' in the content wins over the title argument. The note is visible immediately and pushed to the repository in the background when online.",
	}, createHandler(e))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "notes_update",
		Description: "Replace a note's content, re-deriving the title from the first line, and optionally move it to another folder (empty string moves to root). The local state updates immediately; the remote write is best-effort.",
	}, updateHandler(e))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "notes_delete",
		Description: "Delete a note locally and from the repository. The local removal is immediate even when the remote delete fails.",
	}, deleteHandler(e))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "notes_sync",
		Description: "Run a full sync cycle: pull the remote state, reconcile it with local edits, then push every pending note and folder. Returns the resulting sync status and counts.",
	}, syncHandler(e))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "notes_conflicts",
		Description: "List unresolved conflicts with both versions and a rendered diff, remote-only text in [-...-] and local-only text in [+...+].",
	}, conflictsHandler(e))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "notes_resolve",
		Description: "Resolve a conflicted note. 'keep-mine' force-writes the local version over the remote one; 'take-theirs' discards the local edits in favor of the remote version.",
	}, resolveHandler(e))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "folders_create",
		Description: "Create a top-level folder. Folders are single-level; the folder marker is pushed to the repository when online.",
	}, folderCreateHandler(e))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "folders_delete",
		Description: "Delete a folder and every note in it, locally and from the repository.",
	}, folderDeleteHandler(e))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "notes_set_current",
		Description: "Mark a note as the currently open one; the selection survives restarts. An empty id clears it.",
	}, setCurrentHandler(e))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// ListInput holds parameters for notes_list.
type ListInput struct {
	Folder string `json:"folder,omitempty" jsonschema:"folder name to filter by, omit for all notes"`
}

// ReadInput holds parameters for notes_read.
type ReadInput struct {
	ID string `json:"id" jsonschema:"required,note id"`
}

// CreateInput holds parameters for notes_create.
type CreateInput struct {
	Title   string `json:"title,omitempty" jsonschema:"note title, overridden by a leading '# heading' in the content"`
	Content string `json:"content,omitempty" jsonschema:"note body"`
	Folder  string `json:"folder,omitempty" jsonschema:"existing folder to create the note in, omit for root"`
}

// UpdateInput holds parameters for notes_update.
type UpdateInput struct {
	ID      string  `json:"id" jsonschema:"required,note id"`
	Content string  `json:"content" jsonschema:"required,full replacement content, a leading '# heading' becomes the title"`
	Folder  *string `json:"folder,omitempty" jsonschema:"target folder name, omit to keep the current folder, empty string moves to root"`
}

// DeleteInput holds parameters for notes_delete.
type DeleteInput struct {
	ID string `json:"id" jsonschema:"required,note id"`
}

// SyncInput has no parameters.
type SyncInput struct{}

// ConflictsInput has no parameters.
type ConflictsInput struct{}

// ResolveInput holds parameters for notes_resolve.
type ResolveInput struct {
	ID         string `json:"id" jsonschema:"required,conflicted note id"`
	Resolution string `json:"resolution" jsonschema:"required,one of keep-mine or take-theirs"`
}

// FolderCreateInput holds parameters for folders_create.
type FolderCreateInput struct {
	Name string `json:"name" jsonschema:"required,folder name, single level, no slashes"`
}

// FolderDeleteInput holds parameters for folders_delete.
type FolderDeleteInput struct {
	Name string `json:"name" jsonschema:"required,folder name"`
}

// SetCurrentInput holds parameters for notes_set_current.
type SetCurrentInput struct {
	ID string `json:"id,omitempty" jsonschema:"note id, omit or empty to clear the selection"`
}

// --- Result types ---

// NoteSummary is a note without its content, as returned by notes_list.
type NoteSummary struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Path         string          `json:"path"`
	Folder       string          `json:"folder,omitempty"`
	State        notes.SyncState `json:"state"`
	Synced       bool            `json:"synced"`
	LastModified time.Time       `json:"lastModified"`
}

// ListResult is the output of notes_list.
type ListResult struct {
	Repo         string         `json:"repo"`
	Status       engine.Status  `json:"status"`
	LastSyncedAt time.Time      `json:"lastSyncedAt"`
	LastError    string         `json:"lastError,omitempty"`
	TotalNotes   int            `json:"totalNotes"`
	Notes        []NoteSummary  `json:"notes"`
	Folders      []notes.Folder `json:"folders"`
}

// ReadResult is the output of notes_read: the full note plus the
// Markdown document form it takes in the repository.
type ReadResult struct {
	notes.Note
	Markdown string `json:"markdown"`
}

// NoteResult is the output of notes_create and notes_update.
type NoteResult struct {
	notes.Note
	SyncStatus engine.Status `json:"syncStatus"`
}

// DeleteResult is the output of notes_delete.
type DeleteResult struct {
	ID         string        `json:"id"`
	Deleted    bool          `json:"deleted"`
	SyncStatus engine.Status `json:"syncStatus"`
}

// SyncResult is the output of notes_sync.
type SyncResult struct {
	Status       engine.Status `json:"status"`
	LastSyncedAt time.Time     `json:"lastSyncedAt"`
	LastError    string        `json:"lastError,omitempty"`
	TotalNotes   int           `json:"totalNotes"`
	PendingNotes int           `json:"pendingNotes"`
	Conflicts    int           `json:"conflicts"`
}

// ConflictEntry pairs a conflict with its rendered diff.
type ConflictEntry struct {
	engine.Conflict
	Diff string `json:"diff"`
}

// ConflictsResult is the output of notes_conflicts.
type ConflictsResult struct {
	TotalConflicts int             `json:"totalConflicts"`
	Conflicts      []ConflictEntry `json:"conflicts"`
}

// ResolveResult is the output of notes_resolve.
type ResolveResult struct {
	ID         string        `json:"id"`
	Resolution string        `json:"resolution"`
	Remaining  int           `json:"remaining"`
	SyncStatus engine.Status `json:"syncStatus"`
}

// FolderResult is the output of folders_create.
type FolderResult struct {
	notes.Folder
	SyncStatus engine.Status `json:"syncStatus"`
}

// FolderDeleteResult is the output of folders_delete.
type FolderDeleteResult struct {
	Name       string        `json:"name"`
	Deleted    bool          `json:"deleted"`
	SyncStatus engine.Status `json:"syncStatus"`
}

// CurrentResult is the output of notes_set_current. Both fields are
// empty when the selection was cleared.
type CurrentResult struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
}

// --- Handlers ---

func listHandler(e *engine.Engine) mcp.ToolHandlerFor[ListInput, *ListResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, *ListResult, error) {
		summaries := make([]NoteSummary, 0)

		for _, n := range e.Notes() {
			if input.Folder != "" && n.Folder != input.Folder {
				continue
			}

			summaries = append(summaries, summarize(n))
		}

		result := &ListResult{
			Repo:         e.Repo(),
			Status:       e.Status(),
			LastSyncedAt: e.LastSyncedAt(),
			LastError:    e.LastError(),
			TotalNotes:   len(summaries),
			Notes:        summaries,
			Folders:      e.Folders(),
		}

		return textResult(result), result, nil
	}
}

func readHandler(e *engine.Engine) mcp.ToolHandlerFor[ReadInput, *ReadResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ReadInput) (*mcp.CallToolResult, *ReadResult, error) {
		n, ok := e.Note(input.ID)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", apperr.ErrNoteNotFound, input.ID)
		}

		result := &ReadResult{Note: n, Markdown: notes.Markdown(n.Title, n.Content)}

		return textResult(result), result, nil
	}
}

func createHandler(e *engine.Engine) mcp.ToolHandlerFor[CreateInput, *NoteResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreateInput) (*mcp.CallToolResult, *NoteResult, error) {
		n, err := e.CreateNote(ctx, input.Title, input.Content, input.Folder)
		if err != nil {
			return nil, nil, err
		}

		result := &NoteResult{Note: n, SyncStatus: e.Status()}

		return textResult(result), result, nil
	}
}

func updateHandler(e *engine.Engine) mcp.ToolHandlerFor[UpdateInput, *NoteResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input UpdateInput) (*mcp.CallToolResult, *NoteResult, error) {
		n, err := e.UpdateNote(ctx, input.ID, input.Content, input.Folder)
		if err != nil {
			return nil, nil, err
		}

		result := &NoteResult{Note: n, SyncStatus: e.Status()}

		return textResult(result), result, nil
	}
}

func deleteHandler(e *engine.Engine) mcp.ToolHandlerFor[DeleteInput, *DeleteResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DeleteInput) (*mcp.CallToolResult, *DeleteResult, error) {
		if err := e.DeleteNote(ctx, input.ID); err != nil {
			return nil, nil, err
		}

		result := &DeleteResult{ID: input.ID, Deleted: true, SyncStatus: e.Status()}

		return textResult(result), result, nil
	}
}

func syncHandler(e *engine.Engine) mcp.ToolHandlerFor[SyncInput, *SyncResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ SyncInput) (*mcp.CallToolResult, *SyncResult, error) {
		if err := e.FetchNotes(ctx); err != nil {
			return nil, nil, err
		}

		if err := e.SyncNotes(ctx); err != nil {
			return nil, nil, err
		}

		all := e.Notes()
		pending := 0

		for _, n := range all {
			if !n.Synced {
				pending++
			}
		}

		result := &SyncResult{
			Status:       e.Status(),
			LastSyncedAt: e.LastSyncedAt(),
			LastError:    e.LastError(),
			TotalNotes:   len(all),
			PendingNotes: pending,
			Conflicts:    len(e.Conflicts()),
		}

		return textResult(result), result, nil
	}
}

func conflictsHandler(e *engine.Engine) mcp.ToolHandlerFor[ConflictsInput, *ConflictsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ConflictsInput) (*mcp.CallToolResult, *ConflictsResult, error) {
		conflicts := e.Conflicts()
		entries := make([]ConflictEntry, 0, len(conflicts))

		for _, c := range conflicts {
			entries = append(entries, ConflictEntry{Conflict: c, Diff: c.Diff()})
		}

		result := &ConflictsResult{TotalConflicts: len(entries), Conflicts: entries}

		return textResult(result), result, nil
	}
}

func resolveHandler(e *engine.Engine) mcp.ToolHandlerFor[ResolveInput, *ResolveResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ResolveInput) (*mcp.CallToolResult, *ResolveResult, error) {
		if err := e.ResolveConflict(ctx, input.ID, engine.Resolution(input.Resolution)); err != nil {
			return nil, nil, err
		}

		result := &ResolveResult{
			ID:         input.ID,
			Resolution: input.Resolution,
			Remaining:  len(e.Conflicts()),
			SyncStatus: e.Status(),
		}

		return textResult(result), result, nil
	}
}

func folderCreateHandler(e *engine.Engine) mcp.ToolHandlerFor[FolderCreateInput, *FolderResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input FolderCreateInput) (*mcp.CallToolResult, *FolderResult, error) {
		f, err := e.CreateFolder(ctx, input.Name)
		if err != nil {
			return nil, nil, err
		}

		result := &FolderResult{Folder: f, SyncStatus: e.Status()}

		return textResult(result), result, nil
	}
}

func folderDeleteHandler(e *engine.Engine) mcp.ToolHandlerFor[FolderDeleteInput, *FolderDeleteResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input FolderDeleteInput) (*mcp.CallToolResult, *FolderDeleteResult, error) {
		if err := e.DeleteFolder(ctx, input.Name); err != nil {
			return nil, nil, err
		}

		result := &FolderDeleteResult{Name: input.Name, Deleted: true, SyncStatus: e.Status()}

		return textResult(result), result, nil
	}
}

func setCurrentHandler(e *engine.Engine) mcp.ToolHandlerFor[SetCurrentInput, *CurrentResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input SetCurrentInput) (*mcp.CallToolResult, *CurrentResult, error) {
		if err := e.SetCurrentNote(input.ID); err != nil {
			return nil, nil, err
		}

		result := &CurrentResult{}
		if n, ok := e.CurrentNote(); ok {
			result.ID = n.ID
			result.Title = n.Title
		}

		return textResult(result), result, nil
	}
}

// summarize strips a note to its listing form.
func summarize(n notes.Note) NoteSummary {
	return NoteSummary{
		ID:           n.ID,
		Title:        n.Title,
		Path:         n.Path,
		Folder:       n.Folder,
		State:        n.State,
		Synced:       n.Synced,
		LastModified: n.LastModified,
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
