package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/canopy/internal/config"
	"github.com/hpungsan/canopy/internal/errors"
	"github.com/hpungsan/canopy/internal/history"
	"github.com/hpungsan/canopy/internal/ops"
	"github.com/hpungsan/canopy/internal/tree"
	"github.com/hpungsan/canopy/internal/workspace"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	sess *workspace.Session
	cfg  *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sess *workspace.Session, cfg *config.Config) *Handlers {
	return &Handlers{sess: sess, cfg: cfg}
}

// Request types for each tool

// RefRequest addresses a single node.
type RefRequest struct {
	Ref string `json:"ref"`
}

// CreateRequest represents the arguments for create_file and create_folder.
type CreateRequest struct {
	Name    string `json:"name"`
	Parent  string `json:"parent,omitempty"`
	Content string `json:"content,omitempty"`
}

// WriteRequest represents the arguments for write.
type WriteRequest struct {
	Ref     string `json:"ref"`
	Content string `json:"content"`
}

// RenameRequest represents the arguments for rename.
type RenameRequest struct {
	Ref  string `json:"ref"`
	Name string `json:"name"`
}

// MoveRequest represents the arguments for move.
type MoveRequest struct {
	Ref    string `json:"ref"`
	Parent string `json:"parent,omitempty"`
}

// ApplyRequest represents the arguments for apply.
type ApplyRequest struct {
	Operations []ops.FileOperation `json:"operations"`
	DryRun     bool                `json:"dry_run,omitempty"`
}

// PreviewRequest represents the arguments for preview.
type PreviewRequest struct {
	Ref             string `json:"ref,omitempty"`
	IncludeDocument bool   `json:"include_document,omitempty"`
}

// ExportRequest represents the arguments for export.
type ExportRequest struct {
	Path string `json:"path,omitempty"`
}

// Output types

// TreeNode is one row of the tree listing.
type TreeNode struct {
	tree.Entry
	Path     string `json:"path"`
	ParentID string `json:"parent_id,omitempty"`
}

// TreeOutput is the result of workspace_tree.
type TreeOutput struct {
	Nodes   []TreeNode           `json:"nodes"`
	Active  string               `json:"active,omitempty"`
	Tabs    []string             `json:"tabs"`
	History history.State        `json:"history"`
	Sync    workspace.SyncStatus `json:"sync"`
}

// FileOutput is the result of workspace_read.
type FileOutput struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Type    tree.Kind `json:"type"`
	Content string    `json:"content"`
}

// ChangeOutput reports the effect of a mutating tool.
type ChangeOutput struct {
	ID       string        `json:"id,omitempty"`
	Affected []string      `json:"affected,omitempty"`
	Changed  bool          `json:"changed"`
	History  history.State `json:"history"`
}

// DiffOutput is the result of a dry-run apply.
type DiffOutput struct {
	Diffs []ops.FileDiff `json:"diffs"`
}

// PreviewOutput is the result of workspace_preview.
type PreviewOutput struct {
	EntryID   string `json:"entry_id"`
	EntryName string `json:"entry_name"`
	Path      string `json:"path,omitempty"`
	Bytes     int    `json:"bytes"`
	Document  string `json:"document,omitempty"`
}

// Handler implementations

// HandleTree handles the tree tool call.
func (h *Handlers) HandleTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t := h.sess.Snapshot()
	nodes := t.Nodes()
	out := TreeOutput{
		Nodes:   make([]TreeNode, 0, len(nodes)),
		Active:  h.sess.Active(),
		Tabs:    h.sess.Tabs(),
		History: h.sess.HistoryState(),
		Sync:    h.sess.SyncStatus(),
	}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, TreeNode{
			Entry:    tree.Entry{ID: n.ID, Type: n.Type, Name: n.Name},
			Path:     t.Path(n.ID),
			ParentID: n.Parent(),
		})
	}
	return successResult(out)
}

// HandleRead handles the read tool call.
func (h *Handlers) HandleRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RefRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	n, err := h.lookup(input.Ref)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(FileOutput{
		ID:      n.ID,
		Name:    n.Name,
		Path:    h.sess.Snapshot().Path(n.ID),
		Type:    n.Type,
		Content: n.Content,
	})
}

// HandleCreateFile handles the create_file tool call.
func (h *Handlers) HandleCreateFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Name == "" {
		return errorResult(errors.NewInvalidRequest("name is required")), nil
	}
	parent, err := h.folder(input.Parent)
	if err != nil {
		return errorResult(err), nil
	}
	id, err := h.sess.AddFile(input.Name, input.Content, parent)
	if err != nil {
		return errorResult(err), nil
	}
	return h.changed(id, nil, true)
}

// HandleCreateFolder handles the create_folder tool call.
func (h *Handlers) HandleCreateFolder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Name == "" {
		return errorResult(errors.NewInvalidRequest("name is required")), nil
	}
	parent, err := h.folder(input.Parent)
	if err != nil {
		return errorResult(err), nil
	}
	id, err := h.sess.CreateFolder(input.Name, parent)
	if err != nil {
		return errorResult(err), nil
	}
	return h.changed(id, nil, true)
}

// HandleWrite handles the write tool call.
func (h *Handlers) HandleWrite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WriteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	n, err := h.lookup(input.Ref)
	if err != nil {
		return errorResult(err), nil
	}
	if err := h.sess.Write(n.ID, input.Content); err != nil {
		return errorResult(err), nil
	}
	return h.changed(n.ID, nil, n.Content != input.Content)
}

// HandleRename handles the rename tool call.
func (h *Handlers) HandleRename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RenameRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	n, err := h.lookup(input.Ref)
	if err != nil {
		return errorResult(err), nil
	}
	if err := h.sess.Rename(n.ID, input.Name); err != nil {
		return errorResult(err), nil
	}
	return h.changed(n.ID, nil, n.Name != input.Name)
}

// HandleDelete handles the delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RefRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	n, err := h.lookup(input.Ref)
	if err != nil {
		return errorResult(err), nil
	}
	removed, err := h.sess.Delete(n.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return h.changed("", removed, true)
}

// HandleMove handles the move tool call.
func (h *Handlers) HandleMove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MoveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	n, err := h.lookup(input.Ref)
	if err != nil {
		return errorResult(err), nil
	}
	parent, err := h.folder(input.Parent)
	if err != nil {
		return errorResult(err), nil
	}
	before := h.sess.Snapshot()
	if err := h.sess.Move(n.ID, parent); err != nil {
		return errorResult(err), nil
	}
	return h.changed(n.ID, nil, h.sess.Snapshot() != before)
}

// HandleApply handles the apply tool call.
func (h *Handlers) HandleApply(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ApplyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := ops.ValidateOperations(input.Operations); err != nil {
		return errorResult(err), nil
	}
	if input.DryRun {
		return successResult(DiffOutput{Diffs: ops.DiffOperations(h.sess.Snapshot(), input.Operations)})
	}
	affected := h.sess.ApplyOperations(input.Operations)
	return h.changed("", affected, len(affected) > 0)
}

// HandleUndo handles the undo tool call.
func (h *Handlers) HandleUndo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.changed("", nil, h.sess.Undo())
}

// HandleRedo handles the redo tool call.
func (h *Handlers) HandleRedo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.changed("", nil, h.sess.Redo())
}

// HandlePreview handles the preview tool call.
func (h *Handlers) HandlePreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PreviewRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Ref != "" {
		n, err := h.lookup(input.Ref)
		if err != nil {
			return errorResult(err), nil
		}
		if err := h.sess.Activate(n.ID); err != nil {
			return errorResult(err), nil
		}
	}
	a, err := h.sess.BuildPreview()
	if err != nil {
		return errorResult(err), nil
	}
	out := PreviewOutput{
		EntryID:   a.EntryID,
		EntryName: a.EntryName,
		Path:      a.Path,
		Bytes:     len(a.Document),
	}
	if input.IncludeDocument {
		out.Document = a.Document
	}
	return successResult(out)
}

// HandleExport handles the export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.ExportTree(ctx, h.sess.Snapshot(), h.cfg, ops.ExportInput{Path: input.Path})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// lookup resolves a required node reference.
func (h *Handlers) lookup(ref string) (*tree.Node, error) {
	if ref == "" {
		return nil, errors.NewInvalidRequest("ref is required")
	}
	return h.sess.Lookup(ref)
}

// folder resolves an optional folder reference; "" is the root.
func (h *Handlers) folder(ref string) (string, error) {
	if ref == "" {
		return tree.RootID, nil
	}
	n, err := h.sess.Lookup(ref)
	if err != nil {
		return "", err
	}
	if !n.IsFolder() {
		return "", errors.NewInvalidRequest(ref + " is not a folder")
	}
	return n.ID, nil
}

func (h *Handlers) changed(id string, affected []string, changed bool) (*mcp.CallToolResult, error) {
	return successResult(ChangeOutput{
		ID:       id,
		Affected: affected,
		Changed:  changed,
		History:  h.sess.HistoryState(),
	})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	ce := errors.As(err)
	errorObj := map[string]any{
		"code":    ce.Code,
		"message": ce.Message,
		"status":  ce.Status,
	}
	if ce.Code == errors.ErrInternal {
		errorObj["message"] = "an internal error occurred"
	} else if ce.Details != nil {
		errorObj["details"] = ce.Details
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
