package web

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/hpungsan/canopy/internal/config"
	"github.com/hpungsan/canopy/internal/db"
	"github.com/hpungsan/canopy/internal/errors"
	"github.com/hpungsan/canopy/internal/ops"
	"github.com/hpungsan/canopy/internal/tree"
	"github.com/hpungsan/canopy/internal/workspace"
)

// maxBodySize bounds request bodies: form posts carry whole file contents.
const maxBodySize = 8 << 20

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	sess     *workspace.Session
	cfg      *config.Config
	renderer *Renderer
	log      *logrus.Entry
}

// HandleExplorer handles GET /files: the project tree and tab strip.
func (h *Handlers) HandleExplorer(w http.ResponseWriter, r *http.Request) {
	h.renderer.renderPage(w, r, "explorer", h.explorerData("Files"))
}

// HandleFile handles GET /files/{id}: opens the file as the active tab and
// shows it. Markdown files are rendered; others are shown in the editor.
func (h *Handlers) HandleFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sess.OpenTab(id); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	t := h.sess.Snapshot()
	n := t.File(id)
	if n == nil {
		h.renderer.renderError(w, r, errors.NewNotFound(id))
		return
	}

	data := FilePageData{
		ExplorerPageData: h.explorerData(n.Name),
		File:             n,
		Path:             t.Path(id),
		Markdown:         path.Ext(n.Name) == ".md",
	}
	if data.Markdown && r.URL.Query().Get("edit") != "true" {
		data.RenderedHTML = h.renderer.renderMarkdown(n.Content)
	}
	h.renderer.renderPage(w, r, "file", data)
}

// HandleRaw handles GET /files/{id}/raw: downloads one file's bytes.
func (h *Handlers) HandleRaw(w http.ResponseWriter, r *http.Request) {
	data, name, err := ops.ExportFile(h.sess.Snapshot(), r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	_, _ = w.Write(data)
}

// HandleCreate handles POST /files: creates a file or folder.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("name is required"))
		return
	}
	parent := r.FormValue("parent")

	var (
		id  string
		err error
	)
	switch kind := r.FormValue("kind"); kind {
	case "", "file":
		id, err = h.sess.CreateFile(name, parent)
	case "folder":
		id, err = h.sess.CreateFolder(name, parent)
	default:
		err = errors.NewInvalidRequest("kind must be file or folder")
	}
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	target := "/files"
	if h.sess.Snapshot().Get(id).IsFile() {
		target = "/files/" + id
	}
	h.done(w, r, target, map[string]any{"id": id})
}

// HandleEdit handles POST /files/{id}/content. Saving the editor buffer is
// not recorded in history; POST /checkpoint makes it undoable.
func (h *Handlers) HandleEdit(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	id := r.PathValue("id")
	if err := h.sess.Edit(id, r.FormValue("content")); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if r.FormValue("checkpoint") == "true" {
		h.sess.Checkpoint()
	}
	h.done(w, r, "/files/"+id, map[string]any{"id": id})
}

// HandleRename handles POST /files/{id}/rename.
func (h *Handlers) HandleRename(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	id := r.PathValue("id")
	if err := h.sess.Rename(id, strings.TrimSpace(r.FormValue("name"))); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.done(w, r, h.back(r), map[string]any{"id": id})
}

// HandleMove handles POST /files/{id}/move.
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	id := r.PathValue("id")
	if err := h.sess.Move(id, r.FormValue("parent")); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.done(w, r, h.back(r), map[string]any{"id": id})
}

// HandleToggle handles POST /files/{id}/toggle: expands or collapses a folder.
func (h *Handlers) HandleToggle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sess.ToggleOpen(id); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.done(w, r, h.back(r), map[string]any{"id": id})
}

// HandleCloseTab handles POST /files/{id}/close.
func (h *Handlers) HandleCloseTab(w http.ResponseWriter, r *http.Request) {
	h.sess.CloseTab(r.PathValue("id"))
	target := "/files"
	if active := h.sess.Active(); active != "" {
		target = "/files/" + active
	}
	h.done(w, r, target, map[string]any{"active": h.sess.Active()})
}

// HandleDelete handles DELETE /files/{id} and its form equivalent.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	removed, err := h.sess.Delete(r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.done(w, r, "/files", map[string]any{"removed": removed})
}

// HandleUndo handles POST /undo.
func (h *Handlers) HandleUndo(w http.ResponseWriter, r *http.Request) {
	changed := h.sess.Undo()
	h.done(w, r, h.back(r), map[string]any{"changed": changed, "history": h.sess.HistoryState()})
}

// HandleRedo handles POST /redo.
func (h *Handlers) HandleRedo(w http.ResponseWriter, r *http.Request) {
	changed := h.sess.Redo()
	h.done(w, r, h.back(r), map[string]any{"changed": changed, "history": h.sess.HistoryState()})
}

// HandleCheckpoint handles POST /checkpoint.
func (h *Handlers) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	recorded := h.sess.Checkpoint()
	h.done(w, r, h.back(r), map[string]any{"recorded": recorded, "history": h.sess.HistoryState()})
}

// HandleSettings handles POST /settings.
func (h *Handlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	st, err := h.sess.UpdateSettings(r.Context(), db.Settings{
		Theme: r.FormValue("theme"),
		Model: r.FormValue("model"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.done(w, r, h.back(r), st)
}

// HandleBuildPreview handles POST /preview: composes a new artifact from
// the live tree.
func (h *Handlers) HandleBuildPreview(w http.ResponseWriter, r *http.Request) {
	a, err := h.sess.BuildPreview()
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.done(w, r, "/preview", map[string]any{
		"entry_id":   a.EntryID,
		"entry_name": a.EntryName,
		"bytes":      len(a.Document),
	})
}

// HandlePreview handles GET /preview: serves the live artifact.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	a := h.sess.Preview()
	if a == nil {
		h.renderer.renderError(w, r, errors.NewNotFound("preview"))
		return
	}
	w.Header().Set("Content-Security-Policy", previewCSP)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, a.Document)
}

// TreeResponse is the body of GET /api/tree.
type TreeResponse struct {
	Nodes  []*tree.Node `json:"nodes"`
	Active string       `json:"active,omitempty"`
	Tabs   []string     `json:"tabs"`
}

// HandleAPITree handles GET /api/tree.
func (h *Handlers) HandleAPITree(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, TreeResponse{
		Nodes:  h.sess.Snapshot().Nodes(),
		Active: h.sess.Active(),
		Tabs:   h.sess.Tabs(),
	})
}

// HandleAPIStatus handles GET /api/status.
func (h *Handlers) HandleAPIStatus(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{
		"sync":     h.sess.SyncStatus(),
		"history":  h.sess.HistoryState(),
		"settings": h.sess.Settings(),
	})
}

// HandleAPIOperations handles POST /api/operations. The body is an
// operations array or {"operations": [...]}; ?dry_run=true returns diffs.
func (h *Handlers) HandleAPIOperations(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("request body too large"))
		return
	}
	batch, err := ops.DecodeOperations(body)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if q := r.URL.Query().Get("dry_run"); q == "true" || q == "1" {
		renderJSON(w, http.StatusOK, map[string]any{"diffs": ops.DiffOperations(h.sess.Snapshot(), batch)})
		return
	}
	affected := h.sess.ApplyOperations(batch)
	renderJSON(w, http.StatusOK, map[string]any{"affected": affected, "history": h.sess.HistoryState()})
}

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	Prompt string   `json:"prompt"`
	Tagged []string `json:"tagged,omitempty"`
	Apply  bool     `json:"apply,omitempty"`
}

// HandleAPIAsk handles POST /api/ask. With apply set, the returned
// operations are applied to the live tree as one step.
func (h *Handlers) HandleAPIAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest(fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	res, err := h.sess.Ask(r.Context(), req.Prompt, req.Tagged)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	out := map[string]any{"message": res.Message, "generation": res.Generation}
	if req.Apply && len(res.Message.Operations) > 0 {
		out["affected"] = h.sess.ApplyOperations(res.Message.Operations)
	}
	renderJSON(w, http.StatusOK, out)
}

// explorerData assembles the common explorer view.
func (h *Handlers) explorerData(title string) ExplorerPageData {
	t := h.sess.Snapshot()
	active := h.sess.Active()

	data := ExplorerPageData{
		PageData:    h.pageData(title, "files"),
		ProjectName: t.Root().Name,
		Rows:        visibleRows(t, active),
	}
	for _, n := range t.Nodes() {
		if n.IsFolder() {
			data.Folders = append(data.Folders, Row{Node: n, Path: t.Path(n.ID)})
		}
	}
	for _, id := range h.sess.Tabs() {
		if n := t.File(id); n != nil {
			data.Tabs = append(data.Tabs, Tab{ID: id, Name: n.Name, Active: id == active})
		}
	}
	return data
}

func (h *Handlers) pageData(title, nav string) PageData {
	return PageData{
		Title:   title,
		Version: h.renderer.version,
		Nav:     nav,
		Theme:   h.sess.Settings().Theme,
		History: h.sess.HistoryState(),
		Sync:    h.sess.SyncStatus(),
	}
}

// visibleRows walks the tree depth-first, skipping the root row and the
// contents of collapsed folders.
func visibleRows(t *tree.Tree, active string) []Row {
	var rows []Row
	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		n := t.Get(id)
		if n == nil {
			return
		}
		if id != tree.RootID {
			rows = append(rows, Row{Node: n, Depth: depth, Path: t.Path(id), Active: id == active})
			if n.IsFolder() && !n.IsOpen {
				return
			}
		}
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(tree.RootID, -1)
	return rows
}

// parseForm parses a bounded form body, rendering an error on failure.
func (h *Handlers) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return false
	}
	return true
}

// done finishes a mutating request: JSON clients get data, htmx gets an
// HX-Redirect, browsers are redirected to target.
func (h *Handlers) done(w http.ResponseWriter, r *http.Request, target string, data any) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, data)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// back returns the form's "back" target when it is a local path.
func (h *Handlers) back(r *http.Request) string {
	if b := r.FormValue("back"); strings.HasPrefix(b, "/") && !strings.HasPrefix(b, "//") {
		return b
	}
	return "/files"
}
