package ops

import (
	"strings"

	"github.com/hpungsan/canopy/internal/errors"
	"github.com/hpungsan/canopy/internal/tree"
)

// Preview is a self-contained HTML document composed from the tree.
type Preview struct {
	EntryID   string `json:"entry_id"`
	EntryName string `json:"entry_name"`
	Document  string `json:"document"`
}

// EntryPoint picks the document a preview is built from: the first file
// named exactly index.html, else the first file ending in .html, else the
// active file if it is a file. It returns nil when none applies.
func EntryPoint(t *tree.Tree, activeID string) *tree.Node {
	if n := t.FindFileByName("index.html"); n != nil {
		return n
	}
	for _, n := range t.Files() {
		if strings.HasSuffix(n.Name, ".html") {
			return n
		}
	}
	return t.File(activeID)
}

// ComposePreview inlines the tree's scripts and stylesheets into the entry
// document. Substitution is byte-exact on the literal tag forms
//
//	<script src="NAME"></script>           -> <script>CONTENT</script>
//	<link rel="stylesheet" href="NAME">    -> <style>CONTENT</style>
//	<link rel="stylesheet" href="./NAME">  -> <style>CONTENT</style>
//
// where NAME is a file's bare name. After a script is inlined, remaining
// "./NAME" occurrences are rewritten to "NAME". Files are visited in tree
// iteration order and the entry itself is skipped. Any other spelling of a
// reference (extra attributes, single quotes, folder paths) is left alone.
func ComposePreview(t *tree.Tree, activeID string) (*Preview, error) {
	entry := EntryPoint(t, activeID)
	if entry == nil {
		return nil, errors.NewNoRenderableContent()
	}

	doc := entry.Content
	for _, f := range t.Files() {
		if f.ID == entry.ID {
			continue
		}
		switch {
		case strings.HasSuffix(f.Name, ".js"):
			doc = strings.ReplaceAll(doc, `<script src="`+f.Name+`"></script>`, "<script>"+f.Content+"</script>")
			doc = strings.ReplaceAll(doc, "./"+f.Name, f.Name)
		case strings.HasSuffix(f.Name, ".css"):
			style := "<style>" + f.Content + "</style>"
			doc = strings.ReplaceAll(doc, `<link rel="stylesheet" href="`+f.Name+`">`, style)
			doc = strings.ReplaceAll(doc, `<link rel="stylesheet" href="./`+f.Name+`">`, style)
		}
	}

	return &Preview{EntryID: entry.ID, EntryName: entry.Name, Document: doc}, nil
}
