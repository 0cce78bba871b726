package ops

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/hpungsan/canopy/internal/tree"
)

// FileDiff previews the effect of one operation.
type FileDiff struct {
	Path    string `json:"path"`
	ID      string `json:"id,omitempty"` // empty when the operation creates a file
	Create  bool   `json:"create"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	Text    string `json:"diff"`
}

// DiffOperations reports, per operation, the line diff ApplyOperations
// would produce. Operations are replayed in order, so a second operation on
// the same name diffs against the first one's result. t is not modified.
func DiffOperations(t *tree.Tree, ops []FileOperation) []FileDiff {
	dmp := diffmatchpatch.New()
	out := make([]FileDiff, 0, len(ops))

	for _, op := range ops {
		d := FileDiff{Path: op.Path, Create: true}
		before := ""
		if n := t.FindFileByName(op.Path); n != nil {
			d.ID, d.Create, before = n.ID, false, n.Content
		}

		a, b, lines := dmp.DiffLinesToChars(before, op.Content)
		diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

		var sb strings.Builder
		for _, df := range diffs {
			prefix := "  "
			switch df.Type {
			case diffmatchpatch.DiffInsert:
				prefix = "+ "
			case diffmatchpatch.DiffDelete:
				prefix = "- "
			}
			for _, line := range splitLines(df.Text) {
				switch df.Type {
				case diffmatchpatch.DiffInsert:
					d.Added++
				case diffmatchpatch.DiffDelete:
					d.Removed++
				}
				sb.WriteString(prefix)
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
		}
		d.Text = sb.String()
		out = append(out, d)

		t, _ = ApplyOperations(t, []FileOperation{op})
	}
	return out
}

// splitLines splits s into lines without their terminators. A trailing
// newline does not produce an empty final line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
