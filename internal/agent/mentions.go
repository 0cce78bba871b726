package agent

import (
	"regexp"
	"strings"

	"github.com/hpungsan/canopy/internal/tree"
)

var mentionRe = regexp.MustCompile(`@\S+`)

// StripMentions removes @name tokens and trims the result.
func StripMentions(text string) string {
	return strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
}

// ResolveMentions returns the files named by @name tokens in text, in order
// of first mention. Unknown names are skipped; a name matches the first
// file with that exact name.
func ResolveMentions(t *tree.Tree, text string) []*tree.Node {
	var out []*tree.Node
	seen := make(map[string]bool)
	for _, m := range mentionRe.FindAllString(text, -1) {
		n := t.FindFileByName(strings.TrimPrefix(m, "@"))
		if n == nil || seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		out = append(out, n)
	}
	return out
}
