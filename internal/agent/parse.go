package agent

import (
	"strings"

	"github.com/goccy/go-json"
)

// ParseResponse decodes a producer's JSON reply. Text that is not a JSON
// object becomes the reasoning with no operations, and an empty reasoning
// becomes DefaultReasoning. Operations with an empty path are dropped.
func ParseResponse(text string) *Response {
	var resp Response
	raw := strings.TrimSpace(stripFence(text))
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return &Response{Reasoning: orDefault(strings.TrimSpace(text))}
	}

	kept := resp.Operations[:0]
	for _, op := range resp.Operations {
		if strings.TrimSpace(op.Path) != "" {
			kept = append(kept, op)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	resp.Operations = kept
	resp.Reasoning = orDefault(resp.Reasoning)
	return &resp
}

// stripFence removes a surrounding ```json ... ``` block if present.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	return s
}

func orDefault(reasoning string) string {
	if strings.TrimSpace(reasoning) == "" {
		return DefaultReasoning
	}
	return reasoning
}
