package agent

import (
	"fmt"
	"strings"

	"github.com/hpungsan/canopy/internal/tree"
)

const promptMission = `MISSION:
Transform the user's request into a technical plan and production-grade file operations.

RESPONSE FORMAT:
You MUST respond with a single JSON object matching this schema:
{
  "reasoning": "Technical explanation of the solution. Mention any files you propose to link or create.",
  "operations": [
    {
      "path": "filename.extension",
      "content": "THE ENTIRE SOURCE CODE FOR THE FILE",
      "action": "create" or "update"
    }
  ]
}

RULES:
1. ALWAYS provide the FULL source code of any file you create or update.
2. If the user tags files with '@', use that specific context for your logic.
3. If proposing a new file, include it in the 'operations' array.
4. Files are matched by bare file name; "path" must be a file name, not a folder path.
5. Return raw JSON text only.
`

// BuildSystemPrompt renders the workspace structure, the contents of
// tagged files, and the response contract.
func BuildSystemPrompt(t *tree.Tree, tagged []*tree.Node) string {
	var b strings.Builder
	b.WriteString("You are the Canopy workspace agent, a senior full-stack engineer with deep expertise in web technologies.\n\n")

	b.WriteString("WORKSPACE STRUCTURE:\n")
	for _, e := range t.Listing() {
		fmt.Fprintf(&b, "%s: %s (ID: %s)\n", strings.ToUpper(string(e.Type)), e.Name, e.ID)
	}

	if len(tagged) > 0 {
		b.WriteString("\nEXPLICIT FILE CONTEXTS:\n")
		for _, f := range tagged {
			fmt.Fprintf(&b, "FILE: %s\nCONTENT:\n%s\n---\n", f.Name, f.Content)
		}
	}

	b.WriteString("\n")
	b.WriteString(promptMission)
	return b.String()
}
