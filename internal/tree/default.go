package tree

const defaultReadme = `# Welcome to Canopy

Start coding with agent assistance. Tag files in chat with @ for context.

### Commands
- Use ` + "`canopy preview`" + ` to flatten a web project into one page.
- Use undo/redo for project changes.
- Ask the agent to generate code with ` + "`canopy ask`" + `.`

// Default returns the built-in starter project used when the store is empty.
func Default() *Tree {
	root := RootID
	t, err := FromNodes([]*Node{
		{ID: RootID, Name: "Canopy Project", Type: KindFolder, Children: []string{"readme", "mainjs"}, IsOpen: true},
		{ID: "readme", Name: "README.md", Type: KindFile, ParentID: &root, Content: defaultReadme},
		{ID: "mainjs", Name: "main.js", Type: KindFile, ParentID: &root, Content: `console.log("Canopy engine online.");`},
	})
	if err != nil {
		panic(err)
	}
	return t
}
