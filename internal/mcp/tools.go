package mcp

import "github.com/mark3labs/mcp-go/mcp"

const refDescription = "Node id, file name or slash path below the project root"

var treeToolDef = mcp.NewTool("workspace_tree",
	mcp.WithDescription("List every file and folder in the project with ids and paths, plus undo state, open tabs and save status."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var readToolDef = mcp.NewTool("workspace_read",
	mcp.WithDescription("Read one file's content."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("ref", mcp.Required(), mcp.Description(refDescription)),
)

var createFileToolDef = mcp.NewTool("workspace_create_file",
	mcp.WithDescription("Create a file and make it the active file. Names need not be unique."),
	mcp.WithString("name", mcp.Required(), mcp.Description("File name including extension")),
	mcp.WithString("parent", mcp.Description("Parent folder ref; the root when omitted")),
	mcp.WithString("content", mcp.Description("Initial content")),
)

var createFolderToolDef = mcp.NewTool("workspace_create_folder",
	mcp.WithDescription("Create an empty folder."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Folder name")),
	mcp.WithString("parent", mcp.Description("Parent folder ref; the root when omitted")),
)

var writeToolDef = mcp.NewTool("workspace_write",
	mcp.WithDescription("Replace a file's content as one undoable step."),
	mcp.WithString("ref", mcp.Required(), mcp.Description(refDescription)),
	mcp.WithString("content", mcp.Required(), mcp.Description("New content")),
)

var renameToolDef = mcp.NewTool("workspace_rename",
	mcp.WithDescription("Rename a file or folder."),
	mcp.WithString("ref", mcp.Required(), mcp.Description(refDescription)),
	mcp.WithString("name", mcp.Required(), mcp.Description("New name")),
)

var deleteToolDef = mcp.NewTool("workspace_delete",
	mcp.WithDescription("Delete a file, or a folder with everything below it."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("ref", mcp.Required(), mcp.Description(refDescription)),
)

var moveToolDef = mcp.NewTool("workspace_move",
	mcp.WithDescription("Move a node into another folder. A folder cannot move into itself or below itself."),
	mcp.WithString("ref", mcp.Required(), mcp.Description(refDescription)),
	mcp.WithString("parent", mcp.Description("Destination folder ref; the root when omitted")),
)

var applyToolDef = mcp.NewTool("workspace_apply",
	mcp.WithDescription("Apply a batch of file operations as one undoable step. Each path is matched against existing file names; the first match is overwritten, otherwise a root-level file is created."),
	mcp.WithArray("operations", mcp.Required(),
		mcp.Description("Operations to apply in order"),
		mcp.Items(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
				"action":  map[string]any{"type": "string", "enum": []string{"create", "update"}},
			},
			"required": []string{"path", "content"},
		}),
	),
	mcp.WithBoolean("dry_run", mcp.Description("Return line diffs without changing the project")),
)

var undoToolDef = mcp.NewTool("workspace_undo",
	mcp.WithDescription("Restore the previous project snapshot."),
)

var redoToolDef = mcp.NewTool("workspace_redo",
	mcp.WithDescription("Re-apply the next project snapshot after an undo."),
)

var previewToolDef = mcp.NewTool("workspace_preview",
	mcp.WithDescription("Build a single self-contained HTML document from the active (or given) HTML file with .js and .css files inlined."),
	mcp.WithString("ref", mcp.Description("File to activate first")),
	mcp.WithBoolean("include_document", mcp.Description("Return the composed document in the result")),
)

var exportToolDef = mcp.NewTool("workspace_export",
	mcp.WithDescription("Write a JSON backup of the whole project."),
	mcp.WithString("path", mcp.Description("Destination .json path; defaults under ~/.canopy/exports")),
)
