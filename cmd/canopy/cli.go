package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/canopy/internal/config"
	"github.com/hpungsan/canopy/internal/errors"
	"github.com/hpungsan/canopy/internal/ops"
	"github.com/hpungsan/canopy/internal/tree"
	"github.com/hpungsan/canopy/internal/web"
	"github.com/hpungsan/canopy/internal/workspace"
)

// maxStdinSize bounds file content and operation batches read from stdin.
const maxStdinSize = 8 << 20

// env is what every command runs against. It is nil for --help and --version.
type env struct {
	sess *workspace.Session
	cfg  *config.Config
	log  *logrus.Entry
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "canopy",
		Usage:   "Agent-assisted project workspace",
		Version: Version,
		Commands: []*cli.Command{
			treeCmd(e),
			catCmd(e),
			newCmd(e),
			mkdirCmd(e),
			writeCmd(e),
			renameCmd(e),
			rmCmd(e),
			mvCmd(e),
			applyCmd(e),
			importCmd(e),
			exportCmd(e),
			restoreCmd(e),
			previewCmd(e),
			askCmd(e),
			serveCmd(e),
		},
		// Changes are written before the process exits, not after the
		// debounce window.
		After: func(c *cli.Context) error {
			if e == nil {
				return nil
			}
			if err := e.sess.Flush(c.Context); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// nodeOutput is one row of `canopy tree`.
type nodeOutput struct {
	ID       string    `json:"id"`
	Type     tree.Kind `json:"type"`
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	ParentID string    `json:"parent_id,omitempty"`
}

// changeOutput is the result of a mutating command.
type changeOutput struct {
	ID       string   `json:"id,omitempty"`
	Affected []string `json:"affected,omitempty"`
}

func treeCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "tree",
		Usage: "List every node with its path",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "Only list files whose name contains this text"},
		},
		Action: func(c *cli.Context) error {
			t := e.sess.Snapshot()
			nodes := t.Nodes()
			if term := c.String("search"); term != "" {
				nodes = t.Search(term)
			}
			out := make([]nodeOutput, 0, len(nodes))
			for _, n := range nodes {
				out = append(out, nodeOutput{
					ID:       n.ID,
					Type:     n.Type,
					Name:     n.Name,
					Path:     t.Path(n.ID),
					ParentID: n.Parent(),
				})
			}
			return outputJSON(out)
		},
	}
}

func catCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "Print a file's content",
		ArgsUsage: "<ref>",
		Action: func(c *cli.Context) error {
			n, err := lookupFile(e, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			_, err = io.WriteString(os.Stdout, n.Content)
			return err
		},
	}
}

func newCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "new",
		Usage:     "Create a file (content may be piped via stdin)",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "parent", Aliases: []string{"p"}, Value: "/", Usage: "Parent folder id, name or path"},
		},
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if strings.TrimSpace(name) == "" {
				return outputError(errors.NewInvalidRequest("name is required"))
			}
			parent, err := lookupFolder(e, c.String("parent"))
			if err != nil {
				return outputError(err)
			}
			content := ""
			if stdinHasData() {
				if content, err = readStdin(maxStdinSize); err != nil {
					return outputError(err)
				}
			}
			id, err := e.sess.AddFile(name, content, parent)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(changeOutput{ID: id})
		},
	}
}

func mkdirCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "mkdir",
		Usage:     "Create a folder",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "parent", Aliases: []string{"p"}, Value: "/", Usage: "Parent folder id, name or path"},
		},
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if strings.TrimSpace(name) == "" {
				return outputError(errors.NewInvalidRequest("name is required"))
			}
			parent, err := lookupFolder(e, c.String("parent"))
			if err != nil {
				return outputError(err)
			}
			id, err := e.sess.CreateFolder(name, parent)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(changeOutput{ID: id})
		},
	}
}

func writeCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "write",
		Usage:     "Replace a file's content (reads content from stdin)",
		ArgsUsage: "<ref>",
		Action: func(c *cli.Context) error {
			n, err := lookupFile(e, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("content must be piped via stdin"))
			}
			content, err := readStdin(maxStdinSize)
			if err != nil {
				return outputError(err)
			}
			if err := e.sess.Write(n.ID, content); err != nil {
				return outputError(err)
			}
			return outputJSON(changeOutput{ID: n.ID})
		},
	}
}

func renameCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "rename",
		Usage:     "Rename a file or folder",
		ArgsUsage: "<ref> <name>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewInvalidRequest("usage: canopy rename <ref> <name>"))
			}
			n, err := e.sess.Lookup(c.Args().Get(0))
			if err != nil {
				return outputError(err)
			}
			if err := e.sess.Rename(n.ID, c.Args().Get(1)); err != nil {
				return outputError(err)
			}
			return outputJSON(changeOutput{ID: n.ID})
		},
	}
}

func rmCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete a file, or a folder with everything below it",
		ArgsUsage: "<ref>",
		Action: func(c *cli.Context) error {
			n, err := e.sess.Lookup(c.Args().First())
			if err != nil {
				return outputError(err)
			}
			removed, err := e.sess.Delete(n.ID)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(changeOutput{ID: n.ID, Affected: removed})
		},
	}
}

func mvCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "mv",
		Usage:     "Move a node into another folder",
		ArgsUsage: "<ref> <folder>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewInvalidRequest("usage: canopy mv <ref> <folder>"))
			}
			n, err := e.sess.Lookup(c.Args().Get(0))
			if err != nil {
				return outputError(err)
			}
			parent, err := lookupFolder(e, c.Args().Get(1))
			if err != nil {
				return outputError(err)
			}
			if err := e.sess.Move(n.ID, parent); err != nil {
				return outputError(err)
			}
			return outputJSON(changeOutput{ID: n.ID})
		},
	}
}

func applyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "apply",
		Usage: "Apply a batch of file operations (JSON via stdin)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Print per-file diffs without changing anything"},
		},
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("operations must be piped via stdin"))
			}
			data, err := readStdin(maxStdinSize)
			if err != nil {
				return outputError(err)
			}
			batch, err := ops.DecodeOperations([]byte(data))
			if err != nil {
				return outputError(err)
			}
			if c.Bool("dry-run") {
				return outputJSON(ops.DiffOperations(e.sess.Snapshot(), batch))
			}
			return outputJSON(changeOutput{Affected: e.sess.ApplyOperations(batch)})
		},
	}
}

func importCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Add local text files at the project root",
		ArgsUsage: "<path>...",
		Action: func(c *cli.Context) error {
			files, err := ops.ReadImportFiles(c.Context, c.Args().Slice())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(changeOutput{Affected: e.sess.Import(files)})
		},
	}
}

func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the project to a JSON backup",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "Output path (default: ~/.canopy/exports/<project>-<timestamp>.json)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ExportTree(c.Context, e.sess.Snapshot(), e.cfg, ops.ExportInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

func restoreCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Replace the project with a JSON backup",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("path is required"))
			}
			t, err := ops.RestoreTree(e.cfg, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			if err := e.sess.Restore(t); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]int{"nodes": t.Len()})
		},
	}
}

func previewCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "preview",
		Usage:     "Compose the self-contained preview document",
		ArgsUsage: "[ref]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the document to this .html file instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			// The optional ref becomes the active file, which is the
			// fallback entry point when the project has no HTML file.
			if ref := c.Args().First(); ref != "" {
				n, err := lookupFile(e, ref)
				if err != nil {
					return outputError(err)
				}
				if err := e.sess.Activate(n.ID); err != nil {
					return outputError(err)
				}
			}
			p, err := ops.ComposePreview(e.sess.Snapshot(), e.sess.Active())
			if err != nil {
				return outputError(err)
			}
			out := c.String("out")
			if out == "" {
				_, err = io.WriteString(os.Stdout, p.Document)
				return err
			}
			if err := ops.WritePreview(p, out, e.cfg); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"entry_id": p.EntryID, "entry_name": p.EntryName, "path": out})
		},
	}
}

// askOutput is the result of `canopy ask`.
type askOutput struct {
	*workspace.AskResult
	Affected []string `json:"affected,omitempty"`
}

func askCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask the agent for file changes",
		ArgsUsage: "<prompt>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "File id or name to send as context (repeatable)"},
			&cli.BoolFlag{Name: "apply", Usage: "Apply the proposed operations"},
		},
		Action: func(c *cli.Context) error {
			prompt := strings.Join(c.Args().Slice(), " ")
			var tagged []string
			for _, ref := range c.StringSlice("tag") {
				n, err := lookupFile(e, ref)
				if err != nil {
					return outputError(err)
				}
				tagged = append(tagged, n.ID)
			}

			res, err := e.sess.Ask(c.Context, prompt, tagged)
			if err != nil {
				return outputError(err)
			}
			out := askOutput{AskResult: res}
			if c.Bool("apply") && len(res.Message.Operations) > 0 {
				out.Affected = e.sess.ApplyOperations(res.Message.Operations)
			}
			return outputJSON(out)
		},
	}
}

func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8765, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv, err := web.NewServer(e.sess, e.cfg, e.log, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return web.Run(srv, e.log)
		},
	}
}

// Helper functions

// lookupFile resolves ref to a file node.
func lookupFile(e *env, ref string) (*tree.Node, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, errors.NewInvalidRequest("ref is required")
	}
	n, err := e.sess.Lookup(ref)
	if err != nil {
		return nil, err
	}
	if !n.IsFile() {
		return nil, errors.NewInvalidRequest(ref + " is a folder")
	}
	return n, nil
}

// lookupFolder resolves ref to a folder id. "" and "/" name the root.
func lookupFolder(e *env, ref string) (string, error) {
	if ref == "" || ref == "/" {
		return tree.RootID, nil
	}
	n, err := e.sess.Lookup(ref)
	if err != nil {
		return "", err
	}
	if !n.IsFolder() {
		return "", errors.NewInvalidRequest(ref + " is not a folder")
	}
	return n.ID, nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	ce := errors.As(err)
	return cli.Exit(fmt.Sprintf("[%s] %s", ce.Code, ce.Message), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads stdin up to limit bytes. Content is kept byte-exact.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}
	return string(data), nil
}
