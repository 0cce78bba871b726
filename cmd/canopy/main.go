package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/canopy/internal/agent"
	"github.com/hpungsan/canopy/internal/config"
	"github.com/hpungsan/canopy/internal/db"
	"github.com/hpungsan/canopy/internal/mcp"
	"github.com/hpungsan/canopy/internal/workspace"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"tree": true, "cat": true, "new": true, "mkdir": true, "write": true,
	"rename": true, "rm": true, "mv": true, "apply": true,
	"import": true, "export": true, "restore": true,
	"preview": true, "ask": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
    ___ __ _ _ __   ___  _ __  _   _
   / __/ _' | '_ \ / _ \| '_ \| | | |
  | (_| (_| | | | | (_) | |_) | |_| |
   \___\__,_|_| |_|\___/| .__/ \__, |
                        |_|    |___/

  Agent-assisted project workspace

  Usage: canopy <command> [options]
         canopy --help

  MCP server mode requires piped input.`)
}

// newLogger returns the process logger. Output goes to stderr so stdout
// stays clean for JSON and the MCP transport.
func newLogger(cfg *config.Config) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(cfg.Level())
	return logrus.NewEntry(l).WithField("app", "canopy")
}

// openSession opens the persisted workspace. The agent reads the model
// from the session settings on every request.
func openSession(ctx context.Context, store workspace.Store, cfg *config.Config, log *logrus.Entry, opts ...workspace.Option) (*workspace.Session, error) {
	var sess *workspace.Session
	producer := agent.ProducerFunc(func(ctx context.Context, req agent.Request) (*agent.Response, error) {
		p := agent.NewOpenAIProducer(agent.ConfigFrom(cfg, sess.Settings().Model), log.WithField("component", "agent"))
		return p.Propose(ctx, req)
	})
	opts = append([]workspace.Option{workspace.WithLogger(log), workspace.WithProducer(producer)}, opts...)

	sess, err := workspace.Open(ctx, store, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, ".canopy")

	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "warning: unknown disabled_tools: %v\n", unknown)
	}
	log := newLogger(cfg)

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'canopy --help' for usage.\n")
		os.Exit(1)
	}

	ctx := context.Background()
	sess, err := openSession(ctx, db.NewStore(database), cfg, log,
		workspace.WithPreviewDir(filepath.Join(baseDir, db.PreviewsDir)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to open workspace: %v\n", err)
		os.Exit(1)
	}

	if isCLIMode() {
		err = newCLIApp(&env{sess: sess, cfg: cfg, log: log}).Run(os.Args)
	} else {
		err = mcp.Run(sess, cfg, Version)
	}

	if cerr := sess.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		database.Close()
		os.Exit(1)
	}
}
