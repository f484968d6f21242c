package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/atelier/internal/config"
	"github.com/hpungsan/atelier/internal/db"
	"github.com/hpungsan/atelier/internal/logger"
	"github.com/hpungsan/atelier/internal/mcp"
	"github.com/hpungsan/atelier/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"generate": true, "enhance": true, "gallery": true, "download": true,
	"cache": true, "serve": true, "mcp": true,
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
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if f is a terminal (not piped or redirected).
func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
         _       _ _
    __ _| |_ ___| (_) ___ _ __
   / _' | __/ _ \ | |/ _ \ '__|
  | (_| | ||  __/ | |  __/ |
   \__,_|\__\___|_|_|\___|_|

  AI image studio

  Usage: atelier <command> [options]
         atelier --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal(os.Stdin) {
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

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not determine home directory: %w", err)
	}
	baseDir := filepath.Join(homeDir, ".atelier")

	database, err := db.Init(baseDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	cfg, err := config.Load(baseDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	db.ConfigurePool(database, cfg)

	// Logs go to stderr; stdout carries JSON output and the MCP stream.
	log := logger.New(os.Stderr, logger.Options{
		Level:   logger.ParseLevel(cfg.LogLevel),
		NoColor: !isTerminal(os.Stderr),
	})
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		log.Warn("unknown tools in disabled_tools", "tools", unknown)
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		log.Warn("unknown types in disabled_types", "types", unknown)
	}

	studio, err := ops.Open(context.Background(), database, cfg, baseDir, log)
	if err != nil {
		return fmt.Errorf("failed to open studio: %w", err)
	}

	// CLI mode: known subcommand
	if isCLIMode() {
		return newCLIApp(studio).Run(os.Args)
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal(os.Stdin) {
		return fmt.Errorf("unknown command %q\nRun 'atelier --help' for usage", os.Args[1])
	}

	// MCP server mode (default)
	return mcp.Run(studio, Version)
}
