// Package main is the kotae CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kotae/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory takes precedence, and a missing default file falls back to the
// built-in defaults plus environment overrides. Returns the config and the path that
// was actually loaded, empty when none was.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			cfg := config.Default()
			config.ApplyEnv(cfg)
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	debug      bool
	serverURL  string
	output     string
}

// App is the kotae command line application.
type App struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer
	opts   globalOptions
}

// NewApp creates the CLI application.
func NewApp() *App {
	app := &App{stdout: os.Stdout, stderr: os.Stderr}
	app.root = &cobra.Command{
		Use:   "kotae",
		Short: "Answer questions from your documents",
		Long: `kotae ingests documents into a vector store and answers natural-language
questions from them: it embeds the question, retrieves the most relevant
fragments and has a language model compose an answer from those sources.

Commands that read or change data talk to a running server (see --server).
Pass --server "" to work directly on the configured storage instead.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := app.root.PersistentFlags()
	pf.StringVar(&app.opts.configPath, "config", defaultConfigPath, "config file path")
	pf.BoolVar(&app.opts.debug, "debug", false, "enable debug logging")
	pf.StringVar(&app.opts.serverURL, "server", defaultServerURL, `server URL; empty ("") works directly on storage`)
	pf.StringVarP(&app.opts.output, "output", "o", "text", "output format: text or json")

	app.root.AddCommand(
		app.newServerCmd(),
		app.newAskCmd(),
		app.newBatchCmd(),
		app.newIngestCmd(),
		app.newDeleteCmd(),
		app.newDocumentsCmd(),
		app.newStatsCmd(),
		app.newHistoryCmd(),
		app.newVersionCmd(),
	)
	return app
}

// WithOutput sets custom output writers.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute runs the application until it finishes or receives SIGINT/SIGTERM.
func (a *App) Execute(ctx context.Context, args []string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	a.root.SetArgs(args)
	return a.root.ExecuteContext(ctx)
}

func (a *App) format() (cli.OutputFormat, error) {
	return cli.ParseFormat(a.opts.output)
}

// config loads the configuration named by --config, with --debug applied.
func (a *App) config() (*config.Config, string, error) {
	cfg, path, err := loadConfig(a.opts.configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if a.opts.debug {
		cfg.Debug = true
	}
	return cfg, path, nil
}

// logger returns a zap logger for the server, or for direct mode when debugging.
func (a *App) logger(cfg *config.Config, always bool) (*zap.Logger, error) {
	if !always && !cfg.Debug {
		return zap.NewNop(), nil
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func main() {
	if err := NewApp().Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
