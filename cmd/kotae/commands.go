package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/watcher"
)

// joinArgs joins positional args with spaces so multi-word questions work with or
// without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// withBackend opens the backend, runs fn and closes it.
func (a *App) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b backend, format cli.OutputFormat) error) error {
	format, err := a.format()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b, format)
}

func (a *App) newServerCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := a.config()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			logger, err := a.logger(cfg, true)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			logger.Info("config loaded", zap.String("config_path", path), zap.Bool("debug", cfg.Debug))
			return runServer(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

func (a *App) newAskCmd() *cobra.Command {
	var req models.QueryRequest
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question",
		Long: `Ask a question about the ingested documents. The question is all arguments
joined by spaces, so quoting is optional.`,
		Example: `  kotae ask when is the launch planned
  kotae ask --document file_3f2a... "what does section 2 say?"
  kotae ask -n 8 --metadata -o json "summarize the onboarding guide"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = joinArgs(args)
			return a.withBackend(cmd, func(ctx context.Context, b backend, format cli.OutputFormat) error {
				res, err := b.Query(ctx, req)
				if err != nil {
					return err
				}
				return cli.WriteAnswer(a.stdout, res, format)
			})
		},
	}
	cmd.Flags().IntVarP(&req.MaxResults, "max-results", "n", 0, "number of fragments to retrieve (default from config)")
	cmd.Flags().StringVar(&req.DocumentID, "document", "", "only retrieve from this document id")
	cmd.Flags().BoolVar(&req.IncludeMetadata, "metadata", false, "give the model fragment metadata as context")
	return cmd
}

// readLines returns the non-blank lines of r.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func (a *App) newBatchCmd() *cobra.Command {
	var (
		file       string
		maxResults int
	)
	cmd := &cobra.Command{
		Use:   "batch [question...]",
		Short: "Ask several questions at once",
		Long: `Ask several questions at once. Each argument is one question; with --file,
questions are read one per line ("-" reads standard input). Failed questions
are reported alongside the answers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries := append([]string(nil), args...)
			if file != "" {
				var r io.Reader = cmd.InOrStdin()
				if file != "-" {
					f, err := os.Open(file)
					if err != nil {
						return err
					}
					defer f.Close()
					r = f
				}
				lines, err := readLines(r)
				if err != nil {
					return fmt.Errorf("read questions: %w", err)
				}
				queries = append(queries, lines...)
			}
			if len(queries) == 0 {
				return errors.New("no questions given")
			}
			return a.withBackend(cmd, func(ctx context.Context, b backend, format cli.OutputFormat) error {
				res, err := b.Batch(ctx, queries, maxResults)
				if err != nil {
					return err
				}
				return cli.WriteBatch(a.stdout, res, format)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", `read questions from a file, one per line ("-" for stdin)`)
	cmd.Flags().IntVarP(&maxResults, "max-results", "n", 0, "fragments to retrieve per question (default from config)")
	return cmd
}

func (a *App) newIngestCmd() *cobra.Command {
	var (
		in   models.DocumentInput
		text string
	)
	cmd := &cobra.Command{
		Use:   "ingest [file-or-directory...]",
		Short: "Ingest files, directories or text",
		Example: `  kotae ingest ./docs
  kotae ingest --id handbook --title "Employee handbook" handbook.pdf
  kotae ingest --text "The office opens at nine." --title "Office hours"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" && len(args) == 0 {
				return errors.New("give a path or --text")
			}
			if (in.ID != "" || in.Title != "") && len(args) > 1 {
				return errors.New("--id and --title apply to a single document")
			}
			return a.withBackend(cmd, func(ctx context.Context, b backend, format cli.OutputFormat) error {
				var results []*models.IngestResult
				if text != "" {
					doc := in
					doc.Content = text
					res, err := b.IngestText(ctx, doc)
					if err != nil {
						return err
					}
					results = append(results, res)
				}
				for _, path := range args {
					res, err := b.IngestPath(ctx, path, in)
					if err != nil {
						return fmt.Errorf("ingest %s: %w", path, err)
					}
					results = append(results, res...)
				}
				return cli.WriteIngestAll(a.stdout, results, format)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "ingest this text instead of a file")
	cmd.Flags().StringVar(&in.ID, "id", "", "document id (default: derived from the path, or generated)")
	cmd.Flags().StringVar(&in.Title, "title", "", "document title")
	cmd.Flags().StringVar(&in.Source, "source", "", "where the text came from (with --text)")
	return cmd
}

func (a *App) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id-or-file>",
		Short: "Delete a document and its fragments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := documentIDFor(args[0])
			if err != nil {
				return err
			}
			return a.withBackend(cmd, func(ctx context.Context, b backend, _ cli.OutputFormat) error {
				n, err := b.DeleteDocument(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "deleted %s: %d fragments\n", id, n)
				return nil
			})
		},
	}
}

func (a *App) newDocumentsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "documents [query]",
		Short: "List or search ingested documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := joinArgs(args)
			return a.withBackend(cmd, func(ctx context.Context, b backend, format cli.OutputFormat) error {
				docs, total, err := b.Documents(ctx, q, limit)
				if err != nil {
					return err
				}
				return cli.WriteDocuments(a.stdout, docs, total, format)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of documents")
	return cmd
}

func (a *App) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show query metrics and cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b backend, format cli.OutputFormat) error {
				st, err := b.Stats(ctx)
				if err != nil {
					return err
				}
				return cli.WriteStats(a.stdout, st, format)
			})
		},
	}
}

func (a *App) newHistoryCmd() *cobra.Command {
	var (
		limit int
		clear bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b backend, format cli.OutputFormat) error {
				if clear {
					if err := b.ClearHistory(ctx); err != nil {
						return err
					}
					fmt.Fprintln(a.stdout, "history cleared")
					return nil
				}
				page, err := b.History(ctx, limit)
				if err != nil {
					return err
				}
				return cli.WriteHistory(a.stdout, page, format)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of entries (default from server)")
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the history and reset metrics")
	return cmd
}

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "kotae version %s\n", version)
		},
	}
}

// runServer serves the API until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components.Start(bgCtx)

	if len(cfg.Watch.Directories) > 0 {
		w := watcher.New(cfg.Watch.Directories, cfg.Watch.Extensions, cfg.Watch.RecursiveOrDefault(),
			components.Indexer, watcher.WithLogger(logger))
		if err := w.Start(bgCtx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
		logger.Info("watching directories", zap.Strings("directories", w.Directories()))
	}

	srv := server.NewServer(components.Services(), &cfg.Server, cfg.Ingest.MaxUploadBytes, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}
