// Package main is the hondana CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hondana/internal/app"
	"github.com/hyperjump/hondana/internal/cli"
	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/server"
	"github.com/hyperjump/hondana/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/hondana/config.yaml"

// Exit codes.
const (
	exitOK           = 0
	exitError        = 1
	exitAnswerFailed = 2
)

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if it exists, so running from a project directory
// uses that project's config. It returns the path actually loaded.
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
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitError)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[2:]
	var code int
	switch os.Args[1] {
	case "serve", "server":
		code = runServe(ctx, args)
	case "ask":
		code = runAsk(ctx, args)
	case "retrieve":
		code = runRetrieve(ctx, args)
	case "ingest":
		code = runIngest(ctx, args)
	case "status":
		code = runStatus(ctx, args)
	case "documents":
		code = runDocuments(ctx, args)
	case "version", "--version", "-v":
		fmt.Printf("hondana version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		code = exitError
	}
	stop()
	os.Exit(code)
}

// env is what every command needs: config, logger and the wired components.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	app    *app.App
}

func (e *env) close() {
	_ = e.app.Close()
	_ = e.logger.Sync()
}

func setup(ctx context.Context, configPath string, debug bool) (*env, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved))
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, app: a}, nil
}

// commonFlags registers the flags every command shares.
func commonFlags(fs *flag.FlagSet) (configPath *string, debug *bool) {
	configPath = fs.String("config", defaultConfigPath, "config file path")
	debug = fs.Bool("debug", false, "enable debug logging")
	return configPath, debug
}

func fail(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return exitError
}

func runServe(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	watch := fs.Bool("watch", false, "re-ingest when the corpus directory changes (also corpus.watch in config)")
	_ = fs.Parse(args)

	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return fail("%v", err)
	}
	defer e.close()

	if _, err := e.app.Sync(ctx); err != nil {
		// The server still starts; /api/v1/ingest retries.
		e.logger.Error("initial ingestion failed", zap.Error(err))
	}

	if *watch || e.cfg.Corpus.Watch {
		w := e.app.NewWatcher()
		if err := w.Start(ctx); err != nil {
			return fail("Failed to start watcher: %v", err)
		}
		defer w.Stop()
	}

	srv := server.NewServer(e.app, e.app.Retriever, e.app, &e.cfg.Server, e.logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fail("Server failed: %v", err)
		}
	case <-ctx.Done():
		e.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Stop(shutdownCtx)
	}
	return exitOK
}

// argsReorder moves flags that follow the positional arguments to the front,
// since the flag package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins positional args so quoting is optional.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runAsk(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	general := fs.Bool("general", false, "answer from general knowledge without searching the library")
	book := fs.String("book", "", "only search the book whose title best matches")
	k := fs.Int("k", 0, "number of passages to retrieve (0 = config default)")
	format := fs.String("format", "text", "output format: text or json")
	serverURL := fs.String("server", "", "ask a running server instead of opening the index")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: hondana ask [flags] <question>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(args))

	question := buildQuery(fs.Args())
	if question == "" {
		fs.Usage()
		return exitError
	}
	outFormat, err := cli.ParseFormat(*format)
	if err != nil {
		return fail("%v", err)
	}
	q := models.Question{Text: question, Book: *book, TopK: *k, Mode: models.ModeAuto}
	if *general {
		q.Mode = models.ModeGeneral
	}

	var ans *models.Answer
	if *serverURL != "" {
		ans, err = askViaHTTP(ctx, *serverURL, q)
	} else {
		var e *env
		e, err = setup(ctx, *configPath, *debug)
		if err != nil {
			return fail("%v", err)
		}
		defer e.close()
		if _, syncErr := e.app.Sync(ctx); syncErr != nil {
			return fail("Ingestion failed: %v", syncErr)
		}
		ans, err = e.app.Ask(ctx, q)
	}
	if ans == nil {
		return fail("Ask failed: %v", err)
	}
	if werr := cli.WriteAnswer(os.Stdout, ans, outFormat); werr != nil {
		return fail("Output failed: %v", werr)
	}
	if ans.Failed() {
		var ge *errs.GenerationError
		if errors.As(err, &ge) && ge.Transient() {
			fmt.Fprintln(os.Stderr, "The generation service is busy; try again shortly.")
		}
		return exitAnswerFailed
	}
	return exitOK
}

func askViaHTTP(ctx context.Context, serverURL string, q models.Question) (*models.Answer, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(serverURL, "/")+"/api/v1/ask", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var ans models.Answer
	if err := json.Unmarshal(b, &ans); err != nil || ans.Status == "" {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if resp.StatusCode != http.StatusOK {
		return &ans, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return &ans, nil
}

func runRetrieve(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	book := fs.String("book", "", "only search the book whose title best matches")
	k := fs.Int("k", 0, "number of passages (0 = config default)")
	format := fs.String("format", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args))

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Fprintln(os.Stderr, "Usage: hondana retrieve [flags] <query>")
		return exitError
	}
	outFormat, err := cli.ParseFormat(*format)
	if err != nil {
		return fail("%v", err)
	}
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return fail("%v", err)
	}
	defer e.close()
	if _, err := e.app.Sync(ctx); err != nil {
		return fail("Ingestion failed: %v", err)
	}
	passages, err := e.app.Retriever.RetrieveWith(ctx, query, e.app.Retriever.Options(*k, *book))
	if err != nil {
		return fail("Retrieve failed: %v", err)
	}
	if err := cli.WritePassages(os.Stdout, passages, outFormat); err != nil {
		return fail("Output failed: %v", err)
	}
	return exitOK
}

func runIngest(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	rebuild := fs.Bool("rebuild", false, "discard the index and ingest every document again")
	format := fs.String("format", "text", "output format: text or json")
	_ = fs.Parse(args)

	outFormat, err := cli.ParseFormat(*format)
	if err != nil {
		return fail("%v", err)
	}
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return fail("%v", err)
	}
	defer e.close()

	var report *models.SyncReport
	if *rebuild {
		report, err = e.app.Rebuild(ctx)
	} else {
		report, err = e.app.Sync(ctx)
	}
	if err != nil {
		return fail("Ingestion failed: %v", err)
	}
	if err := cli.WriteSyncReport(os.Stdout, report, outFormat); err != nil {
		return fail("Output failed: %v", err)
	}
	return exitOK
}

func runStatus(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	format := fs.String("format", "text", "output format: text or json")
	serverURL := fs.String("server", "", "query a running server instead of opening the index")
	_ = fs.Parse(args)

	outFormat, err := cli.ParseFormat(*format)
	if err != nil {
		return fail("%v", err)
	}
	var status *models.IndexStatus
	if *serverURL != "" {
		status, err = statusViaHTTP(ctx, *serverURL)
	} else {
		e, setupErr := setup(ctx, *configPath, *debug)
		if setupErr != nil {
			return fail("%v", setupErr)
		}
		defer e.close()
		status, err = e.app.Status(ctx)
	}
	if err != nil {
		return fail("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, status, outFormat); err != nil {
		return fail("Output failed: %v", err)
	}
	return exitOK
}

func statusViaHTTP(ctx context.Context, serverURL string) (*models.IndexStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(serverURL, "/")+"/api/v1/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s models.IndexStatus
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func runDocuments(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("documents", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	format := fs.String("format", "text", "output format: text or json")
	_ = fs.Parse(args)

	outFormat, err := cli.ParseFormat(*format)
	if err != nil {
		return fail("%v", err)
	}
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return fail("%v", err)
	}
	defer e.close()
	docs, err := e.app.Documents(ctx)
	if err != nil {
		return fail("List documents failed: %v", err)
	}
	if err := cli.WriteDocuments(os.Stdout, docs, outFormat); err != nil {
		return fail("Output failed: %v", err)
	}
	return exitOK
}

func printUsage() {
	fmt.Println(`hondana - answers questions from a shelf of textbooks

Usage:
  hondana serve [flags]              Ingest the corpus and start the HTTP API
  hondana ask [flags] <question>     Answer a question, citing book pages
  hondana retrieve [flags] <query>   Show the passages a question would use
  hondana ingest [flags]             Bring the index up to date with the corpus
  hondana status [flags]             Show index status
  hondana documents [flags]          List ingested documents
  hondana version                    Show version
  hondana help                       Show this help

Common Flags:
  --config string    Config file path (default: ./config.yaml, then /usr/local/etc/hondana/config.yaml)
  --debug            Enable debug logging

Serve Flags:
  --watch            Re-ingest when files in the corpus directory change

Ask Flags:
  --general          Answer from general knowledge only
  --book string      Restrict retrieval to one book (fuzzy title match)
  --k int            Number of passages to retrieve
  --format string    text or json
  --server string    Ask a running server (e.g. http://localhost:8080)

Ingest Flags:
  --rebuild          Discard the index and re-ingest everything

Examples:
  hondana ingest
  hondana ask "How does a shell-and-tube exchanger work?"
  hondana ask --book "heat exchangers" --k 4 fouling factors
  hondana ask --general "What is the capital of France?"
  hondana retrieve --format json reboiler duty
  hondana serve --watch`)
}
