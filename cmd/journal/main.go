// Command journal is the operational CLI for the command/event journal:
// schema initialization, size stats, and backend compatibility checks.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/eventreducer/journal/pkg/config"
	"github.com/eventreducer/journal/pkg/journal"
	"github.com/eventreducer/journal/pkg/journal/postgres"
	"github.com/eventreducer/journal/pkg/journal/sqlite"
	"github.com/eventreducer/journal/pkg/observability"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	cfg := config.Load()
	setupLogging(cfg.LogLevel, stderr)

	ctx := context.Background()
	if cfg.OTLPEndpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Insecure = os.Getenv("OTLP_INSECURE") == "true"
		provider, err := observability.New(ctx, obsCfg)
		if err != nil {
			fmt.Fprintf(stderr, "observability: %v\n", err)
			return 1
		}
		defer func() { _ = provider.Shutdown(ctx) }()
	}

	switch args[1] {
	case "init":
		return runInit(ctx, cfg, args[2:], stdout, stderr)
	case "stats":
		return runStats(ctx, cfg, args[2:], stdout, stderr)
	case "check":
		return runCheck(ctx, cfg, args[2:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: journal <init|stats|check> [flags]")
}

func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}

// openJournal connects to the configured backend. The returned *sql.DB
// must be closed by the caller.
func openJournal(ctx context.Context, cfg *config.Config, codec *journal.Codec) (journal.Journal, *sql.DB, error) {
	switch cfg.Backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		j, err := postgres.Open(ctx, db, codec, postgres.WithFetchSize(cfg.FetchSize))
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return j, db, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		j, err := sqlite.Open(ctx, db, codec, sqlite.WithFetchSize(cfg.FetchSize))
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return j, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func runInit(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML config file overlay")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if code := overlay(cfg, *configPath, stderr); code != 0 {
		return code
	}

	j, db, err := openJournal(ctx, cfg, journal.NewCodec())
	if err != nil {
		fmt.Fprintf(stderr, "open journal: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	type initer interface {
		Init(context.Context) error
	}
	if err := j.(initer).Init(ctx); err != nil {
		fmt.Fprintf(stderr, "init schema: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "journal schema ready")
	return 0
}

func runStats(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML config file overlay")
	kinds := fs.String("kinds", "", "comma-separated payload kinds to count")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *kinds == "" {
		fmt.Fprintln(stderr, "stats: -kinds is required")
		return 2
	}
	if code := overlay(cfg, *configPath, stderr); code != 0 {
		return code
	}

	j, db, err := openJournal(ctx, cfg, journal.NewCodec())
	if err != nil {
		fmt.Fprintf(stderr, "open journal: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	for _, kind := range strings.Split(*kinds, ",") {
		kind = strings.TrimSpace(kind)
		if kind == "" {
			continue
		}
		n, err := j.Size(ctx, kind)
		if err != nil {
			fmt.Fprintf(stderr, "size %q: %v\n", kind, err)
			return 1
		}
		fmt.Fprintf(stdout, "%s\t%d\n", kind, n)
	}
	return 0
}

func runCheck(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML config file overlay")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if code := overlay(cfg, *configPath, stderr); code != 0 {
		return code
	}

	// Open runs the backend version gate.
	_, db, err := openJournal(ctx, cfg, journal.NewCodec())
	if err != nil {
		fmt.Fprintf(stderr, "check failed: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	fmt.Fprintf(stdout, "%s backend compatible\n", cfg.Backend)
	return 0
}

func overlay(cfg *config.Config, path string, stderr io.Writer) int {
	if path == "" {
		return 0
	}
	loaded, err := config.LoadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	*cfg = *loaded
	return 0
}
