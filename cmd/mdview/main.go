// Package main provides the mdview editor entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/euforicio/mdview/internal/anchor"
	"github.com/euforicio/mdview/internal/buildinfo"
	"github.com/euforicio/mdview/internal/config"
	"github.com/euforicio/mdview/internal/diagram"
	"github.com/euforicio/mdview/internal/editor"
	"github.com/euforicio/mdview/internal/highlight"
	"github.com/euforicio/mdview/internal/katex"
	"github.com/euforicio/mdview/internal/logging"
	"github.com/euforicio/mdview/internal/navigator"
	"github.com/euforicio/mdview/internal/notify"
	"github.com/euforicio/mdview/internal/preview"
	"github.com/euforicio/mdview/internal/renderer"
	"github.com/euforicio/mdview/internal/server"
	"github.com/euforicio/mdview/internal/storage"
	"github.com/euforicio/mdview/internal/workspace"
)

const katexCacheSize = 2048

func main() {
	if err := run(); err != nil {
		slog.Error("mdview failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("mdview", pflag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	versionFlag := flags.Bool("version", false, "Print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if *versionFlag {
		fmt.Println(buildinfo.Summary())
		return nil
	}
	if cfg.Root == "" && flags.NArg() > 0 {
		cfg.Root = flags.Arg(0)
	}
	if err := config.Finalize(&cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog := logging.New(logging.Options{Verbose: cfg.Verbose, Debug: cfg.Debug, File: cfg.LogFile})
	defer func() { _ = closeLog() }()
	logger = logger.With("app", "mdview")
	slog.SetDefault(logger)
	logger.Info("starting mdview", slog.String("version", buildinfo.Summary()))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tex, err := katex.Open(afero.NewOsFs(), cfg.KatexScript, katexCacheSize)
	if err != nil {
		logger.Warn("katex unavailable, math is shown as source", slog.String("script", cfg.KatexScript), slog.Any("err", err))
	}
	md := renderer.NewEngine(renderer.Options{Typesetter: tex, Logger: logger, HighlightStyle: cfg.HighlightStyle})

	diagrams := diagram.NewRegistry(cfg.DiagramTimeout)
	diagrams.Register("d2", diagram.NewD2(logger))
	if mermaid, err := diagram.NewMermaid(cfg.MermaidCLI); err != nil {
		logger.Warn("mermaid diagrams disabled", slog.Any("err", err))
	} else {
		diagrams.Register("mermaid", mermaid)
	}

	hl, err := highlight.New(cfg.HighlightStyle, logger, diagrams.Languages()...)
	if err != nil {
		return fmt.Errorf("highlighter: %w", err)
	}

	var store *storage.Safe
	if cfg.StateDir != "" {
		fileStore, err := storage.NewFileStore(afero.NewOsFs(), cfg.StateDir)
		if err != nil {
			logger.Warn("draft storage disabled", slog.String("dir", cfg.StateDir), slog.Any("err", err))
		} else {
			store = storage.NewSafe(fileStore, logger)
		}
	}

	bus := notify.NewBus(ctx, logger)
	pipeline, err := preview.NewPipeline(ctx, nil, preview.Options{
		Markdown:    md,
		Diagrams:    diagrams,
		Highlighter: hl,
		Store:       store,
		Events:      bus,
		Logger:      logger,
		Workers:     cfg.DiagramWorkers,
	})
	if err != nil {
		return fmt.Errorf("preview pipeline: %w", err)
	}

	walk := workspace.WalkOptions{}
	session, err := editor.New(ctx, editor.Options{
		Pipeline:  pipeline,
		Navigator: navigator.New(bus, logger, walk),
		Resolver:  anchor.NewResolver(logger, cfg.FocusDelay),
		Store:     store,
		Events:    bus,
		Logger:    logger,
		Metadata:  md,
		Walk:      walk,
		Debounce:  cfg.Debounce,
		Watch:     true,
	})
	if err != nil {
		return fmt.Errorf("editor session: %w", err)
	}
	defer session.Close()

	session.Restore(ctx)
	if cfg.Root != "" {
		if err := session.OpenFolder(ctx, cfg.Root); err != nil {
			return fmt.Errorf("open folder %s: %w", cfg.Root, err)
		}
	}

	srv, err := server.New(cfg, logger, server.Deps{
		Session:      session,
		Pipeline:     pipeline,
		Bus:          bus,
		HighlightCSS: hl.WriteCSS,
	})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
