package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jarvisproj/jarvis/internal/config"
	"github.com/jarvisproj/jarvis/internal/jarvis"
	"github.com/jarvisproj/jarvis/internal/llm"
	"github.com/jarvisproj/jarvis/internal/logging"
	"github.com/jarvisproj/jarvis/internal/observability"
	"github.com/jarvisproj/jarvis/internal/repl"
)

func main() {
	var (
		configPath = flag.String("c", "", "path to config file (YAML)")
		role       = flag.String("r", "", "initial role (default, smart, coder, fast, vision)")
		textMode   = flag.Bool("t", true, "text mode (interactive REPL)")
		mute       = flag.Bool("mute", false, "suppress reminder announcements on the terminal")
		noSafety   = flag.Bool("no-safety", false, "disable tool-call confirmation (dangerous)")
	)
	flag.Parse()
	_ = *textMode // voice mode is not implemented; text is the only mode

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logFile := cfg.Logging.File
	if logFile == "" {
		logFile = filepath.Join(cfg.Workspace.DataDir, "jarvis.log")
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	logger, logCleanup := logging.SetupLoggerWithFile(cfg.Logging.Level, logFile)
	defer logCleanup()
	slog.SetDefault(logger)

	otelShutdown, err := observability.Setup(ctx, observability.DefaultConfig(), logger)
	if err != nil {
		logger.Warn("observability setup failed", "error", err)
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown error", "error", err)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)

	announce := func(message string) {
		logger.Info("reminder fired", "message", message)
		if !*mute {
			fmt.Printf("\n⏰ 提醒：%s\n> ", message)
		}
	}

	app, err := jarvis.New(ctx, cfg, jarvis.Options{
		DisableSafety: *noSafety,
		Announce:      announce,
		Ask:           repl.Asker(scanner, os.Stdout),
		Logger:        logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start jarvis: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("close error", "error", err)
		}
	}()

	if *role != "" {
		r, ok := llm.ParseRole(*role)
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
			os.Exit(1)
		}
		if err := app.Engine.SetRole(ctx, jarvis.MainThreadID, r); err != nil {
			fmt.Fprintf(os.Stderr, "failed to set role: %v\n", err)
			os.Exit(1)
		}
	}

	if *noSafety {
		fmt.Println("⚠️  安全确认已关闭，所有工具将直接执行。")
	}

	r := repl.New(app, jarvis.MainThreadID, scanner, os.Stdout)
	if err := r.Run(ctx); err != nil && !errors.Is(err, repl.ErrExit) && !errors.Is(err, context.Canceled) {
		logger.Error("repl failed", "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("再见。")
}
