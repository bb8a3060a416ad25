// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/gradchat/internal/chat"
	"github.com/jeranaias/gradchat/internal/config"
	"github.com/jeranaias/gradchat/internal/gradient"
	"github.com/jeranaias/gradchat/internal/headers"
	"github.com/jeranaias/gradchat/internal/logging"
	"github.com/jeranaias/gradchat/internal/model"
	"github.com/jeranaias/gradchat/internal/runlog"
	"github.com/jeranaias/gradchat/internal/storage"
	"github.com/jeranaias/gradchat/internal/telemetry"
)

// app carries what every command needs once the root command has loaded
// configuration.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// Global flags
	configPath string
	logLevel   string
	logDir     string

	cfg     *config.Config
	logger  *zap.Logger
	metrics *telemetry.Metrics

	// interactive enables the spinner and markdown rendering.
	interactive bool

	// newTransport builds the chat service transport.
	newTransport func(cfg *config.Config, logger *zap.Logger) chat.Transport
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:       stdout,
		stderr:       stderr,
		logger:       zap.NewNop(),
		interactive:  IsStdoutTTY() && IsStderrTTY(),
		newTransport: defaultTransport,
	}
}

func defaultTransport(cfg *config.Config, logger *zap.Logger) chat.Transport {
	return gradient.NewClient(
		gradient.WithBaseURL(cfg.API.BaseURL),
		gradient.WithTimeout(cfg.Timeout()),
		gradient.WithHeaders(headers.NewBrowser()),
		gradient.WithLogger(logger),
	)
}

// setup loads configuration, applies the global flags and builds the logger.
// An explicit --config file must load cleanly; the default location falls
// back to defaults with a warning.
func (a *app) setup(cmd *cobra.Command) error {
	var cfg *config.Config
	var err error
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
		if err != nil {
			return &ConfigError{Err: err}
		}
	} else {
		cfg, err = config.Load()
		if err != nil {
			fmt.Fprintf(a.stderr, "%s %v (using defaults)\n", WarningStyle.Render("[WARN]"), err)
		}
	}

	if a.logLevel != "" {
		if !logging.ValidLevel(a.logLevel) {
			return usageErrorf("invalid --log-level %q", a.logLevel)
		}
		cfg.Log.Level = a.logLevel
	}
	if a.logDir != "" {
		cfg.Log.Dir = a.logDir
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return &ConfigError{Err: err}
	}

	a.cfg = cfg
	a.logger = logger
	config.SetGlobal(cfg)
	logger.Debug("config loaded",
		zap.String("command", cmd.Name()),
		zap.String("file", a.activeConfigFile()),
		zap.String("base_url", cfg.API.BaseURL))
	return nil
}

// activeConfigFile returns the file configuration was read from, or "".
func (a *app) activeConfigFile() string {
	if a.configPath != "" {
		return a.configPath
	}
	return config.FindConfigFile()
}

// newChatClient wires a chat client with the run log and metrics enabled by
// configuration. conv, when set, becomes the client's default conversation.
// The returned cleanup closes the run log.
func (a *app) newChatClient(conv *model.Conversation) (*chat.Client, func()) {
	opts := []chat.Option{chat.WithLogger(a.logger)}
	if conv != nil {
		opts = append(opts, chat.WithDefaultConversation(conv))
	}
	if a.metrics != nil {
		opts = append(opts, chat.WithObserver(a.metrics))
	}

	cleanup := func() {}
	if a.cfg.Log.RunLogs {
		rec, err := runlog.New(a.cfg.Log.Dir,
			runlog.WithCompression(a.cfg.Log.Compress),
			runlog.WithLogger(a.logger))
		if err != nil {
			a.logger.Warn("run log disabled", zap.Error(err))
		} else {
			opts = append(opts, chat.WithRecorder(rec))
			cleanup = func() {
				if err := rec.Close(); err != nil {
					a.logger.Warn("failed to close run log", zap.Error(err))
				}
			}
		}
	}

	transport := a.newTransport(a.cfg, a.logger)
	return chat.NewClient(transport, a.cfg.ChatConfig(), opts...), cleanup
}

// openStore opens the session archive.
func (a *app) openStore() (*storage.Store, error) {
	return storage.Open(a.cfg.Storage.Path, storage.WithMaxSessions(a.cfg.Storage.MaxSessions))
}

// startMetrics registers the request metrics and serves them on the
// configured address until ctx is done. It does nothing when no address is
// configured. A listener failure is logged and does not stop the command.
func (a *app) startMetrics(ctx context.Context, g *errgroup.Group) {
	addr := a.cfg.Metrics.ListenAddr
	if addr == "" {
		return
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = telemetry.NewMetrics(registry)

	g.Go(func() error {
		if err := telemetry.Serve(ctx, addr, registry, a.logger); err != nil {
			a.logger.Error("metrics listener failed", zap.String("addr", addr), zap.Error(err))
		}
		return nil
	})
}

// errorf prints a styled error line to stderr.
func (a *app) errorf(format string, args ...any) {
	fmt.Fprintf(a.stderr, "%s %s\n", ErrorStyle.Render("[Error]"), fmt.Sprintf(format, args...))
}

// stdoutIsTerminal reports whether stdout is the process terminal.
func (a *app) stdoutIsTerminal() bool {
	f, ok := a.stdout.(*os.File)
	return ok && f == os.Stdout && a.interactive
}
