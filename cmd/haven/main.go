// haven TUI - A terminal client for project-scoped AI chat.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"

	"github.com/jeranaias/haven-tui/internal/binder"
	"github.com/jeranaias/haven-tui/internal/bus"
	"github.com/jeranaias/haven-tui/internal/chatlog"
	"github.com/jeranaias/haven-tui/internal/config"
	"github.com/jeranaias/haven-tui/internal/dispatch"
	"github.com/jeranaias/haven-tui/internal/i18n"
	"github.com/jeranaias/haven-tui/internal/model"
	"github.com/jeranaias/haven-tui/internal/permission"
	"github.com/jeranaias/haven-tui/internal/rpc"
	"github.com/jeranaias/haven-tui/internal/storage"
	"github.com/jeranaias/haven-tui/internal/stream"
	"github.com/jeranaias/haven-tui/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "haven: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closeLog, err := openLogger()
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Info("starting haven", "version", Version, "commit", GitCommit)

	// Local backend. A remote IPC bridge would slot in here behind the
	// same rpc contracts.
	dbPath := cfg.Backend.DatabasePath
	if dbPath == "" {
		dir, err := config.ConfigDir()
		if err != nil {
			return err
		}
		if err := config.EnsureConfigDir(); err != nil {
			return err
		}
		dbPath = filepath.Join(dir, "haven.db")
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	backend := storage.NewBackend(store, nil, cfg.Backend.StreamChunkChars, logger)

	// Orchestration layer.
	catalog := i18n.ForLocale(cfg.Locale)
	log := chatlog.New()
	b := binder.New(backend, logger)

	var classifier permission.Classifier
	if cfg.Permissions.PreflightEnabled {
		classifier = permission.NewRuleClassifier()
	} else {
		classifier = noopClassifier{}
	}
	gate := permission.NewGate(backend, classifier, catalog, logger)
	gate.SetRequestDefaults(
		permission.Scope(cfg.Permissions.DefaultScope),
		time.Duration(cfg.Permissions.TemporaryMinutes)*time.Minute,
	)

	engine := stream.NewEngine(log, b, gate, catalog, logger)
	controller := dispatch.New(backend, log, b, engine, gate, catalog.Tag(), logger)
	controller.SetRateLimit(cfg.Dispatch.RatePerSecond, cfg.Dispatch.Burst)

	lipgloss.SetHasDarkBackground(cfg.UI.Theme == "dark")

	// UI.
	view := chat.New(cfg, log, controller, engine, b, gate)
	program := tea.NewProgram(view, tea.WithAltScreen())

	// Push events fan out through the bus into the engine, and every
	// transcript-affecting callback nudges the view.
	streamBus := bus.New(backend, rpc.ChannelStream, model.DecodeStreamEvent, logger)
	if _, err := streamBus.Subscribe(func(ev model.StreamEvent) {
		engine.HandleEvent(context.Background(), ev)
		program.Send(chat.TranscriptChangedMsg{})
	}); err != nil {
		return err
	}

	// Secondary channel: one-shot notifications are surfaced in the log
	// for now; a notification pane would subscribe here.
	pushBus := bus.New(backend, rpc.ChannelPush, model.DecodePushEvent, logger)
	if _, err := pushBus.Subscribe(func(ev model.PushEvent) {
		logger.Info("push notification", "kind", ev.Kind)
	}); err != nil {
		return err
	}

	log.SetOnScrollRequest(func() {
		program.Send(chat.TranscriptChangedMsg{})
	})
	engine.SetOnStateChanged(func(s stream.State) {
		program.Send(chat.StreamStateMsg{State: s})
	})
	gate.SetOnDetected(func(req permission.Request) {
		program.Send(chat.PermissionRequestMsg{Request: req})
	})
	b.SetOnProjectChanged(func(p *model.Project) {
		id := ""
		if p != nil {
			id = p.ID
		}
		go gate.ReloadForProject(context.Background(), id)
		program.Send(chat.ProjectChangedMsg{Project: p})
	})
	b.SetOnConversationsChanged(func(list []model.ConversationMeta) {
		program.Send(chat.ConversationsMsg{List: list})
	})

	// Config edits apply live where that is safe. The UI's copy swaps
	// inside its update loop; the watcher goroutine never writes to
	// state the view reads.
	watcher, err := config.Watch(func(next *config.Config) {
		controller.SetRateLimit(next.Dispatch.RatePerSecond, next.Dispatch.Burst)
		gate.SetRequestDefaults(
			permission.Scope(next.Permissions.DefaultScope),
			time.Duration(next.Permissions.TemporaryMinutes)*time.Minute,
		)
		program.Send(chat.ConfigReloadedMsg{Config: next})
	}, logger)
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	// Open on the unfiled view; errors here are not fatal, the UI just
	// starts empty.
	if err := b.SelectProject(context.Background(), ""); err != nil {
		logger.Warn("failed to load conversations", "error", err)
	}
	b.StartConversation(cfg.DefaultModel)

	_, err = program.Run()
	return err
}

// openLogger writes structured logs to ~/.haven/haven.log; stderr is
// owned by the TUI.
func openLogger() (*slog.Logger, func(), error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "haven.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	return logger, func() { f.Close() }, nil
}

// noopClassifier disables pre-flight detection; post-hoc rejection
// handling still applies.
type noopClassifier struct{}

func (noopClassifier) Classify(string, language.Tag) permission.Classification {
	return permission.Classification{}
}
