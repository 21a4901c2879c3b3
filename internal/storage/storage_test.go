// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/haven-tui/internal/model"
	"github.com/jeranaias/haven-tui/internal/rpc"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestConversationRoundTrip(t *testing.T) {
	store := newTestStore(t)

	if err := store.CreateConversation("c1", "Test Chat", "llama3", "p1"); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	user := model.NewUserMessage("hello")
	assistant := model.NewAssistantPlaceholder()
	assistant.Content = "hi there"
	assistant.Model = "llama3"
	if err := store.AppendMessage("c1", user); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := store.AppendMessage("c1", assistant); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	msgs, err := store.GetMessages("c1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("Unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Model != "llama3" {
		t.Errorf("Expected model persisted, got %q", msgs[1].Model)
	}

	list, err := store.ListConversations()
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Test Chat" || list[0].ProjectID != "p1" {
		t.Errorf("Unexpected listing: %+v", list)
	}
}

func TestDeleteConversationRemovesMessages(t *testing.T) {
	store := newTestStore(t)
	store.CreateConversation("c1", "t", "", "")
	store.AppendMessage("c1", model.NewUserMessage("x"))

	if err := store.DeleteConversation("c1"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	msgs, _ := store.GetMessages("c1")
	if len(msgs) != 0 {
		t.Errorf("Expected messages removed, got %d", len(msgs))
	}
}

func TestProjectRoundTripWithRepos(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateProject("demo", "a demo project")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if err := store.AddRepo(created.ID, "/src/demo"); err != nil {
		t.Fatalf("AddRepo failed: %v", err)
	}
	analysis := model.RepoAnalysis{Path: "/src/demo", Summary: "tiny", FileCount: 3, AnalyzedAt: time.Now()}
	if err := store.SaveAnalysis(created.ID, analysis); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	loaded, err := store.GetProject(created.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if loaded.Name != "demo" {
		t.Errorf("Expected name demo, got %q", loaded.Name)
	}
	if !loaded.Settings.AutoLoadRepo {
		t.Error("Expected default auto-load setting persisted")
	}
	repo := loaded.FirstRepo()
	if repo == nil || repo.Path != "/src/demo" {
		t.Fatalf("Expected attached repo, got %+v", repo)
	}
	if repo.Analysis == nil || repo.Analysis.Summary != "tiny" {
		t.Errorf("Expected cached analysis, got %+v", repo.Analysis)
	}
}

func TestDeleteProjectUnfilesConversations(t *testing.T) {
	store := newTestStore(t)
	p, _ := store.CreateProject("demo", "")
	store.CreateConversation("c1", "t", "", p.ID)

	if err := store.DeleteProject(p.ID); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}
	meta, err := store.GetConversationMeta("c1")
	if err != nil {
		t.Fatalf("GetConversationMeta failed: %v", err)
	}
	if meta.ProjectID != "" {
		t.Errorf("Expected conversation unfiled, got project %q", meta.ProjectID)
	}
}

func TestGetOrCreateOrphanIdempotent(t *testing.T) {
	store := newTestStore(t)

	first, err := store.GetOrCreateOrphan()
	if err != nil {
		t.Fatalf("GetOrCreateOrphan failed: %v", err)
	}
	second, err := store.GetOrCreateOrphan()
	if err != nil {
		t.Fatalf("GetOrCreateOrphan failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("Expected one orphan project, got %s and %s", first.ID, second.ID)
	}
	if first.Name != model.OrphanProjectName {
		t.Errorf("Expected orphan name, got %q", first.Name)
	}
}

func TestPermissionGrantExpiry(t *testing.T) {
	store := newTestStore(t)

	past := time.Now().Add(-time.Minute)
	if err := store.GrantPermission("file_read", "temporary", "", &past); err != nil {
		t.Fatalf("GrantPermission failed: %v", err)
	}
	if has, _ := store.HasPermission("file_read", ""); has {
		t.Error("Expired grant should not count")
	}

	future := time.Now().Add(time.Hour)
	store.GrantPermission("file_write", "temporary", "", &future)
	if has, _ := store.HasPermission("file_write", ""); !has {
		t.Error("Live grant should count")
	}

	store.RevokePermission("file_write")
	if has, _ := store.HasPermission("file_write", ""); has {
		t.Error("Revoked grant should not count")
	}
}

func TestProjectScopedGrant(t *testing.T) {
	store := newTestStore(t)
	store.GrantPermission("command_execute", "project", "p1", nil)

	if has, _ := store.HasPermission("command_execute", "p1"); !has {
		t.Error("Expected grant within its project")
	}
	if has, _ := store.HasPermission("command_execute", "p2"); has {
		t.Error("Project grant must not leak to other projects")
	}
}

// ---------------------------------------------------------------------------
// Backend
// ---------------------------------------------------------------------------

func collectStream(t *testing.T, backend *Backend) <-chan model.StreamEvent {
	t.Helper()
	events := make(chan model.StreamEvent, 64)
	_, err := backend.Subscribe(rpc.ChannelStream, func(raw []byte) {
		if ev, ok := model.DecodeStreamEvent(raw); ok {
			events <- ev
		}
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	return events
}

func TestBackendChatStreamsFullTurn(t *testing.T) {
	store := newTestStore(t)
	backend := NewBackend(store, EchoResponder{}, 4, nil)
	events := collectStream(t, backend)

	raw, err := backend.Call(context.Background(), rpc.CmdChat, rpc.Payload{
		"message": "ping",
		"model":   "llama3",
	})
	if err != nil {
		t.Fatalf("chat call failed: %v", err)
	}
	chatID, err := rpc.String(raw, "chat_id")
	if err != nil || chatID == "" {
		t.Fatalf("Expected chat_id in result, got %v", err)
	}

	var kinds []model.EventKind
	var content strings.Builder
	deadline := time.After(5 * time.Second)
stream:
	for {
		select {
		case ev := <-events:
			if ev.ChatID != chatID {
				t.Errorf("Event carries wrong chat id %q", ev.ChatID)
			}
			kinds = append(kinds, ev.Event)
			if ev.Event == model.EventToken {
				content.WriteString(ev.Data)
			}
			if ev.Event == model.EventDone {
				break stream
			}
		case <-deadline:
			t.Fatal("Timed out waiting for done")
		}
	}

	if kinds[0] != model.EventPromptPreview {
		t.Errorf("Expected prompt preview first, got %v", kinds[0])
	}
	if content.String() != "You said: ping" {
		t.Errorf("Unexpected streamed content %q", content.String())
	}

	msgs, err := store.GetMessages(chatID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected persisted pair, got %d messages", len(msgs))
	}
	if msgs[1].Content != "You said: ping" || msgs[1].Model != "llama3" {
		t.Errorf("Unexpected persisted assistant turn: %+v", msgs[1])
	}

	meta, _ := store.GetConversationMeta(chatID)
	if meta.Title != "ping" {
		t.Errorf("Expected title from first user message, got %q", meta.Title)
	}
}

func TestBackendSecondSubscribeRejected(t *testing.T) {
	store := newTestStore(t)
	backend := NewBackend(store, nil, 0, nil)

	if _, err := backend.Subscribe(rpc.ChannelStream, func([]byte) {}); err != nil {
		t.Fatalf("First subscribe failed: %v", err)
	}
	if _, err := backend.Subscribe(rpc.ChannelStream, func([]byte) {}); err == nil {
		t.Error("Expected second subscribe to the same channel to fail")
	}
}

func TestBackendChatUnknownConversation(t *testing.T) {
	store := newTestStore(t)
	backend := NewBackend(store, nil, 0, nil)

	_, err := backend.Call(context.Background(), rpc.CmdChat, rpc.Payload{
		"message":         "hi",
		"conversation_id": "ghost",
	})
	if err == nil {
		t.Error("Expected unknown conversation rejected")
	}
}

func TestBackendUnknownCommand(t *testing.T) {
	store := newTestStore(t)
	backend := NewBackend(store, nil, 0, nil)

	if _, err := backend.Call(context.Background(), "warp_drive", nil); err == nil {
		t.Error("Expected unknown command error")
	}
}

func TestAnalyzeRepo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.go"), "package main")
	writeFile(t, filepath.Join(dir, "lib.go"), "package main")
	writeFile(t, filepath.Join(dir, "README.md"), "# readme")
	writeFile(t, filepath.Join(dir, ".git", "HEAD"), "ref")

	analysis, err := AnalyzeRepo(dir)
	if err != nil {
		t.Fatalf("AnalyzeRepo failed: %v", err)
	}
	if analysis.FileCount != 3 {
		t.Errorf("Expected 3 files (.git skipped), got %d", analysis.FileCount)
	}
	if len(analysis.Languages) == 0 || analysis.Languages[0] != "Go" {
		t.Errorf("Expected Go as top language, got %v", analysis.Languages)
	}
	if analysis.Summary == "" {
		t.Error("Expected a summary")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
