// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/haven-tui/internal/model"
	"github.com/jeranaias/haven-tui/internal/rpc"
)

// =============================================================================
// RESPONDER
// =============================================================================

// Responder produces the assistant's reply for one turn. The local
// backend streams whatever it returns; swapping in an Ollama-backed
// implementation is a matter of satisfying this interface.
type Responder interface {
	Respond(ctx context.Context, history []model.Message, message string) (string, error)
}

// EchoResponder is the built-in development responder.
type EchoResponder struct{}

// Respond acknowledges the message; useful for exercising the full
// streaming path without a model host.
func (EchoResponder) Respond(_ context.Context, _ []model.Message, message string) (string, error) {
	return "You said: " + message, nil
}

// =============================================================================
// LOCAL BACKEND
// =============================================================================

// Backend serves the rpc contracts from a local Store. It implements
// both rpc.Caller and rpc.Transport.
type Backend struct {
	store     *Store
	responder Responder
	logger    *slog.Logger

	// chunkChars is how many characters each token event carries.
	chunkChars int

	mu          sync.Mutex
	subscribers map[string]func(raw []byte)
	cancels     map[string]context.CancelFunc // active generations by chat id
}

// NewBackend wraps a store in the rpc contracts.
func NewBackend(store *Store, responder Responder, chunkChars int, logger *slog.Logger) *Backend {
	if responder == nil {
		responder = EchoResponder{}
	}
	if chunkChars <= 0 {
		chunkChars = 24
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		store:       store,
		responder:   responder,
		logger:      logger,
		chunkChars:  chunkChars,
		subscribers: make(map[string]func(raw []byte)),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Subscribe implements rpc.Transport. One handler per channel; a second
// subscription to the same channel is an error.
func (b *Backend) Subscribe(channel string, handler func(raw []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.subscribers[channel]; exists {
		return nil, fmt.Errorf("channel %q already subscribed", channel)
	}
	b.subscribers[channel] = handler
	return func() {
		b.mu.Lock()
		delete(b.subscribers, channel)
		b.mu.Unlock()
	}, nil
}

func (b *Backend) emit(channel string, ev model.StreamEvent) {
	b.mu.Lock()
	handler := b.subscribers[channel]
	b.mu.Unlock()
	if handler == nil {
		return
	}
	if raw := ev.Encode(); raw != nil {
		handler(raw)
	}
}

// Call implements rpc.Caller.
func (b *Backend) Call(ctx context.Context, command string, payload rpc.Payload) (json.RawMessage, error) {
	switch command {
	case rpc.CmdChat:
		return b.chat(ctx, payload)
	case rpc.CmdCancelChat:
		return b.cancelChat(payload)

	case rpc.CmdListConversations:
		return marshal(b.store.ListConversations())
	case rpc.CmdGetConversationMessages:
		return marshal(b.store.GetMessages(str(payload, "conversation_id")))
	case rpc.CmdGetConversationMetadata:
		return marshal(b.store.GetConversationMeta(str(payload, "conversation_id")))
	case rpc.CmdDeleteConversation:
		return emptyResult(b.store.DeleteConversation(str(payload, "conversation_id")))
	case rpc.CmdUpdateConversationProject:
		return emptyResult(b.store.SetConversationProject(
			str(payload, "conversation_id"), str(payload, "project_id")))

	case rpc.CmdProjectsList:
		return marshal(b.store.ListProjects())
	case rpc.CmdProjectsGet:
		return marshal(b.store.GetProject(str(payload, "id")))
	case rpc.CmdProjectsCreate:
		return marshal(b.store.CreateProject(str(payload, "name"), str(payload, "description")))
	case rpc.CmdProjectsUpdate:
		return b.updateProject(payload)
	case rpc.CmdProjectsDelete:
		return emptyResult(b.store.DeleteProject(str(payload, "id")))
	case rpc.CmdProjectsAddRepo:
		return emptyResult(b.store.AddRepo(str(payload, "project_id"), str(payload, "path")))
	case rpc.CmdProjectsGetOrCreateOrphan:
		return marshal(b.store.GetOrCreateOrphan())

	case rpc.CmdAnalyzeRepository:
		return b.analyzeRepository(ctx, payload)
	case rpc.CmdSetContextScope:
		// The local backend scopes every query explicitly; the call is
		// accepted so clients written against a remote host still work.
		return json.RawMessage(`{}`), nil

	case rpc.CmdHasPermission:
		granted, err := b.store.HasPermission(str(payload, "permission"), str(payload, "project_id"))
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]bool{"granted": granted})
	case rpc.CmdGrantPermission:
		return b.grantPermission(payload)
	case rpc.CmdRevokePermission:
		return emptyResult(b.store.RevokePermission(str(payload, "permission")))

	default:
		return nil, fmt.Errorf("%w: %s", rpc.ErrUnknownCommand, command)
	}
}

// =============================================================================
// CHAT
// =============================================================================

func (b *Backend) chat(ctx context.Context, payload rpc.Payload) (json.RawMessage, error) {
	message := str(payload, "message")
	image := str(payload, "image")
	if message == "" && image == "" {
		return nil, errors.New("empty message")
	}

	chatID := str(payload, "conversation_id")
	if chatID == "" {
		chatID = NewID("chat")
		if err := b.store.CreateConversation(
			chatID,
			model.TitleFromContent(message),
			str(payload, "model"),
			str(payload, "project_id"),
		); err != nil {
			return nil, err
		}
	} else if exists, err := b.store.ConversationExists(chatID); err != nil {
		return nil, err
	} else if !exists {
		return nil, fmt.Errorf("unknown conversation %s", chatID)
	}

	history, err := b.store.GetMessages(chatID)
	if err != nil {
		return nil, err
	}

	user := model.NewUserMessage(message)
	user.Image = image
	if err := b.store.AppendMessage(chatID, user); err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.mu.Lock()
	b.cancels[chatID] = cancel
	b.mu.Unlock()

	go b.generate(genCtx, chatID, str(payload, "model"), str(payload, "repo_summary"), history, message)

	return json.Marshal(map[string]string{"chat_id": chatID})
}

// generate runs one turn: prompt preview, token stream, persistence,
// terminal event.
func (b *Backend) generate(ctx context.Context, chatID, modelName, repoSummary string, history []model.Message, message string) {
	defer func() {
		b.mu.Lock()
		delete(b.cancels, chatID)
		b.mu.Unlock()
	}()

	promptID := NewID("prompt")
	prompt := map[string]any{
		"message": message,
		"history": len(history),
	}
	if repoSummary != "" {
		prompt["repo_summary"] = repoSummary
	}
	b.emit(rpc.ChannelStream, model.StreamEvent{
		Event:    model.EventPromptPreview,
		ChatID:   chatID,
		PromptID: promptID,
		Prompt:   prompt,
	})

	reply, err := b.responder.Respond(ctx, history, message)
	if err != nil {
		if ctx.Err() != nil {
			b.emit(rpc.ChannelStream, model.StreamEvent{Event: model.EventCancelled, ChatID: chatID})
			return
		}
		b.logger.Warn("responder failed", "chat", chatID, "error", err)
		b.emit(rpc.ChannelStream, model.StreamEvent{
			Event:   model.EventError,
			ChatID:  chatID,
			Message: err.Error(),
		})
		return
	}

	streamed := 0
	runes := []rune(reply)
	for start := 0; start < len(runes); start += b.chunkChars {
		if ctx.Err() != nil {
			break
		}
		end := start + b.chunkChars
		if end > len(runes) {
			end = len(runes)
		}
		b.emit(rpc.ChannelStream, model.StreamEvent{
			Event:  model.EventToken,
			ChatID: chatID,
			Data:   string(runes[start:end]),
		})
		streamed = end
	}

	assistant := model.NewAssistantPlaceholder()
	assistant.Content = string(runes[:streamed])
	assistant.Model = modelName
	assistant.PromptID = promptID
	if err := b.store.AppendMessage(chatID, assistant); err != nil {
		b.logger.Warn("failed to persist assistant turn", "chat", chatID, "error", err)
	}

	if ctx.Err() != nil {
		b.emit(rpc.ChannelStream, model.StreamEvent{Event: model.EventCancelled, ChatID: chatID})
		return
	}
	b.emit(rpc.ChannelStream, model.StreamEvent{Event: model.EventDone, ChatID: chatID})
}

func (b *Backend) cancelChat(payload rpc.Payload) (json.RawMessage, error) {
	chatID := str(payload, "conversation_id")
	b.mu.Lock()
	cancel := b.cancels[chatID]
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return json.RawMessage(`{}`), nil
}

// =============================================================================
// PROJECTS / PERMISSIONS
// =============================================================================

func (b *Backend) updateProject(payload rpc.Payload) (json.RawMessage, error) {
	id := str(payload, "id")
	project, err := b.store.GetProject(id)
	if err != nil {
		return nil, err
	}
	if v := str(payload, "name"); v != "" {
		project.Name = v
	}
	if v := str(payload, "description"); v != "" {
		project.Description = v
	}
	if v := str(payload, "scope_path"); v != "" {
		project.ScopePath = v
	}
	if v := str(payload, "default_model"); v != "" {
		project.Settings.DefaultModel = v
	}
	if v, ok := payload["auto_load_repo"].(bool); ok {
		project.Settings.AutoLoadRepo = v
	}
	if err := b.store.UpdateProject(project); err != nil {
		return nil, err
	}
	return marshal(project, nil)
}

func (b *Backend) analyzeRepository(_ context.Context, payload rpc.Payload) (json.RawMessage, error) {
	projectID := str(payload, "project_id")
	path := str(payload, "path")
	if path == "" {
		return nil, errors.New("missing repo path")
	}

	analysis, err := AnalyzeRepo(path)
	if err != nil {
		return nil, err
	}
	if projectID != "" {
		if err := b.store.SaveAnalysis(projectID, analysis); err != nil {
			b.logger.Warn("failed to cache analysis", "project", projectID, "error", err)
		}
	}
	return json.Marshal(analysis)
}

func (b *Backend) grantPermission(payload rpc.Payload) (json.RawMessage, error) {
	var expires *time.Time
	if v := str(payload, "expires_at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("bad expires_at: %w", err)
		}
		expires = &t
	}
	err := b.store.GrantPermission(
		str(payload, "permission"),
		str(payload, "scope"),
		str(payload, "project_id"),
		expires,
	)
	return emptyResult(err)
}

// =============================================================================
// HELPERS
// =============================================================================

func str(payload rpc.Payload, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

func marshal[T any](v T, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func emptyResult(err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	return json.RawMessage(`{}`), nil
}
