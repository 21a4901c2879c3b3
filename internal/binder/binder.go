// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package binder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jeranaias/haven-tui/internal/model"
	"github.com/jeranaias/haven-tui/internal/rpc"
)

// =============================================================================
// PROJECT / CONVERSATION BINDER
// =============================================================================

// Binder owns the active project, the filtered conversation list, the
// bound repository analysis, and conversation identity adoption. All
// methods are safe for concurrent use.
type Binder struct {
	caller rpc.Caller
	logger *slog.Logger

	mu            sync.Mutex
	project       *model.Project // nil while browsing unfiled conversations
	conversations []model.ConversationMeta
	current       model.Conversation
	currentBound  bool // current.ID was issued by the backend
	analysis      *model.RepoAnalysis

	// analysisSeq invalidates in-flight analyses when the project
	// changes underneath them.
	analysisSeq      int
	analysisInFlight bool

	onProjectChanged       func(*model.Project)
	onConversationsChanged func([]model.ConversationMeta)
	onAnalysisReady        func(*model.RepoAnalysis)
}

// New creates a binder with no active project and a fresh conversation.
func New(caller rpc.Caller, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{
		caller:  caller,
		logger:  logger,
		current: *model.NewConversation("", ""),
	}
}

// SetOnProjectChanged registers the project switch callback. A nil
// project means the unfiled view.
func (b *Binder) SetOnProjectChanged(fn func(*model.Project)) {
	b.mu.Lock()
	b.onProjectChanged = fn
	b.mu.Unlock()
}

// SetOnConversationsChanged registers the sidebar refresh callback.
func (b *Binder) SetOnConversationsChanged(fn func([]model.ConversationMeta)) {
	b.mu.Lock()
	b.onConversationsChanged = fn
	b.mu.Unlock()
}

// SetOnAnalysisReady registers the repo analysis callback.
func (b *Binder) SetOnAnalysisReady(fn func(*model.RepoAnalysis)) {
	b.mu.Lock()
	b.onAnalysisReady = fn
	b.mu.Unlock()
}

// =============================================================================
// PROJECT SELECTION
// =============================================================================

// SelectProject makes projectID the active project: fetch it, point the
// backend's context scope at it, republish the conversation list, and
// kick off repository auto-binding. An empty projectID selects the
// unfiled view.
func (b *Binder) SelectProject(ctx context.Context, projectID string) error {
	if projectID == "" {
		b.setProject(nil)
		if _, err := b.caller.Call(ctx, rpc.CmdSetContextScope, rpc.Payload{"project_id": ""}); err != nil {
			b.logger.Warn("failed to clear context scope", "error", err)
		}
		return b.RefreshConversations(ctx)
	}

	raw, err := b.caller.Call(ctx, rpc.CmdProjectsGet, rpc.Payload{"id": projectID})
	if err != nil {
		return fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	var project model.Project
	if err := rpc.Decode(raw, &project); err != nil {
		return err
	}

	if _, err := b.caller.Call(ctx, rpc.CmdSetContextScope, rpc.Payload{"project_id": project.ID}); err != nil {
		b.logger.Warn("failed to set context scope", "project", project.ID, "error", err)
	}

	prev := b.BoundAnalysis()
	b.setProject(&project)

	if err := b.RefreshConversations(ctx); err != nil {
		return err
	}
	b.autoBindRepo(ctx, &project, prev)
	return nil
}

func (b *Binder) setProject(p *model.Project) {
	b.mu.Lock()
	b.project = p
	b.analysis = nil
	b.analysisSeq++
	// Any in-flight analysis is superseded now; its completion will see
	// a stale seq and must not be the one to clear the flag.
	b.analysisInFlight = false
	fn := b.onProjectChanged
	b.mu.Unlock()

	if fn != nil {
		fn(p)
	}
}

// Project returns the active project, nil for the unfiled view.
func (b *Binder) Project() *model.Project {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.project
}

// =============================================================================
// CONVERSATION LIST
// =============================================================================

// RefreshConversations reloads the sidebar list from the backend and
// filters it to the active project (or to unfiled conversations when no
// project is active).
func (b *Binder) RefreshConversations(ctx context.Context) error {
	raw, err := b.caller.Call(ctx, rpc.CmdListConversations, nil)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}
	var all []model.ConversationMeta
	if err := rpc.Decode(raw, &all); err != nil {
		return err
	}

	b.mu.Lock()
	activeID := ""
	if b.project != nil {
		activeID = b.project.ID
	}
	filtered := make([]model.ConversationMeta, 0, len(all))
	for _, meta := range all {
		if meta.ProjectID == activeID {
			filtered = append(filtered, meta)
		}
	}
	b.conversations = filtered
	fn := b.onConversationsChanged
	b.mu.Unlock()

	if fn != nil {
		fn(filtered)
	}
	return nil
}

// Conversations returns the current filtered sidebar list.
func (b *Binder) Conversations() []model.ConversationMeta {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.ConversationMeta, len(b.conversations))
	copy(out, b.conversations)
	return out
}

// =============================================================================
// ACTIVE CONVERSATION
// =============================================================================

// Current returns the active conversation descriptor and whether its id
// was issued by the backend. A false bound flag means the next turn
// adopts the server's id from the stream.
func (b *Binder) Current() (model.Conversation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.currentBound
}

// StartConversation begins a fresh local conversation bound to the
// active project. The server id is adopted later, on first completion.
func (b *Binder) StartConversation(modelName string) model.Conversation {
	b.mu.Lock()
	projectID := ""
	if b.project != nil {
		projectID = b.project.ID
	}
	b.current = *model.NewConversation(modelName, projectID)
	b.currentBound = false
	conv := b.current
	b.mu.Unlock()
	return conv
}

// OpenConversation makes an existing conversation active and returns
// its transcript.
func (b *Binder) OpenConversation(ctx context.Context, id string) ([]model.Message, error) {
	raw, err := b.caller.Call(ctx, rpc.CmdGetConversationMessages, rpc.Payload{"conversation_id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	var msgs []model.Message
	if err := rpc.Decode(raw, &msgs); err != nil {
		return nil, err
	}

	metaRaw, err := b.caller.Call(ctx, rpc.CmdGetConversationMetadata, rpc.Payload{"conversation_id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation metadata: %w", err)
	}
	var meta model.ConversationMeta
	if err := rpc.Decode(metaRaw, &meta); err != nil {
		return nil, err
	}

	// A contextless conversation gets filed under the shared orphan
	// project the first time it is opened.
	if meta.ProjectID == "" {
		if err := b.AdoptOrphan(ctx, meta.ID); err != nil {
			b.logger.Warn("failed to file orphan conversation", "conversation", meta.ID, "error", err)
		}
	}

	b.mu.Lock()
	b.current = model.Conversation{ID: meta.ID, Model: meta.Model, ProjectID: meta.ProjectID}
	b.currentBound = true
	b.mu.Unlock()
	return msgs, nil
}

// DeleteConversation removes a conversation and refreshes the list. If
// the deleted conversation was active, a fresh one takes its place.
func (b *Binder) DeleteConversation(ctx context.Context, id string) error {
	if _, err := b.caller.Call(ctx, rpc.CmdDeleteConversation, rpc.Payload{"conversation_id": id}); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}

	b.mu.Lock()
	if b.current.ID == id {
		projectID := ""
		if b.project != nil {
			projectID = b.project.ID
		}
		b.current = *model.NewConversation(b.current.Model, projectID)
		b.currentBound = false
	}
	b.mu.Unlock()

	return b.RefreshConversations(ctx)
}

// AdoptServerID rebinds the active conversation to the identity the
// backend assigned it. Idempotent; adopting the current id is a no-op.
func (b *Binder) AdoptServerID(serverID string) {
	if serverID == "" {
		return
	}
	b.mu.Lock()
	if b.current.ID != serverID {
		b.logger.Debug("adopting server conversation id", "local", b.current.ID, "server", serverID)
		b.current.ID = serverID
	}
	b.currentBound = true
	b.mu.Unlock()
}

// NotifyDone is called when a generation turn completes: adopt the
// server's conversation id and refresh the sidebar so new titles show.
func (b *Binder) NotifyDone(ctx context.Context, serverID string) {
	b.AdoptServerID(serverID)
	if err := b.RefreshConversations(ctx); err != nil {
		b.logger.Warn("failed to refresh conversations after completion", "error", err)
	}
}

// AdoptOrphan files an unfiled conversation under the shared orphan
// project so it survives project-scoped listing.
func (b *Binder) AdoptOrphan(ctx context.Context, conversationID string) error {
	raw, err := b.caller.Call(ctx, rpc.CmdProjectsGetOrCreateOrphan, nil)
	if err != nil {
		return fmt.Errorf("failed to resolve orphan project: %w", err)
	}
	orphanID, err := rpc.String(raw, "id")
	if err != nil {
		return err
	}
	_, err = b.caller.Call(ctx, rpc.CmdUpdateConversationProject, rpc.Payload{
		"conversation_id": conversationID,
		"project_id":      orphanID,
	})
	if err != nil {
		return fmt.Errorf("failed to file conversation under orphan project: %w", err)
	}
	return nil
}

// =============================================================================
// REPOSITORY BINDING
// =============================================================================

// BoundAnalysis returns the repository analysis attached to the active
// project, nil when none is bound yet.
func (b *Binder) BoundAnalysis() *model.RepoAnalysis {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.analysis
}

// AnalysisInFlight reports whether a repository analysis is running.
func (b *Binder) AnalysisInFlight() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.analysisInFlight
}

// autoBindRepo attaches the project's first repository to the prompt
// context. prev is the analysis bound before the project record was
// re-fetched; it is kept when it still matches the repo and the record
// holds nothing newer. Otherwise a cached analysis on the record binds
// immediately, and a fresh analysis runs in the background as the last
// resort.
func (b *Binder) autoBindRepo(ctx context.Context, project *model.Project, prev *model.RepoAnalysis) {
	if !project.Settings.AutoLoadRepo {
		return
	}
	repo := project.FirstRepo()
	if repo == nil {
		return
	}

	if prev != nil && prev.Path == repo.Path && !prev.Stale(repo.Analysis) {
		b.logger.Debug("keeping bound repo analysis", "project", project.ID, "repo", repo.Path)
		b.bindAnalysis(prev)
		return
	}

	if repo.Analysis != nil {
		b.logger.Debug("reusing cached repo analysis", "project", project.ID, "repo", repo.Path)
		b.bindAnalysis(repo.Analysis)
		return
	}

	b.mu.Lock()
	b.analysisInFlight = true
	seq := b.analysisSeq
	b.mu.Unlock()

	go b.runAnalysis(ctx, project.ID, repo.Path, seq)
}

func (b *Binder) bindAnalysis(a *model.RepoAnalysis) {
	b.mu.Lock()
	b.analysis = a
	fn := b.onAnalysisReady
	b.mu.Unlock()
	if fn != nil {
		fn(a)
	}
}

// runAnalysis performs one backend analysis call and applies the result
// only if the project has not changed since it started.
func (b *Binder) runAnalysis(ctx context.Context, projectID, repoPath string, seq int) {
	raw, err := b.caller.Call(ctx, rpc.CmdAnalyzeRepository, rpc.Payload{
		"project_id": projectID,
		"path":       repoPath,
	})

	b.mu.Lock()
	stale := seq != b.analysisSeq
	if seq == b.analysisSeq {
		b.analysisInFlight = false
	}
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn("repository analysis failed", "project", projectID, "error", err)
		return
	}
	if stale {
		b.logger.Debug("discarding analysis for superseded project", "project", projectID)
		return
	}

	var analysis model.RepoAnalysis
	if err := rpc.Decode(raw, &analysis); err != nil {
		b.logger.Warn("repository analysis result undecodable", "project", projectID, "error", err)
		return
	}

	b.mu.Lock()
	b.analysis = &analysis
	fn := b.onAnalysisReady
	b.mu.Unlock()

	b.logger.Info("repository analysis bound", "project", projectID, "repo", repoPath)
	if fn != nil {
		fn(&analysis)
	}
}

// =============================================================================
// PROJECT CRUD
// =============================================================================

// ListProjects returns all projects.
func (b *Binder) ListProjects(ctx context.Context) ([]model.Project, error) {
	raw, err := b.caller.Call(ctx, rpc.CmdProjectsList, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	var projects []model.Project
	if err := rpc.Decode(raw, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject creates a project and returns its id.
func (b *Binder) CreateProject(ctx context.Context, name, description string) (string, error) {
	raw, err := b.caller.Call(ctx, rpc.CmdProjectsCreate, rpc.Payload{
		"name":        name,
		"description": description,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create project: %w", err)
	}
	return rpc.String(raw, "id")
}

// AddRepo attaches a repository path to a project.
func (b *Binder) AddRepo(ctx context.Context, projectID, path string) error {
	if _, err := b.caller.Call(ctx, rpc.CmdProjectsAddRepo, rpc.Payload{
		"project_id": projectID,
		"path":       path,
	}); err != nil {
		return fmt.Errorf("failed to attach repo: %w", err)
	}
	return nil
}

// DeleteProject removes a project. Its conversations become unfiled.
func (b *Binder) DeleteProject(ctx context.Context, projectID string) error {
	if _, err := b.caller.Call(ctx, rpc.CmdProjectsDelete, rpc.Payload{"id": projectID}); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	b.mu.Lock()
	wasActive := b.project != nil && b.project.ID == projectID
	b.mu.Unlock()

	if wasActive {
		return b.SelectProject(ctx, "")
	}
	return nil
}
