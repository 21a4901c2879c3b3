// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package binder

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/haven-tui/internal/model"
	"github.com/jeranaias/haven-tui/internal/rpc"
)

// fakeCaller answers commands from a canned table and records the
// sequence of calls.
type fakeCaller struct {
	mu      sync.Mutex
	calls   []string
	results map[string]json.RawMessage
}

func (c *fakeCaller) Call(_ context.Context, command string, _ rpc.Payload) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, command)
	if raw, ok := c.results[command]; ok {
		return raw, nil
	}
	return json.RawMessage(`{}`), nil
}

func (c *fakeCaller) called(command string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call == command {
			return true
		}
	}
	return false
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestSelectProjectSetsScopeAndFiltersConversations(t *testing.T) {
	project := model.NewProject("demo")
	project.ID = "proj-1"
	project.Settings.AutoLoadRepo = false

	caller := &fakeCaller{results: map[string]json.RawMessage{
		rpc.CmdProjectsGet: mustJSON(t, project),
		rpc.CmdListConversations: mustJSON(t, []model.ConversationMeta{
			{ID: "c1", ProjectID: "proj-1"},
			{ID: "c2", ProjectID: "proj-2"},
			{ID: "c3", ProjectID: ""},
		}),
	}}
	b := New(caller, nil)

	var published []model.ConversationMeta
	b.SetOnConversationsChanged(func(list []model.ConversationMeta) { published = list })

	require.NoError(t, b.SelectProject(context.Background(), "proj-1"))

	if !caller.called(rpc.CmdSetContextScope) {
		t.Error("Expected context scope call")
	}
	if len(published) != 1 || published[0].ID != "c1" {
		t.Errorf("Expected only proj-1 conversations, got %+v", published)
	}
}

func TestSelectUnfiledViewShowsOrphans(t *testing.T) {
	caller := &fakeCaller{results: map[string]json.RawMessage{
		rpc.CmdListConversations: mustJSON(t, []model.ConversationMeta{
			{ID: "c1", ProjectID: "proj-1"},
			{ID: "c2", ProjectID: ""},
		}),
	}}
	b := New(caller, nil)

	require.NoError(t, b.SelectProject(context.Background(), ""))

	list := b.Conversations()
	if len(list) != 1 || list[0].ID != "c2" {
		t.Errorf("Expected only unfiled conversations, got %+v", list)
	}
}

func TestCachedAnalysisReusedWithoutBackendCall(t *testing.T) {
	cached := &model.RepoAnalysis{Path: "/repo", Summary: "a Go service"}
	project := model.NewProject("demo")
	project.ID = "proj-1"
	project.Repos = []model.ProjectRepo{{Path: "/repo", Analysis: cached}}

	caller := &fakeCaller{results: map[string]json.RawMessage{
		rpc.CmdProjectsGet:       mustJSON(t, project),
		rpc.CmdListConversations: mustJSON(t, []model.ConversationMeta{}),
	}}
	b := New(caller, nil)

	require.NoError(t, b.SelectProject(context.Background(), "proj-1"))

	if got := b.BoundAnalysis(); got == nil || got.Summary != "a Go service" {
		t.Errorf("Expected cached analysis bound, got %+v", got)
	}
	if caller.called(rpc.CmdAnalyzeRepository) {
		t.Error("Cached analysis should not trigger a backend analysis")
	}
}

func TestBoundAnalysisKeptWhenRecordNotNewer(t *testing.T) {
	prev := &model.RepoAnalysis{Path: "/repo", Summary: "already bound", AnalyzedAt: time.Now()}
	project := model.NewProject("demo")
	project.ID = "proj-1"
	project.Repos = []model.ProjectRepo{{Path: "/repo"}}

	caller := &fakeCaller{}
	b := New(caller, nil)

	b.autoBindRepo(context.Background(), project, prev)

	if got := b.BoundAnalysis(); got == nil || got.Summary != "already bound" {
		t.Errorf("Expected prior analysis kept, got %+v", got)
	}
	if caller.called(rpc.CmdAnalyzeRepository) {
		t.Error("A current analysis must not trigger re-analysis")
	}
}

func TestStaleBoundAnalysisReplacedByRecord(t *testing.T) {
	prev := &model.RepoAnalysis{Path: "/repo", Summary: "old", AnalyzedAt: time.Now().Add(-time.Hour)}
	fresh := &model.RepoAnalysis{Path: "/repo", Summary: "fresh", AnalyzedAt: time.Now()}
	project := model.NewProject("demo")
	project.ID = "proj-1"
	project.Repos = []model.ProjectRepo{{Path: "/repo", Analysis: fresh}}

	b := New(&fakeCaller{}, nil)

	b.autoBindRepo(context.Background(), project, prev)

	if got := b.BoundAnalysis(); got == nil || got.Summary != "fresh" {
		t.Errorf("Expected newer record analysis to win, got %+v", got)
	}
}

func TestAutoLoadRepoDisabledSkipsBinding(t *testing.T) {
	project := model.NewProject("demo")
	project.ID = "proj-1"
	project.Settings.AutoLoadRepo = false
	project.Repos = []model.ProjectRepo{{Path: "/repo"}}

	caller := &fakeCaller{results: map[string]json.RawMessage{
		rpc.CmdProjectsGet:       mustJSON(t, project),
		rpc.CmdListConversations: mustJSON(t, []model.ConversationMeta{}),
	}}
	b := New(caller, nil)

	require.NoError(t, b.SelectProject(context.Background(), "proj-1"))
	if b.BoundAnalysis() != nil || b.AnalysisInFlight() {
		t.Error("Disabled auto-load should bind nothing")
	}
}

func TestStaleAnalysisDiscardedAfterProjectSwitch(t *testing.T) {
	caller := &fakeCaller{results: map[string]json.RawMessage{
		rpc.CmdAnalyzeRepository: mustJSON(t, model.RepoAnalysis{Path: "/old", Summary: "old project"}),
	}}
	b := New(caller, nil)

	b.mu.Lock()
	b.analysisInFlight = true
	seq := b.analysisSeq
	b.mu.Unlock()

	// The project switches while the analysis is in flight.
	b.setProject(&model.Project{ID: "proj-new"})

	b.runAnalysis(context.Background(), "proj-old", "/old", seq)

	if b.BoundAnalysis() != nil {
		t.Error("Analysis for a superseded project must be discarded")
	}
	if b.AnalysisInFlight() {
		t.Error("Stale completion must not leave the in-flight flag set")
	}
}

func TestFreshAnalysisAppliesWhenProjectUnchanged(t *testing.T) {
	caller := &fakeCaller{results: map[string]json.RawMessage{
		rpc.CmdAnalyzeRepository: mustJSON(t, model.RepoAnalysis{Path: "/repo", Summary: "fresh"}),
	}}
	b := New(caller, nil)

	var ready *model.RepoAnalysis
	b.SetOnAnalysisReady(func(a *model.RepoAnalysis) { ready = a })

	b.mu.Lock()
	b.analysisInFlight = true
	seq := b.analysisSeq
	b.mu.Unlock()

	b.runAnalysis(context.Background(), "proj-1", "/repo", seq)

	if got := b.BoundAnalysis(); got == nil || got.Summary != "fresh" {
		t.Errorf("Expected fresh analysis bound, got %+v", got)
	}
	if ready == nil {
		t.Error("Expected analysis-ready callback")
	}
	if b.AnalysisInFlight() {
		t.Error("Expected in-flight flag cleared")
	}
}

func TestAdoptServerIDIdempotent(t *testing.T) {
	b := New(&fakeCaller{}, nil)
	local, bound := b.Current()
	if bound {
		t.Fatal("Fresh conversation should not be server-bound")
	}

	b.AdoptServerID("srv-1")
	conv, bound := b.Current()
	if conv.ID != "srv-1" || !bound {
		t.Fatalf("Expected server id adopted, got %s bound=%v", conv.ID, bound)
	}
	b.AdoptServerID("srv-1")
	b.AdoptServerID("") // empty server id ignored
	if conv, _ := b.Current(); conv.ID != "srv-1" {
		t.Errorf("Re-adoption should be a no-op, got %s", conv.ID)
	}
	if local.ID == "srv-1" {
		t.Error("Test precondition: local id must differ from server id")
	}
}

func TestAdoptOrphanFilesConversation(t *testing.T) {
	caller := &fakeCaller{results: map[string]json.RawMessage{
		rpc.CmdProjectsGetOrCreateOrphan: json.RawMessage(`{"id":"orphan-1"}`),
	}}
	b := New(caller, nil)

	require.NoError(t, b.AdoptOrphan(context.Background(), "conv-9"))
	if !caller.called(rpc.CmdUpdateConversationProject) {
		t.Error("Expected conversation filed under orphan project")
	}
}

func TestOpenOrphanConversationFilesItAutomatically(t *testing.T) {
	caller := &fakeCaller{results: map[string]json.RawMessage{
		rpc.CmdGetConversationMessages: mustJSON(t, []model.Message{}),
		rpc.CmdGetConversationMetadata: mustJSON(t, model.ConversationMeta{ID: "conv-1"}),
		rpc.CmdProjectsGetOrCreateOrphan: json.RawMessage(`{"id":"orphan-1"}`),
	}}
	b := New(caller, nil)

	_, err := b.OpenConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	if !caller.called(rpc.CmdUpdateConversationProject) {
		t.Error("Opening a contextless conversation should file it under the orphan project")
	}
	if conv, bound := b.Current(); conv.ID != "conv-1" || !bound {
		t.Errorf("Expected opened conversation active and bound, got %s bound=%v", conv.ID, bound)
	}
}

func TestStartConversationBindsActiveProject(t *testing.T) {
	b := New(&fakeCaller{}, nil)
	b.setProject(&model.Project{ID: "proj-7"})

	conv := b.StartConversation("llama3")
	if conv.ProjectID != "proj-7" {
		t.Errorf("Expected conversation bound to proj-7, got %q", conv.ProjectID)
	}
	if conv.Model != "llama3" {
		t.Errorf("Expected model llama3, got %q", conv.Model)
	}
}

func TestDeleteActiveConversationStartsFresh(t *testing.T) {
	caller := &fakeCaller{results: map[string]json.RawMessage{
		rpc.CmdListConversations: mustJSON(t, []model.ConversationMeta{}),
	}}
	b := New(caller, nil)
	b.AdoptServerID("conv-1")

	require.NoError(t, b.DeleteConversation(context.Background(), "conv-1"))
	if conv, bound := b.Current(); conv.ID == "conv-1" || bound {
		t.Error("Expected a fresh unbound conversation after deleting the active one")
	}
}
