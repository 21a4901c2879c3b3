// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// OrphanProjectName is the sentinel name of the well-known project that
// adopts conversations created without a project, so no conversation is
// ever permanently contextless.
const OrphanProjectName = "Unfiled"

// =============================================================================
// PROJECT TYPE
// =============================================================================

// Project is a logical container binding conversations, attached
// repositories, memory keys, and per-project settings.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// ScopePath is the working-directory scope applied on activation.
	ScopePath string `json:"scope_path,omitempty"`

	// Repos are the attached repositories, in attach order. The first
	// entry is the auto-bind candidate.
	Repos []ProjectRepo `json:"repos"`

	// MemoryKeys are project-scoped memory entries linked to this project.
	MemoryKeys []string `json:"memory_keys"`

	Permissions ProjectPermissions `json:"permissions"`
	Settings    ProjectSettings    `json:"settings"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// ProjectRepo is a repository attached to a project, with an optional
// cached analysis so re-activation does not re-run the analyzer.
type ProjectRepo struct {
	Path       string        `json:"path"`
	AttachedAt time.Time     `json:"attached_at"`
	Analysis   *RepoAnalysis `json:"analysis,omitempty"`
}

// ProjectPermissions holds the project's base file permissions.
type ProjectPermissions struct {
	Read   bool            `json:"read"`
	Write  bool            `json:"write"`
	Custom map[string]bool `json:"custom,omitempty"`
}

// ProjectSettings holds per-project configuration.
type ProjectSettings struct {
	// DefaultModel overrides the global default model for this project.
	DefaultModel string `json:"default_model,omitempty"`

	// AutoLoadRepo binds the first attached repo on project activation.
	AutoLoadRepo bool `json:"auto_load_repo"`

	// ContextMode is "safe" or "standard".
	ContextMode string `json:"context_mode"`
}

// NewProject creates a project with defaults matching a fresh backend record.
func NewProject(name string) *Project {
	now := time.Now()
	return &Project{
		ID:         uuid.NewString(),
		Name:       name,
		Repos:      []ProjectRepo{},
		MemoryKeys: []string{},
		Permissions: ProjectPermissions{
			Read: true,
		},
		Settings: ProjectSettings{
			AutoLoadRepo: true,
			ContextMode:  "safe",
		},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}
}

// FirstRepo returns the auto-bind candidate repo, or nil when none attached.
func (p *Project) FirstRepo() *ProjectRepo {
	if len(p.Repos) == 0 {
		return nil
	}
	return &p.Repos[0]
}

// =============================================================================
// REPOSITORY ANALYSIS
// =============================================================================

// RepoAnalysis is the summary produced by the (potentially expensive)
// analyze_repository call. It travels with the chat call as context.
type RepoAnalysis struct {
	Path       string    `json:"path"`
	Summary    string    `json:"summary"`
	Languages  []string  `json:"languages,omitempty"`
	FileCount  int       `json:"file_count,omitempty"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Stale reports whether the cached analysis differs from what the project
// record now holds (path change or a newer analysis on the record).
func (a *RepoAnalysis) Stale(current *RepoAnalysis) bool {
	if current == nil {
		return false
	}
	if a.Path != current.Path {
		return true
	}
	return current.AnalyzedAt.After(a.AnalyzedAt)
}
