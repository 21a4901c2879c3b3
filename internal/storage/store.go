// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jeranaias/haven-tui/internal/model"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// Store persists haven's state in a single sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. ":memory:" gives an
// ephemeral store for tests.
func Open(path string) (*Store, error) {
	// WAL keeps readers unblocked during writes; the busy timeout
	// absorbs the brief lock contention a single-file database sees.
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc.org/sqlite serializes internally; one connection avoids
	// SQLITE_BUSY between pooled handles.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		model      TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		position        INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL DEFAULT '',
		image           TEXT NOT NULL DEFAULT '',
		model           TEXT NOT NULL DEFAULT '',
		prompt_id       TEXT NOT NULL DEFAULT '',
		is_error        INTEGER NOT NULL DEFAULT 0,
		is_system       INTEGER NOT NULL DEFAULT 0,
		timestamp       TEXT NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, position);

	CREATE TABLE IF NOT EXISTS projects (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		scope_path       TEXT NOT NULL DEFAULT '',
		settings         TEXT NOT NULL DEFAULT '{}',
		permissions      TEXT NOT NULL DEFAULT '{}',
		memory_keys      TEXT NOT NULL DEFAULT '[]',
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		last_accessed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS project_repos (
		project_id  TEXT NOT NULL,
		path        TEXT NOT NULL,
		attached_at TEXT NOT NULL,
		analysis    TEXT,
		PRIMARY KEY (project_id, path),
		FOREIGN KEY (project_id) REFERENCES projects(id)
	);

	CREATE TABLE IF NOT EXISTS permission_grants (
		permission TEXT NOT NULL,
		scope      TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		expires_at TEXT,
		granted_at TEXT NOT NULL,
		PRIMARY KEY (permission, scope, project_id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// CreateConversation inserts a conversation row.
func (s *Store) CreateConversation(id, title, modelName, projectID string) error {
	ts := now()
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, title, model, project_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, title, modelName, projectID, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// TouchConversation bumps updated_at.
func (s *Store) TouchConversation(id string) error {
	_, err := s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, now(), id)
	return err
}

// ConversationExists reports whether a conversation row exists.
func (s *Store) ConversationExists(id string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListConversations returns all conversations, most recently updated
// first.
func (s *Store) ListConversations() ([]model.ConversationMeta, error) {
	rows, err := s.db.Query(
		`SELECT id, title, model, project_id, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []model.ConversationMeta
	for rows.Next() {
		var meta model.ConversationMeta
		var created, updated string
		if err := rows.Scan(&meta.ID, &meta.Title, &meta.Model, &meta.ProjectID, &created, &updated); err != nil {
			return nil, err
		}
		meta.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		meta.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, meta)
	}
	return out, rows.Err()
}

// GetConversationMeta returns one conversation's metadata.
func (s *Store) GetConversationMeta(id string) (model.ConversationMeta, error) {
	var meta model.ConversationMeta
	var created, updated string
	err := s.db.QueryRow(
		`SELECT id, title, model, project_id, created_at, updated_at
		 FROM conversations WHERE id = ?`, id).
		Scan(&meta.ID, &meta.Title, &meta.Model, &meta.ProjectID, &created, &updated)
	if err != nil {
		return model.ConversationMeta{}, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	meta.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	meta.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return meta, nil
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(id string) error {
	if _, err := s.db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// SetConversationProject refiles a conversation under a project.
func (s *Store) SetConversationProject(conversationID, projectID string) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET project_id = ?, updated_at = ? WHERE id = ?`,
		projectID, now(), conversationID)
	if err != nil {
		return fmt.Errorf("failed to refile conversation: %w", err)
	}
	return nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage persists one message at the end of a conversation.
func (s *Store) AppendMessage(conversationID string, msg *model.Message) error {
	var pos int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(position), -1) + 1 FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&pos); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO messages
		 (id, conversation_id, position, role, content, image, model, prompt_id, is_error, is_system, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, pos, string(msg.Role), msg.Content, msg.Image,
		msg.Model, msg.PromptID, boolToInt(msg.IsError), boolToInt(msg.IsSystem),
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return s.TouchConversation(conversationID)
}

// GetMessages returns a conversation's transcript in order.
func (s *Store) GetMessages(conversationID string) ([]model.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, role, content, image, model, prompt_id, is_error, is_system, timestamp
		 FROM messages WHERE conversation_id = ? ORDER BY position`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var msg model.Message
		var role, ts string
		var isErr, isSys int
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.Image, &msg.Model,
			&msg.PromptID, &isErr, &isSys, &ts); err != nil {
			return nil, err
		}
		msg.Role = model.Role(role)
		msg.IsError = isErr != 0
		msg.IsSystem = isSys != 0
		msg.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// =============================================================================
// PROJECTS
// =============================================================================

// CreateProject persists a project and returns it.
func (s *Store) CreateProject(name, description string) (model.Project, error) {
	p := model.NewProject(name)
	p.Description = description
	if err := s.insertProject(p); err != nil {
		return model.Project{}, err
	}
	return *p, nil
}

func (s *Store) insertProject(p *model.Project) error {
	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return err
	}
	perms, err := json.Marshal(p.Permissions)
	if err != nil {
		return err
	}
	keys, err := json.Marshal(p.MemoryKeys)
	if err != nil {
		return err
	}
	ts := now()
	_, err = s.db.Exec(
		`INSERT INTO projects
		 (id, name, description, scope_path, settings, permissions, memory_keys, created_at, updated_at, last_accessed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.ScopePath, string(settings), string(perms), string(keys), ts, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject loads a project with its repos.
func (s *Store) GetProject(id string) (model.Project, error) {
	var p model.Project
	var settings, perms, keys string
	var created, updated, accessed string
	err := s.db.QueryRow(
		`SELECT id, name, description, scope_path, settings, permissions, memory_keys,
		        created_at, updated_at, last_accessed_at
		 FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.ScopePath, &settings, &perms, &keys,
			&created, &updated, &accessed)
	if err != nil {
		return model.Project{}, fmt.Errorf("failed to load project %s: %w", id, err)
	}
	// Corrupt JSON blobs degrade to zero values rather than failing the
	// whole load.
	_ = json.Unmarshal([]byte(settings), &p.Settings)
	_ = json.Unmarshal([]byte(perms), &p.Permissions)
	_ = json.Unmarshal([]byte(keys), &p.MemoryKeys)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	p.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, accessed)

	repos, err := s.projectRepos(id)
	if err != nil {
		return model.Project{}, err
	}
	p.Repos = repos

	_, _ = s.db.Exec(`UPDATE projects SET last_accessed_at = ? WHERE id = ?`, now(), id)
	return p, nil
}

func (s *Store) projectRepos(projectID string) ([]model.ProjectRepo, error) {
	rows, err := s.db.Query(
		`SELECT path, attached_at, analysis FROM project_repos WHERE project_id = ? ORDER BY attached_at`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project repos: %w", err)
	}
	defer rows.Close()

	var out []model.ProjectRepo
	for rows.Next() {
		var repo model.ProjectRepo
		var attached string
		var analysis sql.NullString
		if err := rows.Scan(&repo.Path, &attached, &analysis); err != nil {
			return nil, err
		}
		repo.AttachedAt, _ = time.Parse(time.RFC3339Nano, attached)
		if analysis.Valid && analysis.String != "" {
			var a model.RepoAnalysis
			if json.Unmarshal([]byte(analysis.String), &a) == nil {
				repo.Analysis = &a
			}
		}
		out = append(out, repo)
	}
	return out, rows.Err()
}

// ListProjects returns all projects (without repos), most recently
// accessed first.
func (s *Store) ListProjects() ([]model.Project, error) {
	rows, err := s.db.Query(
		`SELECT id, name, description, scope_path FROM projects ORDER BY last_accessed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.ScopePath); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProject persists mutable project fields.
func (s *Store) UpdateProject(p model.Project) error {
	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE projects SET name = ?, description = ?, scope_path = ?, settings = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, p.Description, p.ScopePath, string(settings), now(), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return nil
}

// DeleteProject removes a project; its conversations become unfiled.
func (s *Store) DeleteProject(id string) error {
	if _, err := s.db.Exec(`UPDATE conversations SET project_id = '' WHERE project_id = ?`, id); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM project_repos WHERE project_id = ?`, id); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

// AddRepo attaches a repository path to a project.
func (s *Store) AddRepo(projectID, path string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO project_repos (project_id, path, attached_at) VALUES (?, ?, ?)`,
		projectID, path, now())
	if err != nil {
		return fmt.Errorf("failed to attach repo: %w", err)
	}
	return nil
}

// SaveAnalysis caches a repository analysis on its repo row.
func (s *Store) SaveAnalysis(projectID string, analysis model.RepoAnalysis) error {
	blob, err := json.Marshal(analysis)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE project_repos SET analysis = ? WHERE project_id = ? AND path = ?`,
		string(blob), projectID, analysis.Path)
	if err != nil {
		return fmt.Errorf("failed to cache analysis: %w", err)
	}
	return nil
}

// GetOrCreateOrphan returns the shared project for unfiled
// conversations, creating it on first use. Idempotent.
func (s *Store) GetOrCreateOrphan() (model.Project, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM projects WHERE name = ?`, model.OrphanProjectName).Scan(&id)
	if err == nil {
		return s.GetProject(id)
	}
	if err != sql.ErrNoRows {
		return model.Project{}, fmt.Errorf("failed to look up orphan project: %w", err)
	}
	return s.CreateProject(model.OrphanProjectName, "Conversations not filed under any project")
}

// =============================================================================
// PERMISSION GRANTS
// =============================================================================

// GrantPermission persists a consent grant.
func (s *Store) GrantPermission(permission, scope, projectID string, expiresAt *time.Time) error {
	var expires any
	if expiresAt != nil {
		expires = expiresAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO permission_grants (permission, scope, project_id, expires_at, granted_at)
		 VALUES (?, ?, ?, ?, ?)`,
		permission, scope, projectID, expires, now())
	if err != nil {
		return fmt.Errorf("failed to persist grant: %w", err)
	}
	return nil
}

// HasPermission reports whether a live grant covers the capability for
// the given project. Expired grants are pruned as a side effect.
func (s *Store) HasPermission(permission, projectID string) (bool, error) {
	if _, err := s.db.Exec(
		`DELETE FROM permission_grants WHERE expires_at IS NOT NULL AND expires_at < ?`, now()); err != nil {
		return false, err
	}
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM permission_grants
		 WHERE permission = ?
		   AND (scope != 'project' OR project_id = ?)`,
		permission, projectID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query grant: %w", err)
	}
	return n > 0, nil
}

// RevokePermission removes all grants for a capability.
func (s *Store) RevokePermission(permission string) error {
	if _, err := s.db.Exec(`DELETE FROM permission_grants WHERE permission = ?`, permission); err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NewID returns a fresh identifier for backend-created rows.
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
