// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/jeranaias/haven-tui/internal/i18n"
	"github.com/jeranaias/haven-tui/internal/rpc"
)

// =============================================================================
// PERMISSION GATE
// =============================================================================

// AuditEntry records one consent decision for the UI's permission log.
type AuditEntry struct {
	Time       time.Time
	Permission Kind
	Scope      Scope
	Granted    bool
	Action     string
}

// auditCap bounds the in-memory audit trail; older entries roll off.
const auditCap = 200

// grant is one cached consent decision.
type grant struct {
	scope     Scope
	projectID string
	expiresAt time.Time // zero for non-expiring scopes
}

func (g grant) expired(now time.Time) bool {
	return !g.expiresAt.IsZero() && now.After(g.expiresAt)
}

// Gate owns consent state: the grant cache, scope expiry, pre-flight
// classification, rejection parsing, and the resend handshake after a
// grant. It is safe for concurrent use.
type Gate struct {
	caller     rpc.Caller
	classifier Classifier
	catalog    *i18n.Catalog
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	grants    map[Kind][]grant
	projectID string
	audit     []AuditEntry

	// defaultScope and defaultTTL seed the Request the consent dialog
	// opens with; the user can still pick a wider scope there.
	defaultScope Scope
	defaultTTL   time.Duration

	// onDetected surfaces a pending Request to the consent dialog.
	onDetected func(Request)

	// onResend replays the blocked message after a grant.
	onResend func(original string)

	// onSystemMessage injects a transcript line (denials).
	onSystemMessage func(text string)
}

// NewGate creates a gate with an empty grant cache.
func NewGate(caller rpc.Caller, classifier Classifier, catalog *i18n.Catalog, logger *slog.Logger) *Gate {
	if classifier == nil {
		classifier = NewRuleClassifier()
	}
	if catalog == nil {
		catalog = i18n.ForLocale("en")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		caller:       caller,
		classifier:   classifier,
		catalog:      catalog,
		logger:       logger,
		now:          time.Now,
		grants:       make(map[Kind][]grant),
		defaultScope: ScopeTemporary,
		defaultTTL:   DefaultTemporaryDuration,
	}
}

// SetRequestDefaults overrides the scope and temporary-grant lifetime
// proposed on raised requests. Invalid values keep the current defaults.
func (g *Gate) SetRequestDefaults(scope Scope, ttl time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch scope {
	case ScopeTemporary, ScopeProject, ScopePermanent:
		g.defaultScope = scope
	}
	if ttl > 0 {
		g.defaultTTL = ttl
	}
}

func (g *Gate) requestDefaults() (Scope, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.defaultScope, g.defaultTTL
}

// SetOnDetected registers the consent-dialog callback.
func (g *Gate) SetOnDetected(fn func(Request)) {
	g.mu.Lock()
	g.onDetected = fn
	g.mu.Unlock()
}

// SetOnResend registers the resend-after-grant callback.
func (g *Gate) SetOnResend(fn func(original string)) {
	g.mu.Lock()
	g.onResend = fn
	g.mu.Unlock()
}

// SetOnSystemMessage registers the transcript injection callback.
func (g *Gate) SetOnSystemMessage(fn func(text string)) {
	g.mu.Lock()
	g.onSystemMessage = fn
	g.mu.Unlock()
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Classify runs the pre-flight classifier over outgoing text, then
// suppresses detections for capabilities already granted. Suppression
// is what breaks the grant/resend/re-detect loop: once the user says
// yes, the same phrase must not re-raise the dialog.
func (g *Gate) Classify(text string, loc language.Tag) Classification {
	result := g.classifier.Classify(text, loc)
	if !result.Detected {
		return result
	}
	if g.Granted(result.Permission) {
		g.logger.Debug("pre-flight detection suppressed by existing grant",
			"permission", result.Permission)
		return Classification{}
	}
	return result
}

// Granted reports whether kind currently holds a live grant. Expired
// temporary grants are pruned on the way.
func (g *Gate) Granted(kind Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.grantedLocked(kind)
}

func (g *Gate) grantedLocked(kind Kind) bool {
	now := g.now()
	live := make([]grant, 0, len(g.grants[kind]))
	applies := false
	for _, gr := range g.grants[kind] {
		if gr.expired(now) {
			g.logger.Info("permission grant expired", "permission", kind, "scope", gr.scope)
			continue
		}
		// Grants scoped to other projects stay cached but do not apply.
		live = append(live, gr)
		if gr.scope != ScopeProject || gr.projectID == g.projectID {
			applies = true
		}
	}
	if len(live) == 0 {
		delete(g.grants, kind)
	} else {
		g.grants[kind] = live
	}
	return applies
}

// =============================================================================
// DETECTION PATHS
// =============================================================================

// RaiseDetected builds a Request from a pre-flight classification and
// surfaces it. The original message is preserved so a grant can resend
// it; the transcript stays untouched until consent is resolved.
func (g *Gate) RaiseDetected(cls Classification, originalMessage string) {
	scope, ttl := g.requestDefaults()
	req := Request{
		Permission:      cls.Permission,
		Description:     cls.Description,
		Scope:           scope,
		Duration:        ttl,
		OriginalMessage: originalMessage,
		ProjectID:       g.currentProject(),
	}
	g.logger.Info("permission requested", "permission", req.Permission, "source", "pre-flight")
	g.surface(req)
}

// HandleRejection inspects a backend error for a permission refusal.
// Returns true when the error was a refusal and a Request was raised;
// false means the error is not consent-related and the caller should
// treat it as an ordinary failure.
func (g *Gate) HandleRejection(errText, originalMessage string) bool {
	kind := ClassifyError(errText)
	if kind == KindUnknown {
		return false
	}
	if g.Granted(kind) {
		// A refusal for something we believe is granted means local and
		// backend state disagree; surface it as a request rather than
		// looping on resend.
		g.logger.Warn("backend refused a capability the cache holds", "permission", kind)
	}
	scope, ttl := g.requestDefaults()
	req := Request{
		Permission:      kind,
		Description:     BlockedAction(errText, g.catalog.Get(i18n.KeyBlockedAction)),
		Scope:           scope,
		Duration:        ttl,
		OriginalMessage: originalMessage,
		ProjectID:       g.currentProject(),
	}
	g.logger.Info("permission requested", "permission", kind, "source", "rejection")
	g.surface(req)
	return true
}

func (g *Gate) surface(req Request) {
	g.mu.Lock()
	fn := g.onDetected
	g.mu.Unlock()
	if fn != nil {
		fn(req)
	}
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve records the user's decision on a pending request. A grant is
// cached locally, persisted via the backend, and the blocked message is
// resent. A denial injects a transcript line and drops the message.
// Either way the decision lands on the audit trail.
func (g *Gate) Resolve(ctx context.Context, req Request, granted bool) {
	g.recordAudit(AuditEntry{
		Time:       g.now(),
		Permission: req.Permission,
		Scope:      req.Scope,
		Granted:    granted,
		Action:     req.Description,
	})

	if !granted {
		g.logger.Info("permission denied", "permission", req.Permission, "scope", req.Scope)
		g.mu.Lock()
		fn := g.onSystemMessage
		g.mu.Unlock()
		if fn != nil {
			fn(fmt.Sprintf(g.catalog.Get(i18n.KeyPermissionDenied), req.Permission.DisplayName()))
		}
		return
	}

	entry := grant{scope: req.Scope, projectID: req.ProjectID}
	if req.Scope == ScopeTemporary {
		d := req.Duration
		if d <= 0 {
			d = DefaultTemporaryDuration
		}
		entry.expiresAt = g.now().Add(d)
	}

	g.mu.Lock()
	g.grants[req.Permission] = append(g.grants[req.Permission], entry)
	resend := g.onResend
	g.mu.Unlock()

	g.logger.Info("permission granted",
		"permission", req.Permission,
		"scope", req.Scope,
		"expires", entry.expiresAt,
	)

	// Persist best-effort; the local cache is authoritative for this
	// session even if the backend write fails.
	if g.caller != nil {
		payload := rpc.Payload{
			"permission": string(req.Permission),
			"scope":      string(req.Scope),
		}
		if req.ProjectID != "" {
			payload["project_id"] = req.ProjectID
		}
		if !entry.expiresAt.IsZero() {
			payload["expires_at"] = entry.expiresAt.UTC().Format(time.RFC3339)
		}
		if _, err := g.caller.Call(ctx, rpc.CmdGrantPermission, payload); err != nil {
			g.logger.Warn("failed to persist grant", "permission", req.Permission, "error", err)
		}
	}

	if resend != nil && req.OriginalMessage != "" {
		resend(req.OriginalMessage)
	}
}

// Revoke drops a capability locally and backend-side.
func (g *Gate) Revoke(ctx context.Context, kind Kind) {
	g.mu.Lock()
	delete(g.grants, kind)
	g.mu.Unlock()

	g.logger.Info("permission revoked", "permission", kind)

	if g.caller != nil {
		if _, err := g.caller.Call(ctx, rpc.CmdRevokePermission, rpc.Payload{"permission": string(kind)}); err != nil {
			g.logger.Warn("failed to revoke grant backend-side", "permission", kind, "error", err)
		}
	}
}

// =============================================================================
// PROJECT BINDING
// =============================================================================

// ReloadForProject switches the active project context. Project-scoped
// grants from the previous project stop applying; persisted grants for
// the new project are pulled from the backend.
func (g *Gate) ReloadForProject(ctx context.Context, projectID string) {
	g.mu.Lock()
	g.projectID = projectID
	g.mu.Unlock()

	if g.caller == nil {
		return
	}
	for _, kind := range []Kind{
		KindFileRead, KindFileWrite, KindCommandExecute, KindNetworkAccess,
		KindRemoteAccess, KindMemoryAccess, KindRepoAnalyze,
	} {
		raw, err := g.caller.Call(ctx, rpc.CmdHasPermission, rpc.Payload{
			"permission": string(kind),
			"project_id": projectID,
		})
		if err != nil {
			g.logger.Warn("failed to query persisted grant", "permission", kind, "error", err)
			continue
		}
		has, err := rpc.Bool(raw, "granted")
		if err != nil || !has {
			continue
		}
		g.mu.Lock()
		g.grants[kind] = append(g.grants[kind], grant{scope: ScopeProject, projectID: projectID})
		g.mu.Unlock()
	}
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

func (g *Gate) recordAudit(entry AuditEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.audit = append(g.audit, entry)
	if len(g.audit) > auditCap {
		g.audit = g.audit[len(g.audit)-auditCap:]
	}
}

// Audit returns a snapshot of recent consent decisions, oldest first.
func (g *Gate) Audit() []AuditEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]AuditEntry, len(g.audit))
	copy(out, g.audit)
	return out
}

func (g *Gate) currentProject() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.projectID
}
