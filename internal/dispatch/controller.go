// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/jeranaias/haven-tui/internal/binder"
	"github.com/jeranaias/haven-tui/internal/chatlog"
	"github.com/jeranaias/haven-tui/internal/model"
	"github.com/jeranaias/haven-tui/internal/permission"
	"github.com/jeranaias/haven-tui/internal/rpc"
	"github.com/jeranaias/haven-tui/internal/stream"
)

// =============================================================================
// SENTINELS
// =============================================================================

var (
	// ErrBusy means a turn is already in flight.
	ErrBusy = errors.New("a generation turn is already in flight")

	// ErrNothingToRetry means no previous user message is remembered.
	ErrNothingToRetry = errors.New("nothing to retry")

	// ErrRateLimited means sends are arriving faster than the limiter
	// allows.
	ErrRateLimited = errors.New("sending too fast")
)

// Sends per second before the limiter pushes back; bursts cover a user
// pasting a few messages quickly.
const (
	sendRate  = rate.Limit(2)
	sendBurst = 5
)

// =============================================================================
// DISPATCH CONTROLLER
// =============================================================================

// Controller drives outgoing turns. It is safe for concurrent use.
type Controller struct {
	caller  rpc.Caller
	log     *chatlog.Log
	binder  *binder.Binder
	engine  *stream.Engine
	gate    *permission.Gate
	locale  language.Tag
	logger  *slog.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	lastText  string
	lastImage string
}

// New wires the controller. The gate's resend callback is registered
// here so a grant flows straight back into the send pipeline.
func New(caller rpc.Caller, log *chatlog.Log, b *binder.Binder, engine *stream.Engine, gate *permission.Gate, locale language.Tag, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		caller:  caller,
		log:     log,
		binder:  b,
		engine:  engine,
		gate:    gate,
		locale:  locale,
		logger:  logger,
		limiter: rate.NewLimiter(sendRate, sendBurst),
	}
	if gate != nil {
		gate.SetOnResend(func(original string) {
			c.ResendAfterGrant(context.Background(), original)
		})
		gate.SetOnSystemMessage(func(text string) {
			c.log.Append(model.NewSystemMessage(text))
		})
	}
	return c
}

// SetRateLimit adjusts the send limiter. Zero or negative values leave
// the current bounds in place. Safe to call while sends are in flight.
func (c *Controller) SetRateLimit(perSecond float64, burst int) {
	if perSecond > 0 {
		c.limiter.SetLimit(rate.Limit(perSecond))
	}
	if burst > 0 {
		c.limiter.SetBurst(burst)
	}
}

// =============================================================================
// SEND
// =============================================================================

// Send dispatches one user message. Blank input is dropped silently; a
// pre-flight permission detection raises the consent dialog without
// touching the transcript; otherwise the user/placeholder pair is
// appended and the chat call goes out.
func (c *Controller) Send(ctx context.Context, text, image string) error {
	text = strings.TrimSpace(text)
	if text == "" && image == "" {
		return nil
	}
	if c.engine.State().Busy() {
		return ErrBusy
	}
	if !c.limiter.Allow() {
		c.logger.Warn("send rate limited")
		return ErrRateLimited
	}

	// Pre-flight: a detected capability blocks the send entirely. The
	// transcript stays clean so a denial leaves no trace and a grant
	// resends the exact text.
	if c.gate != nil && text != "" {
		if cls := c.gate.Classify(text, c.locale); cls.Detected {
			c.logger.Info("send blocked pending consent", "permission", cls.Permission)
			c.gate.RaiseDetected(cls, text)
			return nil
		}
	}

	return c.dispatch(ctx, text, image, true)
}

// dispatch appends transcript messages as requested and issues the chat
// call on a background goroutine.
func (c *Controller) dispatch(ctx context.Context, text, image string, appendUser bool) error {
	conv, bound := c.binder.Current()

	if appendUser {
		user := model.NewUserMessage(text)
		user.Image = image
		c.log.Append(user, model.NewAssistantPlaceholder())
	} else {
		c.log.Append(model.NewAssistantPlaceholder())
	}

	c.mu.Lock()
	c.lastText = text
	c.lastImage = image
	c.mu.Unlock()

	c.engine.BeginTurn(conv, bound, text)

	payload := rpc.Payload{
		"message": text,
		"model":   conv.Model,
	}
	if image != "" {
		payload["image"] = image
	}
	if bound {
		payload["conversation_id"] = conv.ID
	}
	if conv.ProjectID != "" {
		payload["project_id"] = conv.ProjectID
	}
	if analysis := c.binder.BoundAnalysis(); analysis != nil {
		payload["repo_summary"] = analysis.Summary
		payload["repo_path"] = analysis.Path
	}

	go func() {
		if _, err := c.caller.Call(ctx, rpc.CmdChat, payload); err != nil {
			// The call itself was rejected; no stream events will come.
			// Route the failure through the engine so permission
			// refusals and ordinary errors share one path.
			c.logger.Warn("chat call rejected", "error", err)
			c.engine.HandleEvent(ctx, model.StreamEvent{
				Event:   model.EventError,
				Message: err.Error(),
			})
		}
	}()
	return nil
}

// =============================================================================
// RETRY / STOP / RESEND
// =============================================================================

// Retry regenerates the last turn. The failed (or superseded) tail is
// trimmed first: an error tail takes its user message with it and the
// pair is re-appended; a clean assistant tail is replaced alone.
func (c *Controller) Retry(ctx context.Context) error {
	if c.engine.State().Busy() {
		return ErrBusy
	}

	c.mu.Lock()
	text, image := c.lastText, c.lastImage
	c.mu.Unlock()
	if text == "" && image == "" {
		return ErrNothingToRetry
	}

	tail, ok := c.log.Tail()
	if !ok {
		return ErrNothingToRetry
	}

	if tail.IsError {
		c.log.TrimTail(2)
		return c.dispatch(ctx, text, image, true)
	}
	if tail.Role == model.RoleAssistant {
		c.log.TrimTail(1)
		return c.dispatch(ctx, text, image, false)
	}
	return ErrNothingToRetry
}

// Stop aborts the in-flight turn: locally first, so the UI reacts
// immediately, then a best-effort backend abort so generation stops
// burning cycles server-side.
func (c *Controller) Stop(ctx context.Context) {
	if !c.engine.Stop() {
		return
	}
	conv, bound := c.binder.Current()
	if !bound {
		return
	}
	go func() {
		if _, err := c.caller.Call(ctx, rpc.CmdCancelChat, rpc.Payload{"conversation_id": conv.ID}); err != nil {
			c.logger.Debug("backend abort failed", "conversation", conv.ID, "error", err)
		}
	}()
}

// ResendAfterGrant replays a message that was blocked on consent. If
// the block happened post-hoc the transcript holds a failed pair, which
// is trimmed before the resend; the pre-flight path left nothing.
func (c *Controller) ResendAfterGrant(ctx context.Context, original string) {
	if c.engine.State().Busy() {
		c.logger.Warn("grant resend skipped, turn in flight")
		return
	}
	if tail, ok := c.log.Tail(); ok && tail.IsError {
		c.log.TrimTail(2)
	}
	if err := c.dispatch(ctx, original, "", true); err != nil {
		c.logger.Warn("grant resend failed", "error", err)
	}
}
