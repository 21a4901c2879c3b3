// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatlog

import (
	"testing"

	"github.com/jeranaias/haven-tui/internal/model"
)

func TestAppendReengagesAutoFollow(t *testing.T) {
	log := New()
	log.ReportScroll(false)

	if log.ScrollIntent() {
		t.Fatal("Scrolling up should disengage auto-follow")
	}

	log.Append(model.NewUserMessage("hi"))

	if !log.ScrollIntent() {
		t.Error("Append should re-engage auto-follow")
	}
}

func TestUpdateTailOnEmptyLogIsNoOp(t *testing.T) {
	log := New()

	log.UpdateTail(func(m *model.Message) {
		t.Error("UpdateTail should not invoke fn on an empty log")
	})
}

func TestUpdateTailMutatesOnlyLast(t *testing.T) {
	log := New()
	log.Append(model.NewUserMessage("question"), model.NewAssistantPlaceholder())

	log.UpdateTail(func(m *model.Message) { m.AppendContent("answer") })

	msgs := log.Messages()
	if msgs[0].Content != "question" {
		t.Errorf("Interior message mutated: %q", msgs[0].Content)
	}
	if msgs[1].Content != "answer" {
		t.Errorf("Expected tail content 'answer', got %q", msgs[1].Content)
	}
}

func TestScrollRequestSuppressedWhenScrolledUp(t *testing.T) {
	log := New()
	log.Append(model.NewAssistantPlaceholder())

	requests := 0
	log.SetOnScrollRequest(func() { requests++ })

	log.UpdateTail(func(m *model.Message) { m.AppendContent("a") })
	if requests != 1 {
		t.Fatalf("Expected scroll request while following, got %d", requests)
	}

	log.ReportScroll(false)
	log.UpdateTail(func(m *model.Message) { m.AppendContent("b") })
	if requests != 1 {
		t.Errorf("Tail update while scrolled up should not request scroll, got %d", requests)
	}

	log.ReportScroll(true)
	log.UpdateTail(func(m *model.Message) { m.AppendContent("c") })
	if requests != 2 {
		t.Errorf("Returning to bottom should resume scroll requests, got %d", requests)
	}
}

func TestTrimTail(t *testing.T) {
	log := New()
	log.Append(
		model.NewUserMessage("one"),
		model.NewUserMessage("two"),
		model.NewUserMessage("three"),
	)

	log.TrimTail(2)
	if log.Len() != 1 {
		t.Fatalf("Expected 1 message after trim, got %d", log.Len())
	}
	if tail, _ := log.Tail(); tail.Content != "one" {
		t.Errorf("Expected remaining message 'one', got %q", tail.Content)
	}

	log.TrimTail(5) // more than present clears without panicking
	if log.Len() != 0 {
		t.Errorf("Expected empty log, got %d messages", log.Len())
	}
}

func TestLoadReplacesAndResetsFollow(t *testing.T) {
	log := New()
	log.Append(model.NewUserMessage("old"))
	log.ReportScroll(false)

	log.Load([]model.Message{*model.NewUserMessage("new")})

	msgs := log.Messages()
	if len(msgs) != 1 || msgs[0].Content != "new" {
		t.Errorf("Expected transcript replaced, got %+v", msgs)
	}
	if !log.ScrollIntent() {
		t.Error("Load should reset auto-follow")
	}
}

func TestMessagesReturnsSnapshot(t *testing.T) {
	log := New()
	log.Append(model.NewAssistantPlaceholder())

	snap := log.Messages()
	log.UpdateTail(func(m *model.Message) { m.AppendContent("later") })

	if snap[0].Content != "" {
		t.Error("Snapshot should not alias live transcript")
	}
}

func TestTailOnEmptyLog(t *testing.T) {
	log := New()
	if _, ok := log.Tail(); ok {
		t.Error("Empty log should report no tail")
	}
}
