package enhance

import (
	"strings"
	"testing"

	"claude-relay/internal/proto/anthropic"
)

func userMessage(content anthropic.MessageBlock) anthropic.Message {
	return anthropic.Message{Role: "user", Content: content}
}

func toolNames(tools []anthropic.ToolDefinition) []string {
	names := make([]string, len(tools))
	for i, tl := range tools {
		names[i] = tl.Name
	}
	return names
}

func TestEnhanceHaikuToolPassthrough(t *testing.T) {
	e := New(nil)
	req := anthropic.MessageCreateRequest{
		Model:    "claude-3-5-haiku-20241022",
		Messages: []anthropic.Message{userMessage("Hello")},
		Tools:    []anthropic.ToolDefinition{{Name: "user_tool", Description: "custom"}},
	}
	got := e.Enhance(req)

	if len(got.Tools) != 1 || got.Tools[0].Name != "user_tool" {
		t.Fatalf("haiku tools changed: %v", toolNames(got.Tools))
	}
	if HasReminder(got.Messages) {
		t.Fatalf("haiku request must not receive a reminder block")
	}
}

func TestEnhanceHaikuWithoutToolsStaysToolless(t *testing.T) {
	e := New(nil)
	got := e.Enhance(anthropic.MessageCreateRequest{
		Model:    "claude-3-5-haiku-20241022",
		Messages: []anthropic.Message{userMessage("Hello")},
	})
	if got.Tools != nil {
		t.Fatalf("haiku without tools must stay tool-less, got %v", toolNames(got.Tools))
	}
	if got.MaxTokens <= 0 {
		t.Fatalf("max_tokens not defaulted")
	}
}

func TestEnhanceSonnetDefaultInjection(t *testing.T) {
	e := New(nil)
	got := e.Enhance(anthropic.MessageCreateRequest{
		Model:    "claude-3.5-sonnet-20241022",
		Messages: []anthropic.Message{userMessage("Hello")},
	})

	if len(got.Tools) == 0 {
		t.Fatalf("sonnet without tools must receive the default catalog")
	}
	if got.System == nil {
		t.Fatalf("sonnet without system must receive the default prompt")
	}
	blocks, ok := contentToBlocks(got.Messages[0].Content)
	if !ok {
		t.Fatalf("first user message content not normalizable: %#v", got.Messages[0].Content)
	}
	if !containsMarker(blocks, ReminderMarker) {
		t.Fatalf("first user message missing %s block", ReminderMarker)
	}
	// original string content must survive as the leading text block
	if text := blockText(blocks[0]); text != "Hello" {
		t.Fatalf("leading block text = %q, want %q", text, "Hello")
	}
}

func TestEnhanceSonnetMergePreservesUserTool(t *testing.T) {
	e := New(nil)
	userTools := []anthropic.ToolDefinition{{Name: "user_custom_tool", Description: "mine"}}
	got := e.Enhance(anthropic.MessageCreateRequest{
		Model:    "claude-3.5-sonnet-20241022",
		Messages: []anthropic.Message{userMessage("Hello")},
		Tools:    userTools,
	})

	if len(got.Tools) <= 1 {
		t.Fatalf("expected catalog merge, got %v", toolNames(got.Tools))
	}
	if got.Tools[0].Name != "user_custom_tool" {
		t.Fatalf("user tool not preserved first: %v", toolNames(got.Tools))
	}
	seen := map[string]bool{}
	for _, name := range toolNames(got.Tools) {
		if seen[name] {
			t.Fatalf("duplicate tool name %q in %v", name, toolNames(got.Tools))
		}
		seen[name] = true
	}
	if len(userTools) != 1 || userTools[0].Name != "user_custom_tool" {
		t.Fatalf("caller's tools slice was mutated: %v", toolNames(userTools))
	}
}

func TestEnhanceMergeSkipsShadowedCatalogTool(t *testing.T) {
	e := New(nil)
	got := e.Enhance(anthropic.MessageCreateRequest{
		Model:    "claude-opus-4-1-20250805",
		Messages: []anthropic.Message{userMessage("Hello")},
		Tools:    []anthropic.ToolDefinition{{Name: "web_search", Description: "user override"}},
	})
	count := 0
	for _, tl := range got.Tools {
		if tl.Name == "web_search" {
			count++
			if tl.Description != "user override" {
				t.Fatalf("catalog entry replaced the user's tool")
			}
		}
	}
	if count != 1 {
		t.Fatalf("web_search appears %d times", count)
	}
}

func TestEnhanceUniversalDefaultsAreIdempotent(t *testing.T) {
	e := New(nil)
	first := e.Enhance(anthropic.MessageCreateRequest{
		Model:    "claude-opus-4-1-20250805",
		Messages: []anthropic.Message{userMessage("Hello")},
	})
	second := e.Enhance(first)

	if second.MaxTokens != first.MaxTokens {
		t.Fatalf("max_tokens changed on re-enhancement: %d vs %d", second.MaxTokens, first.MaxTokens)
	}
	if *second.Temperature != *first.Temperature {
		t.Fatalf("temperature changed on re-enhancement")
	}
	if second.Metadata.UserID != first.Metadata.UserID {
		t.Fatalf("user_id regenerated on re-enhancement")
	}
	if len(second.Tools) != len(first.Tools) {
		t.Fatalf("tool count changed on re-enhancement: %d vs %d", len(second.Tools), len(first.Tools))
	}
}

func TestEnhanceReminderNotDuplicated(t *testing.T) {
	e := New(nil)
	first := e.Enhance(anthropic.MessageCreateRequest{
		Model:    "claude-3.5-sonnet-20241022",
		Messages: []anthropic.Message{userMessage("Hello")},
	})
	second := e.Enhance(first)

	blocks, _ := contentToBlocks(second.Messages[0].Content)
	count := 0
	for _, b := range blocks {
		if strings.Contains(blockText(b), ReminderMarker) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("reminder block count = %d, want 1", count)
	}
}

func TestEnhanceReminderScansAllBlocks(t *testing.T) {
	e := New(nil)
	content := []any{
		map[string]any{"type": "text", "text": "Hello"},
		map[string]any{"type": "text", "text": "already here <system-reminder>do not repeat</system-reminder>"},
	}
	got := e.Enhance(anthropic.MessageCreateRequest{
		Model:    "claude-3.5-sonnet-20241022",
		Messages: []anthropic.Message{userMessage(content)},
	})
	blocks, _ := contentToBlocks(got.Messages[0].Content)
	if len(blocks) != 2 {
		t.Fatalf("marker in a later block not detected, blocks = %d", len(blocks))
	}
}

func TestEnhanceUnknownModelMinimalPath(t *testing.T) {
	e := New(nil)
	got := e.Enhance(anthropic.MessageCreateRequest{
		Model:    "gpt-4o",
		Messages: []anthropic.Message{userMessage("Hello")},
	})
	if got.Tools != nil {
		t.Fatalf("unknown model must not receive a tool catalog")
	}
	if got.System != nil {
		t.Fatalf("unknown model must not receive a system prompt")
	}
	if HasReminder(got.Messages) {
		t.Fatalf("unknown model must not receive a reminder")
	}
	if got.MaxTokens <= 0 || got.Temperature == nil || got.Metadata == nil || got.Metadata.UserID == "" {
		t.Fatalf("universal defaults missing: %+v", got)
	}
}

func TestEnhanceEmptyMessagesNoPanic(t *testing.T) {
	e := New(nil)
	got := e.Enhance(anthropic.MessageCreateRequest{Model: "claude-3.5-sonnet-20241022"})
	if got.MaxTokens <= 0 {
		t.Fatalf("universal defaults must apply with no messages")
	}
	if len(got.Messages) != 0 {
		t.Fatalf("messages invented out of nothing: %v", got.Messages)
	}
}

func TestEnhanceDoesNotMutateCallerMessages(t *testing.T) {
	e := New(nil)
	msgs := []anthropic.Message{userMessage("Hello")}
	_ = e.Enhance(anthropic.MessageCreateRequest{
		Model:    "claude-3.5-sonnet-20241022",
		Messages: msgs,
	})
	if s, ok := msgs[0].Content.(string); !ok || s != "Hello" {
		t.Fatalf("caller's message content mutated: %#v", msgs[0].Content)
	}
}

func TestBetaHeaderDistinctPerFamily(t *testing.T) {
	e := New(nil)
	haiku := e.BetaHeader("claude-3-5-haiku-20241022")
	sonnet := e.BetaHeader("claude-3.5-sonnet-20241022")
	opus := e.BetaHeader("claude-opus-4.5-20250901")
	unknown := e.BetaHeader("mystery-model")

	for name, v := range map[string]string{"haiku": haiku, "sonnet": sonnet, "opus": opus, "unknown": unknown} {
		if v == "" {
			t.Fatalf("empty beta header for %s", name)
		}
	}
	if haiku == sonnet || haiku == opus {
		t.Fatalf("haiku header must differ from sonnet/opus: %q", haiku)
	}
}
