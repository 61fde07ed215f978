package enhance

import (
	"strings"

	"claude-relay/internal/proto/anthropic"
)

// contentToBlocks normalizes message content to a block list, turning a
// plain string into a single text block. The returned slice is a fresh copy.
// ok is false when the shape is not something the Messages API defines.
func contentToBlocks(content anthropic.MessageBlock) (blocks []any, ok bool) {
	switch v := content.(type) {
	case string:
		return []any{textBlock(v)}, true
	case []any:
		out := make([]any, len(v))
		copy(out, v)
		return out, true
	case []map[string]any:
		out := make([]any, len(v))
		for i, b := range v {
			out[i] = b
		}
		return out, true
	default:
		return nil, false
	}
}

func textBlock(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

// blockText extracts the text of a text-typed block, or "" for anything
// else (tool_use, tool_result, image, unknown shapes).
func blockText(block any) string {
	m, ok := block.(map[string]any)
	if !ok {
		return ""
	}
	if m["type"] != "text" {
		return ""
	}
	t, _ := m["text"].(string)
	return t
}

// HasReminder reports whether any message already carries a reminder
// block.
func HasReminder(msgs []anthropic.Message) bool {
	for _, m := range msgs {
		blocks, ok := contentToBlocks(m.Content)
		if !ok {
			continue
		}
		if containsMarker(blocks, ReminderMarker) {
			return true
		}
	}
	return false
}

// containsMarker reports whether any text-bearing block contains the
// marker. All blocks are scanned, not just the first.
func containsMarker(blocks []any, marker string) bool {
	for _, b := range blocks {
		if strings.Contains(blockText(b), marker) {
			return true
		}
	}
	return false
}
