package enhance

import (
	"io"
	"log/slog"

	"github.com/google/uuid"

	"claude-relay/internal/proto/anthropic"
)

// Enhancer applies per-family request preparation. It holds only the
// immutable defaults table and a logger, so a single instance is safe for
// concurrent use.
type Enhancer struct {
	defaults map[ModelType]familyDefaults
	log      *slog.Logger
}

func New(logger *slog.Logger) *Enhancer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Enhancer{defaults: defaultsByFamily, log: logger}
}

// Enhance fills absent fields and injects family-specific extras. It is a
// value transformation: present fields are never overwritten, and the
// caller's Messages and Tools slices are never mutated — any change
// produces a fresh slice in the returned request.
func (e *Enhancer) Enhance(req anthropic.MessageCreateRequest) anthropic.MessageCreateRequest {
	family := DetectModelType(req.Model)
	d := e.defaults[family]

	if req.MaxTokens <= 0 {
		req.MaxTokens = d.MaxTokens
	}
	if req.Temperature == nil {
		t := d.Temperature
		req.Temperature = &t
	}
	req.Metadata = withUserID(req.Metadata)

	if d.InjectReminder {
		if req.System == nil {
			req.System = d.SystemPrompt
		}
		req.Messages = injectReminder(req.Messages)
		req.Tools = mergeTools(req.Tools, d.ToolCatalog)
	}

	e.log.Debug("request enhanced",
		"model", req.Model,
		"family", string(family),
		"max_tokens", req.MaxTokens,
		"tools", len(req.Tools),
	)
	return req
}

// BetaHeader resolves the anthropic-beta value for a model id. Every
// family, including unknown, maps to a non-empty baseline.
func (e *Enhancer) BetaHeader(model string) string {
	return e.defaults[DetectModelType(model)].BetaHeader
}

func withUserID(md *anthropic.Metadata) *anthropic.Metadata {
	if md != nil && md.UserID != "" {
		return md
	}
	out := anthropic.Metadata{}
	if md != nil {
		out = *md
	}
	out.UserID = "relay-" + uuid.NewString()
	return &out
}

// injectReminder appends the reminder block to the first user message
// unless one of its text blocks already carries the marker. Requests with
// no user message, or with content in a shape the API does not define,
// pass through unchanged.
func injectReminder(msgs []anthropic.Message) []anthropic.Message {
	idx := -1
	for i, m := range msgs {
		if m.Role == "user" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return msgs
	}
	blocks, ok := contentToBlocks(msgs[idx].Content)
	if !ok {
		return msgs
	}
	if containsMarker(blocks, ReminderMarker) {
		return msgs
	}
	blocks = append(blocks, textBlock(reminderPayload))

	out := append([]anthropic.Message(nil), msgs...)
	out[idx].Content = blocks
	return out
}

// mergeTools combines user tools with the catalog, keyed by name. User
// tools always win and keep their order; catalog entries follow. The
// result is a new slice even when nothing from the catalog applies.
func mergeTools(user, catalog []anthropic.ToolDefinition) []anthropic.ToolDefinition {
	out := make([]anthropic.ToolDefinition, 0, len(user)+len(catalog))
	seen := make(map[string]bool, len(user)+len(catalog))
	for _, t := range user {
		if seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		out = append(out, t)
	}
	for _, t := range catalog {
		if seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		out = append(out, t)
	}
	return out
}
