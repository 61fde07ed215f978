package enhance

import (
	"encoding/json"

	"claude-relay/internal/proto/anthropic"
)

// ReminderMarker delimits the injected reminder block. Its presence anywhere
// in the first user message suppresses re-injection.
const ReminderMarker = "<system-reminder>"

const defaultSystemPrompt = "You are Claude, an AI assistant. Be precise and direct. " +
	"Use the provided tools when a task calls for them instead of describing what you would do."

const reminderPayload = "<system-reminder>\n" +
	"Answer the user's request directly. Prefer tool calls over prose when a tool fits the task, " +
	"and keep responses free of unnecessary preamble.\n" +
	"</system-reminder>"

type familyDefaults struct {
	MaxTokens      int
	Temperature    float64
	SystemPrompt   string
	BetaHeader     string
	ToolCatalog    []anthropic.ToolDefinition
	InjectReminder bool
}

func objSchema(body string) json.RawMessage {
	return json.RawMessage(`{"type":"object",` + body + `}`)
}

// defaultToolCatalog is injected for sonnet and opus requests that carry no
// user tools, and merged (by unique name) into requests that do.
var defaultToolCatalog = []anthropic.ToolDefinition{
	{
		Name:        "web_search",
		Description: "Search the web and return result snippets with URLs.",
		InputSchema: objSchema(`"properties":{"query":{"type":"string"}},"required":["query"]`),
	},
	{
		Name:        "read_file",
		Description: "Read a file from the workspace and return its contents.",
		InputSchema: objSchema(`"properties":{"path":{"type":"string"}},"required":["path"]`),
	},
	{
		Name:        "write_file",
		Description: "Create or overwrite a file in the workspace.",
		InputSchema: objSchema(`"properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]`),
	},
	{
		Name:        "list_directory",
		Description: "List the entries of a workspace directory.",
		InputSchema: objSchema(`"properties":{"path":{"type":"string"}},"required":["path"]`),
	},
	{
		Name:        "run_command",
		Description: "Run a shell command and return stdout, stderr and the exit code.",
		InputSchema: objSchema(`"properties":{"command":{"type":"string"},"timeout_ms":{"type":"integer"}},"required":["command"]`),
	},
}

const baselineBeta = "prompt-caching-2024-07-31"

// defaultsByFamily is built once and treated as read-only; Enhance reads
// from it without mutation so concurrent callers need no coordination.
var defaultsByFamily = map[ModelType]familyDefaults{
	ModelHaiku: {
		MaxTokens:   8192,
		Temperature: 1.0,
		BetaHeader:  baselineBeta + ",token-efficient-tools-2025-02-19",
	},
	ModelSonnet: {
		MaxTokens:      64000,
		Temperature:    1.0,
		SystemPrompt:   defaultSystemPrompt,
		BetaHeader:     baselineBeta + ",fine-grained-tool-streaming-2025-05-14,interleaved-thinking-2025-05-14",
		ToolCatalog:    defaultToolCatalog,
		InjectReminder: true,
	},
	ModelOpus: {
		MaxTokens:      32000,
		Temperature:    1.0,
		SystemPrompt:   defaultSystemPrompt,
		BetaHeader:     baselineBeta + ",fine-grained-tool-streaming-2025-05-14,interleaved-thinking-2025-05-14,context-1m-2025-08-07",
		ToolCatalog:    defaultToolCatalog,
		InjectReminder: true,
	},
	ModelUnknown: {
		MaxTokens:   4096,
		Temperature: 1.0,
		BetaHeader:  baselineBeta,
	},
}
