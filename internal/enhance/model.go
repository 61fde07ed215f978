// Package enhance prepares Messages API requests before they are sent
// upstream: it classifies the target model into a Claude family, fills in
// per-family defaults, injects the family tool catalog and a system-reminder
// block where applicable, and resolves the anthropic-beta capability header.
package enhance

import "strings"

// ModelType is the Claude family a model id resolves to.
type ModelType string

const (
	ModelHaiku   ModelType = "haiku"
	ModelSonnet  ModelType = "sonnet"
	ModelOpus    ModelType = "opus"
	ModelUnknown ModelType = "unknown"
)

// familyRules is evaluated in order. Matching is case-insensitive
// containment on the family token only, so date stamps and separator styles
// ("claude-opus-4-1-20250805", "claude-opus-4.5-20250901") never affect the
// outcome. A new family needs a new row here, nothing else.
var familyRules = []struct {
	token  string
	family ModelType
}{
	{"haiku", ModelHaiku},
	{"sonnet", ModelSonnet},
	{"opus", ModelOpus},
}

// DetectModelType classifies a model id into its family. Ids that carry no
// known family token classify as ModelUnknown; that is a valid outcome, not
// an error.
func DetectModelType(model string) ModelType {
	lower := strings.ToLower(model)
	for _, r := range familyRules {
		if strings.Contains(lower, r.token) {
			return r.family
		}
	}
	return ModelUnknown
}
