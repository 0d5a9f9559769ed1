// Package contextwindow estimates how full a conversation is relative to
// the model's context window. Estimates feed the session info block of the
// chat stream; they are advisory, not a hard provider limit.
package contextwindow

import (
	"strings"
	"unicode/utf8"

	"github.com/locushq/locus/pkg/models"
)

const (
	// DefaultWindow is assumed for unknown models.
	DefaultWindow = 128000

	// TokensPerChar is a conservative character-to-token estimate.
	TokensPerChar = 0.25

	// perMessageOverhead covers role framing and separators.
	perMessageOverhead = 4
)

// modelWindows maps model ID prefixes to context window sizes. Longest
// prefix wins, so versioned IDs resolve to their family.
var modelWindows = map[string]int{
	"claude-3":         200000,
	"claude-opus-4":    200000,
	"claude-sonnet-4":  200000,
	"claude-haiku-4":   200000,
	"gpt-4":            8192,
	"gpt-4-32k":        32768,
	"gpt-4-turbo":      128000,
	"gpt-4o":           128000,
	"gpt-4o-mini":      128000,
	"gpt-3.5-turbo":    16385,
	"o1":               200000,
	"o1-mini":          128000,
	"o3-mini":          200000,
	"llama3":           8192,
	"llama3.1":         131072,
	"mistral":          32768,
	"qwen2.5":          131072,
}

// WindowFor returns the context window size for a model ID. Unknown or
// empty models get DefaultWindow.
func WindowFor(model string) int {
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		return DefaultWindow
	}
	best, size := 0, DefaultWindow
	for prefix, w := range modelWindows {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			best, size = len(prefix), w
		}
	}
	return size
}

// EstimateText estimates tokens for a text fragment.
func EstimateText(text string) int {
	if text == "" {
		return 0
	}
	n := int(float64(utf8.RuneCountInString(text)) * TokensPerChar)
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateMessages estimates tokens for a conversation slice, including
// per-message framing overhead and tool payloads.
func EstimateMessages(msgs []*models.Message) int {
	total := 0
	for _, m := range msgs {
		if m == nil {
			continue
		}
		total += perMessageOverhead
		total += EstimateText(m.Content)
		for _, tc := range m.ToolCalls {
			total += EstimateText(tc.Name) + EstimateText(string(tc.Input))
		}
		for _, tr := range m.ToolResults {
			total += EstimateText(tr.Content)
		}
	}
	return total
}

// SessionInfo builds the advisory context-fill block for a conversation.
func SessionInfo(model string, system string, msgs []*models.Message) *models.SessionInfo {
	window := WindowFor(model)
	used := EstimateText(system) + EstimateMessages(msgs)
	fill := float64(used) / float64(window) * 100
	if fill > 100 {
		fill = 100
	}
	return &models.SessionInfo{
		MessageCount:       len(msgs),
		EstimatedTokens:    used,
		MaxContextTokens:   window,
		ContextFillPercent: fill,
	}
}
