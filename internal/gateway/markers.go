package gateway

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/locushq/locus/pkg/models"
)

const (
	maxSuggestions        = 5
	maxSuggestionTitle    = 40
	maxSuggestionDetail   = 200
	defaultHintImportance = 0.5
)

var (
	suggestionsRe = regexp.MustCompile(`(?s)<suggestions>\s*(\[.*?\])\s*</suggestions>`)
	memoryRe      = regexp.MustCompile(`(?s)<memory>\s*(\{.*?\})\s*</memory>`)
)

// stripMarkers removes suggestion and memory marker blocks from assistant
// output and returns the parsed entries. Malformed blocks are stripped but
// contribute nothing; hints are surfaced on the done event and never
// persisted without the user confirming.
func stripMarkers(content string) (clean string, suggestions []models.Suggestion, memories []models.MemoryHint) {
	clean = suggestionsRe.ReplaceAllStringFunc(content, func(block string) string {
		if m := suggestionsRe.FindStringSubmatch(block); m != nil {
			suggestions = append(suggestions, parseSuggestions(m[1])...)
		}
		return ""
	})
	clean = memoryRe.ReplaceAllStringFunc(clean, func(block string) string {
		if m := memoryRe.FindStringSubmatch(block); m != nil {
			if hint, ok := parseMemoryHint(m[1]); ok {
				memories = append(memories, hint)
			}
		}
		return ""
	})
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return strings.TrimSpace(clean), suggestions, memories
}

func parseSuggestions(raw string) []models.Suggestion {
	var parsed []models.Suggestion
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}
	out := parsed[:0]
	for _, s := range parsed {
		s.Title = strings.TrimSpace(s.Title)
		if s.Title == "" {
			continue
		}
		if len(s.Title) > maxSuggestionTitle {
			s.Title = s.Title[:maxSuggestionTitle]
		}
		if len(s.Detail) > maxSuggestionDetail {
			s.Detail = s.Detail[:maxSuggestionDetail]
		}
		out = append(out, s)
	}
	return out
}

func parseMemoryHint(raw string) (models.MemoryHint, bool) {
	var hint models.MemoryHint
	if err := json.Unmarshal([]byte(raw), &hint); err != nil {
		return models.MemoryHint{}, false
	}
	hint.Content = strings.TrimSpace(hint.Content)
	if hint.Content == "" {
		return models.MemoryHint{}, false
	}
	if !models.ValidMemoryType(hint.Type) {
		hint.Type = string(models.MemoryFact)
	}
	if hint.Importance <= 0 || hint.Importance > 1 {
		hint.Importance = defaultHintImportance
	}
	return hint, true
}
