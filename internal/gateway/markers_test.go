package gateway

import (
	"strings"
	"testing"
)

func TestStripMarkersSuggestions(t *testing.T) {
	content := `Here is your answer.

<suggestions>[{"title":"Check the logs","detail":"Look at recent errors"},{"title":"  ","detail":"skipped"},{"title":"Retry"}]</suggestions>`

	clean, suggestions, memories := stripMarkers(content)
	if clean != "Here is your answer." {
		t.Errorf("clean = %q", clean)
	}
	if len(memories) != 0 {
		t.Errorf("memories = %v, want none", memories)
	}
	if len(suggestions) != 2 {
		t.Fatalf("suggestions = %d, want 2", len(suggestions))
	}
	if suggestions[0].Title != "Check the logs" || suggestions[1].Title != "Retry" {
		t.Errorf("suggestions = %+v", suggestions)
	}
}

func TestStripMarkersSuggestionCaps(t *testing.T) {
	long := strings.Repeat("x", 300)
	content := `<suggestions>[` +
		`{"title":"` + long + `","detail":"` + long + `"},` +
		`{"title":"a"},{"title":"b"},{"title":"c"},{"title":"d"},{"title":"e"},{"title":"f"}` +
		`]</suggestions>`

	_, suggestions, _ := stripMarkers(content)
	if len(suggestions) != maxSuggestions {
		t.Fatalf("suggestions = %d, want %d", len(suggestions), maxSuggestions)
	}
	if len(suggestions[0].Title) != maxSuggestionTitle {
		t.Errorf("title length = %d, want %d", len(suggestions[0].Title), maxSuggestionTitle)
	}
	if len(suggestions[0].Detail) != maxSuggestionDetail {
		t.Errorf("detail length = %d, want %d", len(suggestions[0].Detail), maxSuggestionDetail)
	}
}

func TestStripMarkersMemoryHint(t *testing.T) {
	content := `Noted. <memory>{"type":"preference","content":"User prefers dark mode","importance":0.8}</memory> Anything else?`

	clean, _, memories := stripMarkers(content)
	if strings.Contains(clean, "<memory>") {
		t.Errorf("marker not stripped: %q", clean)
	}
	if len(memories) != 1 {
		t.Fatalf("memories = %d, want 1", len(memories))
	}
	if memories[0].Type != "preference" || memories[0].Importance != 0.8 {
		t.Errorf("memory = %+v", memories[0])
	}
}

func TestStripMarkersMemoryTypeFallback(t *testing.T) {
	content := `<memory>{"type":"opinion","content":"Something","importance":7}</memory>`

	_, _, memories := stripMarkers(content)
	if len(memories) != 1 {
		t.Fatalf("memories = %d, want 1", len(memories))
	}
	if memories[0].Type != "fact" {
		t.Errorf("type = %q, want fact", memories[0].Type)
	}
	if memories[0].Importance != defaultHintImportance {
		t.Errorf("importance = %v, want %v", memories[0].Importance, defaultHintImportance)
	}
}

func TestStripMarkersMalformedBlocks(t *testing.T) {
	content := `Answer. <suggestions>[not json]</suggestions><memory>{"type":"fact"}</memory>`

	clean, suggestions, memories := stripMarkers(content)
	if clean != "Answer." {
		t.Errorf("clean = %q", clean)
	}
	if len(suggestions) != 0 || len(memories) != 0 {
		t.Errorf("parsed from malformed blocks: %v %v", suggestions, memories)
	}
}

func TestStripMarkersPassthrough(t *testing.T) {
	content := "Plain response with <b>html</b> but no markers."
	clean, suggestions, memories := stripMarkers(content)
	if clean != content {
		t.Errorf("clean = %q", clean)
	}
	if suggestions != nil || memories != nil {
		t.Errorf("unexpected parses: %v %v", suggestions, memories)
	}
}
