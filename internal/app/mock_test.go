package app

import (
	"context"
	"strings"
	"testing"
)

func TestMockGenerator_DrivesPlannerEndToEnd(t *testing.T) {
	gen := NewMockGenerator()
	registry := NewToolRegistry()
	RegisterBuiltinTools(registry, NewRunner(NewLogger(nil), t.TempDir()), nil, 0)

	planner := NewTaskPlanner(gen, registry, NewLogger(nil), SamplingParams{}, t.TempDir())
	summary, err := planner.Run(context.Background(), "tidy the project")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(summary, "completed") {
		t.Errorf("summary = %q", summary)
	}
	if gen.Calls < 3 {
		t.Errorf("generator calls = %d, want planning + steps + synthesis", gen.Calls)
	}
}

func TestMockGenerator_StreamsWordTokens(t *testing.T) {
	gen := NewMockGenerator()
	gen.Responses["special question"] = "one two three"

	var tokens []string
	state, err := gen.Generate(context.Background(), GenerationRequest{
		Messages: []ChatMessage{{Role: "user", Content: "special question"}},
	}, func(tok string) {
		tokens = append(tokens, tok)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if state.Reason != ReasonCompleted {
		t.Errorf("reason = %q", state.Reason)
	}
	if state.Text != "one two three" {
		t.Errorf("text = %q", state.Text)
	}
	if len(tokens) != 3 {
		t.Errorf("token count = %d, want 3", len(tokens))
	}
	if strings.Join(tokens, "") != state.Text {
		t.Errorf("streamed tokens diverge from final text")
	}
}
