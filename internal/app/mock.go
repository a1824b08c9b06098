package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockGenerator simulates the generation session for offline use and tests.
// It answers planning prompts with a small structured plan and everything
// else with canned text, streaming word by word through the token callback.
type MockGenerator struct {
	mu    sync.Mutex
	Calls int

	// Responses overrides output per prompt substring match. Checked in
	// registration order is not guaranteed; keep keys distinct.
	Responses map[string]string
}

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{Responses: map[string]string{}}
}

func (m *MockGenerator) Generate(ctx context.Context, req GenerationRequest, onToken func(string)) (*GenerationState, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()

	prompt := RenderPrompt(req.Messages)
	text := m.respond(prompt)

	state := &GenerationState{Reason: ReasonCompleted}
	for _, word := range strings.SplitAfter(text, " ") {
		if word == "" {
			continue
		}
		state.Text += word
		state.TokenCount++
		if onToken != nil {
			onToken(word)
		}
	}
	return state, nil
}

func (m *MockGenerator) respond(prompt string) string {
	for key, response := range m.Responses {
		if strings.Contains(prompt, key) {
			return response
		}
	}
	if strings.Contains(prompt, "Respond ONLY with a JSON array") {
		return `[{"description": "Inspect the working directory", "type": "run_command", "target": "ls", "allow_retry": true},
{"description": "Draft the requested change", "type": "generate_code", "target": "", "allow_retry": true}]`
	}
	if strings.Contains(prompt, "Summarize what was accomplished") {
		return "All steps completed. The requested work was carried out and verified."
	}
	return fmt.Sprintf("Mock output for: %s", firstLine(prompt))
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
