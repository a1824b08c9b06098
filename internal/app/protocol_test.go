package app

import (
	"strings"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Event
		wantErr bool
	}{
		{
			name: "ready",
			line: `{"type": "ready"}`,
			want: Event{Type: EventReady},
		},
		{
			name: "token",
			line: `{"type": "token", "token": "def "}`,
			want: Event{Type: EventToken, Token: "def "},
		},
		{
			name: "progress",
			line: `{"type": "progress", "progress": 0.42}`,
			want: Event{Type: EventProgress, Progress: 0.42},
		},
		{
			name: "done",
			line: `{"type": "done", "success": true}`,
			want: Event{Type: EventDone, Success: true},
		},
		{
			name: "error subtype preserved in message",
			line: `{"type": "generation_error", "error": "context overflow"}`,
			want: Event{Type: EventError, Error: "generation_error: context overflow"},
		},
		{
			name: "plain error",
			line: `{"type": "error", "error": "broken"}`,
			want: Event{Type: EventError, Error: "broken"},
		},
		{
			name: "load success tagged with model kind",
			line: `{"success": true, "path": "/models/q", "name": "q", "type": "mlx", "cached": false, "message": "Model loaded from disk"}`,
			want: Event{Type: EventResult, Success: true, Message: "Model loaded from disk"},
		},
		{
			name: "cached load success",
			line: `{"success": true, "path": "/models/q", "name": "q", "type": "mlx", "cached": true, "message": "Model already loaded (cached)"}`,
			want: Event{Type: EventResult, Success: true, Message: "Model already loaded (cached)"},
		},
		{
			name: "untagged unload result line",
			line: `{"success": true, "message": "Model unloaded successfully"}`,
			want: Event{Type: EventResult, Success: true, Message: "Model unloaded successfully"},
		},
		{
			name: "load failure carries subtype and error",
			line: `{"success": false, "error": "Model path does not exist: /bad", "type": "path_error"}`,
			want: Event{Type: EventError, Error: "path_error: Model path does not exist: /bad"},
		},
		{
			name: "surrounding whitespace tolerated",
			line: "  {\"type\": \"ready\"}\r",
			want: Event{Type: EventReady},
		},
		{
			name:    "empty line",
			line:    "",
			wantErr: true,
		},
		{
			name:    "not json",
			line:    "Traceback (most recent call last):",
			wantErr: true,
		},
		{
			name:    "unknown tagged type without error field",
			line:    `{"type": "telemetry"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeEvent(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("decodeEvent(%q) succeeded with %+v, want error", tt.line, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeEvent(%q): %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("decodeEvent(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestEncodeCommand(t *testing.T) {
	payload, err := encodeCommand(Command{
		Type:              CmdGenerate,
		Prompt:            "write a function",
		MaxTokens:         128,
		Temperature:       0.7,
		TopP:              0.9,
		RepetitionPenalty: 1.1,
		Stream:            true,
	})
	if err != nil {
		t.Fatalf("encodeCommand: %v", err)
	}
	line := string(payload)
	if !strings.HasSuffix(line, "\n") {
		t.Errorf("encoded command not newline terminated: %q", line)
	}
	if strings.Count(line, "\n") != 1 {
		t.Errorf("encoded command spans lines: %q", line)
	}
	for _, field := range []string{`"type":"generate"`, `"prompt":"write a function"`, `"max_tokens":128`, `"stream":true`} {
		if !strings.Contains(line, field) {
			t.Errorf("encoded command missing %s: %q", field, line)
		}
	}
}

func TestEncodeCommand_OmitsUnsetFields(t *testing.T) {
	payload, err := encodeCommand(Command{Type: CmdExit})
	if err != nil {
		t.Fatalf("encodeCommand: %v", err)
	}
	line := string(payload)
	for _, field := range []string{"prompt", "model_path", "max_tokens"} {
		if strings.Contains(line, field) {
			t.Errorf("exit command carries unset field %q: %s", field, line)
		}
	}
}

func TestTruncateForLog(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := truncateForLog(long)
	if len(got) != 123 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncateForLog length = %d", len(got))
	}
	if truncateForLog("short") != "short" {
		t.Errorf("short strings must pass through")
	}
}
