package app

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The worker speaks newline-delimited JSON over stdin/stdout. Every line is
// one complete message; messages never span lines.

type CommandType string

const (
	CmdLoadModel   CommandType = "load_model"
	CmdGenerate    CommandType = "generate"
	CmdUnloadModel CommandType = "unload_model"
	CmdExit        CommandType = "exit"
)

// Command is an outbound message to the worker.
type Command struct {
	Type CommandType `json:"type"`

	// load_model
	ModelPath string `json:"model_path,omitempty"`

	// generate
	Prompt            string  `json:"prompt,omitempty"`
	MaxTokens         int     `json:"max_tokens,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	TopP              float64 `json:"top_p,omitempty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
	Stream            bool    `json:"stream,omitempty"`
}

type EventType string

const (
	EventReady    EventType = "ready"
	EventToken    EventType = "token"
	EventProgress EventType = "progress"
	EventDone     EventType = "done"
	EventError    EventType = "error"
	EventResult   EventType = "result"
)

// Event is an inbound message from the worker. Stream lines carry a "type"
// tag; load/unload result lines carry a "success" field instead, with "type"
// reused for payload (the model kind on a load, nothing on an unload). decode
// normalizes all result shapes to EventResult.
type Event struct {
	Type     EventType `json:"type"`
	Token    string    `json:"token,omitempty"`
	Progress float64   `json:"progress,omitempty"`
	Success  bool      `json:"success,omitempty"`
	Error    string    `json:"error,omitempty"`
	Message  string    `json:"message,omitempty"`
}

func encodeCommand(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// decodeEvent parses one protocol line. Error subtypes used by the worker
// (model_error, generation_error, json_error and friends) all carry an
// "error" field, so any line with that field decodes as an error event.
// Success is decoded through a pointer because result lines are recognized
// by the presence of the field, not its value.
func decodeEvent(line string) (Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, fmt.Errorf("empty protocol line")
	}

	var raw struct {
		Type     EventType `json:"type"`
		Token    string    `json:"token"`
		Progress float64   `json:"progress"`
		Success  *bool     `json:"success"`
		Error    string    `json:"error"`
		Message  string    `json:"message"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Event{}, fmt.Errorf("malformed protocol line %q: %w", truncateForLog(line), err)
	}

	ev := Event{
		Type:     raw.Type,
		Token:    raw.Token,
		Progress: raw.Progress,
		Error:    raw.Error,
		Message:  raw.Message,
	}
	if raw.Success != nil {
		ev.Success = *raw.Success
	}

	switch ev.Type {
	case EventReady, EventToken, EventProgress, EventDone:
		return ev, nil
	}
	if ev.Error != "" {
		// Preserve the worker's error subtype (model_error, generation_error,
		// json_error, ...) in the message text.
		if ev.Type != "" && ev.Type != EventError {
			ev.Error = fmt.Sprintf("%s: %s", ev.Type, ev.Error)
		}
		ev.Type = EventError
		return ev, nil
	}
	if raw.Success != nil || ev.Type == "" {
		// A successful load answers with its payload kind in the type field
		// ("mlx"); an unload answers with no type at all. Both are results.
		ev.Type = EventResult
		return ev, nil
	}
	return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
}

func truncateForLog(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
