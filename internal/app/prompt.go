package app

import (
	"fmt"
	"strings"
)

// RenderPrompt serializes an ordered message history into the single prompt
// string the worker consumes.
func RenderPrompt(messages []ChatMessage) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", msg.Role, msg.Content)
	}
	return b.String()
}

func planningPrompt(task string, catalogue string) []ChatMessage {
	system := fmt.Sprintf(`You are a coding assistant that decomposes tasks into ordered steps.

Available capabilities:
%s

Break the task into 2-8 concrete steps. Respond ONLY with a JSON array, no prose:
[{"description": "...", "type": "read_file|write_file|run_command|generate_code|analyze_code", "target": "...", "allow_retry": true}]

"target" is the file path for read_file/write_file/analyze_code, the shell command for run_command, and may be empty for generate_code.`, catalogue)

	return []ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: task},
	}
}

func stepPrompt(task string, step PlanStep, context string) []ChatMessage {
	var user strings.Builder
	fmt.Fprintf(&user, "Task: %s\n\nCurrent step: %s", task, step.Description)
	if step.Target != "" {
		fmt.Fprintf(&user, "\nTarget: %s", step.Target)
	}
	if context != "" {
		fmt.Fprintf(&user, "\n\nContext from completed steps:\n%s", context)
	}
	return []ChatMessage{
		{Role: "system", Content: "You are a coding assistant. Produce only the output the step asks for, with no surrounding commentary."},
		{Role: "user", Content: user.String()},
	}
}

func retryPrompt(task string, step PlanStep, context string, prevErr string) []ChatMessage {
	messages := stepPrompt(task, step, context)
	last := len(messages) - 1
	messages[last].Content += fmt.Sprintf("\n\nThe previous attempt failed with: %s\nFix the problem and try again.", prevErr)
	return messages
}

func analysisPrompt(task string, step PlanStep, fileContent string, context string) []ChatMessage {
	var user strings.Builder
	fmt.Fprintf(&user, "Task: %s\n\nAnalyze the following for step %q:\n\n%s", task, step.Description, fileContent)
	if context != "" {
		fmt.Fprintf(&user, "\n\nContext from completed steps:\n%s", context)
	}
	return []ChatMessage{
		{Role: "system", Content: "You are a code analyst. Report findings concisely."},
		{Role: "user", Content: user.String()},
	}
}

func synthesisPrompt(task string, context string) []ChatMessage {
	return []ChatMessage{
		{Role: "system", Content: "You are a coding assistant. Summarize the accomplished work for the user."},
		{Role: "user", Content: fmt.Sprintf("Task: %s\n\nStep results:\n%s\n\nSummarize what was accomplished.", task, context)},
	}
}
