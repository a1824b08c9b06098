package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type StepType string

const (
	StepReadFile     StepType = "read_file"
	StepWriteFile    StepType = "write_file"
	StepRunCommand   StepType = "run_command"
	StepGenerateCode StepType = "generate_code"
	StepAnalyzeCode  StepType = "analyze_code"
)

type PlanStep struct {
	Description string   `json:"description"`
	Type        StepType `json:"type"`
	Target      string   `json:"target"`
	AllowRetry  bool     `json:"allow_retry"`
}

type TaskPlan struct {
	Steps []PlanStep `json:"steps"`
}

// ExecutionStep is one append-only audit log entry for a task run.
type ExecutionStep struct {
	Type        string    `json:"type"` // planning|execution|retry|completion
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
}

// TaskRun is the persisted record of one planner run.
type TaskRun struct {
	ID        string          `json:"id"`
	Task      string          `json:"task"`
	Plan      []PlanStep      `json:"plan"`
	Log       []ExecutionStep `json:"log"`
	Result    string          `json:"result,omitempty"`
	Completed bool            `json:"completed"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at,omitempty"`
}

// Generator is the slice of the generation session the planner needs. Tests
// substitute a scripted fake.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest, onToken func(string)) (*GenerationState, error)
}

// TaskPlanner decomposes a high-level task into ordered steps, executes them
// strictly sequentially through the generator and tool registry, and closes
// with one synthesis pass. Only one task runs at a time.
type TaskPlanner struct {
	Gen      Generator
	Registry *ToolRegistry
	Logger   *Logger
	Sampling SamplingParams
	StateDir string
	MaxSteps int

	// Progress receives UI-agnostic events. Nil is fine.
	Progress func(ProgressEvent)

	running atomic.Bool
}

func NewTaskPlanner(gen Generator, registry *ToolRegistry, logger *Logger, sampling SamplingParams, stateDir string) *TaskPlanner {
	return &TaskPlanner{
		Gen:      gen,
		Registry: registry,
		Logger:   logger,
		Sampling: sampling,
		StateDir: stateDir,
		MaxSteps: 12,
	}
}

// Run executes one task end to end and returns the synthesis text. A second
// concurrent Run fails fast rather than queueing.
func (p *TaskPlanner) Run(ctx context.Context, task string) (string, error) {
	if !p.running.CompareAndSwap(false, true) {
		return "", ErrTaskAlreadyRunning
	}
	defer p.running.Store(false)

	run := &TaskRun{
		ID:        uuid.NewString(),
		Task:      task,
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		run.EndedAt = time.Now().UTC()
		p.saveRun(run)
	}()

	p.emit(ProgressEvent{Kind: EventKindPlanning, Text: "Decomposing task into steps", At: time.Now()})
	plan := p.plan(ctx, task)
	run.Plan = plan.Steps
	p.audit(run, "planning", fmt.Sprintf("planned %d step(s)", len(plan.Steps)), true)

	var contextParts []string
	total := len(plan.Steps)
	for i, step := range plan.Steps {
		p.emit(ProgressEvent{
			Kind:      EventKindExecuting,
			Text:      step.Description,
			StepIndex: i + 1,
			StepTotal: total,
			At:        time.Now(),
		})

		output, err := p.executeStep(ctx, task, step, strings.Join(contextParts, "\n\n"), "")
		if err != nil {
			p.audit(run, "execution", fmt.Sprintf("step %d: %s: %v", i+1, step.Description, err), false)

			if !step.AllowRetry {
				p.failRun(run, i, step, false, err)
				return "", &StepError{Index: i, Description: step.Description, Cause: err}
			}

			p.emit(ProgressEvent{Kind: EventKindRetrying, Text: step.Description, StepIndex: i + 1, StepTotal: total, At: time.Now()})
			output, err = p.executeStep(ctx, task, step, strings.Join(contextParts, "\n\n"), err.Error())
			p.audit(run, "retry", fmt.Sprintf("step %d: %s", i+1, step.Description), err == nil)
			if err != nil {
				p.failRun(run, i, step, true, err)
				return "", &StepError{Index: i, Description: step.Description, Retried: true, Cause: err}
			}
		} else {
			p.audit(run, "execution", fmt.Sprintf("step %d: %s", i+1, step.Description), true)
		}

		// Only the final result of the step joins the context; a failed
		// first attempt never leaks into later steps.
		contextParts = append(contextParts, fmt.Sprintf("Step %d (%s): %s", i+1, step.Description, output))
	}

	p.emit(ProgressEvent{Kind: EventKindSynthesizing, Text: "Summarizing results", At: time.Now()})
	summary, err := p.generateText(ctx, synthesisPrompt(task, strings.Join(contextParts, "\n\n")))
	if err != nil {
		p.audit(run, "completion", fmt.Sprintf("synthesis failed: %v", err), false)
		p.emit(ProgressEvent{Kind: EventKindFailed, Text: err.Error(), At: time.Now()})
		return "", err
	}

	run.Result = summary
	run.Completed = true
	p.audit(run, "completion", "task complete", true)
	p.emit(ProgressEvent{Kind: EventKindComplete, Text: "Task complete", At: time.Now()})
	return summary, nil
}

// plan asks the generator for a structured decomposition. Unparseable output
// never hard-fails: the fallback is a single direct-generation step.
func (p *TaskPlanner) plan(ctx context.Context, task string) TaskPlan {
	catalogue := "[]"
	if p.Registry != nil {
		catalogue = p.Registry.CatalogueJSON()
	}
	response, err := p.generateText(ctx, planningPrompt(task, catalogue))
	if err != nil {
		if p.Logger != nil {
			p.Logger.Warn("planning generation failed, using fallback plan", map[string]interface{}{"error": err.Error()})
		}
		return fallbackPlan(task)
	}
	plan, err := parsePlan(response, p.MaxSteps)
	if err != nil {
		if p.Logger != nil {
			p.Logger.Warn("plan response unparseable, using fallback plan", map[string]interface{}{"error": err.Error()})
		}
		return fallbackPlan(task)
	}
	return plan
}

func fallbackPlan(task string) TaskPlan {
	return TaskPlan{Steps: []PlanStep{{
		Description: task,
		Type:        StepGenerateCode,
		AllowRetry:  true,
	}}}
}

// parsePlan extracts the first JSON array from the response and decodes it
// into plan steps. Anything that does not yield at least one valid step is an
// error, which callers recover from with the fallback plan.
func parsePlan(response string, maxSteps int) (TaskPlan, error) {
	start := strings.Index(response, "[")
	if start < 0 {
		return TaskPlan{}, fmt.Errorf("no JSON array in response")
	}
	depth := 0
	end := -1
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return TaskPlan{}, fmt.Errorf("unterminated JSON array in response")
	}

	var steps []PlanStep
	if err := json.Unmarshal([]byte(response[start:end+1]), &steps); err != nil {
		return TaskPlan{}, err
	}

	valid := make([]PlanStep, 0, len(steps))
	for _, step := range steps {
		switch step.Type {
		case StepReadFile, StepWriteFile, StepRunCommand, StepGenerateCode, StepAnalyzeCode:
		default:
			return TaskPlan{}, fmt.Errorf("unknown step type %q", step.Type)
		}
		if strings.TrimSpace(step.Description) == "" {
			return TaskPlan{}, fmt.Errorf("step with empty description")
		}
		valid = append(valid, step)
	}
	if len(valid) == 0 {
		return TaskPlan{}, fmt.Errorf("empty plan")
	}
	if maxSteps > 0 && len(valid) > maxSteps {
		valid = valid[:maxSteps]
	}
	return TaskPlan{Steps: valid}, nil
}

// executeStep dispatches one step by type. prevErr is non-empty only on the
// retry attempt and is folded into the generation prompt so the model can
// correct course.
func (p *TaskPlanner) executeStep(ctx context.Context, task string, step PlanStep, stepContext, prevErr string) (string, error) {
	switch step.Type {
	case StepReadFile:
		return p.runTool(ctx, "read_file", map[string]interface{}{"path": step.Target})

	case StepWriteFile:
		// The content comes from a generation grounded in the step and the
		// accumulated context; the file collaborator just persists it.
		messages := stepPrompt(task, step, stepContext)
		if prevErr != "" {
			messages = retryPrompt(task, step, stepContext, prevErr)
		}
		content, err := p.generateText(ctx, messages)
		if err != nil {
			return "", err
		}
		return p.runTool(ctx, "write_file", map[string]interface{}{"path": step.Target, "content": content})

	case StepRunCommand:
		return p.runTool(ctx, "exec", map[string]interface{}{"command": step.Target})

	case StepGenerateCode:
		messages := stepPrompt(task, step, stepContext)
		if prevErr != "" {
			messages = retryPrompt(task, step, stepContext, prevErr)
		}
		return p.generateText(ctx, messages)

	case StepAnalyzeCode:
		fileContent := ""
		if step.Target != "" {
			output, err := p.runTool(ctx, "read_file", map[string]interface{}{"path": step.Target})
			if err != nil {
				return "", err
			}
			fileContent = output
		}
		messages := analysisPrompt(task, step, fileContent, stepContext)
		if prevErr != "" {
			last := len(messages) - 1
			messages[last].Content += fmt.Sprintf("\n\nThe previous attempt failed with: %s", prevErr)
		}
		return p.generateText(ctx, messages)

	default:
		return "", fmt.Errorf("unknown step type %q", step.Type)
	}
}

func (p *TaskPlanner) runTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if p.Registry == nil {
		return "", fmt.Errorf("no tool registry configured")
	}
	result, err := p.Registry.Execute(ctx, name, args)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("tool %s failed: %s", name, result.Error)
	}
	return result.Output, nil
}

func (p *TaskPlanner) generateText(ctx context.Context, messages []ChatMessage) (string, error) {
	state, err := p.Gen.Generate(ctx, GenerationRequest{Messages: messages, Params: p.Sampling}, nil)
	if err != nil {
		return "", err
	}
	return state.Text, nil
}

func (p *TaskPlanner) failRun(run *TaskRun, index int, step PlanStep, retried bool, err error) {
	desc := fmt.Sprintf("aborted at step %d: %s", index+1, step.Description)
	if retried {
		desc = fmt.Sprintf("aborted at step %d after retry: %s", index+1, step.Description)
	}
	p.audit(run, "completion", desc, false)
	p.emit(ProgressEvent{Kind: EventKindFailed, Text: err.Error(), StepIndex: index + 1, At: time.Now()})
}

func (p *TaskPlanner) emit(ev ProgressEvent) {
	if p.Progress != nil {
		p.Progress(ev)
	}
}

func (p *TaskPlanner) audit(run *TaskRun, kind, description string, success bool) {
	run.Log = append(run.Log, ExecutionStep{
		Type:        kind,
		Description: description,
		Timestamp:   time.Now().UTC(),
		Success:     success,
	})
}

func (p *TaskPlanner) saveRun(run *TaskRun) {
	if p.StateDir == "" {
		return
	}
	if err := os.MkdirAll(p.StateDir, 0o755); err != nil {
		return
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(p.StateDir, run.ID+".json"), data, 0o644)
}
