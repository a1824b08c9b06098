package app

import (
	"context"
	"errors"
	"time"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type SamplingParams struct {
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

type GenerationRequest struct {
	Messages []ChatMessage  `json:"messages"`
	Params   SamplingParams `json:"params"`
}

// TerminalReason says how a generation ended. Truncation and cancellation are
// controlled stops, not failures.
type TerminalReason string

const (
	ReasonCompleted           TerminalReason = "completed"
	ReasonTruncatedRepetition TerminalReason = "truncated_repetition"
	ReasonTruncatedLength     TerminalReason = "truncated_length"
	ReasonCancelled           TerminalReason = "cancelled"
	ReasonError               TerminalReason = "error"
)

type GenerationState struct {
	Text             string         `json:"text"`
	TokenCount       int            `json:"token_count"`
	StartedAt        time.Time      `json:"started_at"`
	TimeToFirstToken time.Duration  `json:"time_to_first_token"`
	TokensPerSecond  float64        `json:"tokens_per_second"`
	Reason           TerminalReason `json:"reason"`
}

// workerChannel is the slice of the bridge a session needs. The concrete
// WorkerBridge satisfies it; tests substitute an in-memory fake.
type workerChannel interface {
	Acquire() error
	Release()
	Send(cmd Command) error
	Receive(ctx context.Context) (Event, error)
	Reset(ctx context.Context) error
	State() WorkerState
}

// GenerationSession runs one request/response streaming cycle against the
// worker. Token callbacks arrive on a single delivery path in stream order,
// and each run finishes with exactly one terminal outcome.
type GenerationSession struct {
	Worker      workerChannel
	GuardConfig GuardConfig
	Logger      *Logger

	// ResetTimeout bounds worker recovery after a forced stop.
	ResetTimeout time.Duration
}

func NewGenerationSession(worker workerChannel, guardCfg GuardConfig, logger *Logger) *GenerationSession {
	return &GenerationSession{
		Worker:       worker,
		GuardConfig:  guardCfg,
		Logger:       logger,
		ResetTimeout: 60 * time.Second,
	}
}

// Generate serializes the message history into one prompt, streams tokens to
// onToken, and returns the finalized state. Cancellation through ctx forces a
// worker reset and finalizes with whatever text had accumulated.
func (s *GenerationSession) Generate(ctx context.Context, req GenerationRequest, onToken func(string)) (*GenerationState, error) {
	return s.generate(ctx, req, onToken, nil)
}

// GenerateWithProgress additionally forwards the worker's percentage hints.
func (s *GenerationSession) GenerateWithProgress(ctx context.Context, req GenerationRequest, onToken func(string), onProgress func(float64)) (*GenerationState, error) {
	return s.generate(ctx, req, onToken, onProgress)
}

func (s *GenerationSession) generate(ctx context.Context, req GenerationRequest, onToken func(string), onProgress func(float64)) (*GenerationState, error) {
	state := &GenerationState{StartedAt: time.Now()}

	if err := s.Worker.Acquire(); err != nil {
		state.Reason = ReasonError
		return state, err
	}

	prompt := RenderPrompt(req.Messages)
	cmd := Command{
		Type:              CmdGenerate,
		Prompt:            prompt,
		MaxTokens:         req.Params.MaxTokens,
		Temperature:       req.Params.Temperature,
		TopP:              req.Params.TopP,
		RepetitionPenalty: req.Params.RepetitionPenalty,
		Stream:            true,
	}
	if err := s.Worker.Send(cmd); err != nil {
		s.Worker.Release()
		state.Reason = ReasonError
		return state, err
	}

	guard := NewRunawayGuard(s.GuardConfig)
	waiting := true

	for {
		ev, err := s.Worker.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Caller asked to stop: reset the worker to a known-good
				// state and keep the partial text. Controlled stop.
				s.finalize(state, ReasonCancelled)
				s.resetWorker()
				return state, nil
			}
			state.Reason = ReasonError
			return state, err
		}

		switch ev.Type {
		case EventToken:
			if waiting {
				// First token flips waiting to streaming exactly once,
				// giving callers a time-to-first-token metric.
				waiting = false
				state.TimeToFirstToken = time.Since(state.StartedAt)
			}
			state.Text += ev.Token
			state.TokenCount++
			if onToken != nil {
				onToken(ev.Token)
			}
			switch guard.Feed(ev.Token) {
			case StopRepetition:
				state.Text = guard.TruncateKnownGood(state.Text)
				s.finalize(state, ReasonTruncatedRepetition)
				s.resetWorker()
				return state, nil
			case StopLength:
				state.Text = guard.TruncateKnownGood(state.Text)
				s.finalize(state, ReasonTruncatedLength)
				s.resetWorker()
				return state, nil
			}

		case EventProgress:
			if onProgress != nil {
				onProgress(ev.Progress)
			}

		case EventDone:
			// Zero tokens before done is a valid empty result.
			s.finalize(state, ReasonCompleted)
			s.Worker.Release()
			return state, nil

		case EventError:
			s.finalize(state, ReasonError)
			s.Worker.Release()
			return state, &WorkerError{Message: ev.Error}

		default:
			// ready/result lines are not expected mid-generation; skip.
		}
	}
}

func (s *GenerationSession) finalize(state *GenerationState, reason TerminalReason) {
	state.Reason = reason
	elapsed := time.Since(state.StartedAt).Seconds()
	if elapsed > 0 && state.TokenCount > 0 {
		state.TokensPerSecond = float64(state.TokenCount) / elapsed
	}
	if s.Logger != nil {
		s.Logger.Info("generation finished", map[string]interface{}{
			"reason":     string(reason),
			"tokens":     state.TokenCount,
			"tokens_sec": state.TokensPerSecond,
		})
	}
}

// resetWorker terminates the in-flight generation and brings the worker back
// to ready. Reset failures leave the worker terminated; the next Generate
// surfaces that through Acquire.
func (s *GenerationSession) resetWorker() {
	timeout := s.ResetTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Worker.Reset(ctx); err != nil && s.Logger != nil {
		s.Logger.Error("worker reset failed", map[string]interface{}{"error": err.Error()})
	}
}
