package provider

import (
	"context"
	"errors"
	"sync"
)

const CodeScripted = "scripted"

var ErrScriptedFailure = errors.New("scripted executor failure")

// ScriptedStep is one queued result of the scripted executor. Err, when set, is
// returned as an execution failure.
type ScriptedStep struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
	Err     bool    `json:"error,omitempty"`
}

// ScriptedExecutor replays queued results per payment and falls back to a default
// outcome. It backs simulation runs where the clock is driven externally.
type ScriptedExecutor struct {
	mu       sync.Mutex
	steps    map[string][]ScriptedStep
	fallback Outcome
	calls    map[string]int
}

func NewScriptedExecutor(fallback Outcome) *ScriptedExecutor {
	if fallback == "" {
		fallback = OutcomeSucceeded
	}
	return &ScriptedExecutor{
		steps:    make(map[string][]ScriptedStep),
		fallback: fallback,
		calls:    make(map[string]int),
	}
}

func (e *ScriptedExecutor) Code() string {
	return CodeScripted
}

func (e *ScriptedExecutor) Push(paymentID string, steps ...ScriptedStep) {
	e.mu.Lock()
	e.steps[paymentID] = append(e.steps[paymentID], steps...)
	e.mu.Unlock()
}

func (e *ScriptedExecutor) Calls(paymentID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[paymentID]
}

func (e *ScriptedExecutor) Attempt(ctx context.Context, input *AttemptInput) (*AttemptOutput, error) {
	e.mu.Lock()
	e.calls[input.PaymentID]++
	step := ScriptedStep{Outcome: e.fallback}
	if queued := e.steps[input.PaymentID]; len(queued) > 0 {
		step = queued[0]
		e.steps[input.PaymentID] = queued[1:]
	}
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Err {
		return nil, ErrScriptedFailure
	}
	return &AttemptOutput{
		Outcome:           step.Outcome,
		ProviderPaymentID: "scripted-" + input.PaymentID,
		Reason:            step.Reason,
	}, nil
}
