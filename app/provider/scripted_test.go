package provider

import (
	"context"
	"errors"
	"testing"
)

func TestScriptedExecutorReplaysSteps(t *testing.T) {
	executor := NewScriptedExecutor(OutcomeSucceeded)
	executor.Push("pay-1",
		ScriptedStep{Outcome: OutcomeDeclined, Reason: "insufficient_funds"},
		ScriptedStep{Err: true},
	)
	input := &AttemptInput{PaymentID: "pay-1"}

	out, err := executor.Attempt(context.Background(), input)
	if err != nil || out.Outcome != OutcomeDeclined || out.Reason != "insufficient_funds" {
		t.Fatalf("unexpected first step: %+v %v", out, err)
	}
	if _, err := executor.Attempt(context.Background(), input); !errors.Is(err, ErrScriptedFailure) {
		t.Fatalf("expected scripted failure, got %v", err)
	}
	out, err = executor.Attempt(context.Background(), input)
	if err != nil || out.Outcome != OutcomeSucceeded {
		t.Fatalf("expected fallback success, got %+v %v", out, err)
	}
	if executor.Calls("pay-1") != 3 {
		t.Fatalf("expected 3 calls, got %d", executor.Calls("pay-1"))
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(NewScriptedExecutor(""), NewStripeExecutor(StripeConfig{}))

	if _, err := registry.Get(CodeStripe); err != nil {
		t.Fatalf("expected stripe executor, got %v", err)
	}
	if _, err := registry.Get("adyen"); !errors.Is(err, ErrProviderNotSupported) {
		t.Fatalf("expected ErrProviderNotSupported, got %v", err)
	}
	codes := registry.Codes()
	if len(codes) != 2 || codes[0] != CodeScripted || codes[1] != CodeStripe {
		t.Fatalf("unexpected codes %v", codes)
	}
}
