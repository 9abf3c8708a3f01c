package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func fastPolicy(maxAttempts int, breaker Breaker) Config {
	return Config{
		Default: Policy{
			Retry: Retry{
				MaxAttempts:    maxAttempts,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     2 * time.Millisecond,
				Multiplier:     2,
			},
			Breaker: breaker,
		},
	}
}

func TestExecuteRecoversFlakyGeneration(t *testing.T) {
	exec := NewExecutor(fastPolicy(3, Breaker{}), nil)

	attempts := 0
	errOverloaded := errors.New("model overloaded")
	err := exec.Execute(context.Background(), "ollama.chat", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errOverloaded
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{Retryable: errors.Is(err, errOverloaded), RecordFailure: true}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryBadRequest(t *testing.T) {
	exec := NewExecutor(fastPolicy(3, Breaker{}), nil)

	attempts := 0
	errBadModel := errors.New("model not found")
	err := exec.Execute(context.Background(), "ollama.embed", func(context.Context) error {
		attempts++
		return errBadModel
	}, func(error) ErrorClassification {
		return ErrorClassification{}
	})
	if !errors.Is(err, errBadModel) {
		t.Fatalf("expected the original error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("a non-retryable failure must not repeat, got %d attempts", attempts)
	}
}

func TestExecuteOpensBreakerOnDeadVectorStore(t *testing.T) {
	exec := NewExecutor(fastPolicy(1, Breaker{
		Enabled:          true,
		MinRequests:      2,
		FailureRatio:     0.5,
		OpenTimeout:      50 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	}), nil)

	errDown := errors.New("connection refused")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{RecordFailure: true}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "qdrant.search", func(context.Context) error {
			return errDown
		}, classifier)
		if !errors.Is(err, errDown) {
			t.Fatalf("iteration %d: expected backend error, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "qdrant.search", func(context.Context) error {
		t.Fatalf("open circuit must not reach the backend")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestBreakersIsolatedPerOperation(t *testing.T) {
	exec := NewExecutor(fastPolicy(1, Breaker{
		Enabled:          true,
		MinRequests:      2,
		FailureRatio:     0.5,
		OpenTimeout:      time.Second,
		HalfOpenMaxCalls: 1,
	}), nil)

	classifier := func(error) ErrorClassification {
		return ErrorClassification{RecordFailure: true}
	}
	errDown := errors.New("down")
	for i := 0; i < 3; i++ {
		_ = exec.Execute(context.Background(), "ollama.chat", func(context.Context) error {
			return errDown
		}, classifier)
	}

	err := exec.Execute(context.Background(), "nats.publish", func(context.Context) error {
		return nil
	}, classifier)
	if err != nil {
		t.Fatalf("a dead LLM must not trip the queue breaker, got %v", err)
	}
}

func TestExecuteStopsOnCanceledContext(t *testing.T) {
	exec := NewExecutor(fastPolicy(5, Breaker{}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	errTransient := errors.New("transient")
	err := exec.Execute(ctx, "ollama.chat", func(context.Context) error {
		attempts++
		cancel()
		return errTransient
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected the last attempt error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("cancellation must stop the retry loop, got %d attempts", attempts)
	}
}

func TestPolicyForLongestPrefixWins(t *testing.T) {
	cfg := DefaultConfig()

	got := cfg.policyFor("ollama.chat_stream")
	if got.Retry.MaxAttempts != 2 {
		t.Fatalf("chat_stream should use the generation profile, got %d attempts", got.Retry.MaxAttempts)
	}

	got = cfg.policyFor("ollama.embed")
	if got.Retry.MaxAttempts != 4 {
		t.Fatalf("embed should use the embedding profile, got %d attempts", got.Retry.MaxAttempts)
	}

	got = cfg.policyFor("qdrant.upsert")
	if got.Retry.MaxAttempts != cfg.Default.Retry.MaxAttempts {
		t.Fatalf("unprofiled operation should fall back to the default, got %d attempts", got.Retry.MaxAttempts)
	}
}

func TestPolicyNormalizeFillsZeroValues(t *testing.T) {
	got := (Config{}).policyFor("anything")
	def := DefaultConfig().Default
	if got.Retry.MaxAttempts != def.Retry.MaxAttempts {
		t.Fatalf("zero policy should normalize to defaults, got %d attempts", got.Retry.MaxAttempts)
	}
	if got.Breaker.OpenTimeout != def.Breaker.OpenTimeout {
		t.Fatalf("zero breaker should normalize, got %v", got.Breaker.OpenTimeout)
	}
}
