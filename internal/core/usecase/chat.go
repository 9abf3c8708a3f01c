package usecase

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/wenda-project/wenda/internal/config"
	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
)

// ChatCaller wraps the generation backend with bounded retries and
// templated disclaimers. It never returns an error to callers: on
// exhaustion the result is disclaimer text matching the answer mode,
// or the caller-supplied fallback when one is given.
type ChatCaller struct {
	backend   ports.ChatBackend
	cfg       config.Chat
	templates config.Templates
	logger    *slog.Logger

	sleep func(context.Context, time.Duration)
}

func NewChatCaller(backend ports.ChatBackend, cfg config.Chat, templates config.Templates, logger *slog.Logger) *ChatCaller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}
	if cfg.BackoffBaseMillis <= 0 {
		cfg.BackoffBaseMillis = 500
	}
	if cfg.BackoffCapMillis <= 0 {
		cfg.BackoffCapMillis = 4000
	}
	return &ChatCaller{
		backend:   backend,
		cfg:       cfg,
		templates: templates,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Call runs the chat with retries. mode selects the timeout disclaimer
// flavor ("doc" vs anything else); fallback, when non-empty, replaces
// any templated disclaimer.
func (c *ChatCaller) Call(ctx context.Context, messages []domain.ChatMessage, mode domain.ResponseMode, fallback string) string {
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(ctx, c.backoff(attempt))
			if ctx.Err() != nil {
				break
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSeconds)*time.Second)
		content, err := c.backend.Chat(attemptCtx, messages)
		cancel()
		if err == nil {
			if attempt > 0 {
				c.logger.Info("retry_recovered", "attempt", attempt+1)
			}
			return content
		}

		lastErr = err
		c.logger.Warn("chat_attempt_failed", "attempt", attempt+1, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	return c.disclaimer(mode, lastErr, fallback)
}

// Stream runs a streaming chat once per attempt. Chunks of a failed
// attempt may already have been delivered, so retries only happen when
// nothing was emitted yet; once anything was, the partial text is the
// answer and no disclaimer is appended.
func (c *ChatCaller) Stream(ctx context.Context, messages []domain.ChatMessage, mode domain.ResponseMode, fallback string, onChunk func(string) error) string {
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(ctx, c.backoff(attempt))
			if ctx.Err() != nil {
				break
			}
		}

		var buf []byte
		emitted := false
		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSeconds)*time.Second)
		err := c.backend.ChatStream(attemptCtx, messages, func(chunk string) error {
			emitted = true
			buf = append(buf, chunk...)
			return onChunk(chunk)
		})
		cancel()
		if err == nil {
			if attempt > 0 {
				c.logger.Info("retry_recovered", "attempt", attempt+1)
			}
			return string(buf)
		}

		lastErr = err
		c.logger.Warn("chat_stream_attempt_failed", "attempt", attempt+1, "error", err)
		if emitted {
			// Chunks already reached the client; appending a disclaimer
			// now would read as part of the answer.
			c.logger.Warn("chat_stream_partial", "emitted_bytes", len(buf), "error", err)
			return string(buf)
		}
		if ctx.Err() != nil {
			break
		}
	}

	text := c.disclaimer(mode, lastErr, fallback)
	_ = onChunk(text)
	return text
}

func (c *ChatCaller) backoff(attempt int) time.Duration {
	base := time.Duration(c.cfg.BackoffBaseMillis) * time.Millisecond
	limit := time.Duration(c.cfg.BackoffCapMillis) * time.Millisecond
	window := base << uint(attempt)
	jittered := time.Duration(rand.Int63n(int64(window) + 1))
	if jittered > limit {
		return limit
	}
	return jittered
}

func (c *ChatCaller) disclaimer(mode domain.ResponseMode, lastErr error, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if isTimeout(lastErr) {
		if mode == domain.ResponseDoc {
			return c.templates.DocTimeoutDisclaimer
		}
		return c.templates.GeneralTimeoutDisclaimer
	}
	return c.templates.BackendErrorDisclaimer
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return domain.IsKind(err, domain.ErrTimeout)
}
