package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/llms"

	"github.com/documind/ragserver/models"
)

// CompletionRequest is one grounded chat completion. History carries prior
// turns oldest first; Prompt is the current user message.
type CompletionRequest struct {
	System      string
	History     []models.ConversationTurn
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// LLM produces chat completions. Implementations retry transient provider
// failures and report exhaustion as a models.ProviderError.
type LLM interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// LLMOptions carries the retry and timeout tunables shared by the chat
// adapters.
type LLMOptions struct {
	Provider    string
	MaxRetries  int
	BackoffBase time.Duration
	Timeout     time.Duration
}

// ChatLLM adapts a langchaingo chat model (OpenAI or Ollama) to the LLM
// interface.
type ChatLLM struct {
	model      llms.Model
	provider   string
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration
}

func NewChatLLM(model llms.Model, opts LLMOptions) *ChatLLM {
	return &ChatLLM{
		model:      model,
		provider:   opts.Provider,
		maxRetries: opts.MaxRetries,
		backoff:    opts.BackoffBase,
		timeout:    opts.Timeout,
	}
}

func (c *ChatLLM) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]llms.MessageContent, 0, 2+2*len(req.History))
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, turn := range req.History {
		if turn.Question != "" {
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, turn.Question))
		}
		if turn.Answer != "" {
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, turn.Answer))
		}
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	callOpts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}

	var (
		answer   string
		attempts int
	)
	backoff := retry.WithMaxRetries(uint64(c.maxRetries),
		retry.WithCappedDuration(retryCap, retry.NewExponential(c.backoff)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		resp, err := c.model.GenerateContent(callCtx, messages, callOpts...)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Printf("SERVICE: %s completion attempt %d failed: %v", c.provider, attempts, err)
			return retry.RetryableError(err)
		}
		if len(resp.Choices) == 0 {
			log.Printf("SERVICE: %s completion attempt %d returned no choices", c.provider, attempts)
			return retry.RetryableError(errors.New("provider returned no choices"))
		}
		answer = resp.Choices[0].Content
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &models.ProviderError{Provider: c.provider, Attempts: attempts, Err: err}
	}
	return strings.TrimSpace(answer), nil
}
