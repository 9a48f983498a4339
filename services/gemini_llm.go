package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"

	"github.com/documind/ragserver/models"
)

// GeminiLLM adapts the Gemini SDK to the LLM interface. Every completion
// runs as a fresh chat session seeded with the caller's history, so the
// adapter itself stays stateless.
type GeminiLLM struct {
	client     *genai.Client
	model      string
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration
}

func NewGeminiLLM(client *genai.Client, model string, opts LLMOptions) *GeminiLLM {
	return &GeminiLLM{
		client:     client,
		model:      model,
		maxRetries: opts.MaxRetries,
		backoff:    opts.BackoffBase,
		timeout:    opts.Timeout,
	}
}

func (g *GeminiLLM) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		if contents := genai.Text(req.System); len(contents) > 0 {
			cfg.SystemInstruction = contents[0]
		}
	}
	temp := float32(req.Temperature)
	cfg.Temperature = &temp
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	history := make([]*genai.Content, 0, 2*len(req.History))
	for _, turn := range req.History {
		if turn.Question != "" {
			history = append(history, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: turn.Question}},
			})
		}
		if turn.Answer != "" {
			history = append(history, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: turn.Answer}},
			})
		}
	}

	var (
		answer   string
		attempts int
	)
	backoff := retry.WithMaxRetries(uint64(g.maxRetries),
		retry.WithCappedDuration(retryCap, retry.NewExponential(g.backoff)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		session, err := g.client.Chats.Create(callCtx, g.model, cfg, history)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Printf("SERVICE: gemini completion attempt %d failed: %v", attempts, err)
			return retry.RetryableError(err)
		}
		result, err := session.SendMessage(callCtx, genai.Part{Text: req.Prompt})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Printf("SERVICE: gemini completion attempt %d failed: %v", attempts, err)
			return retry.RetryableError(err)
		}
		if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
			log.Printf("SERVICE: gemini completion attempt %d returned no candidates", attempts)
			return retry.RetryableError(errors.New("gemini returned no candidates"))
		}
		var sb strings.Builder
		for _, part := range result.Candidates[0].Content.Parts {
			if part.Text != "" {
				sb.WriteString(part.Text)
			}
		}
		answer = sb.String()
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &models.ProviderError{Provider: "gemini", Attempts: attempts, Err: err}
	}
	return strings.TrimSpace(answer), nil
}
