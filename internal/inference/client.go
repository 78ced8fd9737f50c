// Package inference is the fallback event parser backed by a local Ollama
// model. It is only consulted when pattern matching is not confident enough.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"smart-event-relay/internal/config"
	"smart-event-relay/internal/failure"
	"smart-event-relay/internal/parser"
)

var (
	// ErrUnavailable means the endpoint could not be reached or timed out
	ErrUnavailable = errors.New("inference unavailable")
	// ErrMalformed means the endpoint answered with something that is not an event
	ErrMalformed = errors.New("inference response malformed")
)

// Client infers an event candidate from a message
type Client interface {
	Infer(ctx context.Context, msg parser.Message) (parser.Candidate, error)
}

// OllamaClient implements Client with a local Ollama model
type OllamaClient struct {
	llm      llms.Model
	prompt   *template.Template
	timeout  time.Duration
	limiter  *rate.Limiter
	location *time.Location
}

// NewOllamaClient creates an Ollama-backed inference client
func NewOllamaClient(cfg config.InferenceConfig, loc *time.Location) (*OllamaClient, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
		ollama.WithFormat("json"),
		ollama.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}

	prompt, err := loadPrompt(cfg.PromptFile)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return newClient(llm, prompt, cfg.Timeout, rate.NewLimiter(limit, burst), loc), nil
}

func newClient(llm llms.Model, prompt *template.Template, timeout time.Duration, limiter *rate.Limiter, loc *time.Location) *OllamaClient {
	if loc == nil {
		loc = time.UTC
	}
	return &OllamaClient{
		llm:      llm,
		prompt:   prompt,
		timeout:  timeout,
		limiter:  limiter,
		location: loc,
	}
}

// Infer asks the model for the event in msg. Connection failures and
// timeouts are transient and wrap ErrUnavailable; unusable output is a
// parse failure wrapping ErrMalformed. The call is never retried here.
func (c *OllamaClient) Infer(ctx context.Context, msg parser.Message) (parser.Candidate, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return parser.Candidate{}, failure.Transient(fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err))
	}

	prompt, err := renderPrompt(c.prompt, msg, c.location)
	if err != nil {
		return parser.Candidate{}, failure.Permanent(err)
	}

	started := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, llms.WithTemperature(0.1))
	if err != nil {
		return parser.Candidate{}, failure.Transient(fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	logrus.WithField("duration", time.Since(started)).Debug("Inference response received")

	candidate, err := ParseResponse(out, msg, c.location)
	if err != nil {
		return parser.Candidate{}, failure.Parse(fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	return candidate, nil
}
