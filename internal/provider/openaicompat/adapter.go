// Package openaicompat implements the Provider Adapter (C8) for any upstream
// that speaks the OpenAI chat-completions wire protocol, using
// github.com/openai/openai-go/v3 for the actual HTTP/SSE plumbing.
//
// A per-provider github.com/sony/gobreaker/v2 guard wraps the raw transport
// as a belt-and-suspenders fast-fail (tripping on repeated 429s, 5xx
// responses and transport errors; other 4xx responses do not count), in
// the same spirit as the load-balancer this package descends from. It is
// deliberately distinct from the model-level, store-backed Circuit Breaker
// in internal/breaker: that one implements the four-state, distributed
// admission gate; this one just protects a single provider's transport
// from hammering a dead endpoint.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/openlane-dev/freegate/internal/classify"
	"github.com/openlane-dev/freegate/internal/provider"
	"github.com/openlane-dev/freegate/internal/routeerr"
)

// DefaultCBSettings mirrors the load-balancer's original defaults: trip
// after 3 consecutive failures, half-open after 30s.
func DefaultCBSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

// Adapter implements provider.Adapter against one upstream OpenAI-compatible
// endpoint.
type Adapter struct {
	name   string
	client openai.Client
	cb     *gobreaker.CircuitBreaker[*openai.ChatCompletion]
	logger *zap.Logger
}

// Config configures one upstream endpoint.
type Config struct {
	Name       string
	APIKey     string
	BaseURL    string
	CBSettings *gobreaker.Settings // nil uses DefaultCBSettings(Name)
}

// New constructs an Adapter for one upstream provider.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	settings := DefaultCBSettings(cfg.Name)
	if cfg.CBSettings != nil {
		settings = *cfg.CBSettings
	}

	return &Adapter{
		name:   cfg.Name,
		client: client,
		cb:     gobreaker.NewCircuitBreaker[*openai.ChatCompletion](settings),
		logger: logger.With(zap.String("component", "provider"), zap.String("provider", cfg.Name)),
	}
}

// Name returns the provider's configured name, used for logging, health
// keys, and classified-error attribution.
func (a *Adapter) Name() string { return a.name }

// ChatCompletion issues one buffered request. Failures that isClientFault
// reports as the caller's fault do not count against the provider-level
// breaker; every error (breaker-tripped or not) is translated through the Error
// Classifier before it reaches the Router.
func (a *Adapter) ChatCompletion(ctx context.Context, params provider.Params) (*provider.Result, error) {
	ctx, cancel := withAttemptTimeout(ctx, params.Timeout)
	defer cancel()

	wireParams := buildParams(params)

	resp, err := a.cb.Execute(func() (*openai.ChatCompletion, error) {
		resp, reqErr := a.client.Chat.Completions.New(ctx, wireParams)
		if reqErr != nil {
			if isClientFault(reqErr) {
				// Don't trip the transport breaker over the caller's own
				// bad request; gobreaker/v2 only counts the error return,
				// so swallow it here and re-issue outside Execute.
				return nil, nil
			}
			return nil, reqErr
		}
		return resp, nil
	})
	if err != nil {
		return nil, classify.Classify(err, a.name, params.UpstreamModel)
	}
	if resp == nil {
		// A swallowed client-fault: re-run once outside the breaker to
		// recover the original error for classification.
		resp, err = a.client.Chat.Completions.New(ctx, wireParams)
		if err != nil {
			return nil, classify.Classify(err, a.name, params.UpstreamModel)
		}
	}

	return toResult(resp), nil
}

// ChatCompletionStream issues one streaming request and returns a
// ChunkStream adapting the upstream SSE sequence.
func (a *Adapter) ChatCompletionStream(ctx context.Context, params provider.Params) (provider.ChunkStream, error) {
	ctx, cancel := withAttemptTimeout(ctx, params.Timeout)

	if a.cb.State() == gobreaker.StateOpen {
		cancel()
		return nil, classify.Classify(fmt.Errorf("provider %s: transport circuit open", a.name), a.name, params.UpstreamModel)
	}

	wireParams := buildParams(params)
	stream := a.client.Chat.Completions.NewStreaming(ctx, wireParams)

	return &chunkStream{stream: stream, cancel: cancel, providerName: a.name, model: params.UpstreamModel}, nil
}

func withAttemptTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// isClientFault mirrors the load-balancer's isFatalError, inverted: true
// means the failure is the caller's fault (4xx other than 429) and should
// not trip the transport breaker.
func isClientFault(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429
	}
	return false
}

func toResult(resp *openai.ChatCompletion) *provider.Result {
	if len(resp.Choices) == 0 {
		return &provider.Result{ID: resp.ID, Model: resp.Model, FinishReason: provider.FinishStop}
	}

	choice := resp.Choices[0]
	result := &provider.Result{
		ID:           resp.ID,
		Model:        resp.Model,
		FinishReason: toFinishReason(string(choice.FinishReason)),
		Usage: provider.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}

	if choice.Message.Content != "" {
		content := choice.Message.Content
		result.Content = &content
	}

	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return result
}

func toFinishReason(raw string) provider.FinishReason {
	switch raw {
	case "length":
		return provider.FinishLength
	case "content_filter":
		return provider.FinishContentFilter
	case "tool_calls", "function_call":
		return provider.FinishToolCalls
	default:
		return provider.FinishStop
	}
}
