// Package httpapi is the thin HTTP-layer collaborator: it translates
// OpenAI-compatible JSON requests into internal/router.Request values and
// routing outcomes back into OpenAI-shaped JSON or SSE frames. It holds no
// routing logic of its own.
package httpapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openlane-dev/freegate/internal/catalog"
	"github.com/openlane-dev/freegate/internal/provider"
	"github.com/openlane-dev/freegate/internal/router"
	"github.com/openlane-dev/freegate/internal/selector"
)

// chatMessage is the wire shape of one message: content is either a plain
// string or an array of typed parts.
type chatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

// chatRequest is the body accepted by POST /api/v1/chat/completions.
type chatRequest struct {
	Messages []chatMessage   `json:"messages"`
	Model    json.RawMessage `json:"model,omitempty"` // string | []string | omitted

	Tags               []string `json:"tags,omitempty"`
	Type               string   `json:"type,omitempty"`
	MinContextSize     int      `json:"min_context_size,omitempty"`
	MinMaxOutputTokens int      `json:"min_max_output_tokens,omitempty"`
	JSONResponse       bool     `json:"json_response,omitempty"`
	PreferFast         bool     `json:"prefer_fast,omitempty"`
	MinSuccessRate     float64  `json:"min_success_rate,omitempty"`
	SelectionMode      string   `json:"selection_mode,omitempty"`
	SupportsImage      bool     `json:"supports_image,omitempty"`
	SupportsVideo      bool     `json:"supports_video,omitempty"`
	SupportsAudio      bool     `json:"supports_audio,omitempty"`
	SupportsFile       bool     `json:"supports_file,omitempty"`
	SupportsTools      bool     `json:"supports_tools,omitempty"`

	MaxModelSwitches    *int    `json:"max_model_switches,omitempty"`
	MaxSameModelRetries *int    `json:"max_same_model_retries,omitempty"`
	RetryDelayMs        *int    `json:"retry_delay,omitempty"`
	TimeoutSecs         *int    `json:"timeout_secs,omitempty"`
	FallbackProvider    string  `json:"fallback_provider,omitempty"`
	FallbackModel       string  `json:"fallback_model,omitempty"`

	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	Stream           bool     `json:"stream,omitempty"`
}

// toMessages converts the wire messages into provider.Message, accepting
// either a bare string or an array of typed content parts per message.
func (r chatRequest) toMessages() ([]provider.Message, error) {
	out := make([]provider.Message, 0, len(r.Messages))
	for i, m := range r.Messages {
		msg := provider.Message{Role: provider.Role(m.Role), ToolCallID: m.ToolCallID, Name: m.Name}

		var asString string
		if err := json.Unmarshal(m.Content, &asString); err == nil {
			msg.Content = asString
			out = append(out, msg)
			continue
		}

		var parts []struct {
			Type     string `json:"type"`
			Text     string `json:"text,omitempty"`
			ImageURL struct {
				URL string `json:"url"`
			} `json:"image_url,omitempty"`
		}
		if err := json.Unmarshal(m.Content, &parts); err != nil {
			return nil, fmt.Errorf("message %d: content must be a string or typed-part array: %w", i, err)
		}
		for _, p := range parts {
			switch p.Type {
			case "text":
				msg.Parts = append(msg.Parts, provider.ContentPart{Type: provider.ContentText, Text: p.Text})
			case "image_url":
				msg.Parts = append(msg.Parts, provider.ContentPart{Type: provider.ContentImage, URL: p.ImageURL.URL})
			default:
				msg.Parts = append(msg.Parts, provider.ContentPart{Type: provider.ContentPartType(p.Type)})
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

// toReferences parses the `model` field, which may be a bare string, an
// array of strings, or absent — the only field besides tags/type/etc that
// drives priority-list parsing.
func (r chatRequest) toReferences() ([]selector.ModelReference, bool, error) {
	if len(r.Model) == 0 {
		return nil, true, nil
	}

	var single string
	if err := json.Unmarshal(r.Model, &single); err == nil {
		refs, auto := selector.ParseModelField([]string{single})
		return refs, auto, nil
	}

	var many []string
	if err := json.Unmarshal(r.Model, &many); err == nil {
		refs, auto := selector.ParseModelField(many)
		return refs, auto, nil
	}

	return nil, false, fmt.Errorf("model must be a string or an array of strings")
}

func (r chatRequest) toCriteria() (selector.Criteria, error) {
	refs, autoFallback, err := r.toReferences()
	if err != nil {
		return selector.Criteria{}, err
	}

	mode := selector.ModeWeightedRandom
	switch r.SelectionMode {
	case "best":
		mode = selector.ModeBest
	case "top_n_random":
		mode = selector.ModeTopNRandom
	case "", "weighted_random":
		mode = selector.ModeWeightedRandom
	default:
		return selector.Criteria{}, fmt.Errorf("selection_mode %q is not one of best|top_n_random|weighted_random", r.SelectionMode)
	}

	return selector.Criteria{
		References:        refs,
		AllowAutoFallback: autoFallback,
		Mode:              mode,
		MinSuccessRate:    r.MinSuccessRate,
		PreferFast:        r.PreferFast,
		Filter: catalog.FilterCriteria{
			Tags:               r.Tags,
			Type:               catalog.ModelType(r.Type),
			MinContextSize:     r.MinContextSize,
			MinMaxOutputTokens: r.MinMaxOutputTokens,
			JSONResponse:       r.JSONResponse,
			SupportsImage:      r.SupportsImage,
			SupportsVideo:      r.SupportsVideo,
			SupportsAudio:      r.SupportsAudio,
			SupportsFile:       r.SupportsFile,
			SupportsTools:      r.SupportsTools,
		},
	}, nil
}

// toRouterRequest assembles the full router.Request, layering per-request
// overrides over the caller-supplied defaults.
func (r chatRequest) toRouterRequest(defaults router.Options) (router.Request, error) {
	messages, err := r.toMessages()
	if err != nil {
		return router.Request{}, err
	}
	criteria, err := r.toCriteria()
	if err != nil {
		return router.Request{}, err
	}

	opts := defaults
	if r.MaxModelSwitches != nil {
		opts.MaxModelSwitches = r.MaxModelSwitches
	}
	if r.MaxSameModelRetries != nil {
		opts.MaxSameModelRetries = r.MaxSameModelRetries
	}
	if r.RetryDelayMs != nil {
		opts.RetryDelay = time.Duration(*r.RetryDelayMs) * time.Millisecond
	}
	if r.TimeoutSecs != nil {
		opts.Timeout = time.Duration(*r.TimeoutSecs) * time.Second
	}
	if r.FallbackProvider != "" || r.FallbackModel != "" {
		opts.Fallback.Enabled = true
		opts.Fallback.Provider = r.FallbackProvider
		opts.Fallback.Model = r.FallbackModel
	}

	return router.Request{
		Messages:     messages,
		Criteria:     criteria,
		Options:      opts,
		Stream:       r.Stream,
		RequestsJSON: r.JSONResponse,
		RawModelKnobs: provider.Params{
			Temperature:      r.Temperature,
			MaxTokens:        r.MaxTokens,
			TopP:             r.TopP,
			PresencePenalty:  r.PresencePenalty,
			FrequencyPenalty: r.FrequencyPenalty,
			Stop:             r.Stop,
		},
	}, nil
}

// chatChoice/chatResponse mirror the OpenAI chat-completion response shape,
// with the routing decision attached under `_router`.
type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Model   string              `json:"model"`
	Choices []chatChoice        `json:"choices"`
	Usage   provider.Usage      `json:"usage"`
	Router  router.AttemptMeta  `json:"_router"`
}

func toChatResponse(result *router.Result) chatResponse {
	content := ""
	if result.Completion.Content != nil {
		content = *result.Completion.Content
	}
	raw, _ := json.Marshal(content)

	return chatResponse{
		ID:     result.Completion.ID,
		Object: "chat.completion",
		Model:  result.Meta.ModelName,
		Choices: []chatChoice{{
			Index:        0,
			FinishReason: string(result.Completion.FinishReason),
			Message: chatMessage{
				Role:    string(provider.RoleAssistant),
				Content: raw,
			},
		}},
		Usage:  result.Completion.Usage,
		Router: result.Meta,
	}
}

// errorBody is the JSON error envelope for AllModelsFailed/Validation/etc,
//
type errorBody struct {
	Error struct {
		Message string                 `json:"message"`
		Kind    string                 `json:"kind"`
		Router  *router.AttemptMeta    `json:"_router,omitempty"`
	} `json:"error"`
}
