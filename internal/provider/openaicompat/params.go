package openaicompat

import (
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	"github.com/openlane-dev/freegate/internal/provider"
)

// buildParams translates the adapter-neutral provider.Params into the wire
// shape openai-go expects.
func buildParams(p provider.Params) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    p.UpstreamModel,
		Messages: buildMessages(p.Messages),
	}

	if p.Temperature != nil {
		params.Temperature = openai.Float(*p.Temperature)
	}
	if p.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*p.MaxTokens))
	}
	if p.TopP != nil {
		params.TopP = openai.Float(*p.TopP)
	}
	if p.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*p.PresencePenalty)
	}
	if p.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*p.FrequencyPenalty)
	}
	if len(p.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: p.Stop}
	}
	if p.ResponseFormat != nil && p.ResponseFormat.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	if len(p.Tools) > 0 {
		params.Tools = buildTools(p.Tools)
	}

	return params
}

func buildMessages(msgs []provider.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		text := m.Content
		if text == "" {
			text = joinTextParts(m.Parts)
		}

		switch m.Role {
		case provider.RoleSystem:
			out = append(out, openai.SystemMessage(text))
		case provider.RoleAssistant:
			out = append(out, openai.AssistantMessage(text))
		case provider.RoleTool:
			out = append(out, openai.ToolMessage(text, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}

// joinTextParts concatenates the text fragments of a multi-part message.
// Non-text parts (image/audio/video/file) are forwarded via the richer
// content-part union in a future iteration; today's adapters only need the
// supportsImage capability gate to have fired upstream in the Router before
// a request with non-text parts reaches here.
func joinTextParts(parts []provider.ContentPart) string {
	var out string
	for _, p := range parts {
		if p.Type == provider.ContentText {
			out += p.Text
		}
	}
	return out
}

func buildTools(tools []provider.Tool) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  shared.FunctionParameters(t.Parameters),
		}))
	}
	return out
}
