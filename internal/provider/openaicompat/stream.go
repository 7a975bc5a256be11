package openaicompat

import (
	"context"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/openlane-dev/freegate/internal/classify"
	"github.com/openlane-dev/freegate/internal/provider"
)

// chunkStream adapts openai-go's ssestream.Stream to provider.ChunkStream.
// The upstream stream already implements the standard SSE contract
// (data: frames, skip comments/blank lines, terminate on [DONE]); this type
// just translates shapes and routes terminal errors through the classifier.
type chunkStream struct {
	stream       *ssestream.Stream[openai.ChatCompletionChunk]
	cancel       context.CancelFunc
	providerName string
	model        string
}

// Next advances the stream. It ignores ctx directly (cancellation was armed
// into the stream's own context at creation) but honors ctx.Err() as a fast
// exit for callers that raced a cancel against a live Next call.
func (c *chunkStream) Next(ctx context.Context) (provider.Chunk, bool, error) {
	if err := ctx.Err(); err != nil {
		return provider.Chunk{}, false, classify.Classify(err, c.providerName, c.model)
	}

	if !c.stream.Next() {
		if err := c.stream.Err(); err != nil {
			return provider.Chunk{}, false, classify.Classify(err, c.providerName, c.model)
		}
		return provider.Chunk{}, false, nil
	}

	return toChunk(c.stream.Current()), true, nil
}

func (c *chunkStream) Close() error {
	defer c.cancel()
	return c.stream.Close()
}

func toChunk(raw openai.ChatCompletionChunk) provider.Chunk {
	chunk := provider.Chunk{ID: raw.ID, Model: raw.Model}

	if len(raw.Choices) == 0 {
		return chunk
	}
	choice := raw.Choices[0]

	chunk.Delta = provider.Delta{Content: choice.Delta.Content}
	if choice.Delta.Role != "" {
		chunk.Delta.Role = provider.Role(choice.Delta.Role)
	}
	for _, tc := range choice.Delta.ToolCalls {
		chunk.Delta.ToolCallFragments = append(chunk.Delta.ToolCallFragments, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	if choice.FinishReason != "" {
		fr := toFinishReason(choice.FinishReason)
		chunk.FinishReason = &fr
	}

	return chunk
}
