package llmprovider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/scoutwatch/scoutd/pkg/models"
)

// Embed returns the fixed-dimension embedding vector for text. Callers must
// treat a vector of any other length as a failure, not coerce it.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: c.cfg.EmbeddingModel,
	}

	resp, err := c.openai.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", wrapAPIError(err))
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed: no data returned")
	}

	raw := resp.Data[0].Embedding
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	if len(out) != models.EmbeddingDim {
		return nil, fmt.Errorf("embed: got dimension %d, want %d", len(out), models.EmbeddingDim)
	}
	return out, nil
}
