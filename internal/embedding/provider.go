package embedding

import "context"

// Provider turns text into vectors. EmbedBatch preserves input order and
// returns an empty result for empty input. A failed batch fails as a whole.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// MaxInputLength is the largest accepted input, in estimated tokens.
	MaxInputLength() int
}
