package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"vecsync/internal/apperr"
)

const (
	DefaultModel          = "gemini-embedding-001"
	DefaultDimensions     = 3072
	DefaultMaxInputTokens = 2048

	// maxBatch is the per-request limit of batchEmbedContents.
	maxBatch = 100
)

type Options struct {
	Model          string
	Dimensions     int
	MaxInputTokens int
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.Dimensions <= 0 {
		o.Dimensions = DefaultDimensions
	}
	if o.MaxInputTokens <= 0 {
		o.MaxInputTokens = DefaultMaxInputTokens
	}
	return o
}

// Embedder is an embedding.Provider backed by the Gemini embedding API.
type Embedder struct {
	client *genai.Client
	opts   Options
}

func NewEmbedder(ctx context.Context, apiKey string, opts Options, clientOpts ...option.ClientOption) (*Embedder, error) {
	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, clientOpts...)
	client, err := genai.NewClient(ctx, all...)
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, opts: opts.withDefaults()}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.opts.Model, "length", len(text))
	em := e.client.EmbeddingModel(e.opts.Model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, fmt.Errorf("%w: embed: %w", apperr.ErrProvider, err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding received", apperr.ErrProvider)
	}
	return res.Embedding.Values, nil
}

// EmbedBatch embeds texts in order, splitting them into requests of at most
// one hundred inputs.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.opts.Model)
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		slog.DebugContext(ctx, "embedding batch", "model", e.opts.Model, "size", end-start)
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			slog.ErrorContext(ctx, "batch embedding failed", "error", err, "size", end-start)
			return nil, fmt.Errorf("%w: batch embed: %w", apperr.ErrProvider, err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", apperr.ErrProvider, len(res.Embeddings), end-start)
		}
		for _, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("%w: empty embedding received", apperr.ErrProvider)
			}
			out = append(out, emb.Values)
		}
	}
	return out, nil
}

func (e *Embedder) Dimensions() int     { return e.opts.Dimensions }
func (e *Embedder) MaxInputLength() int { return e.opts.MaxInputTokens }

func (e *Embedder) Close() error {
	return e.client.Close()
}
