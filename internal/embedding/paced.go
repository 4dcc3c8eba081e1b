package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"vecsync/internal/apperr"
)

const (
	DefaultBatchSize = 32
	DefaultDelay     = 100 * time.Millisecond
)

// Paced sends capped-size batches to the wrapped provider and spaces
// consecutive provider calls at least Delay apart.
type Paced struct {
	inner     Provider
	batchSize int
	limiter   *rate.Limiter
}

func NewPaced(inner Provider, batchSize int, delay time.Duration) *Paced {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Paced{inner: inner, batchSize: batchSize, limiter: rate.NewLimiter(limit, 1)}
}

func (p *Paced) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, wrapProvider(err)
	}
	return vec, nil
}

func (p *Paced) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		slog.DebugContext(ctx, "embedding batch", "offset", start, "size", end-start, "total", len(texts))
		vecs, err := p.inner.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, wrapProvider(err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: provider returned %d vectors for %d inputs", apperr.ErrProvider, len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *Paced) Dimensions() int     { return p.inner.Dimensions() }
func (p *Paced) MaxInputLength() int { return p.inner.MaxInputLength() }

func wrapProvider(err error) error {
	if apperr.IsProvider(err) || apperr.IsInput(err) {
		return err
	}
	return fmt.Errorf("%w: %w", apperr.ErrProvider, err)
}
