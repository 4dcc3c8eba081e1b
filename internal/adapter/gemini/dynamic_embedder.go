package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/api/option"

	"vecsync/internal/apperr"
	"vecsync/internal/settings"
)

// DynamicEmbedder reads the API key from settings on every call and rebuilds
// its client when the key changes.
type DynamicEmbedder struct {
	settingsSvc *settings.Service
	opts        Options
	clientOpts  []option.ClientOption

	mu         sync.RWMutex
	embedder   *Embedder
	currentKey string
}

func NewDynamicEmbedder(svc *settings.Service, opts Options, clientOpts ...option.ClientOption) *DynamicEmbedder {
	return &DynamicEmbedder{
		settingsSvc: svc,
		opts:        opts.withDefaults(),
		clientOpts:  clientOpts,
	}
}

func (e *DynamicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb, err := e.current(ctx)
	if err != nil {
		return nil, err
	}
	return emb.Embed(ctx, text)
}

func (e *DynamicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	emb, err := e.current(ctx)
	if err != nil {
		return nil, err
	}
	return emb.EmbedBatch(ctx, texts)
}

func (e *DynamicEmbedder) Dimensions() int     { return e.opts.Dimensions }
func (e *DynamicEmbedder) MaxInputLength() int { return e.opts.MaxInputTokens }

func (e *DynamicEmbedder) current(ctx context.Context) (*Embedder, error) {
	s, err := e.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key not configured", apperr.ErrProvider)
	}
	return e.getEmbedder(ctx, s.GeminiAPIKey)
}

func (e *DynamicEmbedder) getEmbedder(ctx context.Context, key string) (*Embedder, error) {
	e.mu.RLock()
	if e.embedder != nil && e.currentKey == key {
		defer e.mu.RUnlock()
		return e.embedder, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.embedder != nil && e.currentKey == key {
		return e.embedder, nil
	}

	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	emb, err := NewEmbedder(ctx, key, e.opts, e.clientOpts...)
	if err != nil {
		return nil, err
	}

	e.embedder = emb
	e.currentKey = key
	return emb, nil
}
