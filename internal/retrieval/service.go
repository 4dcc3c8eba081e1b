// Package retrieval answers similarity queries: embed, over-fetch from the
// index, then rerank down to top-K.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vecsync/internal/apperr"
	"vecsync/internal/embedding"
	"vecsync/internal/rerank"
	"vecsync/internal/settings"
	"vecsync/internal/vector"
)

const (
	ModeMMR       = "mmr"
	ModeDiversity = "diversity"
	ModeNone      = "none"
)

// Query is a search request. Exactly one of Text or Vector is used; Vector
// wins when both are set. With neither MMR nor Diversity the configured
// default lambda applies unless NoRerank is set.
type Query struct {
	Text           string             `json:"text,omitempty"`
	Vector         []float32          `json:"vector,omitempty"`
	TopK           int                `json:"top_k,omitempty"`
	Filter         *vector.Filter     `json:"filter,omitempty"`
	MMR            *rerank.MMROptions `json:"mmr,omitempty"`
	Diversity      *float64           `json:"diversity,omitempty"`
	NoRerank       bool               `json:"no_rerank,omitempty"`
	ScoreThreshold *float32           `json:"score_threshold,omitempty"`
}

func (q Query) Validate() error {
	if q.Text == "" && len(q.Vector) == 0 {
		return fmt.Errorf("%w: query text or vector is required", apperr.ErrInput)
	}
	if q.TopK < 1 {
		return fmt.Errorf("%w: top_k must be at least 1", apperr.ErrInput)
	}
	if q.MMR != nil && q.Diversity != nil {
		return fmt.Errorf("%w: mmr and diversity are mutually exclusive", apperr.ErrInput)
	}
	if q.MMR != nil {
		if err := q.MMR.Validate(); err != nil {
			return err
		}
	}
	if q.Diversity != nil {
		if err := rerank.ValidateDiversityWeight(*q.Diversity); err != nil {
			return err
		}
	}
	if q.ScoreThreshold != nil && (*q.ScoreThreshold < -1 || *q.ScoreThreshold > 1) {
		return fmt.Errorf("%w: score_threshold must be within [-1,1]", apperr.ErrInput)
	}
	return q.Filter.Validate()
}

type Result struct {
	ID          string         `json:"id"`
	DocumentID  string         `json:"documentId"`
	Content     string         `json:"content,omitempty"`
	Rank        int            `json:"rank"`
	Score       float64        `json:"score"`
	RerankScore float64        `json:"rerankScore"`
	Payload     map[string]any `json:"payload,omitempty"`
}

type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

type Service struct {
	embedder embedding.Provider
	index    vector.Index
	settings SettingsReader
	logger   *QueryLogger
}

func NewService(e embedding.Provider, idx vector.Index, set SettingsReader, l *QueryLogger) *Service {
	return &Service{embedder: e, index: idx, settings: set, logger: l}
}

func (s *Service) defaults(ctx context.Context) settings.Settings {
	fallback := settings.Settings{SearchTopK: 10, MMRLambda: 0.7, FetchMultiplier: 4}
	if s.settings == nil {
		return fallback
	}
	cfg, err := s.settings.Get(ctx)
	if err != nil || cfg == nil {
		slog.WarnContext(ctx, "failed to load search settings, using defaults", "error", err)
		return fallback
	}
	if cfg.Validate() != nil {
		return fallback
	}
	return *cfg
}

func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	start := time.Now()
	cfg := s.defaults(ctx)
	if q.TopK == 0 {
		q.TopK = cfg.SearchTopK
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	mode := ModeMMR
	mmr := rerank.MMROptions{Lambda: cfg.MMRLambda}
	switch {
	case q.NoRerank:
		mode = ModeNone
	case q.Diversity != nil:
		mode = ModeDiversity
	case q.MMR != nil:
		mmr = *q.MMR
	}

	vec := q.Vector
	if len(vec) == 0 {
		var err error
		vec, err = s.embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, providerErr("embed query", err)
		}
	}

	limit := q.TopK
	if mode != ModeNone {
		limit = q.TopK * cfg.FetchMultiplier
		if mode == ModeMMR && mmr.FetchCount > limit {
			limit = mmr.FetchCount
		}
	}

	cands, err := s.index.Search(ctx, vector.SearchRequest{
		Vector:         vec,
		Limit:          limit,
		Filter:         q.Filter,
		WithPayload:    true,
		WithVector:     mode != ModeNone,
		ScoreThreshold: q.ScoreThreshold,
	})
	if err != nil {
		return nil, providerErr("search index", err)
	}

	var ranked []rerank.Ranked
	switch mode {
	case ModeNone:
		ranked = plain(cands, q.TopK)
	case ModeDiversity:
		ranked = rerank.ApplyDiversity(cands, *q.Diversity, q.TopK)
	default:
		ranked = rerank.ApplyMMR(cands, vec, mmr, q.TopK)
	}

	results := make([]Result, len(ranked))
	for i, r := range ranked {
		content, _ := r.Point.Payload[vector.PayloadContent].(string)
		docID, _ := r.Point.Payload[vector.PayloadDocID].(string)
		results[i] = Result{
			ID:          r.Point.ID,
			DocumentID:  docID,
			Content:     content,
			Rank:        r.Rank,
			Score:       r.OriginalScore,
			RerankScore: r.MMRScore,
			Payload:     r.Point.Payload,
		}
	}

	if s.logger != nil {
		s.logger.Log(ctx, QueryLogEntry{
			Query:      q.Text,
			Mode:       mode,
			TopK:       q.TopK,
			Candidates: len(cands),
			NumResults: len(results),
			Duration:   time.Since(start),
		})
	}
	return results, nil
}

func plain(cands []vector.ScoredPoint, topK int) []rerank.Ranked {
	n := min(topK, len(cands))
	out := make([]rerank.Ranked, n)
	for i := 0; i < n; i++ {
		out[i] = rerank.Ranked{Point: cands[i], Rank: i, OriginalScore: float64(cands[i].Score), MMRScore: float64(cands[i].Score)}
	}
	return out
}

func providerErr(op string, err error) error {
	if apperr.IsInput(err) || apperr.IsProvider(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrProvider, err)
}
