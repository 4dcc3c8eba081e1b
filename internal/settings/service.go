package settings

import (
	"context"
	"fmt"

	"vecsync/internal/apperr"
)

// Settings are the runtime-tunable query defaults and provider credentials.
type Settings struct {
	ID              int     `json:"-"`
	GeminiAPIKey    string  `json:"gemini_api_key"`
	SearchTopK      int     `json:"search_top_k"`
	MMRLambda       float64 `json:"mmr_lambda"`
	FetchMultiplier int     `json:"fetch_multiplier"`
}

func (s *Settings) Validate() error {
	if s.SearchTopK < 1 {
		return fmt.Errorf("%w: search_top_k must be at least 1", apperr.ErrInput)
	}
	if s.MMRLambda < 0 || s.MMRLambda > 1 {
		return fmt.Errorf("%w: mmr_lambda must be within [0,1]", apperr.ErrInput)
	}
	if s.FetchMultiplier < 1 {
		return fmt.Errorf("%w: fetch_multiplier must be at least 1", apperr.ErrInput)
	}
	return nil
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}
