package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"vecsync/internal/apperr"
)

// MemoryIndex is a brute-force in-process Index. It backs local runs and tests.
type MemoryIndex struct {
	mu         sync.RWMutex
	dimensions int
	points     map[string]Point
	order      []string
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]Point)}
}

func (m *MemoryIndex) EnsureCollection(ctx context.Context, createIfMissing bool) (bool, error) {
	return true, nil
}

func (m *MemoryIndex) Upsert(ctx context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range points {
		dims := m.dimensions
		if dims == 0 {
			dims = len(p.Vector)
		}
		if len(p.Vector) != dims {
			return fmt.Errorf("%w: vector dimension mismatch: got %d, expected %d", apperr.ErrInput, len(p.Vector), dims)
		}
	}
	for _, p := range points {
		if m.dimensions == 0 {
			m.dimensions = len(p.Vector)
		}
		if _, exists := m.points[p.ID]; !exists {
			m.order = append(m.order, p.ID)
		}
		m.points[p.ID] = clonePoint(p)
	}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, req SearchRequest) ([]ScoredPoint, error) {
	if err := req.Filter.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]ScoredPoint, 0, len(m.order))
	for _, id := range m.order {
		p := m.points[id]
		if !req.Filter.Matches(p.Payload) {
			continue
		}
		score := float32(CosineSimilarity(req.Vector, p.Vector))
		if req.ScoreThreshold != nil && score < *req.ScoreThreshold {
			continue
		}
		hit := ScoredPoint{ID: p.ID, Score: score}
		if req.WithPayload {
			hit.Payload = p.Payload
		}
		if req.WithVector {
			hit.Vector = p.Vector
		}
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if req.Limit > 0 && len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	return hits, nil
}

func (m *MemoryIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	m.compact()
	return nil
}

func (m *MemoryIndex) DeleteByFilter(ctx context.Context, filter *Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	if filter.IsEmpty() {
		return fmt.Errorf("%w: refusing to delete with an empty filter", apperr.ErrInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if filter.Matches(p.Payload) {
			delete(m.points, id)
		}
	}
	m.compact()
	return nil
}

func (m *MemoryIndex) DeleteByDocID(ctx context.Context, docID string) error {
	return m.DeleteByFilter(ctx, DocIDFilter(docID))
}

func (m *MemoryIndex) HealthCheck(ctx context.Context) (bool, error) {
	return true, nil
}

func (m *MemoryIndex) CountPoints(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points), nil
}

// Points returns a copy of every stored point in insertion order.
func (m *MemoryIndex) Points() []Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Point, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, clonePoint(m.points[id]))
	}
	return out
}

func (m *MemoryIndex) compact() {
	kept := m.order[:0]
	for _, id := range m.order {
		if _, ok := m.points[id]; ok {
			kept = append(kept, id)
		}
	}
	m.order = kept
	if len(m.points) == 0 {
		m.dimensions = 0
	}
}

func clonePoint(p Point) Point {
	vec := make([]float32, len(p.Vector))
	copy(vec, p.Vector)
	payload := make(map[string]any, len(p.Payload))
	for k, v := range p.Payload {
		payload[k] = v
	}
	return Point{ID: p.ID, Vector: vec, Payload: payload}
}
