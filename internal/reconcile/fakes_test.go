package reconcile

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"vecsync/internal/source"
)

// fakeEmbedder returns a deterministic 4-dimensional vector per text.
type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	maxTokens int
	failOn    string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.failOn != "" && strings.Contains(t, f.failOn) {
			return nil, errors.New("quota exceeded")
		}
		h := fnv.New64a()
		h.Write([]byte(t))
		sum := h.Sum64()
		vec := make([]float32, 4)
		for d := range vec {
			vec[d] = float32((sum>>(uint(d)*8))&0xff) + 1
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int     { return 4 }
func (f *fakeEmbedder) MaxInputLength() int { return f.maxTokens }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu     sync.Mutex
	docs   map[string]source.Document
	marked map[string]time.Time
	scans  int
}

func newFakeStore(docs ...source.Document) *fakeStore {
	s := &fakeStore{docs: make(map[string]source.Document), marked: make(map[string]time.Time)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, id string) (*source.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *fakeStore) Scan(ctx context.Context, after string, limit int, onlyMissing bool) ([]source.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []source.Document
	for _, id := range ids {
		if id <= after {
			continue
		}
		if _, done := s.marked[id]; onlyMissing && done {
			continue
		}
		out = append(out, s.docs[id])
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs), nil
}

func (s *fakeStore) MarkEmbedded(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked[id] = at
	return nil
}

func (s *fakeStore) isMarked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.marked[id]
	return ok
}

type failureEntry struct {
	docID string
	op    source.Operation
	cause string
}

type fakeFailures struct {
	mu      sync.Mutex
	entries []failureEntry
}

func (f *fakeFailures) Record(ctx context.Context, docID string, op source.Operation, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, failureEntry{docID: docID, op: op, cause: cause.Error()})
	return nil
}

func (f *fakeFailures) Resolve(ctx context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.docID != docID {
			kept = append(kept, e)
		}
	}
	f.entries = kept
	return nil
}

func (f *fakeFailures) list() []failureEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]failureEntry(nil), f.entries...)
}

// scriptedFeed hands out the scripted results in order, then keeps failing.
type scriptedFeed struct {
	mu      sync.Mutex
	results []feedResult
	calls   int
}

type feedResult struct {
	sub *source.ChannelSubscription
	err error
}

func (f *scriptedFeed) Subscribe(ctx context.Context) (source.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return nil, errors.New("change feed failure: connection refused")
	}
	r := f.results[0]
	f.results = f.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.sub, nil
}

func (f *scriptedFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// flappingFeed subscribes successfully but every subscription is already broken.
type flappingFeed struct {
	mu    sync.Mutex
	calls int
}

func (f *flappingFeed) Subscribe(ctx context.Context) (source.Subscription, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	sub := source.NewChannelSubscription(0, nil)
	sub.Fail(errors.New("change feed failure: listener disconnected"))
	return sub, nil
}

func (f *flappingFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
