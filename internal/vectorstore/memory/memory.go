package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"synthia/internal/domain"
	"synthia/internal/similarity"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu         sync.RWMutex
	dimension  int
	namespaces map[string]map[string]domain.Fragment
}

func NewStorage() *Storage {
	return &Storage{namespaces: make(map[string]map[string]domain.Fragment)}
}

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(_ context.Context, namespace string, fragments []domain.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fragments {
		if len(f.Vector) != s.dimension {
			return fmt.Errorf("%w: fragment %s has %d values, store expects %d", domain.ErrDimensionMismatch, f.ID, len(f.Vector), s.dimension)
		}
	}
	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]domain.Fragment)
		s.namespaces[namespace] = ns
	}
	for _, f := range fragments {
		f.Vector = append([]float64(nil), f.Vector...)
		ns[f.ID] = f
	}
	return nil
}

func (s *Storage) Search(_ context.Context, namespace string, vector []float64, topK int) ([]domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d values, store expects %d", domain.ErrDimensionMismatch, len(vector), s.dimension)
	}
	ns := s.namespaces[namespace]
	results := make([]domain.Match, 0, len(ns))
	for _, f := range ns {
		score, err := similarity.Cosine(vector, f.Vector)
		if err != nil {
			return nil, err
		}
		results = append(results, domain.Match{ID: f.ID, Score: score, Text: f.Text, Source: f.Source})
	}
	// ties broken by id so map iteration order never leaks into results
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

func (s *Storage) Fetch(_ context.Context, namespace, id string) (domain.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.namespaces[namespace][id]
	if !ok {
		return domain.Fragment{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	f.Vector = append([]float64(nil), f.Vector...)
	return f, nil
}

func (s *Storage) Close() error { return nil }
