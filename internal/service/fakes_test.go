package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"synthia/internal/domain"
	"synthia/internal/vectorstore/memory"
)

var concepts = map[string]int{
	"cat": 0, "cats": 0, "kitten": 0, "kittens": 0, "feline": 0, "felines": 0, "purr": 0, "pet": 0, "pets": 0,
	"stock": 1, "stocks": 1, "market": 1, "markets": 1, "shares": 1, "investors": 1, "trading": 1, "fell": 1,
}

// conceptEmbedder maps words onto a feline axis, a finance axis and a weak
// catch-all axis so that ranking tests have real semantics.
type conceptEmbedder struct {
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (e *conceptEmbedder) Name() string   { return "concept" }
func (e *conceptEmbedder) Dimension() int { return 3 }

func (e *conceptEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	e.calls.Add(1)
	if e.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.delay):
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	vec := make([]float64, 3)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'")
		if axis, ok := concepts[w]; ok {
			vec[axis]++
		} else {
			vec[2] += 0.1
		}
	}
	return vec, nil
}

// recordingStore wraps the in-memory store and lets tests inject failures.
type recordingStore struct {
	*memory.Storage
	mu         sync.Mutex
	upserts    int
	fetchErr   map[string]error
	fetchBlock bool
	fetches    atomic.Int32
}

func newRecordingStore(dim int) *recordingStore {
	st := memory.NewStorage()
	_ = st.Init(context.Background(), dim)
	return &recordingStore{Storage: st}
}

func (s *recordingStore) Upsert(ctx context.Context, ns string, fragments []domain.Fragment) error {
	s.mu.Lock()
	s.upserts += len(fragments)
	s.mu.Unlock()
	return s.Storage.Upsert(ctx, ns, fragments)
}

func (s *recordingStore) Fetch(ctx context.Context, ns, id string) (domain.Fragment, error) {
	s.fetches.Add(1)
	if s.fetchBlock {
		<-ctx.Done()
		return domain.Fragment{}, ctx.Err()
	}
	if err, ok := s.fetchErr[id]; ok {
		return domain.Fragment{}, err
	}
	return s.Storage.Fetch(ctx, ns, id)
}

func (s *recordingStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

type staticChunker struct{}

func (staticChunker) Chunk(d domain.Document) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for i, p := range strings.Split(d.Content, "\n\n") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, domain.Chunk{DocumentID: d.ID, Text: strings.TrimSpace(p), Index: i})
	}
	return out, nil
}

type echoSummarizer struct{}

func (echoSummarizer) Summarize(text string, _ int) (string, error) {
	return strings.Join(strings.Fields(text), " "), nil
}

var errProvider = errors.New("provider exploded")
