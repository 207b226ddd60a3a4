package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"synthia/internal/domain"
	"synthia/internal/extract"
	"synthia/internal/similarity"
)

// Options tunes the fragment service.
type Options struct {
	Namespace           string
	FetchConcurrency    int
	CallTimeout         time.Duration
	SummaryMaxSentences int
}

// FragmentServiceImpl uploads, searches and scores fragments against a
// single namespace of the configured vector store.
type FragmentServiceImpl struct {
	chunker    domain.Chunker
	embedder   domain.Embedder
	store      domain.VectorStore
	summarizer domain.Summarizer
	opts       Options
}

var _ domain.FragmentService = (*FragmentServiceImpl)(nil)

func NewFragmentService(chunker domain.Chunker, embedder domain.Embedder, store domain.VectorStore, summarizer domain.Summarizer, opts Options) *FragmentServiceImpl {
	if opts.Namespace == "" {
		opts.Namespace = "mcp-namespace"
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 8
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.SummaryMaxSentences <= 0 {
		opts.SummaryMaxSentences = 5
	}
	return &FragmentServiceImpl{chunker: chunker, embedder: embedder, store: store, summarizer: summarizer, opts: opts}
}

func (s *FragmentServiceImpl) Namespace() string { return s.opts.Namespace }

// NormalizeText trims text and collapses every whitespace run to one space.
// Case is preserved.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// FragmentID is the hex form of the first 16 bytes of SHA-256 over the
// normalized text.
func FragmentID(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:16])
}

// Upload embeds text and stores it under its content-derived ID.
func (s *FragmentServiceImpl) Upload(ctx context.Context, text string) (string, error) {
	return s.upload(ctx, text, "")
}

func (s *FragmentServiceImpl) upload(ctx context.Context, text, source string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("upload: %w: empty text", domain.ErrInvalidInput)
	}
	id := FragmentID(text)
	vec, err := s.embed(ctx, "upload: embed fragment", text)
	if err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	frag := domain.Fragment{ID: id, Text: text, Source: source, Vector: vec}
	if err := s.store.Upsert(callCtx, s.opts.Namespace, []domain.Fragment{frag}); err != nil {
		return "", domain.Classify("upload: upsert fragment "+id, err, nil)
	}
	return id, nil
}

// Query returns the store's nearest fragments for prompt, in store order.
func (s *FragmentServiceImpl) Query(ctx context.Context, prompt string, topK int) ([]domain.Match, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("query: %w: empty prompt", domain.ErrInvalidInput)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("query: %w: top_k must be positive, got %d", domain.ErrInvalidInput, topK)
	}
	vec, err := s.embed(ctx, "query: embed prompt", prompt)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	matches, err := s.store.Search(callCtx, s.opts.Namespace, vec, topK)
	if err != nil {
		return nil, domain.Classify("query: search", err, nil)
	}
	return matches, nil
}

// Score returns the cosine similarity of every listed fragment against
// paper. Fragments are fetched concurrently and the first failure aborts
// the whole call.
func (s *FragmentServiceImpl) Score(ctx context.Context, paper string, fragmentIDs []string) (domain.Contribution, error) {
	if strings.TrimSpace(paper) == "" {
		return nil, fmt.Errorf("score: %w: empty paper", domain.ErrInvalidInput)
	}
	ids := make([]string, 0, len(fragmentIDs))
	seen := make(map[string]struct{}, len(fragmentIDs))
	for _, id := range fragmentIDs {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("score: %w: blank fragment id", domain.ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return domain.Contribution{}, nil
	}

	fragments := make([]domain.Fragment, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.FetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, s.opts.CallTimeout)
			defer cancel()
			f, err := s.store.Fetch(callCtx, s.opts.Namespace, id)
			if err != nil {
				return domain.Classify("score: fetch fragment "+id, err, nil)
			}
			fragments[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	paperVec, err := s.embed(ctx, "score: embed paper", paper)
	if err != nil {
		return nil, err
	}
	out := make(domain.Contribution, len(ids))
	for i, f := range fragments {
		score, err := similarity.Cosine(paperVec, f.Vector)
		if err != nil {
			return nil, fmt.Errorf("score: fragment %s: %w", ids[i], err)
		}
		out[ids[i]] = score
	}
	return out, nil
}

// IngestDocuments extracts, chunks and uploads every supported file matched
// by paths, then summarizes the ingested text.
func (s *FragmentServiceImpl) IngestDocuments(ctx context.Context, paths []string) (domain.IngestReport, error) {
	var documents []domain.Document
	for _, p := range paths {
		matches, err := filepath.Glob(p)
		if err != nil {
			return domain.IngestReport{}, fmt.Errorf("ingest: %w: bad pattern %q", domain.ErrInvalidInput, p)
		}
		if matches == nil {
			if strings.ContainsAny(p, "*?[") {
				continue
			}
			matches = []string{p}
		}
		for _, m := range matches {
			if !extract.Supported(m) {
				continue
			}
			text, err := extract.Text(m)
			if err != nil {
				return domain.IngestReport{}, fmt.Errorf("ingest: %w", err)
			}
			documents = append(documents, domain.Document{ID: hashPath(m), Path: m, Content: text})
		}
	}
	if len(documents) == 0 {
		return domain.IngestReport{}, fmt.Errorf("ingest: %w: no .txt, .md or .pdf documents found", domain.ErrInvalidInput)
	}

	report := domain.IngestReport{Documents: len(documents)}
	uploaded := map[string]struct{}{}
	var corpus strings.Builder
	for _, d := range documents {
		chunks, err := s.chunker.Chunk(d)
		if err != nil {
			return domain.IngestReport{}, fmt.Errorf("ingest: chunk %s: %w", d.Path, err)
		}
		for _, ch := range chunks {
			id, err := s.upload(ctx, ch.Text, d.Path)
			if err != nil {
				return domain.IngestReport{}, fmt.Errorf("ingest %s: %w", d.Path, err)
			}
			if _, dup := uploaded[id]; dup {
				continue
			}
			uploaded[id] = struct{}{}
			report.FragmentIDs = append(report.FragmentIDs, id)
		}
		corpus.WriteString(d.Content)
		corpus.WriteString("\n\n")
	}
	summary, err := s.summarizer.Summarize(corpus.String(), s.opts.SummaryMaxSentences)
	if err != nil {
		return domain.IngestReport{}, fmt.Errorf("ingest: summarize: %w", err)
	}
	report.Summary = summary
	return report, nil
}

func (s *FragmentServiceImpl) embed(ctx context.Context, op, text string) ([]float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	vec, err := s.embedder.Embed(callCtx, text)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrDependencyTimeout) {
			return nil, fmt.Errorf("%s: %w: %v", op, domain.ErrDependencyTimeout, err)
		}
		return nil, domain.Classify(op, err, domain.ErrEmbeddingUnavailable)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%s: %w: provider returned an empty vector", op, domain.ErrEmbeddingUnavailable)
	}
	return vec, nil
}

func hashPath(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:8])
}
