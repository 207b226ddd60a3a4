package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"synthia/internal/domain"
)

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing; an
// existing collection must already hold vectors of the embedder's size.
// Namespaces share one collection and are separated by a payload filter.
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// PointID maps a namespaced fragment ID onto the UUID Qdrant requires for point ids.
func PointID(namespace, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("synthia:"+namespace+"/"+id)).String()
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, &info)
	if err != nil && status != http.StatusNotFound {
		return err
	}
	if status == http.StatusOK {
		if size := info.Result.Config.Params.Vectors.Size; size != dimension {
			return fmt.Errorf("%w: collection %s stores %d-dimensional vectors, embedder produces %d", domain.ErrDimensionMismatch, s.collection, size, dimension)
		}
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	_, err = s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil)
	return err
}

func (s *Storage) Upsert(ctx context.Context, namespace string, fragments []domain.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	points := make([]map[string]any, len(fragments))
	for i, f := range fragments {
		if len(f.Vector) != s.dimension {
			return fmt.Errorf("%w: fragment %s has %d values, collection expects %d", domain.ErrDimensionMismatch, f.ID, len(f.Vector), s.dimension)
		}
		points[i] = map[string]any{
			"id":     PointID(namespace, f.ID),
			"vector": f.Vector,
			"payload": map[string]any{
				"namespace":   namespace,
				"fragment_id": f.ID,
				"text":        f.Text,
				"source":      f.Source,
			},
		}
	}
	body := map[string]any{"points": points}
	_, err := s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
	return err
}

func (s *Storage) Search(ctx context.Context, namespace string, vector []float64, topK int) ([]domain.Match, error) {
	if topK <= 0 {
		topK = 5
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d values, collection expects %d", domain.ErrDimensionMismatch, len(vector), s.dimension)
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"filter":       namespaceFilter(namespace),
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		m := domain.Match{Score: r.Score}
		m.ID, _ = r.Payload["fragment_id"].(string)
		m.Text, _ = r.Payload["text"].(string)
		m.Source, _ = r.Payload["source"].(string)
		results = append(results, m)
	}
	return results, nil
}

func (s *Storage) Fetch(ctx context.Context, namespace, id string) (domain.Fragment, error) {
	req := map[string]any{
		"ids":          []string{PointID(namespace, id)},
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result []struct {
			Payload map[string]any `json:"payload"`
			Vector  []float64      `json:"vector"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL("/points"), req, &resp); err != nil {
		return domain.Fragment{}, err
	}
	if len(resp.Result) == 0 {
		return domain.Fragment{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	p := resp.Result[0]
	if ns, _ := p.Payload["namespace"].(string); ns != namespace {
		return domain.Fragment{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	f := domain.Fragment{ID: id, Vector: p.Vector}
	f.Text, _ = p.Payload["text"].(string)
	f.Source, _ = p.Payload["source"].(string)
	return f, nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func namespaceFilter(namespace string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "namespace", "match": map[string]any{"value": namespace}},
		},
	}
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

// do sends a JSON request and decodes the response into out when non-nil.
// The returned status is 0 when the request never got a response.
func (s *Storage) do(ctx context.Context, method, url string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("qdrant %s %s: marshal: %w", method, url, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, domain.Classify(fmt.Sprintf("qdrant %s %s", method, url), err, nil)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("qdrant %s %s: decode: %w", method, url, err)
		}
	}
	return resp.StatusCode, nil
}
