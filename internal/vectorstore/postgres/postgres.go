package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"synthia/internal/domain"
)

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Queryer is the subset of pgxpool.Pool the store needs.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Storage keeps fragments in a pgvector column and searches with the <=> cosine distance.
type Storage struct {
	q         Queryer
	pool      *pgxpool.Pool
	table     string
	dimension int
}

// Open connects to Postgres and returns a store bound to table.
func Open(ctx context.Context, dsn, table string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := New(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// New wraps an existing connection.
func New(q Queryer, table string) (*Storage, error) {
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Storage{q: q, table: table}, nil
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  namespace TEXT NOT NULL,
  fragment_id TEXT NOT NULL,
  text TEXT NOT NULL,
  source TEXT NOT NULL DEFAULT '',
  embedding vector(%d) NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (namespace, fragment_id)
)`, s.table, dimension),
	}
	for _, stmt := range stmts {
		if _, err := s.q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, namespace string, fragments []domain.Fragment) error {
	for _, f := range fragments {
		if len(f.Vector) != s.dimension {
			return fmt.Errorf("%w: fragment %s has %d values, table expects %d", domain.ErrDimensionMismatch, f.ID, len(f.Vector), s.dimension)
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (namespace, fragment_id, text, source, embedding)
VALUES ($1, $2, $3, $4, $5::vector)
ON CONFLICT (namespace, fragment_id)
DO UPDATE SET
  text = EXCLUDED.text,
  source = EXCLUDED.source,
  embedding = EXCLUDED.embedding`, s.table)
	for _, f := range fragments {
		if _, err := s.q.Exec(ctx, query, namespace, f.ID, f.Text, f.Source, ToLiteral(f.Vector)); err != nil {
			return domain.Classify("upsert fragment "+f.ID, err, nil)
		}
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, namespace string, vector []float64, topK int) ([]domain.Match, error) {
	if topK <= 0 {
		topK = 5
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d values, table expects %d", domain.ErrDimensionMismatch, len(vector), s.dimension)
	}
	query := fmt.Sprintf(`
SELECT fragment_id, text, source, 1 - (embedding <=> $2::vector) AS score
FROM %s
WHERE namespace = $1
ORDER BY embedding <=> $2::vector
LIMIT $3`, s.table)
	rows, err := s.q.Query(ctx, query, namespace, ToLiteral(vector), topK)
	if err != nil {
		return nil, domain.Classify("query vector search", err, nil)
	}
	defer rows.Close()
	results := make([]domain.Match, 0, topK)
	for rows.Next() {
		var m domain.Match
		if err := rows.Scan(&m.ID, &m.Text, &m.Source, &m.Score); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		// <=> against a zero vector yields NaN.
		if math.IsNaN(m.Score) || math.IsInf(m.Score, 0) {
			m.Score = 0
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}

func (s *Storage) Fetch(ctx context.Context, namespace, id string) (domain.Fragment, error) {
	query := fmt.Sprintf(`SELECT text, source, embedding::text FROM %s WHERE namespace = $1 AND fragment_id = $2`, s.table)
	f := domain.Fragment{ID: id}
	var literal string
	err := s.q.QueryRow(ctx, query, namespace, id).Scan(&f.Text, &f.Source, &literal)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Fragment{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Fragment{}, domain.Classify("fetch fragment "+id, err, nil)
	}
	if f.Vector, err = ParseLiteral(literal); err != nil {
		return domain.Fragment{}, fmt.Errorf("fetch fragment %s: %w", id, err)
	}
	return f, nil
}

func (s *Storage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// ToLiteral renders v in pgvector's text format.
func ToLiteral(v []float64) string {
	parts := make([]string, 0, len(v))
	for _, x := range v {
		parts = append(parts, strconv.FormatFloat(x, 'g', -1, 64))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ParseLiteral reads pgvector's text format back into a slice.
func ParseLiteral(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed vector literal %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float64{}, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed vector literal element %q: %w", p, err)
		}
		out[i] = x
	}
	return out, nil
}
