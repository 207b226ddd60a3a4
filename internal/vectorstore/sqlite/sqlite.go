package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"synthia/internal/domain"
	"synthia/internal/similarity"
)

// Storage keeps fragments in a SQLite table and ranks them with brute-force cosine.
type Storage struct {
	db        *sqlx.DB
	dimension int
}

type fragmentRow struct {
	ID     string `db:"fragment_id"`
	Text   string `db:"text"`
	Source string `db:"source"`
	Vector string `db:"vector"`
}

// Open connects to the SQLite database at path and creates the schema.
func Open(path string) (*Storage, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	// one writer at a time; sqlite locks the whole file anyway
	db.SetMaxOpenConns(1)
	s := &Storage{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return s, nil
}

func (s *Storage) initSchema() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS fragments (
			namespace TEXT NOT NULL,
			fragment_id TEXT NOT NULL,
			text TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			vector TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (namespace, fragment_id)
		)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	var stored []int
	if err := s.db.SelectContext(ctx, &stored, `SELECT DISTINCT dimension FROM fragments`); err != nil {
		return fmt.Errorf("inspect stored dimensions: %w", err)
	}
	for _, d := range stored {
		if d != dimension {
			return fmt.Errorf("%w: database holds %d-dimensional vectors, embedder produces %d", domain.ErrDimensionMismatch, d, dimension)
		}
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, namespace string, fragments []domain.Fragment) error {
	for _, f := range fragments {
		if len(f.Vector) != s.dimension {
			return fmt.Errorf("%w: fragment %s has %d values, store expects %d", domain.ErrDimensionMismatch, f.ID, len(f.Vector), s.dimension)
		}
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, f := range fragments {
		vec, err := json.Marshal(f.Vector)
		if err != nil {
			return fmt.Errorf("encode vector %s: %w", f.ID, err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO fragments (namespace, fragment_id, text, source, vector, dimension)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(namespace, fragment_id) DO UPDATE SET
  text = excluded.text,
  source = excluded.source,
  vector = excluded.vector,
  dimension = excluded.dimension`,
			namespace, f.ID, f.Text, f.Source, string(vec), len(f.Vector))
		if err != nil {
			return fmt.Errorf("upsert fragment %s: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Storage) Search(ctx context.Context, namespace string, vector []float64, topK int) ([]domain.Match, error) {
	if topK <= 0 {
		topK = 5
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d values, store expects %d", domain.ErrDimensionMismatch, len(vector), s.dimension)
	}
	var rows []fragmentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT fragment_id, text, source, vector FROM fragments WHERE namespace = ?`, namespace); err != nil {
		return nil, fmt.Errorf("load namespace %s: %w", namespace, err)
	}
	results := make([]domain.Match, 0, len(rows))
	for _, r := range rows {
		var v []float64
		if err := json.Unmarshal([]byte(r.Vector), &v); err != nil {
			return nil, fmt.Errorf("decode vector %s: %w", r.ID, err)
		}
		score, err := similarity.Cosine(vector, v)
		if err != nil {
			return nil, err
		}
		results = append(results, domain.Match{ID: r.ID, Score: score, Text: r.Text, Source: r.Source})
	}
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

func (s *Storage) Fetch(ctx context.Context, namespace, id string) (domain.Fragment, error) {
	var r fragmentRow
	err := s.db.GetContext(ctx, &r, `SELECT fragment_id, text, source, vector FROM fragments WHERE namespace = ? AND fragment_id = ?`, namespace, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Fragment{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Fragment{}, fmt.Errorf("fetch fragment %s: %w", id, err)
	}
	f := domain.Fragment{ID: r.ID, Text: r.Text, Source: r.Source}
	if err := json.Unmarshal([]byte(r.Vector), &f.Vector); err != nil {
		return domain.Fragment{}, fmt.Errorf("decode vector %s: %w", id, err)
	}
	return f, nil
}

func (s *Storage) Close() error { return s.db.Close() }
