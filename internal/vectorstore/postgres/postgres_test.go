package postgres

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthia/internal/domain"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		*(d.(*string)) = r.values[i].(string)
	}
	return nil
}

// fakeRows serves search results as (id, text, source, score) tuples.
type fakeRows struct {
	results [][]any
	pos     int
	closed  bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.results[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.results) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.results[r.pos-1]
	for i := 0; i < 3; i++ {
		*(dest[i].(*string)) = row[i].(string)
	}
	*(dest[3].(*float64)) = row[3].(float64)
	return nil
}

type fakeQueryer struct {
	execs []string
	args  [][]any
	row   fakeRow
	rows  *fakeRows
}

func (f *fakeQueryer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	f.args = append(f.args, args)
	return pgconn.CommandTag{}, nil
}

func (f *fakeQueryer) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	if f.rows == nil {
		return nil, errors.New("not implemented")
	}
	f.execs = append(f.execs, sql)
	f.args = append(f.args, args)
	return f.rows, nil
}

func (f *fakeQueryer) QueryRow(context.Context, string, ...any) pgx.Row { return f.row }

func TestLiteralRoundTrip(t *testing.T) {
	v := []float64{0.25, -1, 3.5e-7}
	lit := ToLiteral(v)
	assert.Equal(t, "[0.25,-1,3.5e-07]", lit)
	back, err := ParseLiteral(lit)
	require.NoError(t, err)
	assert.Equal(t, v, back)
}

func TestParseLiteralRejectsGarbage(t *testing.T) {
	_, err := ParseLiteral("0.1,0.2")
	assert.Error(t, err)
	_, err = ParseLiteral("[0.1,abc]")
	assert.Error(t, err)
}

func TestNewRejectsUnsafeTableName(t *testing.T) {
	_, err := New(&fakeQueryer{}, "fragments; DROP TABLE x")
	assert.Error(t, err)
}

func TestInitCreatesTable(t *testing.T) {
	q := &fakeQueryer{}
	s, err := New(q, "fragments")
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background(), 3))
	require.Len(t, q.execs, 2)
	assert.Contains(t, q.execs[1], "vector(3)")
	assert.Contains(t, q.execs[1], "PRIMARY KEY (namespace, fragment_id)")
}

func TestUpsertWritesLiteral(t *testing.T) {
	q := &fakeQueryer{}
	s, err := New(q, "fragments")
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background(), 2))
	q.execs, q.args = nil, nil

	require.NoError(t, s.Upsert(context.Background(), "ns", []domain.Fragment{{ID: "a", Text: "t", Vector: []float64{1, 0}}}))
	require.Len(t, q.execs, 1)
	assert.True(t, strings.Contains(q.execs[0], "ON CONFLICT"))
	assert.Equal(t, []any{"ns", "a", "t", "", "[1,0]"}, q.args[0])

	err = s.Upsert(context.Background(), "ns", []domain.Fragment{{ID: "b", Vector: []float64{1}}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestFetch(t *testing.T) {
	q := &fakeQueryer{row: fakeRow{values: []any{"cats", "a.txt", "[0.6,0.8]"}}}
	s, err := New(q, "fragments")
	require.NoError(t, err)

	f, err := s.Fetch(context.Background(), "ns", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.Fragment{ID: "a", Text: "cats", Source: "a.txt", Vector: []float64{0.6, 0.8}}, f)
}

func TestFetchNotFound(t *testing.T) {
	q := &fakeQueryer{row: fakeRow{err: pgx.ErrNoRows}}
	s, err := New(q, "fragments")
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), "ns", "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSearchMapsUndefinedScoresToZero(t *testing.T) {
	rows := &fakeRows{results: [][]any{
		{"a", "cats", "a.txt", 0.9},
		{"z", "", "", math.NaN()},
	}}
	q := &fakeQueryer{rows: rows}
	s, err := New(q, "fragments")
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background(), 2))
	q.execs, q.args = nil, nil

	matches, err := s.Search(context.Background(), "ns", []float64{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, domain.Match{ID: "a", Text: "cats", Source: "a.txt", Score: 0.9}, matches[0])
	assert.Equal(t, "z", matches[1].ID)
	assert.Zero(t, matches[1].Score)
	assert.True(t, rows.closed)
	assert.Equal(t, []any{"ns", "[1,0]", 3}, q.args[0])
}
