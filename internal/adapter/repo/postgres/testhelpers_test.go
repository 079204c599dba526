package postgres

import (
	"context"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakePool is a scripted PgxPool. Each Exec pops the next tag/err pair, each
// QueryRow pops the next fakeRow, each Query pops the next fakeRows. Empty
// queues fall back to "UPDATE 1" and pgx.ErrNoRows respectively.
type fakePool struct {
	execSQL  []string
	execArgs [][]any
	execTags []string
	execErrs []error

	querySQL  []string
	rowQueue  []*fakeRow
	rowsQueue []*fakeRows
}

// allSQL returns every statement the pool saw, reads and writes alike.
func (p *fakePool) allSQL() []string {
	return append(append([]string{}, p.execSQL...), p.querySQL...)
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execSQL = append(p.execSQL, sql)
	p.execArgs = append(p.execArgs, args)
	tag := "UPDATE 1"
	if len(p.execTags) > 0 {
		tag = p.execTags[0]
		p.execTags = p.execTags[1:]
	}
	var err error
	if len(p.execErrs) > 0 {
		err = p.execErrs[0]
		p.execErrs = p.execErrs[1:]
	}
	return pgconn.NewCommandTag(tag), err
}

func (p *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.querySQL = append(p.querySQL, sql)
	if len(p.rowQueue) == 0 {
		return &fakeRow{err: pgx.ErrNoRows}
	}
	r := p.rowQueue[0]
	p.rowQueue = p.rowQueue[1:]
	return r
}

func (p *fakePool) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.querySQL = append(p.querySQL, sql)
	if len(p.rowsQueue) == 0 {
		return &fakeRows{}, nil
	}
	r := p.rowsQueue[0]
	p.rowsQueue = p.rowsQueue[1:]
	return r, nil
}

func (p *fakePool) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	return &fakeTx{pool: p}, nil
}

// fakeRow copies its scripted values into the scan destinations.
type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		assign(d, r.vals[i])
	}
	return nil
}

// fakeRows iterates scripted value rows.
type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	vals := r.rows[r.idx-1]
	for i, d := range dest {
		assign(d, vals[i])
	}
	return nil
}

func (r *fakeRows) Values() ([]any, error)  { return nil, nil }
func (r *fakeRows) RawValues() [][]byte     { return nil }
func (r *fakeRows) Conn() *pgx.Conn         { return nil }

// fakeTx forwards statements to the pool so tests see them in one trace.
type fakeTx struct{ pool *fakePool }

func (t *fakeTx) Begin(_ context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(_ context.Context) error          { return nil }
func (t *fakeTx) Rollback(_ context.Context) error        { return nil }
func (t *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                             { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.pool.Exec(ctx, sql, args...)
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.pool.Query(ctx, sql, args...)
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.pool.QueryRow(ctx, sql, args...)
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

func assign(dst, val any) {
	dv := reflect.ValueOf(dst).Elem()
	if val == nil {
		dv.Set(reflect.Zero(dv.Type()))
		return
	}
	v := reflect.ValueOf(val)
	if v.Type().AssignableTo(dv.Type()) {
		dv.Set(v)
		return
	}
	dv.Set(v.Convert(dv.Type()))
}
