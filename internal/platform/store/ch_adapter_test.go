package store

import (
	"context"
	"testing"

	"gedigo/internal/platform/store/ch"
)

// TestInsert_RejectsWrongShape ensures the adapter refuses non batch payloads
// before touching the underlying connection
func TestInsert_RejectsWrongShape(t *testing.T) {
	t.Parallel()

	a := newCHAdapter(&ch.CH{})
	if err := a.Insert(context.Background(), "some_table", struct{}{}); err == nil {
		t.Fatalf("Insert expected shape error, got nil")
	}
}

// TestPing_NilAdapter errors instead of panicking when CH was never opened
func TestPing_NilAdapter(t *testing.T) {
	t.Parallel()

	var a *clickhouseAdapter
	if err := a.Ping(context.Background()); err == nil {
		t.Fatalf("Ping on nil adapter expected error")
	}
}

type fakeChRows struct {
	nexts  int
	closed bool
	err    error
}

func (f *fakeChRows) Next() bool             { f.nexts++; return false }
func (f *fakeChRows) Scan(dest ...any) error { return nil }
func (f *fakeChRows) Err() error             { return f.err }
func (f *fakeChRows) Close() error           { f.closed = true; return nil }
func (f *fakeChRows) Columns() []string      { return []string{"alpha", "beta"} }

// TestRowsAdapter_Delegates verifies Next, Scan, Err, Columns and Close all
// pass through to the wrapped ch.Rows
func TestRowsAdapter_Delegates(t *testing.T) {
	t.Parallel()

	f := &fakeChRows{}
	x := &rowsAdapter{r: f}

	cols := x.Columns()
	if len(cols) != 2 || cols[0] != "alpha" || cols[1] != "beta" {
		t.Fatalf("Columns mismatch: %#v", cols)
	}

	if x.Next() { // fake returns false
		t.Fatalf("Next should be false on fake")
	}
	var v int
	if err := x.Scan(&v); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if x.Err() != nil {
		t.Fatalf("Err should be nil")
	}
	x.Close()
	if !f.closed {
		t.Fatalf("Close did not delegate to underlying Rows")
	}
}
