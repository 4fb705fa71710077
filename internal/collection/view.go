package collection

import (
	"fmt"

	"github.com/hyperjump/utsushi/internal/store"
	"github.com/hyperjump/utsushi/internal/vector"
)

// View is read access to a consistent store and index pair. It is valid only inside the callback it was passed to.
type View struct {
	store *store.Store
	index vector.Index
}

// Len returns the number of records. It always equals the index size.
func (v View) Len() int {
	return v.store.Len()
}

// IndexSize returns the number of vectors in the index.
func (v View) IndexSize() int {
	return v.index.Size()
}

// RecordAt returns the record at an index position.
func (v View) RecordAt(pos int) (store.Record, bool) {
	return v.store.RecordAt(pos)
}

// Lookup returns the record with the given id.
func (v View) Lookup(id string) (store.Record, bool) {
	pos, ok := v.store.Position(id)
	if !ok {
		return store.Record{}, false
	}
	return v.store.RecordAt(pos)
}

// Records returns the records in index order.
func (v View) Records() []store.Record {
	return v.store.Records()
}

// Query runs a nearest-neighbor query. Use vector.NoRadius to disable the radius filter.
func (v View) Query(query []float32, k int, radius float64) ([]vector.Hit, error) {
	return v.index.Query(query, k, radius)
}

// Txn stages records for a WithWrite commit.
type Txn struct {
	dim    int
	view   View
	staged []store.Record
	ids    map[string]struct{}
}

// View returns read access to the committed state.
func (t *Txn) View() View {
	return t.view
}

// Append stages rec. Nothing is visible to readers until the commit succeeds.
func (t *Txn) Append(rec store.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is empty")
	}
	if len(rec.Vector) != t.dim {
		return fmt.Errorf("%w: record %s has %d values, collection expects %d", store.ErrDimensionMismatch, rec.ID, len(rec.Vector), t.dim)
	}
	if t.ids == nil {
		t.ids = make(map[string]struct{})
	}
	_, staged := t.ids[rec.ID]
	if _, committed := t.view.store.Position(rec.ID); staged || committed {
		return fmt.Errorf("%w: %s", store.ErrDuplicateID, rec.ID)
	}
	t.ids[rec.ID] = struct{}{}
	t.staged = append(t.staged, rec)
	return nil
}

// Len returns the number of staged records.
func (t *Txn) Len() int {
	return len(t.staged)
}
