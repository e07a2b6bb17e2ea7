// Package index implements the two secondary-index flavors every table
// maintains on top of the generic B+Tree: a unique index keyed directly
// on a field's value, and a multi-value index keyed on (field value,
// owning page id) so several records may share a value (spec §4.6).
// Both wrap btree.Tree the way the teacher's pkg/database/index.go
// wraps a BTreeIndex, generalized from a fixed int64 field to any
// fieldvalue.Value and from one index per table to one index per
// (table, field).
package index

import (
	"errors"
	"fmt"

	"learnql/pkg/btree"
	"learnql/pkg/codec"
	"learnql/pkg/dberr"
	"learnql/pkg/fieldvalue"
	"learnql/pkg/key"
	"learnql/pkg/record"
	"learnql/pkg/storage"
)

// FieldAccessor extracts the indexed field's value out of a record.
type FieldAccessor[R any] func(r R) fieldvalue.Value

// Index is the interface a Table holds a list of, one per attached
// secondary index. It matches the trait spec §9 describes for
// secondary-index heterogeneity (insert_record/remove_record/
// update_record/flush/root_page/field_name/is_unique).
type Index[R any] interface {
	Insert(r R, rid record.Id) (bool, error)
	Remove(r R, rid record.Id) (bool, error)
	Update(old, new R, rid record.Id) (bool, error)
	Flush() error
	RootPageID() uint64
	FieldName() string
	IsUnique() bool
}

func encodeRecordId(w *codec.Writer, id record.Id) { id.EncodeTo(w) }

func decodeRecordId(r *codec.Reader) (record.Id, error) { return record.Decode(r) }

// Unique is a secondary index that rejects a second record sharing the
// same field value.
type Unique[R any] struct {
	fieldName string
	accessor  FieldAccessor[R]
	tree      *btree.Tree[fieldvalue.Value, record.Id]
}

// OpenUnique opens (or creates, if rootPageID is 0) a unique index on the
// field accessed by accessor.
func OpenUnique[R any](engine *storage.Engine, rootPageID uint64, fieldName string, accessor FieldAccessor[R]) (*Unique[R], error) {
	tree, err := btree.Open(engine, rootPageID,
		key.EncodeFieldValue, key.DecodeFieldValue,
		encodeRecordId, decodeRecordId,
	)
	if err != nil {
		return nil, err
	}
	return &Unique[R]{fieldName: fieldName, accessor: accessor, tree: tree}, nil
}

func (ix *Unique[R]) FieldName() string  { return ix.fieldName }
func (ix *Unique[R]) IsUnique() bool     { return true }
func (ix *Unique[R]) RootPageID() uint64 { return ix.tree.RootPageID() }
func (ix *Unique[R]) Flush() error       { return ix.tree.Flush() }

// Tree exposes the underlying B+Tree for structural operations (page
// sweeps) that the index trait itself does not need.
func (ix *Unique[R]) Tree() *btree.Tree[fieldvalue.Value, record.Id] { return ix.tree }

// Insert adds r's field value -> rid, returning false without writing if
// the field value is already indexed.
func (ix *Unique[R]) Insert(r R, rid record.Id) (bool, error) {
	v := ix.accessor(r)
	if err := ix.tree.Insert(v, rid); err != nil {
		if errors.Is(err, dberr.DuplicateKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remove erases r's field value from the index.
func (ix *Unique[R]) Remove(r R, rid record.Id) (bool, error) {
	return ix.RemoveByValue(ix.accessor(r))
}

// RemoveByValue erases v's entry from the index directly.
func (ix *Unique[R]) RemoveByValue(v fieldvalue.Value) (bool, error) {
	return ix.tree.Remove(v)
}

// Find returns the RecordId indexed under v.
func (ix *Unique[R]) Find(v fieldvalue.Value) (record.Id, bool, error) {
	return ix.tree.Find(v)
}

// Range returns the RecordIds for field values in [lo, hi], inclusive of
// both ends.
func (ix *Unique[R]) Range(lo, hi fieldvalue.Value) ([]record.Id, error) {
	pairs, err := ix.tree.Range(lo, hi)
	if err != nil {
		return nil, err
	}
	out := make([]record.Id, len(pairs))
	for i, p := range pairs {
		out[i] = p.Value
	}
	return out, nil
}

// Update moves rid's index entry from old's field value to new's, a
// no-op if the field value is unchanged. Failure to remove the old entry
// leaves the index out of sync with the table (spec §4.6), reported as
// dberr.IndexOutOfSync.
func (ix *Unique[R]) Update(old, new R, rid record.Id) (bool, error) {
	oldVal, newVal := ix.accessor(old), ix.accessor(new)
	if oldVal.Equal(newVal) {
		return true, nil
	}
	removed, err := ix.RemoveByValue(oldVal)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, fmt.Errorf("index %s: stale entry for old value: %w", ix.fieldName, dberr.IndexOutOfSync)
	}
	return ix.Insert(new, rid)
}

// MultiValue is a secondary index allowing several records to share one
// field value, keyed by (field value, owning page id).
type MultiValue[R any] struct {
	fieldName string
	accessor  FieldAccessor[R]
	tree      *btree.Tree[key.Composite, record.Id]
}

// OpenMultiValue opens (or creates) a multi-value index on the field
// accessed by accessor.
func OpenMultiValue[R any](engine *storage.Engine, rootPageID uint64, fieldName string, accessor FieldAccessor[R]) (*MultiValue[R], error) {
	tree, err := btree.Open(engine, rootPageID,
		key.EncodeComposite, key.DecodeComposite,
		encodeRecordId, decodeRecordId,
	)
	if err != nil {
		return nil, err
	}
	return &MultiValue[R]{fieldName: fieldName, accessor: accessor, tree: tree}, nil
}

func (ix *MultiValue[R]) FieldName() string  { return ix.fieldName }
func (ix *MultiValue[R]) IsUnique() bool     { return false }
func (ix *MultiValue[R]) RootPageID() uint64 { return ix.tree.RootPageID() }
func (ix *MultiValue[R]) Flush() error       { return ix.tree.Flush() }

// Tree exposes the underlying B+Tree for structural operations (page
// sweeps) that the index trait itself does not need.
func (ix *MultiValue[R]) Tree() *btree.Tree[key.Composite, record.Id] { return ix.tree }

// Insert always succeeds: (field value, rid.PageID) is distinct per
// record by construction.
func (ix *MultiValue[R]) Insert(r R, rid record.Id) (bool, error) {
	k := key.Composite{Value: ix.accessor(r), PageID: rid.PageID}
	if err := ix.tree.Insert(k, rid); err != nil {
		return false, err
	}
	return true, nil
}

// Remove erases the exact composite key for r and rid.
func (ix *MultiValue[R]) Remove(r R, rid record.Id) (bool, error) {
	k := key.Composite{Value: ix.accessor(r), PageID: rid.PageID}
	return ix.tree.Remove(k)
}

// Update removes the entry keyed by old's field value and inserts one
// keyed by new's.
func (ix *MultiValue[R]) Update(old, new R, rid record.Id) (bool, error) {
	if _, err := ix.Remove(old, rid); err != nil {
		return false, err
	}
	return ix.Insert(new, rid)
}

// Find returns every RecordId indexed under v.
func (ix *MultiValue[R]) Find(v fieldvalue.Value) ([]record.Id, error) {
	lo := key.Composite{Value: v, PageID: 0}
	hi := key.Composite{Value: v, PageID: ^uint64(0)}
	pairs, err := ix.tree.Range(lo, hi)
	if err != nil {
		return nil, err
	}
	out := make([]record.Id, len(pairs))
	for i, p := range pairs {
		out[i] = p.Value
	}
	return out, nil
}

// Count returns the number of records indexed under v.
func (ix *MultiValue[R]) Count(v fieldvalue.Value) (int, error) {
	rids, err := ix.Find(v)
	return len(rids), err
}

// UniqueValues returns the distinct field values present in the index,
// found by walking all entries in key order and de-duplicating adjacent
// leading field values.
func (ix *MultiValue[R]) UniqueValues() ([]fieldvalue.Value, error) {
	pairs, err := ix.tree.All()
	if err != nil {
		return nil, err
	}
	var out []fieldvalue.Value
	for _, p := range pairs {
		if len(out) == 0 || !out[len(out)-1].Equal(p.Key.Value) {
			out = append(out, p.Key.Value)
		}
	}
	return out, nil
}
