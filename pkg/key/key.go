// Package key provides small wrapper types that satisfy
// btree.Comparable for the key shapes the rest of the database needs:
// a bare ordered primitive (a table's primary key), and a composite
// (field value, page id) pair (a multi-value secondary index's key). It
// plays the same role the teacher's pkg/entry.Entry played as the fixed
// (int64, int64) pair the B+Tree was hardcoded to, now split out so the
// generic btree.Tree can be instantiated over whatever key shape a
// table or index actually needs.
package key

import (
	"cmp"

	"learnql/pkg/codec"
	"learnql/pkg/fieldvalue"
)

// Ordered wraps any cmp.Ordered primitive so it satisfies
// btree.Comparable[Ordered[T]], for tables whose primary key is a plain
// int64, string, etc.
type Ordered[T cmp.Ordered] struct {
	Value T
}

// Of wraps v as an Ordered key.
func Of[T cmp.Ordered](v T) Ordered[T] { return Ordered[T]{Value: v} }

// CompareTo orders Ordered keys the way their underlying values order.
func (o Ordered[T]) CompareTo(other Ordered[T]) int {
	switch {
	case o.Value < other.Value:
		return -1
	case o.Value > other.Value:
		return 1
	default:
		return 0
	}
}

// EncodeInt64 and friends are EncodeFunc/DecodeFunc pairs for the
// primitive types a table's primary key may use (spec §4.3's supported
// field types).

func EncodeInt64(w *codec.Writer, k Ordered[int64])   { w.WriteInt64(k.Value) }
func DecodeInt64(r *codec.Reader) (Ordered[int64], error) {
	v, err := r.ReadInt64()
	return Ordered[int64]{Value: v}, err
}

func EncodeString(w *codec.Writer, k Ordered[string]) { w.WriteString(k.Value) }
func DecodeString(r *codec.Reader) (Ordered[string], error) {
	v, err := r.ReadString()
	return Ordered[string]{Value: v}, err
}

func EncodeUint64(w *codec.Writer, k Ordered[uint64]) { w.WriteUint64(k.Value) }
func DecodeUint64(r *codec.Reader) (Ordered[uint64], error) {
	v, err := r.ReadUint64()
	return Ordered[uint64]{Value: v}, err
}

func EncodeFloat64(w *codec.Writer, k Ordered[float64]) { w.WriteFloat64(k.Value) }
func DecodeFloat64(r *codec.Reader) (Ordered[float64], error) {
	v, err := r.ReadFloat64()
	return Ordered[float64]{Value: v}, err
}

// Composite is the key of a multi-value secondary index entry: a field
// value paired with the page id of the record that holds it, so that
// many records sharing one field value each get a distinct key (spec
// §4.6).
type Composite struct {
	Value  fieldvalue.Value
	PageID uint64
}

// CompareTo orders Composite keys lexicographically by Value then
// PageID.
func (c Composite) CompareTo(other Composite) int {
	if d := c.Value.CompareTo(other.Value); d != 0 {
		return d
	}
	switch {
	case c.PageID < other.PageID:
		return -1
	case c.PageID > other.PageID:
		return 1
	default:
		return 0
	}
}

// EncodeComposite appends c's wire representation to w.
func EncodeComposite(w *codec.Writer, c Composite) {
	c.Value.EncodeTo(w)
	w.WriteUint64(c.PageID)
}

// DecodeComposite reads a Composite previously written by EncodeComposite.
func DecodeComposite(r *codec.Reader) (Composite, error) {
	v, err := fieldvalue.Decode(r)
	if err != nil {
		return Composite{}, err
	}
	pageID, err := r.ReadUint64()
	if err != nil {
		return Composite{}, err
	}
	return Composite{Value: v, PageID: pageID}, nil
}

// EncodeFieldValue and DecodeFieldValue adapt fieldvalue.Value itself as
// a btree key, for unique secondary indexes.

func EncodeFieldValue(w *codec.Writer, v fieldvalue.Value) { v.EncodeTo(w) }

func DecodeFieldValue(r *codec.Reader) (fieldvalue.Value, error) { return fieldvalue.Decode(r) }
