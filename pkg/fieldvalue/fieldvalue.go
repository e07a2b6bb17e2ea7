// Package fieldvalue implements the dynamically-typed, totally-ordered
// value used as the key of every secondary index (spec §3, §4.6): a
// record's field value lifted out of its static Go type so that unique
// and multi-value indexes can hold a B+Tree keyed on "whatever type field
// F happens to be." It plays the same generalizing role the teacher's
// pkg/entry.Entry plays for a single fixed (int64, int64) pair, widened
// to the field types spec §4.3's codec supports.
package fieldvalue

import (
	"fmt"

	"learnql/pkg/codec"
)

// Kind identifies which branch of Value is populated.
type Kind uint8

const (
	KindInt64 Kind = iota
	KindFloat64
	KindString
	KindBool
)

// Value is a field's value, tagged with its Kind so it can be compared,
// ordered, and serialized without the caller needing to know the static
// Go type of the field it came from.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
}

func Int64(v int64) Value     { return Value{kind: KindInt64, i: v} }
func Float64(v float64) Value { return Value{kind: KindFloat64, f: v} }
func String(v string) Value   { return Value{kind: KindString, s: v} }
func Bool(v bool) Value       { return Value{kind: KindBool, b: v} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) Int64() int64     { return v.i }
func (v Value) Float64() float64 { return v.f }
func (v Value) String() string {
	switch v.kind {
	case KindInt64:
		return fmt.Sprintf("%d", v.i)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	default:
		return v.s
	}
}
func (v Value) Bool() bool { return v.b }

// CompareTo returns -1, 0, or 1 as v is less than, equal to, or greater
// than other. Values must share a Kind; field values compared this way
// always come from the same field, so this invariant holds by construction
// (the predicate DSL and index layers never mix kinds for one field).
func (v Value) CompareTo(other Value) int {
	if v.kind != other.kind {
		// Stable, total fallback ordering across kinds; never exercised
		// for values drawn from the same field, but keeps CompareTo total.
		if v.kind < other.kind {
			return -1
		}
		return 1
	}
	switch v.kind {
	case KindInt64:
		return cmpInt64(v.i, other.i)
	case KindFloat64:
		return cmpFloat64(v.f, other.f)
	case KindString:
		return cmpString(v.s, other.s)
	case KindBool:
		return cmpBool(v.b, other.b)
	default:
		return 0
	}
}

// Equal reports whether v and other compare equal.
func (v Value) Equal(other Value) bool {
	return v.CompareTo(other) == 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a && b {
		return -1
	}
	return 1
}

// EncodeTo appends v's wire representation (a kind byte followed by its
// payload) to w.
func (v Value) EncodeTo(w *codec.Writer) {
	w.WriteUint8(uint8(v.kind))
	switch v.kind {
	case KindInt64:
		w.WriteInt64(v.i)
	case KindFloat64:
		w.WriteFloat64(v.f)
	case KindString:
		w.WriteString(v.s)
	case KindBool:
		w.WriteBool(v.b)
	}
}

// Decode reads a Value previously written by EncodeTo.
func Decode(r *codec.Reader) (Value, error) {
	k, err := r.ReadUint8()
	if err != nil {
		return Value{}, err
	}
	switch Kind(k) {
	case KindInt64:
		i, err := r.ReadInt64()
		return Int64(i), err
	case KindFloat64:
		f, err := r.ReadFloat64()
		return Float64(f), err
	case KindString:
		s, err := r.ReadString()
		return String(s), err
	case KindBool:
		b, err := r.ReadBool()
		return Bool(b), err
	default:
		return Value{}, fmt.Errorf("fieldvalue: unknown kind %d", k)
	}
}
