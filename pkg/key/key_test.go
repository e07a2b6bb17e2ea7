package key_test

import (
	"testing"

	"learnql/pkg/codec"
	"learnql/pkg/fieldvalue"
	"learnql/pkg/key"
)

func TestOrderedCompareTo(t *testing.T) {
	if key.Of(1).CompareTo(key.Of(2)) >= 0 {
		t.Errorf("expected 1 < 2")
	}
	if key.Of("b").CompareTo(key.Of("a")) <= 0 {
		t.Errorf("expected \"b\" > \"a\"")
	}
	if key.Of(7).CompareTo(key.Of(7)) != 0 {
		t.Errorf("expected equal values to compare 0")
	}
}

func TestOrderedEncodeDecodeRoundTrip(t *testing.T) {
	w := codec.NewWriter(0)
	key.EncodeInt64(w, key.Of(int64(-9)))
	got, err := key.DecodeInt64(codec.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("DecodeInt64: %v", err)
	}
	if got.Value != -9 {
		t.Errorf("got %d, want -9", got.Value)
	}
}

func TestCompositeOrdering(t *testing.T) {
	a := key.Composite{Value: fieldvalue.Int64(1), PageID: 5}
	b := key.Composite{Value: fieldvalue.Int64(1), PageID: 9}
	c := key.Composite{Value: fieldvalue.Int64(2), PageID: 1}

	if a.CompareTo(b) >= 0 {
		t.Errorf("expected a < b when values tie and a.PageID < b.PageID")
	}
	if a.CompareTo(c) >= 0 {
		t.Errorf("expected a < c since a's Value is less")
	}
	if a.CompareTo(a) != 0 {
		t.Errorf("expected a == a")
	}
}

func TestCompositeEncodeDecodeRoundTrip(t *testing.T) {
	c := key.Composite{Value: fieldvalue.String("biology"), PageID: 42}
	w := codec.NewWriter(0)
	key.EncodeComposite(w, c)
	got, err := key.DecodeComposite(codec.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("DecodeComposite: %v", err)
	}
	if got.PageID != c.PageID || !got.Value.Equal(c.Value) {
		t.Errorf("round trip: got %+v, want %+v", got, c)
	}
}
