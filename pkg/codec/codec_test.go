package codec_test

import (
	"bytes"
	"testing"

	"learnql/pkg/codec"
	"learnql/pkg/dberr"

	"errors"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := codec.NewWriter(0)
	w.WriteBool(true)
	w.WriteUint8(7)
	w.WriteInt16(-5)
	w.WriteUint32(1 << 20)
	w.WriteInt64(-123456789)
	w.WriteFloat64(3.25)
	w.WriteString("hello")
	w.WriteBytes([]byte{1, 2, 3})

	r := codec.NewReader(w.Bytes())

	if b, err := r.ReadBool(); err != nil || !b {
		t.Fatalf("ReadBool: got (%v, %v), want (true, nil)", b, err)
	}
	if v, err := r.ReadUint8(); err != nil || v != 7 {
		t.Fatalf("ReadUint8: got (%v, %v), want (7, nil)", v, err)
	}
	if v, err := r.ReadInt16(); err != nil || v != -5 {
		t.Fatalf("ReadInt16: got (%v, %v), want (-5, nil)", v, err)
	}
	if v, err := r.ReadUint32(); err != nil || v != 1<<20 {
		t.Fatalf("ReadUint32: got (%v, %v), want (%d, nil)", v, err, 1<<20)
	}
	if v, err := r.ReadInt64(); err != nil || v != -123456789 {
		t.Fatalf("ReadInt64: got (%v, %v), want (-123456789, nil)", v, err)
	}
	if v, err := r.ReadFloat64(); err != nil || v != 3.25 {
		t.Fatalf("ReadFloat64: got (%v, %v), want (3.25, nil)", v, err)
	}
	if s, err := r.ReadString(); err != nil || s != "hello" {
		t.Fatalf("ReadString: got (%q, %v), want (\"hello\", nil)", s, err)
	}
	if bs, err := r.ReadBytes(); err != nil || !bytes.Equal(bs, []byte{1, 2, 3}) {
		t.Fatalf("ReadBytes: got (%v, %v), want ([1 2 3], nil)", bs, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("Remaining: got %d, want 0", r.Remaining())
	}
}

func TestReaderUnderflow(t *testing.T) {
	r := codec.NewReader([]byte{1, 2})
	if _, err := r.ReadUint64(); !errors.Is(err, dberr.EndOfBuffer) {
		t.Fatalf("ReadUint64 past end: got err %v, want dberr.EndOfBuffer", err)
	}
}

func TestWriteStringEmpty(t *testing.T) {
	w := codec.NewWriter(0)
	w.WriteString("")
	r := codec.NewReader(w.Bytes())
	s, err := r.ReadString()
	if err != nil || s != "" {
		t.Fatalf("ReadString: got (%q, %v), want (\"\", nil)", s, err)
	}
}
