package page_test

import (
	"testing"

	"learnql/pkg/config"
	"learnql/pkg/page"
)

func TestNewPageHeader(t *testing.T) {
	p := page.New(3, page.TypeData)
	if p.ID() != 3 {
		t.Errorf("ID: got %d, want 3", p.ID())
	}
	if p.Type() != page.TypeData {
		t.Errorf("Type: got %v, want TypeData", p.Type())
	}
	if p.FreeSpaceOffset() != config.PageHeaderSize {
		t.Errorf("FreeSpaceOffset: got %d, want %d", p.FreeSpaceOffset(), config.PageHeaderSize)
	}
}

func TestWriteReadData(t *testing.T) {
	p := page.New(1, page.TypeData)
	payload := []byte("students are rows too")
	if err := p.WriteData(0, payload); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	got, err := p.ReadData(0, int64(len(payload)))
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestWriteDataOutOfBounds(t *testing.T) {
	p := page.New(1, page.TypeData)
	huge := make([]byte, config.PagePayloadSize+1)
	if err := p.WriteData(0, huge); err == nil {
		t.Errorf("expected error writing past payload end")
	}
}

func TestCanFit(t *testing.T) {
	p := page.New(1, page.TypeData)
	if !p.CanFit(config.PagePayloadSize) {
		t.Errorf("expected an empty page to fit a full payload")
	}
	if err := p.WriteData(0, make([]byte, 100)); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	p.SetFreeSpaceOffset(config.PageHeaderSize + 100)
	if p.CanFit(config.PagePayloadSize - 99) {
		t.Errorf("expected page with 100 bytes used to not fit payload-99 more bytes")
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	p := page.New(1, page.TypeIndex)
	_ = p.WriteData(0, []byte("checksum me"))
	p.UpdateChecksum()
	if !p.ValidateChecksum() {
		t.Errorf("expected checksum to validate after UpdateChecksum")
	}

	decoded, err := page.Decode(p.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.ValidateChecksum() {
		t.Errorf("expected checksum to validate after round trip through Decode")
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	p := page.New(1, page.TypeIndex)
	_ = p.WriteData(0, []byte("tamper test"))
	p.UpdateChecksum()

	raw := p.Bytes()
	raw[config.PageHeaderSize] ^= 0xFF

	corrupted, err := page.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if corrupted.ValidateChecksum() {
		t.Errorf("expected checksum to fail to validate after payload tamper")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	raw := make([]byte, config.PageSize)
	if _, err := page.Decode(raw); err == nil {
		t.Errorf("expected Decode to reject a buffer with no magic")
	}
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	if _, err := page.Decode(make([]byte, 10)); err == nil {
		t.Errorf("expected Decode to reject a short buffer")
	}
}

func TestReinitClearsPayload(t *testing.T) {
	p := page.New(1, page.TypeData)
	_ = p.WriteData(0, []byte("stale data"))
	p.Reinit(1, page.TypeFree)
	if p.Type() != page.TypeFree {
		t.Errorf("Type after Reinit: got %v, want TypeFree", p.Type())
	}
	if p.FreeSpaceOffset() != config.PageHeaderSize {
		t.Errorf("FreeSpaceOffset after Reinit: got %d, want %d", p.FreeSpaceOffset(), config.PageHeaderSize)
	}
	got, _ := p.ReadData(0, int64(len("stale data")))
	for _, b := range got {
		if b != 0 {
			t.Errorf("expected payload to be zeroed after Reinit, found %v", got)
			break
		}
	}
}
