// Package page implements the fixed 4096-byte disk frame that backs every
// B+Tree node, data record, and the database's metadata (spec §3, §4.1).
// It plays the role of the teacher's pkg/pager.Page, generalized from a
// single aligned byte slice tied one-to-one with a *Pager into a
// self-contained, checksummed frame that the storage engine owns and
// copies in and out of its cache.
package page

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash"
	"github.com/ncw/directio"

	"learnql/pkg/config"
	"learnql/pkg/dberr"
)

// Type identifies the role of a page's payload.
type Type uint8

const (
	TypeFree Type = iota
	TypeData
	TypeIndex
	TypeMetadata
	TypeOverflow
)

// Header byte offsets within a page, per spec §3.
const (
	offMagic            = 0
	offPageID           = offMagic + 4
	offPageType         = offPageID + 8
	offVersion          = offPageType + 1
	offRecordCount      = offVersion + 1
	offFreeSpaceOffset  = offRecordCount + 2
	offNextPageID       = offFreeSpaceOffset + 2
	offChecksum         = offNextPageID + 8
	// offChecksum+4 .. 64 is reserved padding.
)

// ChecksumFunc computes a checksum over a page's payload bytes.
type ChecksumFunc func(payload []byte) uint32

// XORChecksum is the spec's legacy weak checksum (spec §3, §9): a
// byte-wise XOR fold of the payload into 4 bytes.
func XORChecksum(payload []byte) uint32 {
	var acc [4]byte
	for i, b := range payload {
		acc[i%4] ^= b
	}
	return binary.LittleEndian.Uint32(acc[:])
}

// XXHashChecksum is the stronger, still-cheap checksum spec §9 invites
// implementers to use in place of the legacy XOR fold.
func XXHashChecksum(payload []byte) uint32 {
	return uint32(xxhash.Sum64(payload))
}

// DefaultChecksum is used for every newly written page.
var DefaultChecksum ChecksumFunc = XXHashChecksum

// Page is one fixed 4096-byte frame: a 64-byte header plus a 4032-byte
// payload (spec §3). data is backed by a directio.AlignedBlock, not a
// plain make([]byte, ...), since Bytes() is handed straight to a direct
// I/O file's ReadAt/WriteAt, which requires block-aligned buffers (the
// same reason the teacher's pkg/pager allocates its frames with
// directio.AlignedBlock).
type Page struct {
	data     []byte
	checksum ChecksumFunc
}

func newAlignedData() []byte {
	return directio.AlignedBlock(int(config.PageSize))
}

// New constructs a page with an initialized header and a zeroed payload.
func New(id uint64, typ Type) *Page {
	p := &Page{data: newAlignedData(), checksum: DefaultChecksum}
	copy(p.data[offMagic:offMagic+4], config.PageMagic)
	binary.LittleEndian.PutUint64(p.data[offPageID:], id)
	p.data[offPageType] = byte(typ)
	p.data[offVersion] = 1
	binary.LittleEndian.PutUint16(p.data[offRecordCount:], 0)
	binary.LittleEndian.PutUint16(p.data[offFreeSpaceOffset:], uint16(config.PageHeaderSize))
	binary.LittleEndian.PutUint64(p.data[offNextPageID:], 0)
	return p
}

// Decode reinterprets a raw 4096-byte buffer (as read from disk) as a Page,
// validating its magic. It does not validate the checksum; callers that
// care about corruption detection call ValidateChecksum explicitly.
func Decode(raw []byte) (*Page, error) {
	if len(raw) != int(config.PageSize) {
		return nil, fmt.Errorf("page: decode: got %d bytes, want %d: %w", len(raw), config.PageSize, dberr.CorruptPage)
	}
	p := &Page{data: newAlignedData(), checksum: DefaultChecksum}
	copy(p.data[:], raw)
	if string(p.data[offMagic:offMagic+4]) != config.PageMagic {
		return nil, fmt.Errorf("page: bad magic: %w", dberr.CorruptPage)
	}
	fso := p.FreeSpaceOffset()
	if fso < config.PageHeaderSize || fso > config.PageSize {
		return nil, fmt.Errorf("page: free_space_offset %d out of [%d,%d]: %w", fso, config.PageHeaderSize, config.PageSize, dberr.CorruptPage)
	}
	return p, nil
}

// Bytes returns the full 4096-byte on-disk representation, an
// aligned buffer suitable for a direct I/O ReadAt/WriteAt.
func (p *Page) Bytes() []byte {
	return p.data[:]
}

// Clone returns an independent copy of p backed by its own aligned
// buffer, since a plain struct copy (*p) now only copies the data slice
// header and would leave the clone sharing the original's backing array.
func (p *Page) Clone() *Page {
	c := &Page{data: newAlignedData(), checksum: p.checksum}
	copy(c.data, p.data)
	return c
}

func (p *Page) ID() uint64 {
	return binary.LittleEndian.Uint64(p.data[offPageID:])
}

func (p *Page) SetID(id uint64) {
	binary.LittleEndian.PutUint64(p.data[offPageID:], id)
}

func (p *Page) Type() Type {
	return Type(p.data[offPageType])
}

func (p *Page) SetType(t Type) {
	p.data[offPageType] = byte(t)
}

func (p *Page) RecordCount() uint16 {
	return binary.LittleEndian.Uint16(p.data[offRecordCount:])
}

func (p *Page) SetRecordCount(n uint16) {
	binary.LittleEndian.PutUint16(p.data[offRecordCount:], n)
}

func (p *Page) FreeSpaceOffset() int64 {
	return int64(binary.LittleEndian.Uint16(p.data[offFreeSpaceOffset:]))
}

func (p *Page) SetFreeSpaceOffset(v int64) {
	binary.LittleEndian.PutUint16(p.data[offFreeSpaceOffset:], uint16(v))
}

func (p *Page) NextPageID() uint64 {
	return binary.LittleEndian.Uint64(p.data[offNextPageID:])
}

func (p *Page) SetNextPageID(id uint64) {
	binary.LittleEndian.PutUint64(p.data[offNextPageID:], id)
}

// Payload returns the 4032-byte writable region after the header.
func (p *Page) Payload() []byte {
	return p.data[config.PageHeaderSize:]
}

// Reinit resets the page's payload and free-space offset, and sets its
// type, as if newly allocated (spec §4.2 "reinitialize it with the given
// type" on free-list reuse).
func (p *Page) Reinit(id uint64, typ Type) {
	for i := range p.data {
		p.data[i] = 0
	}
	copy(p.data[offMagic:offMagic+4], config.PageMagic)
	binary.LittleEndian.PutUint64(p.data[offPageID:], id)
	p.data[offPageType] = byte(typ)
	p.data[offVersion] = 1
	p.SetFreeSpaceOffset(config.PageHeaderSize)
}

// WriteData writes n bytes from src into the payload at offset, failing
// with dberr.OutOfBounds if offset+n exceeds the payload size (spec §4.1).
func (p *Page) WriteData(offset int64, src []byte) error {
	n := int64(len(src))
	if offset < 0 || offset+n > config.PagePayloadSize {
		return fmt.Errorf("page: write at %d len %d exceeds payload of %d: %w", offset, n, config.PagePayloadSize, dberr.OutOfBounds)
	}
	copy(p.Payload()[offset:offset+n], src)
	return nil
}

// ReadData reads n bytes from the payload at offset, failing with
// dberr.OutOfBounds if offset+n exceeds the payload size.
func (p *Page) ReadData(offset int64, n int64) ([]byte, error) {
	if offset < 0 || offset+n > config.PagePayloadSize {
		return nil, fmt.Errorf("page: read at %d len %d exceeds payload of %d: %w", offset, n, config.PagePayloadSize, dberr.OutOfBounds)
	}
	out := make([]byte, n)
	copy(out, p.Payload()[offset:offset+n])
	return out, nil
}

// CanFit reports whether n more bytes can be appended to the payload
// without moving free_space_offset past the end of the page (spec §4.1).
func (p *Page) CanFit(n int64) bool {
	used := p.FreeSpaceOffset() - config.PageHeaderSize
	return n <= config.PagePayloadSize-used
}

// UpdateChecksum recomputes and stores the checksum of the current
// payload bytes.
func (p *Page) UpdateChecksum() {
	binary.LittleEndian.PutUint32(p.data[offChecksum:], p.checksum(p.Payload()))
}

// ValidateChecksum reports whether the stored checksum matches the
// current payload, trying both the legacy XOR algorithm and the current
// default so that pages written by either generation of the engine
// validate correctly.
func (p *Page) ValidateChecksum() bool {
	stored := binary.LittleEndian.Uint32(p.data[offChecksum:])
	if stored == p.checksum(p.Payload()) {
		return true
	}
	return stored == XORChecksum(p.Payload()) || stored == XXHashChecksum(p.Payload())
}
