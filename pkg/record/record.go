// Package record defines RecordId, the locator for a stored record
// (spec §3): a page id paired with a slot reserved for a future slotted
// layout. It is the generalized successor to the teacher's bare int64
// "value" half of a pkg/entry.Entry, now structured the way spec §3
// describes ("RecordId = (page_id: u64, slot: u32)").
package record

import "learnql/pkg/codec"

// Id locates a stored record: a page and a slot within that page.
// The current storage engine places at most one record per data page, so
// Slot is always 0 and is reserved for a future slotted page layout.
type Id struct {
	PageID uint64
	Slot   uint32
}

// IsValid reports whether id refers to a real page (page 0 is reserved
// for database metadata and is never a valid record location).
func (id Id) IsValid() bool {
	return id.PageID != 0
}

// CompareTo orders Ids by page id then slot, satisfying btree.Comparable
// so RecordId can itself be used as a composite-key component.
func (id Id) CompareTo(other Id) int {
	switch {
	case id.PageID < other.PageID:
		return -1
	case id.PageID > other.PageID:
		return 1
	case id.Slot < other.Slot:
		return -1
	case id.Slot > other.Slot:
		return 1
	default:
		return 0
	}
}

// EncodeTo appends id's wire representation to w.
func (id Id) EncodeTo(w *codec.Writer) {
	w.WriteUint64(id.PageID)
	w.WriteUint32(id.Slot)
}

// Decode reads an Id previously written by EncodeTo.
func Decode(r *codec.Reader) (Id, error) {
	pageID, err := r.ReadUint64()
	if err != nil {
		return Id{}, err
	}
	slot, err := r.ReadUint32()
	if err != nil {
		return Id{}, err
	}
	return Id{PageID: pageID, Slot: slot}, nil
}
