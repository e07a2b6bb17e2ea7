// Package dberr defines the error kinds surfaced across LearnQL's public
// API (spec §7). Callers distinguish kinds with errors.Is; diagnostic
// context (page id, key, index name, ...) is attached by wrapping with
// fmt.Errorf("...: %w", dberr.NotFound) at the call site, the same way the
// teacher's packages wrap errors.New/fmt.Errorf without a third-party
// error-wrapping library.
package dberr

import "errors"

var (
	// Io covers file open/read/write/seek failures.
	Io = errors.New("io error")
	// CorruptDatabase covers a bad signature, version, or page-0 layout.
	CorruptDatabase = errors.New("corrupt database")
	// CorruptPage covers a bad magic or checksum on a loaded page.
	CorruptPage = errors.New("corrupt page")
	// InvalidArgument covers caller misuse, e.g. deallocating page 0.
	InvalidArgument = errors.New("invalid argument")
	// OutOfBounds covers a page-local offset/length overflow.
	OutOfBounds = errors.New("out of bounds")
	// EndOfBuffer covers codec underflow on read.
	EndOfBuffer = errors.New("end of buffer")
	// RecordTooLarge covers a serialized record exceeding one page.
	RecordTooLarge = errors.New("record too large")
	// NodeTooLarge covers a serialized B+Tree node exceeding one page.
	NodeTooLarge = errors.New("node too large")
	// DuplicateKey covers a primary or unique-index insert collision.
	DuplicateKey = errors.New("duplicate key")
	// NotFound covers a lookup, update, or delete of a missing key.
	NotFound = errors.New("not found")
	// IndexOutOfSync covers a secondary index left inconsistent with its table.
	IndexOutOfSync = errors.New("index out of sync")
	// VersionMismatch covers an on-disk metadata version outside {2,3}.
	VersionMismatch = errors.New("version mismatch")
	// TypeMismatch covers db.OpenTable called with a type different from
	// the one a table was originally opened with (spec §9).
	TypeMismatch = errors.New("type mismatch")
)
