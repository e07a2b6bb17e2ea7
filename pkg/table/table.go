// Package table implements the typed table: a primary B+Tree keyed on a
// user-chosen primary key mapping to RecordId, a list of attached
// secondary indexes, and the CRUD/DDL/query surface built on top of them
// (spec §4.7). It generalizes the teacher's pkg/database.Table, which
// hardcoded both the key and value to int64, into a table over any
// record type R with any ordered primary-key type K, while keeping the
// teacher's insert/update/remove/find shape.
package table

import (
	"fmt"

	"learnql/pkg/btree"
	"learnql/pkg/codec"
	"learnql/pkg/config"
	"learnql/pkg/dberr"
	"learnql/pkg/fieldvalue"
	"learnql/pkg/index"
	"learnql/pkg/page"
	"learnql/pkg/query"
	"learnql/pkg/record"
	"learnql/pkg/storage"
)

// Schema bundles the per-record-type contract spec §1 asks external
// collaborators to supply: a primary-key accessor, a (serialize,
// deserialize) codec, and a static field descriptor list.
type Schema[R any, K btree.Comparable[K]] struct {
	TypeName    string
	PrimaryKey  func(R) K
	EncodeKey   btree.EncodeFunc[K]
	DecodeKey   btree.DecodeFunc[K]
	Serialize   func(R, *codec.Writer)
	Deserialize func(*codec.Reader) (R, error)
	Fields      []record.FieldDescriptor
}

// Catalog is the back-reference a Table uses to keep the system catalog
// in sync, without the table owning or being owned by the catalog (spec
// §9 "cyclic references between catalog and tables").
type Catalog interface {
	UpdateRecordCount(tableName string, n int64) error
	FindIndexRoot(tableName, fieldName string) (uint64, bool, error)
	RegisterIndex(tableName, fieldName, fieldType string, unique bool, rootPageID uint64) error
	UnregisterIndex(tableName, fieldName string) error
}

func encodeRecordId(w *codec.Writer, id record.Id) { id.EncodeTo(w) }

func decodeRecordId(r *codec.Reader) (record.Id, error) { return record.Decode(r) }

// Table is a typed, indexed collection of records of type R keyed by K.
type Table[R any, K btree.Comparable[K]] struct {
	name    string
	engine  *storage.Engine
	schema  Schema[R, K]
	primary *btree.Tree[K, record.Id]
	indexes []index.Index[R]
	count   int64
	catalog Catalog
}

// Open opens (creating if rootPageID is 0) the primary tree for a table
// and returns a handle with no secondary indexes attached.
func Open[R any, K btree.Comparable[K]](engine *storage.Engine, name string, rootPageID uint64, schema Schema[R, K], catalog Catalog) (*Table[R, K], error) {
	primary, err := btree.Open(engine, rootPageID, schema.EncodeKey, schema.DecodeKey, encodeRecordId, decodeRecordId)
	if err != nil {
		return nil, err
	}
	count, err := primary.Size()
	if err != nil {
		return nil, err
	}
	return &Table[R, K]{name: name, engine: engine, schema: schema, primary: primary, count: count, catalog: catalog}, nil
}

// Name returns the table's registered name.
func (t *Table[R, K]) Name() string { return t.name }

// RootPageID returns the primary tree's current root page id.
func (t *Table[R, K]) RootPageID() uint64 { return t.primary.RootPageID() }

// Size returns the number of records currently in the table.
func (t *Table[R, K]) Size() int64 { return t.count }

// Insert serializes r into a fresh data page, adds it to the primary
// tree, and updates every attached secondary index (spec §4.7).
func (t *Table[R, K]) Insert(r R) (record.Id, error) {
	k := t.schema.PrimaryKey(r)
	if _, found, err := t.primary.Find(k); err != nil {
		return record.Id{}, err
	} else if found {
		return record.Id{}, fmt.Errorf("table %s: key already present: %w", t.name, dberr.DuplicateKey)
	}

	w := codec.NewWriter(int(config.PagePayloadSize))
	t.schema.Serialize(r, w)
	payload := w.Bytes()
	if int64(len(payload)) > config.PagePayloadSize {
		return record.Id{}, fmt.Errorf("table %s: record serializes to %d bytes: %w", t.name, len(payload), dberr.RecordTooLarge)
	}

	pageID, err := t.engine.Allocate(page.TypeData)
	if err != nil {
		return record.Id{}, err
	}
	p, err := t.engine.Read(pageID)
	if err != nil {
		return record.Id{}, err
	}
	p.SetRecordCount(1)
	p.SetFreeSpaceOffset(config.PageHeaderSize + int64(len(payload)))
	if err := p.WriteData(0, payload); err != nil {
		return record.Id{}, err
	}
	if err := t.engine.Write(pageID, p); err != nil {
		return record.Id{}, err
	}

	rid := record.Id{PageID: pageID, Slot: 0}
	if err := t.primary.Insert(k, rid); err != nil {
		return record.Id{}, err
	}
	for _, ix := range t.indexes {
		ok, err := ix.Insert(r, rid)
		if err != nil {
			return record.Id{}, fmt.Errorf("table %s: index %s: %w: %w", t.name, ix.FieldName(), dberr.IndexOutOfSync, err)
		}
		if !ok {
			return record.Id{}, fmt.Errorf("table %s: index %s already holds this value: %w: %w", t.name, ix.FieldName(), dberr.IndexOutOfSync, dberr.DuplicateKey)
		}
	}
	t.count++
	if err := t.notifyCount(); err != nil {
		return rid, err
	}
	return rid, nil
}

// Update rewrites the record at r's primary key (which is unchanged by
// construction) and refreshes every attached secondary index.
func (t *Table[R, K]) Update(r R) error {
	k := t.schema.PrimaryKey(r)
	rid, found, err := t.primary.Find(k)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("table %s: key not found: %w", t.name, dberr.NotFound)
	}
	old, err := t.loadRecord(rid)
	if err != nil {
		return err
	}

	w := codec.NewWriter(int(config.PagePayloadSize))
	t.schema.Serialize(r, w)
	payload := w.Bytes()
	if int64(len(payload)) > config.PagePayloadSize {
		return fmt.Errorf("table %s: record serializes to %d bytes: %w", t.name, len(payload), dberr.RecordTooLarge)
	}
	p, err := t.engine.Read(rid.PageID)
	if err != nil {
		return err
	}
	p.SetFreeSpaceOffset(config.PageHeaderSize + int64(len(payload)))
	if err := p.WriteData(0, payload); err != nil {
		return err
	}
	if err := t.engine.Write(rid.PageID, p); err != nil {
		return err
	}
	for _, ix := range t.indexes {
		ok, err := ix.Update(old, r, rid)
		if err != nil {
			return fmt.Errorf("table %s: index %s: %w: %w", t.name, ix.FieldName(), dberr.IndexOutOfSync, err)
		}
		if !ok {
			return fmt.Errorf("table %s: index %s already holds this value: %w: %w", t.name, ix.FieldName(), dberr.IndexOutOfSync, dberr.DuplicateKey)
		}
	}
	return nil
}

// Remove deletes the record with primary key k, reporting whether it was
// present.
func (t *Table[R, K]) Remove(k K) (bool, error) {
	rid, found, err := t.primary.Find(k)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	old, err := t.loadRecord(rid)
	if err != nil {
		return false, err
	}
	for _, ix := range t.indexes {
		if _, err := ix.Remove(old, rid); err != nil {
			return false, fmt.Errorf("table %s: index %s out of sync: %w", t.name, ix.FieldName(), err)
		}
	}
	if err := t.engine.Deallocate(rid.PageID); err != nil {
		return false, err
	}
	if _, err := t.primary.Remove(k); err != nil {
		return false, err
	}
	t.count--
	if err := t.notifyCount(); err != nil {
		return true, err
	}
	return true, nil
}

// Find returns the deserialized record stored under primary key k.
func (t *Table[R, K]) Find(k K) (R, bool, error) {
	var zero R
	rid, found, err := t.primary.Find(k)
	if err != nil || !found {
		return zero, found, err
	}
	r, err := t.loadRecord(rid)
	return r, err == nil, err
}

// Contains reports whether k is present in the table.
func (t *Table[R, K]) Contains(k K) (bool, error) {
	return t.primary.Contains(k)
}

// GetRecordId returns the RecordId stored under primary key k.
func (t *Table[R, K]) GetRecordId(k K) (record.Id, bool, error) {
	return t.primary.Find(k)
}

func (t *Table[R, K]) loadRecord(rid record.Id) (R, error) {
	var zero R
	p, err := t.engine.Read(rid.PageID)
	if err != nil {
		return zero, err
	}
	n := p.FreeSpaceOffset() - config.PageHeaderSize
	payload, err := p.ReadData(0, n)
	if err != nil {
		return zero, err
	}
	return t.schema.Deserialize(codec.NewReader(payload))
}

// AddIndex attaches a secondary index on the named field, backfilling it
// from the primary tree unless the catalog already has a persisted root
// for (table, field), in which case that root is reopened and reused
// (spec §4.7, scenario 6: "no rebuild occurs"). Returns t for fluent
// chaining.
func (t *Table[R, K]) AddIndex(fieldName, fieldType string, unique bool, accessor index.FieldAccessor[R]) (*Table[R, K], error) {
	var root uint64
	if t.catalog != nil {
		if existing, found, err := t.catalog.FindIndexRoot(t.name, fieldName); err != nil {
			return nil, err
		} else if found {
			root = existing
		}
	}
	fresh := root == 0

	var ix index.Index[R]
	var err error
	if unique {
		ix, err = index.OpenUnique(t.engine, root, fieldName, accessor)
	} else {
		ix, err = index.OpenMultiValue(t.engine, root, fieldName, accessor)
	}
	if err != nil {
		return nil, err
	}

	if fresh {
		cursor, err := t.primary.Cursor()
		if err != nil {
			return nil, err
		}
		for {
			batch, err := cursor.Next()
			if err != nil {
				return nil, err
			}
			if len(batch) == 0 {
				break
			}
			for _, pair := range batch {
				r, err := t.loadRecord(pair.Value)
				if err != nil {
					return nil, err
				}
				if _, err := ix.Insert(r, pair.Value); err != nil {
					return nil, err
				}
			}
		}
		if t.catalog != nil {
			if err := t.catalog.RegisterIndex(t.name, fieldName, fieldType, unique, ix.RootPageID()); err != nil {
				return nil, err
			}
		}
	}
	t.indexes = append(t.indexes, ix)
	return t, nil
}

// DropIndex detaches the first attached index on the named field and
// unregisters it from the catalog.
func (t *Table[R, K]) DropIndex(fieldName string) error {
	for i, ix := range t.indexes {
		if ix.FieldName() != fieldName {
			continue
		}
		t.indexes = append(t.indexes[:i], t.indexes[i+1:]...)
		if t.catalog != nil {
			return t.catalog.UnregisterIndex(t.name, fieldName)
		}
		return nil
	}
	return nil
}

// FindBy looks up the record whose value for field matches v, using the
// table's first unique index on that field. ok is false if there is no
// such index or no matching record.
func (t *Table[R, K]) FindBy(field string, v fieldvalue.Value) (R, bool, error) {
	var zero R
	for _, ix := range t.indexes {
		u, isUnique := ix.(*index.Unique[R])
		if !isUnique || u.FieldName() != field {
			continue
		}
		rid, found, err := u.Find(v)
		if err != nil || !found {
			return zero, false, err
		}
		r, err := t.loadRecord(rid)
		return r, err == nil, err
	}
	return zero, false, nil
}

// FindAllBy returns every record whose value for field matches v, using
// the table's first multi-value index on that field.
func (t *Table[R, K]) FindAllBy(field string, v fieldvalue.Value) ([]R, error) {
	for _, ix := range t.indexes {
		mv, isMulti := ix.(*index.MultiValue[R])
		if !isMulti || mv.FieldName() != field {
			continue
		}
		rids, err := mv.Find(v)
		if err != nil {
			return nil, err
		}
		out := make([]R, len(rids))
		for i, rid := range rids {
			r, err := t.loadRecord(rid)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return nil, nil
}

// RangeQuery returns every record with field in [lo, hi], inclusive of
// both ends, using the table's first unique index on that field (spec
// §4.7).
func (t *Table[R, K]) RangeQuery(field string, lo, hi fieldvalue.Value) ([]R, error) {
	for _, ix := range t.indexes {
		u, isUnique := ix.(*index.Unique[R])
		if !isUnique || u.FieldName() != field {
			continue
		}
		rids, err := u.Range(lo, hi)
		if err != nil {
			return nil, err
		}
		out := make([]R, len(rids))
		for i, rid := range rids {
			r, err := t.loadRecord(rid)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return nil, nil
}

// UniqueValues returns the distinct values present for field, using the
// table's first multi-value index on that field.
func (t *Table[R, K]) UniqueValues(field string) ([]fieldvalue.Value, error) {
	for _, ix := range t.indexes {
		mv, isMulti := ix.(*index.MultiValue[R])
		if !isMulti || mv.FieldName() != field {
			continue
		}
		return mv.UniqueValues()
	}
	return nil, nil
}

// Where lowers a predicate DSL expression to a filter closure and calls
// FindIf (spec §4.9).
func (t *Table[R, K]) Where(expr query.Expr[R]) ([]R, error) {
	return t.FindIf(expr.Evaluate)
}

// Flush writes every dirty page belonging to this table's primary tree
// and secondary indexes.
func (t *Table[R, K]) Flush() error {
	if err := t.primary.Flush(); err != nil {
		return err
	}
	for _, ix := range t.indexes {
		if err := ix.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table[R, K]) notifyCount() error {
	if t.catalog == nil {
		return nil
	}
	return t.catalog.UpdateRecordCount(t.name, t.count)
}

// Iter returns every record in the table in ascending primary-key order.
func (t *Table[R, K]) Iter() ([]R, error) {
	pairs, err := t.primary.All()
	if err != nil {
		return nil, err
	}
	out := make([]R, len(pairs))
	for i, p := range pairs {
		r, err := t.loadRecord(p.Value)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// FindIf returns every record satisfying pred, walking the primary tree
// in batches (spec §4.7 "lazy batched filtering").
func (t *Table[R, K]) FindIf(pred func(R) bool) ([]R, error) {
	cursor, err := t.primary.Cursor()
	if err != nil {
		return nil, err
	}
	var out []R
	for {
		batch, err := cursor.Next()
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return out, nil
		}
		for _, pair := range batch {
			r, err := t.loadRecord(pair.Value)
			if err != nil {
				return nil, err
			}
			if pred(r) {
				out = append(out, r)
			}
		}
	}
}

// Clear empties the table: every data page and every node page of the
// primary tree is deallocated and the primary tree is replaced with a
// fresh empty one. Secondary indexes are
// not cleared (spec §9's acknowledged open issue); callers that need a
// consistent table after Clear should DropIndex and AddIndex each one.
func (t *Table[R, K]) Clear() error {
	cursor, err := t.primary.Cursor()
	if err != nil {
		return err
	}
	for {
		batch, err := cursor.Next()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		for _, pair := range batch {
			if err := t.engine.Deallocate(pair.Value.PageID); err != nil {
				return err
			}
		}
	}
	if err := sweepTreePages(t.engine, t.primary); err != nil {
		return err
	}
	fresh, err := btree.Open(t.engine, 0, t.schema.EncodeKey, t.schema.DecodeKey, encodeRecordId, decodeRecordId)
	if err != nil {
		return err
	}
	t.primary = fresh
	t.count = 0
	return t.notifyCount()
}

// SweepPages deallocates every page belonging to the table's primary
// tree, its secondary index trees, and every data page holding a record,
// for use by Database.DropTable (spec §9's recommended structural
// sweep, addressing the acknowledged page-leak open issue).
func (t *Table[R, K]) SweepPages() error {
	pairs, err := t.primary.All()
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := t.engine.Deallocate(p.Value.PageID); err != nil {
			return err
		}
	}
	primaryPages, err := t.primary.AllPageIDs()
	if err != nil {
		return err
	}
	for _, id := range primaryPages {
		if err := t.engine.Deallocate(id); err != nil {
			return err
		}
	}
	for _, ix := range t.indexes {
		if err := t.sweepIndex(ix); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table[R, K]) sweepIndex(ix index.Index[R]) error {
	switch concrete := ix.(type) {
	case *index.Unique[R]:
		return sweepTreePages(t.engine, concrete.Tree())
	case *index.MultiValue[R]:
		return sweepTreePages(t.engine, concrete.Tree())
	default:
		return nil
	}
}

func sweepTreePages[IK btree.Comparable[IK], IV any](engine *storage.Engine, tree *btree.Tree[IK, IV]) error {
	ids, err := tree.AllPageIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := engine.Deallocate(id); err != nil {
			return err
		}
	}
	return nil
}
