// Package database is the top-level handle a LearnQL application opens:
// a single storage.Engine shared by every table, fronted by the system
// catalog so tables can be created, reopened by name, and dropped (spec
// §4.8, §4.9). It plays the role the teacher's pkg/database.Database
// plays (a basepath plus a map of named Index handles), generalized from
// one file per table to one file for the whole database, since LearnQL
// is embedded and single-file (spec §1).
package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"learnql/pkg/btree"
	"learnql/pkg/catalog"
	"learnql/pkg/dberr"
	"learnql/pkg/index"
	"learnql/pkg/storage"
	"learnql/pkg/table"
)

// DefaultCacheSize is the page cache capacity used by Open when the
// caller does not need to tune it.
const DefaultCacheSize = 256

// flushable is any open table handle this Database must remember to
// flush before a page cache flush or Close, so that a B+Tree's node
// cache (spec §4.4) does not still be holding mutations the storage
// engine has never been told about.
type flushable interface {
	Flush() error
}

// Database owns the single shared storage engine and system catalog
// every table is opened against. It tracks every table opened against it
// by name, the way the teacher's own Database holds a basepath plus a
// map of named Index handles and closes them together.
type Database struct {
	engine     *storage.Engine
	catalog    *catalog.Catalog
	instanceID uuid.UUID
	tables     map[string]flushable
}

// Open opens (creating if it does not exist) the single-file database at
// path.
func Open(path string) (*Database, error) {
	return OpenWithCacheSize(path, DefaultCacheSize)
}

// OpenWithCacheSize is Open with an explicit page cache capacity.
func OpenWithCacheSize(path string, cacheSize int) (*Database, error) {
	engine, err := storage.Open(path, cacheSize)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(engine)
	if err != nil {
		return nil, err
	}
	return &Database{engine: engine, catalog: cat, instanceID: uuid.New(), tables: make(map[string]flushable)}, nil
}

// InstanceID is a per-process diagnostic identifier, distinct from any
// on-disk identity, useful for correlating log lines across a run.
func (db *Database) InstanceID() uuid.UUID { return db.instanceID }

// fingerprint hashes a schema's type name and field shape with murmur3,
// the same hashing library the teacher uses for its hash-index bucketing
// (pkg/hash), repurposed here to catch a record type's shape changing
// between the table's creation and a later reopen (spec §9).
func fingerprint[R any, K btree.Comparable[K]](schema table.Schema[R, K]) uint64 {
	h := murmur3.New64()
	fmt.Fprintf(h, "%s", schema.TypeName)
	for _, fd := range schema.Fields {
		fmt.Fprintf(h, "|%s:%s:%d:%t", fd.Name, fd.TypeName, fd.Ordinal, fd.IsPrimary)
	}
	return h.Sum64()
}

// OpenTable opens the named table, creating it with schema if it does
// not yet exist, or reopening its persisted root page if it does. A
// package-level function rather than a Database method, since Go
// methods cannot introduce new type parameters beyond the receiver's
// (the same constraint pkg/query's Const factory works around).
func OpenTable[R any, K btree.Comparable[K]](db *Database, name string, schema table.Schema[R, K]) (*table.Table[R, K], error) {
	meta, found, err := db.catalog.FindTable(name)
	if err != nil {
		return nil, err
	}

	fp := fingerprint(schema)
	var rootPageID uint64
	if found {
		if meta.TypeName != schema.TypeName || meta.TypeFingerprint != fp {
			return nil, fmt.Errorf("database: table %s was created as %s, reopened as %s: %w", name, meta.TypeName, schema.TypeName, dberr.TypeMismatch)
		}
		rootPageID = meta.IndexRootPage
	}

	t, err := table.Open(db.engine, name, rootPageID, schema, db.catalog)
	if err != nil {
		return nil, err
	}

	if !found {
		newMeta := catalog.TableMeta{
			TableName:        name,
			TypeName:         schema.TypeName,
			TypeFingerprint:  fp,
			IndexRootPage:    t.RootPageID(),
			RecordCount:      0,
			CreatedTimestamp: uint64(time.Now().Unix()),
			IsSystemTable:    false,
		}
		if err := db.catalog.RegisterTable(newMeta, schema.Fields); err != nil {
			return nil, err
		}
	}
	db.tables[name] = t
	return t, nil
}

// DropTable removes a table and every page it owns, including its
// secondary indexes (spec §9's recommended fix for the acknowledged
// drop_table page leak). System tables cannot be dropped. schema must
// match the record type the table was created with, the same type-erased
// dispatch OpenTable requires, since the engine has no other way to
// decode a table's primary tree well enough to walk its page structure.
func DropTable[R any, K btree.Comparable[K]](db *Database, name string, schema table.Schema[R, K]) error {
	meta, found, err := db.catalog.FindTable(name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("database: table %s: %w", name, dberr.NotFound)
	}
	if meta.IsSystemTable {
		return fmt.Errorf("database: %s is a system table: %w", name, dberr.InvalidArgument)
	}
	if meta.TypeName != schema.TypeName || meta.TypeFingerprint != fingerprint(schema) {
		return fmt.Errorf("database: table %s was created as %s, dropped as %s: %w", name, meta.TypeName, schema.TypeName, dberr.TypeMismatch)
	}

	root := meta.IndexRootPage
	if open, ok := db.tables[name].(*table.Table[R, K]); ok {
		if err := open.Flush(); err != nil {
			return err
		}
		root = open.RootPageID()
	}
	t, err := table.Open(db.engine, name, root, schema, nil)
	if err != nil {
		return err
	}
	if err := t.SweepPages(); err != nil {
		return err
	}

	indexes, err := db.catalog.Indexes()
	if err != nil {
		return err
	}
	for _, ix := range indexes {
		if ix.TableName != name {
			continue
		}
		// The index's own key shape (fieldvalue.Value or key.Composite) is
		// self-describing independent of R, so its tree can be reopened and
		// swept structurally without the accessor ever being called.
		if ix.IsUnique {
			u, err := index.OpenUnique[R](db.engine, ix.IndexRootPage, ix.FieldName, nil)
			if err != nil {
				return err
			}
			if err := sweepTreePages(db.engine, u.Tree()); err != nil {
				return err
			}
		} else {
			mv, err := index.OpenMultiValue[R](db.engine, ix.IndexRootPage, ix.FieldName, nil)
			if err != nil {
				return err
			}
			if err := sweepTreePages(db.engine, mv.Tree()); err != nil {
				return err
			}
		}
		if err := db.catalog.UnregisterIndex(name, ix.FieldName); err != nil {
			return err
		}
	}
	delete(db.tables, name)
	return db.catalog.UnregisterTable(name)
}

func sweepTreePages[K btree.Comparable[K], V any](engine *storage.Engine, tree *btree.Tree[K, V]) error {
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

// Metadata returns read-only snapshots of every table, field, and index
// registration (spec §4.8).
func (db *Database) Metadata() ([]catalog.TableMeta, []catalog.FieldMeta, []catalog.IndexMeta, error) {
	tables, err := db.catalog.Tables()
	if err != nil {
		return nil, nil, nil, err
	}
	fields, err := db.catalog.Fields()
	if err != nil {
		return nil, nil, nil, err
	}
	ixs, err := db.catalog.Indexes()
	if err != nil {
		return nil, nil, nil, err
	}
	return tables, fields, ixs, nil
}

// Flush writes every cached dirty B+Tree node belonging to every table
// opened against this Database, then every dirty catalog and data page,
// to disk.
func (db *Database) Flush() error {
	for _, t := range db.tables {
		if err := t.Flush(); err != nil {
			return err
		}
	}
	if err := db.catalog.Flush(); err != nil {
		return err
	}
	return db.engine.FlushAll()
}

// Close flushes and releases the underlying file handle.
func (db *Database) Close() error {
	if err := db.Flush(); err != nil {
		return err
	}
	return db.engine.Close()
}
