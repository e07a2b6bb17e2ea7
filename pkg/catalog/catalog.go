// Package catalog implements the system catalog (spec §4.8): three
// self-describing tables, `_sys_tables`, `_sys_fields`, and
// `_sys_indexes`, built from the same table.Table machinery as user
// tables, holding every table/field/index's metadata and bootstrapped
// first so every later table can register into them. This has no
// teacher equivalent (the teacher's database has no catalog at all,
// just a name-keyed map of BTreeIndex handles), so its shape follows
// spec §4.8's API directly, built the way pkg/table builds any other
// table.
package catalog

import (
	"fmt"
	"time"

	"learnql/pkg/codec"
	"learnql/pkg/dberr"
	"learnql/pkg/key"
	"learnql/pkg/record"
	"learnql/pkg/storage"
	"learnql/pkg/table"
)

// TableMeta is the catalog's record of one table.
type TableMeta struct {
	TableName        string
	TypeName         string
	TypeFingerprint  uint64
	IndexRootPage    uint64
	RecordCount      int64
	CreatedTimestamp uint64
	IsSystemTable    bool
}

// FieldMeta is the catalog's record of one field of one table.
type FieldMeta struct {
	FieldID      uint64
	TableName    string
	FieldName    string
	FieldType    string
	FieldOrder   uint16
	IsPrimaryKey bool
}

// IndexMeta is the catalog's record of one secondary index.
type IndexMeta struct {
	IndexID          uint64
	TableName        string
	FieldName        string
	FieldType        string
	IsUnique         bool
	IndexRootPage    uint64
	CreatedTimestamp uint64
	IsActive         bool
}

func tableMetaSchema() table.Schema[TableMeta, key.Ordered[string]] {
	return table.Schema[TableMeta, key.Ordered[string]]{
		TypeName:   "TableMeta",
		PrimaryKey: func(m TableMeta) key.Ordered[string] { return key.Of(m.TableName) },
		EncodeKey:  key.EncodeString,
		DecodeKey:  key.DecodeString,
		Serialize: func(m TableMeta, w *codec.Writer) {
			w.WriteString(m.TableName)
			w.WriteString(m.TypeName)
			w.WriteUint64(m.TypeFingerprint)
			w.WriteUint64(m.IndexRootPage)
			w.WriteInt64(m.RecordCount)
			w.WriteUint64(m.CreatedTimestamp)
			w.WriteBool(m.IsSystemTable)
		},
		Deserialize: func(r *codec.Reader) (TableMeta, error) {
			var m TableMeta
			var err error
			if m.TableName, err = r.ReadString(); err != nil {
				return m, err
			}
			if m.TypeName, err = r.ReadString(); err != nil {
				return m, err
			}
			if m.TypeFingerprint, err = r.ReadUint64(); err != nil {
				return m, err
			}
			if m.IndexRootPage, err = r.ReadUint64(); err != nil {
				return m, err
			}
			if m.RecordCount, err = r.ReadInt64(); err != nil {
				return m, err
			}
			if m.CreatedTimestamp, err = r.ReadUint64(); err != nil {
				return m, err
			}
			m.IsSystemTable, err = r.ReadBool()
			return m, err
		},
		Fields: []record.FieldDescriptor{
			{Name: "table_name", TypeName: "string", Ordinal: 0, IsPrimary: true},
			{Name: "type_name", TypeName: "string", Ordinal: 1},
			{Name: "type_fingerprint", TypeName: "u64", Ordinal: 2},
			{Name: "index_root_page", TypeName: "u64", Ordinal: 3},
			{Name: "record_count", TypeName: "i64", Ordinal: 4},
			{Name: "created_timestamp", TypeName: "u64", Ordinal: 5},
			{Name: "is_system_table", TypeName: "bool", Ordinal: 6},
		},
	}
}

func fieldMetaSchema() table.Schema[FieldMeta, key.Ordered[uint64]] {
	return table.Schema[FieldMeta, key.Ordered[uint64]]{
		TypeName:   "FieldMeta",
		PrimaryKey: func(m FieldMeta) key.Ordered[uint64] { return key.Of(m.FieldID) },
		EncodeKey:  key.EncodeUint64,
		DecodeKey:  key.DecodeUint64,
		Serialize: func(m FieldMeta, w *codec.Writer) {
			w.WriteUint64(m.FieldID)
			w.WriteString(m.TableName)
			w.WriteString(m.FieldName)
			w.WriteString(m.FieldType)
			w.WriteUint16(m.FieldOrder)
			w.WriteBool(m.IsPrimaryKey)
		},
		Deserialize: func(r *codec.Reader) (FieldMeta, error) {
			var m FieldMeta
			var err error
			if m.FieldID, err = r.ReadUint64(); err != nil {
				return m, err
			}
			if m.TableName, err = r.ReadString(); err != nil {
				return m, err
			}
			if m.FieldName, err = r.ReadString(); err != nil {
				return m, err
			}
			if m.FieldType, err = r.ReadString(); err != nil {
				return m, err
			}
			if m.FieldOrder, err = r.ReadUint16(); err != nil {
				return m, err
			}
			m.IsPrimaryKey, err = r.ReadBool()
			return m, err
		},
		Fields: []record.FieldDescriptor{
			{Name: "field_id", TypeName: "u64", Ordinal: 0, IsPrimary: true},
			{Name: "table_name", TypeName: "string", Ordinal: 1},
			{Name: "field_name", TypeName: "string", Ordinal: 2},
			{Name: "field_type", TypeName: "string", Ordinal: 3},
			{Name: "field_order", TypeName: "u16", Ordinal: 4},
			{Name: "is_primary_key", TypeName: "bool", Ordinal: 5},
		},
	}
}

func indexMetaSchema() table.Schema[IndexMeta, key.Ordered[uint64]] {
	return table.Schema[IndexMeta, key.Ordered[uint64]]{
		TypeName:   "IndexMeta",
		PrimaryKey: func(m IndexMeta) key.Ordered[uint64] { return key.Of(m.IndexID) },
		EncodeKey:  key.EncodeUint64,
		DecodeKey:  key.DecodeUint64,
		Serialize: func(m IndexMeta, w *codec.Writer) {
			w.WriteUint64(m.IndexID)
			w.WriteString(m.TableName)
			w.WriteString(m.FieldName)
			w.WriteString(m.FieldType)
			w.WriteBool(m.IsUnique)
			w.WriteUint64(m.IndexRootPage)
			w.WriteUint64(m.CreatedTimestamp)
			w.WriteBool(m.IsActive)
		},
		Deserialize: func(r *codec.Reader) (IndexMeta, error) {
			var m IndexMeta
			var err error
			if m.IndexID, err = r.ReadUint64(); err != nil {
				return m, err
			}
			if m.TableName, err = r.ReadString(); err != nil {
				return m, err
			}
			if m.FieldName, err = r.ReadString(); err != nil {
				return m, err
			}
			if m.FieldType, err = r.ReadString(); err != nil {
				return m, err
			}
			if m.IsUnique, err = r.ReadBool(); err != nil {
				return m, err
			}
			if m.IndexRootPage, err = r.ReadUint64(); err != nil {
				return m, err
			}
			if m.CreatedTimestamp, err = r.ReadUint64(); err != nil {
				return m, err
			}
			m.IsActive, err = r.ReadBool()
			return m, err
		},
		Fields: []record.FieldDescriptor{
			{Name: "index_id", TypeName: "u64", Ordinal: 0, IsPrimary: true},
			{Name: "table_name", TypeName: "string", Ordinal: 1},
			{Name: "field_name", TypeName: "string", Ordinal: 2},
			{Name: "field_type", TypeName: "string", Ordinal: 3},
			{Name: "is_unique", TypeName: "bool", Ordinal: 4},
			{Name: "index_root_page", TypeName: "u64", Ordinal: 5},
			{Name: "created_timestamp", TypeName: "u64", Ordinal: 6},
			{Name: "is_active", TypeName: "bool", Ordinal: 7},
		},
	}
}

// Catalog owns the three system tables. It implements table.Catalog so
// it can be handed to every user table as a non-owning back-reference
// (spec §9 "break the cycle").
type Catalog struct {
	engine      *storage.Engine
	tables      *table.Table[TableMeta, key.Ordered[string]]
	fields      *table.Table[FieldMeta, key.Ordered[uint64]]
	indexes     *table.Table[IndexMeta, key.Ordered[uint64]]
	nextFieldID uint64
	nextIndexID uint64
}

// Open opens the existing catalog, or bootstraps a fresh one if the
// database has no system table roots yet (spec §4.8).
func Open(engine *storage.Engine) (*Catalog, error) {
	tablesRoot := engine.SysTablesRoot()
	fieldsRoot := engine.SysFieldsRoot()
	indexesRoot := engine.SysIndexesRoot()
	fresh := tablesRoot == 0 && fieldsRoot == 0

	tablesTable, err := table.Open(engine, "_sys_tables", tablesRoot, tableMetaSchema(), nil)
	if err != nil {
		return nil, err
	}
	fieldsTable, err := table.Open(engine, "_sys_fields", fieldsRoot, fieldMetaSchema(), nil)
	if err != nil {
		return nil, err
	}
	indexesTable, err := table.Open(engine, "_sys_indexes", indexesRoot, indexMetaSchema(), nil)
	if err != nil {
		return nil, err
	}

	c := &Catalog{engine: engine, tables: tablesTable, fields: fieldsTable, indexes: indexesTable}

	if fresh {
		if err := engine.SetSysTablesRoot(tablesTable.RootPageID()); err != nil {
			return nil, err
		}
		if err := engine.SetSysFieldsRoot(fieldsTable.RootPageID()); err != nil {
			return nil, err
		}
		if err := engine.SetSysIndexesRoot(indexesTable.RootPageID()); err != nil {
			return nil, err
		}
		if err := c.bootstrap(); err != nil {
			return nil, err
		}
	} else if indexesRoot == 0 {
		if err := engine.SetSysIndexesRoot(indexesTable.RootPageID()); err != nil {
			return nil, err
		}
	}

	if err := c.initAutoIncrement(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) bootstrap() error {
	systemTables := []struct {
		name     string
		typeName string
		fields   []record.FieldDescriptor
		root     uint64
	}{
		{"_sys_tables", "TableMeta", tableMetaSchema().Fields, c.tables.RootPageID()},
		{"_sys_fields", "FieldMeta", fieldMetaSchema().Fields, c.fields.RootPageID()},
		{"_sys_indexes", "IndexMeta", indexMetaSchema().Fields, c.indexes.RootPageID()},
	}
	now := uint64(time.Now().Unix())
	for _, st := range systemTables {
		meta := TableMeta{TableName: st.name, TypeName: st.typeName, IndexRootPage: st.root, CreatedTimestamp: now, IsSystemTable: true}
		if _, err := c.tables.Insert(meta); err != nil {
			return err
		}
		for _, fd := range st.fields {
			fm := FieldMeta{FieldID: c.nextFieldID, TableName: st.name, FieldName: fd.Name, FieldType: fd.TypeName, FieldOrder: uint16(fd.Ordinal), IsPrimaryKey: fd.IsPrimary}
			c.nextFieldID++
			if _, err := c.fields.Insert(fm); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Catalog) initAutoIncrement() error {
	fields, err := c.fields.Iter()
	if err != nil {
		return err
	}
	var maxField uint64
	for _, f := range fields {
		if f.FieldID+1 > maxField {
			maxField = f.FieldID + 1
		}
	}
	c.nextFieldID = maxField

	indexes, err := c.indexes.Iter()
	if err != nil {
		return err
	}
	var maxIndex uint64
	for _, ix := range indexes {
		if ix.IndexID+1 > maxIndex {
			maxIndex = ix.IndexID + 1
		}
	}
	c.nextIndexID = maxIndex
	return nil
}

// Tables returns every registered table's metadata, in primary-key
// order. The returned slice is a snapshot; mutating it has no effect on
// the catalog (spec §4.8's read-only view).
func (c *Catalog) Tables() ([]TableMeta, error) { return c.tables.Iter() }

// Fields returns every registered field's metadata.
func (c *Catalog) Fields() ([]FieldMeta, error) { return c.fields.Iter() }

// Indexes returns every registered index's metadata.
func (c *Catalog) Indexes() ([]IndexMeta, error) { return c.indexes.Iter() }

// FindTable returns the metadata registered for name.
func (c *Catalog) FindTable(name string) (TableMeta, bool, error) {
	return c.tables.Find(key.Of(name))
}

// RegisterTable records a newly opened table and its fields, rejecting a
// duplicate name. meta.TypeFingerprint is the structural hash OpenTable
// checks on every subsequent reopen (spec §9 "type-erased per-record
// dispatch").
func (c *Catalog) RegisterTable(meta TableMeta, fields []record.FieldDescriptor) error {
	if _, found, err := c.tables.Find(key.Of(meta.TableName)); err != nil {
		return err
	} else if found {
		return fmt.Errorf("catalog: table %s already registered: %w", meta.TableName, dberr.DuplicateKey)
	}
	if _, err := c.tables.Insert(meta); err != nil {
		return err
	}
	for _, fd := range fields {
		fm := FieldMeta{FieldID: c.nextFieldID, TableName: meta.TableName, FieldName: fd.Name, FieldType: fd.TypeName, FieldOrder: uint16(fd.Ordinal), IsPrimaryKey: fd.IsPrimary}
		c.nextFieldID++
		if _, err := c.fields.Insert(fm); err != nil {
			return err
		}
	}
	return nil
}

// UnregisterTable removes name's row and every field row belonging to
// it.
func (c *Catalog) UnregisterTable(name string) error {
	if _, err := c.tables.Remove(key.Of(name)); err != nil {
		return err
	}
	fields, err := c.fields.Iter()
	if err != nil {
		return err
	}
	for _, f := range fields {
		if f.TableName != name {
			continue
		}
		if _, err := c.fields.Remove(key.Of(f.FieldID)); err != nil {
			return err
		}
	}
	return nil
}

// UpdateRecordCount implements table.Catalog. It is a silent no-op for
// names that are not registered, tolerating bootstrap of the three
// system tables before they register themselves.
func (c *Catalog) UpdateRecordCount(tableName string, n int64) error {
	meta, found, err := c.tables.Find(key.Of(tableName))
	if err != nil || !found {
		return err
	}
	meta.RecordCount = n
	return c.tables.Update(meta)
}

// FindIndexRoot implements table.Catalog.
func (c *Catalog) FindIndexRoot(tableName, fieldName string) (uint64, bool, error) {
	indexes, err := c.indexes.Iter()
	if err != nil {
		return 0, false, err
	}
	for _, ix := range indexes {
		if ix.TableName == tableName && ix.FieldName == fieldName && ix.IsActive {
			return ix.IndexRootPage, true, nil
		}
	}
	return 0, false, nil
}

// RegisterIndex implements table.Catalog.
func (c *Catalog) RegisterIndex(tableName, fieldName, fieldType string, unique bool, rootPageID uint64) error {
	im := IndexMeta{
		IndexID:          c.nextIndexID,
		TableName:        tableName,
		FieldName:        fieldName,
		FieldType:        fieldType,
		IsUnique:         unique,
		IndexRootPage:    rootPageID,
		CreatedTimestamp: uint64(time.Now().Unix()),
		IsActive:         true,
	}
	c.nextIndexID++
	_, err := c.indexes.Insert(im)
	return err
}

// UnregisterIndex implements table.Catalog.
func (c *Catalog) UnregisterIndex(tableName, fieldName string) error {
	indexes, err := c.indexes.Iter()
	if err != nil {
		return err
	}
	for _, ix := range indexes {
		if ix.TableName == tableName && ix.FieldName == fieldName {
			_, err := c.indexes.Remove(key.Of(ix.IndexID))
			return err
		}
	}
	return nil
}

// Flush records the three system tables' current root page ids in page 0
// (an insert that splits a root moves it) and writes every dirty page of
// the three system tables.
func (c *Catalog) Flush() error {
	if err := c.engine.SetSysTablesRoot(c.tables.RootPageID()); err != nil {
		return err
	}
	if err := c.engine.SetSysFieldsRoot(c.fields.RootPageID()); err != nil {
		return err
	}
	if err := c.engine.SetSysIndexesRoot(c.indexes.RootPageID()); err != nil {
		return err
	}
	if err := c.tables.Flush(); err != nil {
		return err
	}
	if err := c.fields.Flush(); err != nil {
		return err
	}
	return c.indexes.Flush()
}
