// Command learnql-inspect is a standalone diagnostic tool for a LearnQL
// database file. It is never imported by the core library; it only
// opens a database read-only-in-spirit (it opens the file read-write
// through storage.Open, which takes no file lock) and prints or copies
// its state. Modeled on the teacher's cmd/dinodb_stress, which is likewise a
// standalone binary against the library's public API rather than part
// of it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/otiai10/copy"

	"learnql/pkg/btree"
	"learnql/pkg/catalog"
	"learnql/pkg/fieldvalue"
	"learnql/pkg/index"
	"learnql/pkg/storage"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: learnql-inspect <stats|snapshot> ...")
	}
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "stats":
		err = runStats(args[1:])
	case "snapshot":
		err = runSnapshot(args[1:])
	default:
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "learnql-inspect:", err)
		os.Exit(1)
	}
}

func runStats(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("stats: usage: learnql-inspect stats <db-path>")
	}
	engine, err := storage.Open(args[0], 64)
	if err != nil {
		return err
	}
	defer engine.Close()

	cat, err := catalog.Open(engine)
	if err != nil {
		return err
	}

	fmt.Printf("sys_tables_root=%d sys_fields_root=%d sys_indexes_root=%d created=%d\n",
		engine.SysTablesRoot(), engine.SysFieldsRoot(), engine.SysIndexesRoot(), engine.CreatedTimestamp())

	tables, err := cat.Tables()
	if err != nil {
		return err
	}
	fields, err := cat.Fields()
	if err != nil {
		return err
	}
	indexes, err := cat.Indexes()
	if err != nil {
		return err
	}

	for _, tm := range tables {
		fmt.Printf("\ntable %-20s type=%-16s root=%-6d records=%-6d system=%v\n",
			tm.TableName, tm.TypeName, tm.IndexRootPage, tm.RecordCount, tm.IsSystemTable)
		for _, fm := range fields {
			if fm.TableName != tm.TableName {
				continue
			}
			fmt.Printf("  field #%-3d %-16s %-8s pk=%v\n", fm.FieldID, fm.FieldName, fm.FieldType, fm.IsPrimaryKey)
		}
		for _, im := range indexes {
			if im.TableName != tm.TableName {
				continue
			}
			stats, err := indexStats(engine, im)
			if err != nil {
				return fmt.Errorf("index %s.%s: %w", tm.TableName, im.FieldName, err)
			}
			fmt.Printf("  index #%-3d %-16s unique=%-5v root=%-6d height=%-2d leaves=%-4d entries=%-6d active=%v\n",
				im.IndexID, im.FieldName, im.IsUnique, im.IndexRootPage, stats.Height, stats.Leaves, stats.Entries, im.IsActive)
		}
	}
	return nil
}

// indexStats walks a secondary index's tree without needing the owning
// table's record type: a unique index's key is always fieldvalue.Value
// and a multi-value index's key is always key.Composite, regardless of
// which table or field it belongs to, so it can be reopened generically
// with a placeholder record type.
func indexStats(engine *storage.Engine, im catalog.IndexMeta) (btree.Stats, error) {
	if im.IsUnique {
		ix, err := index.OpenUnique[placeholder](engine, im.IndexRootPage, im.FieldName, placeholderAccessor)
		if err != nil {
			return btree.Stats{}, err
		}
		return ix.Tree().Stats()
	}
	ix, err := index.OpenMultiValue[placeholder](engine, im.IndexRootPage, im.FieldName, placeholderAccessor)
	if err != nil {
		return btree.Stats{}, err
	}
	return ix.Tree().Stats()
}

type placeholder struct{}

func placeholderAccessor(placeholder) fieldvalue.Value { return fieldvalue.Bool(false) }

func runSnapshot(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("snapshot: usage: learnql-inspect snapshot <db-path> <dest-path>")
	}
	return copy.Copy(args[0], args[1])
}
