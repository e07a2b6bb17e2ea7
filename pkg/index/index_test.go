package index_test

import (
	"path/filepath"
	"testing"

	"learnql/pkg/fieldvalue"
	"learnql/pkg/index"
	"learnql/pkg/record"
	"learnql/pkg/storage"
)

type student struct {
	id         int64
	name       string
	department string
}

func nameOf(s student) fieldvalue.Value       { return fieldvalue.String(s.name) }
func departmentOf(s student) fieldvalue.Value { return fieldvalue.String(s.department) }

func openEngine(t *testing.T) *storage.Engine {
	t.Helper()
	e, err := storage.Open(filepath.Join(t.TempDir(), "test.lql"), 64)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestUniqueIndexRejectsDuplicateValue(t *testing.T) {
	ix, err := index.OpenUnique(openEngine(t), 0, "name", nameOf)
	if err != nil {
		t.Fatalf("OpenUnique: %v", err)
	}
	a := student{id: 1, name: "ada"}
	b := student{id: 2, name: "ada"}

	inserted, err := ix.Insert(a, record.Id{PageID: 1})
	if err != nil || !inserted {
		t.Fatalf("Insert a: got (%v, %v), want (true, nil)", inserted, err)
	}
	inserted, err = ix.Insert(b, record.Id{PageID: 2})
	if err != nil {
		t.Fatalf("Insert b: unexpected error %v", err)
	}
	if inserted {
		t.Errorf("expected second insert with the same name to be rejected")
	}
}

func TestUniqueIndexFindAndRange(t *testing.T) {
	ix, err := index.OpenUnique(openEngine(t), 0, "name", nameOf)
	if err != nil {
		t.Fatalf("OpenUnique: %v", err)
	}
	names := []string{"ada", "grace", "linus"}
	for i, n := range names {
		if _, err := ix.Insert(student{id: int64(i), name: n}, record.Id{PageID: uint64(i + 1)}); err != nil {
			t.Fatalf("Insert %s: %v", n, err)
		}
	}
	rid, ok, err := ix.Find(fieldvalue.String("grace"))
	if err != nil || !ok || rid.PageID != 2 {
		t.Fatalf("Find(grace): got (%+v, %v, %v), want ({PageID:2}, true, nil)", rid, ok, err)
	}

	rids, err := ix.Range(fieldvalue.String("ada"), fieldvalue.String("linus"))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(rids) != 3 {
		t.Fatalf("Range[ada,linus]: got %d entries, want 3 (inclusive of both ends)", len(rids))
	}

	partial, err := ix.Range(fieldvalue.String("b"), fieldvalue.String("linus"))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(partial) != 2 {
		t.Fatalf("Range[b,linus]: got %d entries, want 2 (grace, linus)", len(partial))
	}
}

func TestUniqueIndexUpdate(t *testing.T) {
	ix, err := index.OpenUnique(openEngine(t), 0, "name", nameOf)
	if err != nil {
		t.Fatalf("OpenUnique: %v", err)
	}
	old := student{id: 1, name: "ada"}
	rid := record.Id{PageID: 1}
	if _, err := ix.Insert(old, rid); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	updated := student{id: 1, name: "augusta"}
	if _, err := ix.Update(old, updated, rid); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, ok, _ := ix.Find(fieldvalue.String("ada")); ok {
		t.Errorf("expected old value to no longer be indexed after Update")
	}
	got, ok, err := ix.Find(fieldvalue.String("augusta"))
	if err != nil || !ok || got != rid {
		t.Fatalf("Find(augusta): got (%+v, %v, %v), want (%+v, true, nil)", got, ok, err, rid)
	}
}

func TestMultiValueIndexAllowsSharedValues(t *testing.T) {
	ix, err := index.OpenMultiValue(openEngine(t), 0, "department", departmentOf)
	if err != nil {
		t.Fatalf("OpenMultiValue: %v", err)
	}
	students := []student{
		{id: 1, department: "cs"},
		{id: 2, department: "cs"},
		{id: 3, department: "math"},
	}
	for i, s := range students {
		if _, err := ix.Insert(s, record.Id{PageID: uint64(i + 1)}); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	rids, err := ix.Find(fieldvalue.String("cs"))
	if err != nil {
		t.Fatalf("Find(cs): %v", err)
	}
	if len(rids) != 2 {
		t.Fatalf("Find(cs): got %d records, want 2", len(rids))
	}
	count, err := ix.Count(fieldvalue.String("math"))
	if err != nil || count != 1 {
		t.Fatalf("Count(math): got (%d, %v), want (1, nil)", count, err)
	}
}

func TestMultiValueIndexUniqueValues(t *testing.T) {
	ix, err := index.OpenMultiValue(openEngine(t), 0, "department", departmentOf)
	if err != nil {
		t.Fatalf("OpenMultiValue: %v", err)
	}
	students := []student{
		{id: 1, department: "cs"},
		{id: 2, department: "cs"},
		{id: 3, department: "math"},
		{id: 4, department: "art"},
	}
	for i, s := range students {
		if _, err := ix.Insert(s, record.Id{PageID: uint64(i + 1)}); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	values, err := ix.UniqueValues()
	if err != nil {
		t.Fatalf("UniqueValues: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("UniqueValues: got %d, want 3", len(values))
	}
}

func TestMultiValueIndexRemove(t *testing.T) {
	ix, err := index.OpenMultiValue(openEngine(t), 0, "department", departmentOf)
	if err != nil {
		t.Fatalf("OpenMultiValue: %v", err)
	}
	s := student{id: 1, department: "cs"}
	rid := record.Id{PageID: 7}
	if _, err := ix.Insert(s, rid); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	removed, err := ix.Remove(s, rid)
	if err != nil || !removed {
		t.Fatalf("Remove: got (%v, %v), want (true, nil)", removed, err)
	}
	count, err := ix.Count(fieldvalue.String("cs"))
	if err != nil || count != 0 {
		t.Fatalf("Count after Remove: got (%d, %v), want (0, nil)", count, err)
	}
}
