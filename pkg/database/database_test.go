package database_test

import (
	"errors"
	"path/filepath"
	"testing"

	"learnql/pkg/codec"
	"learnql/pkg/database"
	"learnql/pkg/dberr"
	"learnql/pkg/fieldvalue"
	"learnql/pkg/key"
	"learnql/pkg/record"
	"learnql/pkg/table"
)

type student struct {
	id         int64
	name       string
	department string
	gpa        float64
}

func studentSchema() table.Schema[student, key.Ordered[int64]] {
	return table.Schema[student, key.Ordered[int64]]{
		TypeName:   "student",
		PrimaryKey: func(s student) key.Ordered[int64] { return key.Of(s.id) },
		EncodeKey:  key.EncodeInt64,
		DecodeKey:  key.DecodeInt64,
		Serialize: func(s student, w *codec.Writer) {
			w.WriteInt64(s.id)
			w.WriteString(s.name)
			w.WriteString(s.department)
			w.WriteFloat64(s.gpa)
		},
		Deserialize: func(r *codec.Reader) (student, error) {
			var s student
			var err error
			if s.id, err = r.ReadInt64(); err != nil {
				return s, err
			}
			if s.name, err = r.ReadString(); err != nil {
				return s, err
			}
			if s.department, err = r.ReadString(); err != nil {
				return s, err
			}
			s.gpa, err = r.ReadFloat64()
			return s, err
		},
		Fields: []record.FieldDescriptor{
			{Name: "id", TypeName: "int64", Ordinal: 0, IsPrimary: true},
			{Name: "name", TypeName: "string", Ordinal: 1},
			{Name: "department", TypeName: "string", Ordinal: 2},
			{Name: "gpa", TypeName: "float64", Ordinal: 3},
		},
	}
}

type teacher struct {
	id int64
}

func teacherSchema() table.Schema[teacher, key.Ordered[int64]] {
	return table.Schema[teacher, key.Ordered[int64]]{
		TypeName:    "teacher",
		PrimaryKey:  func(t teacher) key.Ordered[int64] { return key.Of(t.id) },
		EncodeKey:   key.EncodeInt64,
		DecodeKey:   key.DecodeInt64,
		Serialize:   func(t teacher, w *codec.Writer) { w.WriteInt64(t.id) },
		Deserialize: func(r *codec.Reader) (teacher, error) { id, err := r.ReadInt64(); return teacher{id: id}, err },
		Fields:      []record.FieldDescriptor{{Name: "id", TypeName: "int64", Ordinal: 0, IsPrimary: true}},
	}
}

func nameOf(s student) fieldvalue.Value       { return fieldvalue.String(s.name) }
func departmentOf(s student) fieldvalue.Value { return fieldvalue.String(s.department) }
func gpaOf(s student) fieldvalue.Value        { return fieldvalue.Float64(s.gpa) }

func openDB(t *testing.T) *database.Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.lql")
	db, err := database.Open(path)
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEndToEndStudentsWorkflow(t *testing.T) {
	db := openDB(t)
	students, err := database.OpenTable(db, "students", studentSchema())
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	roster := []student{
		{id: 1, name: "ada", department: "cs", gpa: 3.9},
		{id: 2, name: "grace", department: "cs", gpa: 3.7},
		{id: 3, name: "linus", department: "math", gpa: 3.2},
	}
	for _, s := range roster {
		if _, err := students.Insert(s); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if _, err := students.AddIndex("name", "string", true, nameOf); err != nil {
		t.Fatalf("AddIndex(name): %v", err)
	}
	if _, err := students.AddIndex("department", "string", false, departmentOf); err != nil {
		t.Fatalf("AddIndex(department): %v", err)
	}
	if _, err := students.AddIndex("gpa", "float64", true, gpaOf); err != nil {
		t.Fatalf("AddIndex(gpa): %v", err)
	}

	got, found, err := students.FindBy("name", fieldvalue.String("grace"))
	if err != nil || !found || got.id != 2 {
		t.Fatalf("FindBy(name=grace): got (%+v, %v, %v)", got, found, err)
	}
	cs, err := students.FindAllBy("department", fieldvalue.String("cs"))
	if err != nil || len(cs) != 2 {
		t.Fatalf("FindAllBy(department=cs): got (%v, %v), want 2 records", cs, err)
	}
	ranged, err := students.RangeQuery("gpa", fieldvalue.Float64(3.5), fieldvalue.Float64(4.0))
	if err != nil || len(ranged) != 2 {
		t.Fatalf("RangeQuery(gpa in [3.5,4.0]): got (%v, %v), want 2 records", ranged, err)
	}
}

func TestOpenTableReusesPersistedRootAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lql")
	db, err := database.Open(path)
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	students, err := database.OpenTable(db, "students", studentSchema())
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	if _, err := students.Insert(student{id: 1, name: "ada", department: "cs", gpa: 3.9}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := database.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	reopenedStudents, err := database.OpenTable(reopened, "students", studentSchema())
	if err != nil {
		t.Fatalf("OpenTable after reopen: %v", err)
	}
	got, found, err := reopenedStudents.Find(key.Of[int64](1))
	if err != nil || !found || got.name != "ada" {
		t.Fatalf("Find after reopen: got (%+v, %v, %v)", got, found, err)
	}
}

func TestOpenTableRejectsTypeMismatch(t *testing.T) {
	db := openDB(t)
	if _, err := database.OpenTable(db, "people", studentSchema()); err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	if _, err := database.OpenTable(db, "people", teacherSchema()); !errors.Is(err, dberr.TypeMismatch) {
		t.Errorf("OpenTable with mismatched schema: got err %v, want dberr.TypeMismatch", err)
	}
}

func TestDropTableReclaimsPagesAndRemovesMetadata(t *testing.T) {
	db := openDB(t)
	students, err := database.OpenTable(db, "students", studentSchema())
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	for i := int64(0); i < 20; i++ {
		if _, err := students.Insert(student{id: i, name: "s", department: "cs", gpa: 3.0}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if _, err := students.AddIndex("department", "string", false, departmentOf); err != nil {
		t.Fatalf("AddIndex: %v", err)
	}

	if err := database.DropTable(db, "students", studentSchema()); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	tables, _, indexes, err := db.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	for _, tm := range tables {
		if tm.TableName == "students" {
			t.Errorf("expected students to be gone from the catalog after DropTable")
		}
	}
	for _, im := range indexes {
		if im.TableName == "students" {
			t.Errorf("expected students' indexes to be gone from the catalog after DropTable")
		}
	}
}

func TestDropTableRejectsSystemTable(t *testing.T) {
	db := openDB(t)
	err := database.DropTable(db, "_sys_tables", studentSchema())
	if !errors.Is(err, dberr.InvalidArgument) {
		t.Errorf("DropTable(_sys_tables): got err %v, want dberr.InvalidArgument", err)
	}
}

func TestFlushAndClose(t *testing.T) {
	db := openDB(t)
	students, err := database.OpenTable(db, "students", studentSchema())
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	if _, err := students.Insert(student{id: 1, name: "ada", department: "cs", gpa: 3.9}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
