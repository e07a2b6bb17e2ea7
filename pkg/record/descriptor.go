package record

// FieldDescriptor describes one field of a record type for catalog
// registration and index construction: its name, its LearnQL type name,
// its ordinal position in the record, and whether it is the primary key
// (spec §1 "a static list of field descriptors (name, type_name,
// ordinal, is_pk)").
type FieldDescriptor struct {
	Name      string
	TypeName  string
	Ordinal   int
	IsPrimary bool
}
