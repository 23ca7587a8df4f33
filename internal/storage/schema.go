// The TableSpec types live here so the load package and every backend can
// share them without circular imports.
package storage

// TableSpec describes one warehouse table for create-if-absent bootstrap.
//
// Column types use a small neutral vocabulary that each backend maps to its
// own DDL: text, varchar(n), int, bigint, numeric(p,s), date, timestamp, bool.
type TableSpec struct {
	Name        string           `json:"name"`
	PrimaryKey  *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
	Indexes     []IndexSpec      `json:"indexes,omitempty"`
}

type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"` // serial | composite
	// Columns is used when Type is "composite".
	Columns []string `json:"columns,omitempty"`
}

type ColumnSpec struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	References string `json:"references,omitempty"`
	Nullable   *bool  `json:"nullable,omitempty"`
	Default    string `json:"default,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// IndexSpec is a named secondary index. Creating an index that already exists
// is not an error.
type IndexSpec struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// ColumnNames returns the non-primary-key column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}
