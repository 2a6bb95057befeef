package shared

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// PrimaryIndexName is the reserved index name of the primary-key constraint.
const PrimaryIndexName = "PRIMARY"

// RawColumnDetails is one row of information_schema.COLUMNS for a table.
type RawColumnDetails struct {
	ColumnName    string
	DataType      string
	ColumnType    string
	ColumnKey     string
	IsNullable    string
	ColumnDefault sql.NullString
	Extra         string
}

// TypeKind is the normalized kind of a column type.
type TypeKind int

const (
	KindInvalid TypeKind = iota
	Integer
	Varchar
	Char
	Date
	Datetime
	Decimal
	Text
)

var kindNames = map[TypeKind]string{
	Integer:  "integer",
	Varchar:  "varchar",
	Char:     "char",
	Date:     "date",
	Datetime: "datetime",
	Decimal:  "decimal",
	Text:     "text",
}

func (k TypeKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("TypeKind(%d)", int(k))
}

// GoName is the exported identifier of the kind in this package.
func (k TypeKind) GoName() string {
	switch k {
	case Integer:
		return "Integer"
	case Varchar:
		return "Varchar"
	case Char:
		return "Char"
	case Date:
		return "Date"
	case Datetime:
		return "Datetime"
	case Decimal:
		return "Decimal"
	case Text:
		return "Text"
	}
	return "KindInvalid"
}

// Valid reports whether k is one of the supported kinds.
func (k TypeKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Numeric reports whether values of this kind are numbers.
func (k TypeKind) Numeric() bool {
	return k == Integer || k == Decimal
}

// ParseTypeKind is the inverse of String.
func ParseTypeKind(s string) (TypeKind, error) {
	for k, name := range kindNames {
		if name == strings.ToLower(strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown column kind %q", s)
}

func (k TypeKind) MarshalYAML() (interface{}, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", k)
	}
	return k.String(), nil
}

func (k *TypeKind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseTypeKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Position is the intended placement of a column: first, or after another
// column. Exactly one of the two is set on a well-formed descriptor.
type Position struct {
	First bool   `yaml:"first,omitempty"`
	After string `yaml:"after,omitempty"`
}

func (p Position) String() string {
	if p.First {
		return "first"
	}
	if p.After != "" {
		return "after:" + p.After
	}
	return ""
}

// ColumnDescriptor is the declared shape of a single column.
type ColumnDescriptor struct {
	Name          string   `yaml:"name"`
	Kind          TypeKind `yaml:"type"`
	Size          int      `yaml:"size,omitempty"`
	Scale         int      `yaml:"scale,omitempty"`
	Unsigned      bool     `yaml:"unsigned,omitempty"`
	NotNull       bool     `yaml:"not_null,omitempty"`
	Primary       bool     `yaml:"primary,omitempty"`
	AutoIncrement bool     `yaml:"auto_increment,omitempty"`
	Position      Position `yaml:"position"`
}

// Validate checks that the descriptor can be turned into DDL.
func (c ColumnDescriptor) Validate() error {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return fmt.Errorf("column without a name")
	case !c.Kind.Valid():
		return fmt.Errorf("column %s: invalid kind %s", c.Name, c.Kind)
	case c.Size < 0 || c.Scale < 0:
		return fmt.Errorf("column %s: negative size or scale", c.Name)
	case c.Scale > 0 && c.Kind != Decimal:
		return fmt.Errorf("column %s: scale is only valid on decimal columns", c.Name)
	case c.Position.First && c.Position.After != "":
		return fmt.Errorf("column %s: both first and after are set", c.Name)
	}
	return nil
}

// IndexDescriptor is a named, ordered list of indexed columns.
type IndexDescriptor struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns,flow"`
}

// IsPrimary reports whether the index is the primary-key constraint.
func (i IndexDescriptor) IsPrimary() bool {
	return i.Name == PrimaryIndexName
}

// ReferenceDescriptor is a named foreign key.
type ReferenceDescriptor struct {
	Name              string   `yaml:"name"`
	ReferencedSchema  string   `yaml:"referenced_schema,omitempty"`
	ReferencedTable   string   `yaml:"referenced_table"`
	Columns           []string `yaml:"columns,flow"`
	ReferencedColumns []string `yaml:"referenced_columns,flow"`
}

// TableDefinition is the declarative target shape of a table. A nil Indexes
// or References slice means the facet is not declared and is left alone
// when reconciling an existing table.
type TableDefinition struct {
	Columns    []ColumnDescriptor    `yaml:"columns"`
	Indexes    []IndexDescriptor     `yaml:"indexes"`
	References []ReferenceDescriptor `yaml:"references"`
	Options    map[string]string     `yaml:"options,omitempty"`
}

// tableDefinitionYAML keeps a nil facet out of the document while an empty
// one is written as [].
type tableDefinitionYAML struct {
	Columns    []ColumnDescriptor     `yaml:"columns"`
	Indexes    *[]IndexDescriptor     `yaml:"indexes,omitempty"`
	References *[]ReferenceDescriptor `yaml:"references,omitempty"`
	Options    map[string]string      `yaml:"options,omitempty"`
}

func (d TableDefinition) MarshalYAML() (interface{}, error) {
	out := tableDefinitionYAML{Columns: d.Columns, Options: d.Options}
	if d.Indexes != nil {
		out.Indexes = &d.Indexes
	}
	if d.References != nil {
		out.References = &d.References
	}
	return out, nil
}

// Validate checks the reconciliation precondition: at least one column,
// every column well formed, the first one placed first and each other one
// placed after its predecessor.
func (d TableDefinition) Validate() error {
	if len(d.Columns) == 0 {
		return fmt.Errorf("%w: table must have at least one column", ErrEmptyOrInvalidColumnSet)
	}
	seen := make(map[string]struct{}, len(d.Columns))
	for i, col := range d.Columns {
		if err := col.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrEmptyOrInvalidColumnSet, err)
		}
		if i == 0 && !col.Position.First {
			return fmt.Errorf("%w: column %s: the first column must be placed first", ErrEmptyOrInvalidColumnSet, col.Name)
		}
		if i > 0 && col.Position.After != d.Columns[i-1].Name {
			return fmt.Errorf("%w: column %s: must be placed after %s, not %q",
				ErrEmptyOrInvalidColumnSet, col.Name, d.Columns[i-1].Name, col.Position.String())
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("%w: duplicate column %s", ErrEmptyOrInvalidColumnSet, col.Name)
		}
		seen[col.Name] = struct{}{}
	}
	return nil
}

// Column returns the descriptor with the given name.
func (d TableDefinition) Column(name string) (ColumnDescriptor, bool) {
	for _, col := range d.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnDescriptor{}, false
}

// ColumnNames returns the column names in declaration order.
func (d TableDefinition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		names[i] = col.Name
	}
	return names
}

// LiveTableState is the introspected state of an existing table.
type LiveTableState struct {
	Columns    []RawColumnDetails
	Indexes    []IndexDescriptor
	References []ReferenceDescriptor
	Options    map[string]string
}

// Introspector is the read side of the database collaborator.
type Introspector interface {
	DefaultSchema() string
	TableExists(ctx context.Context, table, schema string) (bool, error)
	ListTables(ctx context.Context) ([]string, error)
	DescribeColumns(ctx context.Context, table, schema string) ([]RawColumnDetails, error)
	DescribeIndexes(ctx context.Context, table, schema string) ([]IndexDescriptor, error)
	DescribeReferences(ctx context.Context, table, schema string) ([]ReferenceDescriptor, error)
	TableOptions(ctx context.Context, table, schema string) (map[string]string, error)
}

// RowSource iterates over table rows. Values are aligned with the column
// list the source was opened with; an invalid NullString is SQL NULL.
type RowSource interface {
	Next() bool
	Values() ([]sql.NullString, error)
	Err() error
	Close() error
}

// Tx is a row-level transaction.
type Tx interface {
	Delete(ctx context.Context, table string) error
	Insert(ctx context.Context, table string, fields []string, values []any) error
	Commit() error
	Rollback() error
}
