// Package typemap converts native MySQL column type strings to normalized
// column types and back.
package typemap

import (
	"strconv"
	"strings"

	"github.com/isaacwassouf/schema-migrator/shared"
)

// ColumnTypeInfo is a parsed column type.
type ColumnTypeInfo struct {
	Kind     shared.TypeKind
	Size     int
	Scale    int
	Unsigned bool
}

// Numeric reports whether the type holds numbers.
func (i ColumnTypeInfo) Numeric() bool {
	return i.Kind.Numeric()
}

type baseMapping struct {
	kind shared.TypeKind
	// fixedSize overrides any declared size when non-zero.
	fixedSize int
	// canonical is the base keyword the kind renders to.
	canonical string
}

var bases = map[string]baseMapping{
	"int":      {kind: shared.Integer, canonical: "int"},
	"smallint": {kind: shared.Integer, canonical: "int"},
	"double":   {kind: shared.Integer, canonical: "int"},
	"float":    {kind: shared.Decimal, canonical: "decimal"},
	"decimal":  {kind: shared.Decimal, canonical: "decimal"},
	"varchar":  {kind: shared.Varchar, canonical: "varchar"},
	"char":     {kind: shared.Char, canonical: "char"},
	"date":     {kind: shared.Date, canonical: "date"},
	"datetime": {kind: shared.Datetime, canonical: "datetime"},
	"text":     {kind: shared.Text, canonical: "text"},
	"enum":     {kind: shared.Char, fixedSize: 1, canonical: "char"},
}

// Parse reads a native type of the form base(size[,scale]) [unsigned].
// column is only used for error reporting.
func Parse(nativeType, column string) (ColumnTypeInfo, error) {
	t, ok := scan(nativeType)
	if !ok {
		return ColumnTypeInfo{}, &shared.UnrecognizedTypeError{Type: nativeType, Column: column}
	}
	m, ok := bases[t.base]
	if !ok {
		return ColumnTypeInfo{}, &shared.UnrecognizedTypeError{Type: t.base, Column: column}
	}

	info := ColumnTypeInfo{
		Kind:     m.kind,
		Size:     t.size,
		Scale:    t.scale,
		Unsigned: t.unsigned,
	}
	if m.fixedSize > 0 {
		info.Size = m.fixedSize
	}
	// Only decimals keep a scale: double(10,2) is int(10).
	if m.kind != shared.Decimal {
		info.Scale = 0
	}
	return info, nil
}

// Render returns the canonical lower-case native type for info, in the form
// MySQL reports it in information_schema.COLUMNS.COLUMN_TYPE.
func Render(info ColumnTypeInfo) string {
	var b strings.Builder
	switch info.Kind {
	case shared.Integer:
		b.WriteString("int")
		writeSize(&b, info.Size)
	case shared.Decimal:
		b.WriteString("decimal")
		if info.Size > 0 {
			b.WriteString("(" + strconv.Itoa(info.Size) + "," + strconv.Itoa(info.Scale) + ")")
		}
	case shared.Varchar:
		b.WriteString("varchar")
		writeSize(&b, info.Size)
	case shared.Char:
		b.WriteString("char")
		writeSize(&b, info.Size)
	case shared.Date:
		b.WriteString("date")
	case shared.Datetime:
		b.WriteString("datetime")
	case shared.Text:
		b.WriteString("text")
	default:
		return ""
	}
	if info.Unsigned && info.Numeric() {
		b.WriteString(" unsigned")
	}
	return b.String()
}

// RenderColumn returns the native type the column descriptor renders to.
func RenderColumn(col shared.ColumnDescriptor) string {
	return Render(ColumnTypeInfo{
		Kind:     col.Kind,
		Size:     col.Size,
		Scale:    col.Scale,
		Unsigned: col.Unsigned,
	})
}

// Normalize canonicalizes a native type string without going through Parse:
// lower-cased, whitespace collapsed, the base replaced by the base its kind
// renders to. Strings outside the grammar are returned lower-cased and
// trimmed.
func Normalize(nativeType string) string {
	t, ok := scan(nativeType)
	if !ok {
		return strings.ToLower(strings.TrimSpace(nativeType))
	}
	m, ok := bases[t.base]
	if !ok {
		return strings.ToLower(strings.TrimSpace(nativeType))
	}

	out := m.canonical
	switch {
	case m.fixedSize > 0:
		out += "(" + strconv.Itoa(m.fixedSize) + ")"
	case m.canonical == "decimal" && t.hasSize:
		out += "(" + strconv.Itoa(t.size) + "," + strconv.Itoa(t.scale) + ")"
	case t.hasSize && m.kind != shared.Date && m.kind != shared.Datetime && m.kind != shared.Text:
		out += "(" + strconv.Itoa(t.size) + ")"
	}
	if t.unsigned && m.kind.Numeric() {
		out += " unsigned"
	}
	return out
}

func writeSize(b *strings.Builder, size int) {
	if size > 0 {
		b.WriteString("(" + strconv.Itoa(size) + ")")
	}
}
