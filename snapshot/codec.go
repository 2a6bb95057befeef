package snapshot

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/isaacwassouf/schema-migrator/shared"
)

const (
	fieldSeparator = "|"
	// nullToken marks a numeric field that is NULL or empty.
	nullToken = "NULL"
)

// Field is one column of a snapshot record.
type Field struct {
	Name    string
	Numeric bool
}

// FieldsFor derives the snapshot fields of a definition, in declaration order.
func FieldsFor(columns []shared.ColumnDescriptor) []Field {
	fields := make([]Field, len(columns))
	for i, col := range columns {
		fields[i] = Field{Name: col.Name, Numeric: col.Kind.Numeric()}
	}
	return fields
}

// FieldNames returns the names of fields in order.
func FieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// EncodeRecord renders one row as a snapshot line, without the terminator.
func EncodeRecord(fields []Field, values []sql.NullString) (string, error) {
	if len(values) != len(fields) {
		return "", fmt.Errorf("got %d values for %d fields", len(values), len(fields))
	}
	segments := make([]string, len(values))
	for i, v := range values {
		if fields[i].Numeric && (!v.Valid || v.String == "") {
			segments[i] = nullToken
			continue
		}
		segments[i] = escape(v.String)
	}
	return strings.Join(segments, fieldSeparator), nil
}

// DecodeRecord parses a snapshot line into insert values aligned with fields.
// A numeric NULL token decodes to nil.
func DecodeRecord(fields []Field, line string) ([]any, error) {
	segments := strings.Split(line, fieldSeparator)
	if len(segments) != len(fields) {
		return nil, fmt.Errorf("got %d fields, want %d", len(segments), len(fields))
	}
	values := make([]any, len(segments))
	for i, seg := range segments {
		if fields[i].Numeric && seg == nullToken {
			values[i] = nil
			continue
		}
		values[i] = unescape(seg)
	}
	return values, nil
}

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\x00", `\0`,
)

func escape(s string) string {
	return escaper.Replace(s)
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		if s[i] == '0' {
			b.WriteByte(0)
		} else {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
