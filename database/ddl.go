package database

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/isaacwassouf/schema-migrator/shared"
	"github.com/isaacwassouf/schema-migrator/typemap"
	"github.com/isaacwassouf/schema-migrator/utils"
)

//go:embed templates/*.tmpl
var templateFiles embed.FS

var ddlTemplates = template.Must(template.New("ddl").Funcs(template.FuncMap{
	"quote":      utils.QuoteIdentifier,
	"qualified":  utils.QualifiedName,
	"columnType": typemap.RenderColumn,
	"quoteList": func(names []string) string {
		quoted := make([]string, len(names))
		for i, n := range names {
			quoted[i] = utils.QuoteIdentifier(n)
		}
		return strings.Join(quoted, ", ")
	},
	"position": func(p shared.Position) string {
		switch {
		case p.First:
			return " FIRST"
		case p.After != "":
			return " AFTER " + utils.QuoteIdentifier(p.After)
		}
		return ""
	},
}).ParseFS(templateFiles, "templates/*.tmpl"))

// tableOptions maps option names as introspected to their CREATE TABLE
// clause.
var tableOptions = map[string]string{
	"ENGINE":          "ENGINE",
	"AUTO_INCREMENT":  "AUTO_INCREMENT",
	"TABLE_COLLATION": "COLLATE",
	"CHARSET":         "DEFAULT CHARSET",
}

type ddlData struct {
	Schema string
	Table  string
	Name   string

	Column    shared.ColumnDescriptor
	Index     shared.IndexDescriptor
	Reference shared.ReferenceDescriptor

	Def        shared.TableDefinition
	PrimaryKey []string
	Indexes    []shared.IndexDescriptor
	Options    []string
}

func renderDDL(name string, data ddlData) (string, error) {
	var buf bytes.Buffer
	if err := ddlTemplates.ExecuteTemplate(&buf, name+".tmpl", data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// createTableSQL renders the CREATE TABLE statement of def. The primary key
// is the PRIMARY index when declared, else the columns flagged primary.
func createTableSQL(schema, table string, def shared.TableDefinition) (string, error) {
	data := ddlData{Schema: schema, Table: table, Def: def}
	for _, idx := range def.Indexes {
		if idx.IsPrimary() {
			data.PrimaryKey = idx.Columns
			continue
		}
		data.Indexes = append(data.Indexes, idx)
	}
	if data.PrimaryKey == nil {
		for _, col := range def.Columns {
			if col.Primary {
				data.PrimaryKey = append(data.PrimaryKey, col.Name)
			}
		}
	}

	names := make([]string, 0, len(def.Options))
	for name := range def.Options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		clause, ok := tableOptions[strings.ToUpper(name)]
		if !ok {
			return "", fmt.Errorf("unsupported table option %s", name)
		}
		value := def.Options[name]
		if !isOptionValue(value) {
			return "", fmt.Errorf("invalid value %q for table option %s", value, name)
		}
		data.Options = append(data.Options, clause+"="+value)
	}
	return renderDDL("create_table", data)
}

// isOptionValue accepts the bare words table options take.
func isOptionValue(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
