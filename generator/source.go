package generator

import (
	"bytes"
	"embed"
	"fmt"
	"go/format"
	"strconv"
	"strings"
	"text/template"

	"github.com/isaacwassouf/schema-migrator/migration"
	"github.com/isaacwassouf/schema-migrator/snapshot"
)

//go:embed templates/unit.go.tmpl
var templates embed.FS

var unitTemplate = template.Must(template.New("unit.go.tmpl").Funcs(template.FuncMap{
	"quote": strconv.Quote,
	"quoteList": func(names []string) string {
		quoted := make([]string, len(names))
		for i, n := range names {
			quoted[i] = strconv.Quote(n)
		}
		return strings.Join(quoted, ", ")
	},
}).ParseFS(templates, "templates/unit.go.tmpl"))

type restoreData struct {
	Table  string
	Fields []snapshot.Field
}

type unitData struct {
	Package          string
	Doc              *migration.Document
	HasIndexes       bool
	HasReferences    bool
	Restore          bool
	AfterUp          *restoreData
	AfterCreateTable *restoreData
}

// RenderSource renders doc as Go source registering the equivalent
// migration.Unit from an init function. The output depends on doc and pkg
// only.
func RenderSource(doc *migration.Document, pkg string) ([]byte, error) {
	data := unitData{
		Package:       pkg,
		Doc:           doc,
		HasIndexes:    doc.Definition.Indexes != nil,
		HasReferences: doc.Definition.References != nil,
	}
	if h := doc.Hooks.AfterUp; h != nil {
		data.AfterUp = &restoreData{Table: h.Table, Fields: doc.RestoreFields(h)}
	}
	if h := doc.Hooks.AfterCreateTable; h != nil {
		data.AfterCreateTable = &restoreData{Table: h.Table, Fields: doc.RestoreFields(h)}
	}
	data.Restore = data.AfterUp != nil || data.AfterCreateTable != nil

	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", doc.Unit, err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format %s: %w", doc.Unit, err)
	}
	return src, nil
}
