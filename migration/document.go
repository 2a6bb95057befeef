package migration

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/isaacwassouf/schema-migrator/shared"
	"github.com/isaacwassouf/schema-migrator/snapshot"
	"github.com/isaacwassouf/schema-migrator/utils"
)

// FormatVersion is the document format written by Save and accepted by Load.
const FormatVersion = 1

// DocumentExt is the file extension of migration documents.
const DocumentExt = ".yaml"

// Document is the persisted form of a migration unit: one table's target
// definition plus its optional restore hooks.
type Document struct {
	FormatVersion int                    `yaml:"format_version"`
	Unit          string                 `yaml:"unit"`
	Table         string                 `yaml:"table"`
	Version       string                 `yaml:"version"`
	Definition    shared.TableDefinition `yaml:"definition"`
	Hooks         Hooks                  `yaml:"hooks,omitempty"`
}

// Hooks are the optional post hooks of a document.
type Hooks struct {
	AfterUp          *RestoreHook `yaml:"after_up,omitempty"`
	AfterCreateTable *RestoreHook `yaml:"after_create_table,omitempty"`
}

// RestoreHook restores a table from its snapshot file.
type RestoreHook struct {
	Table  string   `yaml:"restore"`
	Fields []string `yaml:"fields,flow"`
}

// UnitName is the identity of the unit migrating subject at version.
func UnitName(subject, version string) string {
	return utils.Camelize(subject) + "Migration_" + utils.SanitizeVersion(version)
}

// Dir is the directory holding the documents and snapshots of version.
func Dir(root, version string) string {
	return filepath.Join(root, utils.SanitizeVersion(version))
}

// DocumentPath is the document file of table inside dir.
func DocumentPath(dir, table string) string {
	return filepath.Join(dir, table+DocumentExt)
}

// subjectOf returns the subject a document file is named after.
func subjectOf(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// Validate checks the fields every document must carry.
func (d *Document) Validate() error {
	switch {
	case d.FormatVersion != FormatVersion:
		return fmt.Errorf("unsupported format version %d", d.FormatVersion)
	case d.Unit == "":
		return errors.New("missing unit name")
	case d.Table == "":
		return errors.New("missing table")
	}
	for _, h := range []*RestoreHook{d.Hooks.AfterUp, d.Hooks.AfterCreateTable} {
		if h != nil && h.Table == "" {
			return errors.New("restore hook without a table")
		}
	}
	return nil
}

// RestoreFields returns the snapshot fields of h, classified with the
// column kinds of the document's definition.
func (d *Document) RestoreFields(h *RestoreHook) []snapshot.Field {
	fields := make([]snapshot.Field, len(h.Fields))
	for i, name := range h.Fields {
		fields[i].Name = name
		if col, ok := d.Definition.Column(name); ok {
			fields[i].Numeric = col.Kind.Numeric()
		}
	}
	return fields
}

// Marshal encodes the document. The output is a pure function of d.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("encode document %s: %w", d.Unit, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes and validates a document. Unknown keys are rejected.
func Unmarshal(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return &doc, nil
}

// Load reads the document at path.
func Load(fsys afero.Fs, path string) (*Document, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Save writes doc to dir and returns the path it was written to.
func Save(fsys afero.Fs, dir string, doc *Document) (string, error) {
	data, err := doc.Marshal()
	if err != nil {
		return "", err
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	path := DocumentPath(dir, doc.Table)
	if err := afero.WriteFile(fsys, path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
