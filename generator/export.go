package generator

import (
	"fmt"
	"strings"
)

// ExportMode controls whether a generated unit carries table data.
type ExportMode int

const (
	// ExportNone generates the structure only.
	ExportNone ExportMode = iota
	// ExportAlways snapshots the rows and restores them after every run.
	ExportAlways
	// ExportOnCreate snapshots the rows and restores them only when the
	// table had to be created.
	ExportOnCreate
)

func (m ExportMode) String() string {
	switch m {
	case ExportNone:
		return "none"
	case ExportAlways:
		return "always"
	case ExportOnCreate:
		return "oncreate"
	}
	return fmt.Sprintf("ExportMode(%d)", int(m))
}

// ParseExportMode accepts "", "none", "always" and "oncreate".
func ParseExportMode(s string) (ExportMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ExportNone, nil
	case "always":
		return ExportAlways, nil
	case "oncreate":
		return ExportOnCreate, nil
	}
	return ExportNone, fmt.Errorf("unknown export mode %q", s)
}
