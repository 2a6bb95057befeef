package service

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/isaacwassouf/schema-migrator/migration"
)

// GenerateRequest asks for the unit of Table, or of every table when sent
// to GenerateAll. Export is an export mode name; Source also writes the Go
// rendering of each unit.
type GenerateRequest struct {
	Version string
	Table   string
	Export  string
	Source  bool
}

// MigrateRequest runs the units of Version, or only the one of Table.
type MigrateRequest struct {
	Version string
	Table   string
}

// MigrateResult mirrors migration.Result on the wire.
type MigrateResult struct {
	Unit       string
	Table      string
	Status     string
	Operations []string
	Restored   int
}

func (r GenerateRequest) message() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"version": r.Version,
		"table":   r.Table,
		"export":  r.Export,
		"source":  r.Source,
	})
}

func generateRequestFrom(s *structpb.Struct) GenerateRequest {
	f := s.GetFields()
	return GenerateRequest{
		Version: f["version"].GetStringValue(),
		Table:   f["table"].GetStringValue(),
		Export:  f["export"].GetStringValue(),
		Source:  f["source"].GetBoolValue(),
	}
}

func (r MigrateRequest) message() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"version": r.Version,
		"table":   r.Table,
	})
}

func migrateRequestFrom(s *structpb.Struct) MigrateRequest {
	f := s.GetFields()
	return MigrateRequest{
		Version: f["version"].GetStringValue(),
		Table:   f["table"].GetStringValue(),
	}
}

func stringList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func stringsFrom(v *structpb.Value) []string {
	values := v.GetListValue().GetValues()
	out := make([]string, len(values))
	for i, item := range values {
		out[i] = item.GetStringValue()
	}
	return out
}

func pathsMessage(paths []string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"paths": stringList(paths)})
}

func tablesMessage(tables []string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"tables": stringList(tables)})
}

func resultsMessage(results []migration.Result) (*structpb.Struct, error) {
	list := make([]any, len(results))
	for i, res := range results {
		ops := make([]string, len(res.Operations))
		for j, op := range res.Operations {
			ops[j] = op.String()
		}
		list[i] = map[string]any{
			"unit":       res.Unit,
			"table":      res.Table,
			"status":     string(res.Status),
			"operations": stringList(ops),
			"restored":   res.Restored,
		}
	}
	return structpb.NewStruct(map[string]any{"results": list})
}

func resultsFrom(s *structpb.Struct) []MigrateResult {
	values := s.GetFields()["results"].GetListValue().GetValues()
	out := make([]MigrateResult, len(values))
	for i, v := range values {
		f := v.GetStructValue().GetFields()
		out[i] = MigrateResult{
			Unit:       f["unit"].GetStringValue(),
			Table:      f["table"].GetStringValue(),
			Status:     f["status"].GetStringValue(),
			Operations: stringsFrom(f["operations"]),
			Restored:   int(f["restored"].GetNumberValue()),
		}
	}
	return out
}
