package reconciler

import "fmt"

// OpKind identifies a structural change.
type OpKind int

const (
	OpCreateTable OpKind = iota + 1
	OpAddColumn
	OpModifyColumn
	OpDropColumn
	OpAddIndex
	OpDropIndex
	OpAddPrimaryKey
	OpDropPrimaryKey
	OpAddForeignKey
	OpDropForeignKey
)

var opNames = [...]string{
	OpCreateTable:    "CreateTable",
	OpAddColumn:      "AddColumn",
	OpModifyColumn:   "ModifyColumn",
	OpDropColumn:     "DropColumn",
	OpAddIndex:       "AddIndex",
	OpDropIndex:      "DropIndex",
	OpAddPrimaryKey:  "AddPrimaryKey",
	OpDropPrimaryKey: "DropPrimaryKey",
	OpAddForeignKey:  "AddForeignKey",
	OpDropForeignKey: "DropForeignKey",
}

func (k OpKind) String() string {
	if k > 0 && int(k) < len(opNames) {
		return opNames[k]
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Operation is a structural change applied to a table.
type Operation struct {
	Kind  OpKind
	Table string
	// Name is the column, index or foreign key affected. Empty for
	// CreateTable; "PRIMARY" for primary key operations.
	Name string
}

func (o Operation) String() string {
	if o.Name == "" {
		return o.Kind.String() + "(" + o.Table + ")"
	}
	return o.Kind.String() + "(" + o.Table + "." + o.Name + ")"
}

// OperationError is returned when the database rejects an operation.
// Operations applied before it are not undone.
type OperationError struct {
	Op    Operation
	Cause error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}
