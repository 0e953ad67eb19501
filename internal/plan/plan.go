// Package plan reads patch plans: JSON documents listing the edits to apply
// to a module, in order.
//
//	{"steps": [
//	  {"op": "rename_type", "type": "App.Program", "new_name": "Entry"},
//	  {"op": "write_il", "type": "App.Entry", "method": "Main", "il": ["ret"]}
//	]}
package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	ilerrors "ilpatch/internal/errors"
	"ilpatch/internal/metadata"
)

// Step operations.
const (
	OpRenameType   = "rename_type"
	OpRenameMethod = "rename_method"
	OpRenameField  = "rename_field"
	OpDefineType   = "define_type"
	OpInsertField  = "insert_field"
	OpCreateMethod = "create_method"
	OpWriteIL      = "write_il"
	OpSetVersion   = "set_version"
)

// Plan is an ordered list of edits.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Step is one edit. Which fields are used depends on Op.
type Step struct {
	Op string `json:"op"`

	// Type is the full name of the type the step works on.
	Type       string              `json:"type,omitempty"`
	Method     string              `json:"method,omitempty"`
	Field      string              `json:"field,omitempty"`
	NewName    string              `json:"new_name,omitempty"`
	Namespace  string              `json:"namespace,omitempty"`
	Name       string              `json:"name,omitempty"`
	BaseType   string              `json:"base_type,omitempty"`
	FieldType  string              `json:"field_type,omitempty"`
	ReturnType string              `json:"return_type,omitempty"`
	Params     []metadata.ParamDef `json:"params,omitempty"`
	// IL holds one instruction per entry, see ParseIL.
	IL      []string `json:"il,omitempty"`
	Version string   `json:"version,omitempty"`
}

// Load reads and checks the plan stored at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ilerrors.WrapNotFound(fmt.Sprintf("plan '%s'", path))
	}
	if err != nil {
		return nil, ilerrors.WrapIO(err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a plan and checks every step names a known operation and
// carries the fields it needs.
func Parse(r io.Reader) (*Plan, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	var p Plan
	if err := decoder.Decode(&p); err != nil {
		return nil, ilerrors.WrapInvalidArgument("failed to parse plan: %v", err)
	}
	for i, step := range p.Steps {
		if err := step.check(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return &p, nil
}

func (s Step) check() error {
	switch s.Op {
	case OpRenameType:
		return need(s.Op, "type", s.Type, "new_name", s.NewName)
	case OpRenameMethod:
		return need(s.Op, "type", s.Type, "method", s.Method, "new_name", s.NewName)
	case OpRenameField:
		return need(s.Op, "type", s.Type, "field", s.Field, "new_name", s.NewName)
	case OpDefineType:
		return need(s.Op, "name", s.Name)
	case OpInsertField:
		return need(s.Op, "type", s.Type, "field", s.Field, "field_type", s.FieldType)
	case OpCreateMethod:
		return need(s.Op, "type", s.Type, "method", s.Method, "return_type", s.ReturnType)
	case OpWriteIL:
		if len(s.IL) == 0 {
			return ilerrors.WrapInvalidArgument("%s needs at least one instruction", s.Op)
		}
		return need(s.Op, "type", s.Type, "method", s.Method)
	case OpSetVersion:
		return need(s.Op, "version", s.Version)
	}
	return ilerrors.WrapInvalidArgument("unknown operation '%s'", s.Op)
}

// need takes key, value pairs and reports the first empty value.
func need(op string, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return ilerrors.WrapInvalidArgument("%s needs '%s'", op, pairs[i])
		}
	}
	return nil
}

// Apply runs every step against m. It stops at the first failing step;
// steps before it stay applied, so callers discard m on error.
func (p *Plan) Apply(m *metadata.Module) error {
	for i, step := range p.Steps {
		if err := step.Apply(m); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
	}
	return nil
}

// Apply runs one step against m.
func (s Step) Apply(m *metadata.Module) error {
	switch s.Op {
	case OpRenameType:
		return m.RenameType(s.Type, s.NewName)
	case OpRenameMethod:
		return m.RenameMethod(s.Type, s.Method, s.NewName)
	case OpRenameField:
		return m.RenameField(s.Type, s.Field, s.NewName)
	case OpDefineType:
		_, err := m.DefineType(s.Namespace, s.Name, s.BaseType)
		return err
	case OpInsertField:
		_, err := m.InsertField(s.Type, s.Field, s.FieldType)
		return err
	case OpCreateMethod:
		_, err := m.CreateMethod(s.Type, s.Method, s.ReturnType, s.Params)
		return err
	case OpWriteIL:
		// ToDo: let write_il steps declare locals; bodies keep their current locals signature.
		instructions, err := ParseIL(m, s.IL)
		if err != nil {
			return err
		}
		return m.WriteMethodIL(s.Type, s.Method, instructions)
	case OpSetVersion:
		return m.SetVersion(s.Version)
	}
	return ilerrors.WrapInvalidArgument("unknown operation '%s'", s.Op)
}
