// Package errors holds the failure kinds shared by the image, cil and
// metadata packages. Every kind is a sentinel usable with errors.Is.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison with errors.Is
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNotFound             = errors.New("not found")
	ErrTypeNotFound         = fmt.Errorf("type %w", ErrNotFound)
	ErrMethodNotFound       = fmt.Errorf("method %w", ErrNotFound)
	ErrFieldNotFound        = fmt.Errorf("field %w", ErrNotFound)
	ErrMalformedBinary      = errors.New("malformed binary")
	ErrUnresolvedType       = errors.New("unresolved type")
	ErrUnsupportedOperand   = errors.New("unsupported operand")
	ErrDanglingBranchTarget = errors.New("dangling branch target")
	ErrIO                   = errors.New("i/o error")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

func WrapInvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func WrapNotFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

func WrapTypeNotFound(fullName string) error {
	return fmt.Errorf("%w: '%s'", ErrTypeNotFound, fullName)
}

func WrapMethodNotFound(typeName, methodName string) error {
	return fmt.Errorf("%w: '%s' in type '%s'", ErrMethodNotFound, methodName, typeName)
}

func WrapFieldNotFound(typeName, fieldName string) error {
	return fmt.Errorf("%w: '%s' in type '%s'", ErrFieldNotFound, fieldName, typeName)
}

// WrapMalformed marks err as a container or body that cannot be parsed.
func WrapMalformed(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrMalformedBinary, what)
	}
	return fmt.Errorf("%w: %s: %w", ErrMalformedBinary, what, err)
}

func WrapUnresolvedType(fullName string) error {
	return fmt.Errorf("%w: '%s' could not be resolved", ErrUnresolvedType, fullName)
}

// WrapUnsupportedOperand names the operand variant that has no encoding.
func WrapUnsupportedOperand(variant, opcode string) error {
	return fmt.Errorf("%w: %s operand is not encodable for %s", ErrUnsupportedOperand, variant, opcode)
}

func WrapDanglingBranch(opcode string, index int) error {
	return fmt.Errorf("%w: %s at instruction %d targets an instruction outside the body", ErrDanglingBranchTarget, opcode, index)
}

func WrapIO(err error) error {
	return fmt.Errorf("%w: %w", ErrIO, err)
}
