package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundFamily(t *testing.T) {
	assert.True(t, errors.Is(WrapTypeNotFound("App.Program"), ErrTypeNotFound))
	assert.True(t, errors.Is(WrapTypeNotFound("App.Program"), ErrNotFound))
	assert.True(t, errors.Is(WrapMethodNotFound("App.Program", "Main"), ErrNotFound))
	assert.True(t, errors.Is(WrapFieldNotFound("App.Program", "x"), ErrNotFound))
	assert.False(t, errors.Is(WrapMethodNotFound("App.Program", "Main"), ErrTypeNotFound))
}

func TestErrorWrapping(t *testing.T) {
	base := fmt.Errorf("short read")

	wrapped := WrapMalformed("metadata root", base)
	assert.True(t, errors.Is(wrapped, ErrMalformedBinary))
	assert.True(t, errors.Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "metadata root")

	wrapped = WrapMalformed("no CLI header", nil)
	assert.True(t, errors.Is(wrapped, ErrMalformedBinary))

	wrapped = WrapIO(base)
	assert.True(t, errors.Is(wrapped, ErrIO))
	assert.True(t, errors.Is(wrapped, base))

	wrapped = WrapUnsupportedOperand("Int64", "ldstr")
	assert.True(t, errors.Is(wrapped, ErrUnsupportedOperand))
	assert.Contains(t, wrapped.Error(), "Int64")

	assert.True(t, errors.Is(WrapUnresolvedType("Nope.T"), ErrUnresolvedType))
	assert.True(t, errors.Is(WrapDanglingBranch("br", 3), ErrDanglingBranchTarget))
	assert.True(t, errors.Is(WrapInvalidArgument("path %q", ""), ErrInvalidArgument))
}
