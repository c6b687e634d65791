package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernelErrorMessage(t *testing.T) {
	cause := errors.New("database is locked")
	err := StorageUnavailable("appendEvent", cause)

	assert.Equal(t, "appendEvent: database is locked", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestWithOpPreservesCodeAndCause(t *testing.T) {
	inner := InvalidArgument("validate", "programId is required")
	wrapped := WithOp("emitProgramHealthEvent", fmt.Errorf("emit: %w", inner))

	assert.True(t, IsCode(wrapped, ErrCodeInvalidArgument))
	assert.Equal(t, "emitProgramHealthEvent: emit: validate: programId is required", wrapped.Error())
}

func TestWithOpClassifiesForeignErrorsAsStorage(t *testing.T) {
	wrapped := WithOp("emitProgramHealthEvent", errors.New("connection refused"))

	assert.Equal(t, ErrCodeStorageUnavailable, CodeOf(wrapped))
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestWithOpNil(t *testing.T) {
	assert.NoError(t, WithOp("op", nil))
}

func TestWithOpKeepsDetails(t *testing.T) {
	inner := &KernelError{Code: ErrCodeRationaleContract, Message: "bad", Details: []string{"a", "b"}}
	wrapped := WithOp("accept", inner)

	var ke *KernelError
	require.ErrorAs(t, wrapped, &ke)
	assert.Equal(t, []string{"a", "b"}, ke.Details)
}

func TestCodeOfUnknown(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.False(t, IsCode(nil, ErrCodeNotFound))
}

func TestHorizonParse(t *testing.T) {
	for _, h := range Horizons {
		parsed, err := ParseHorizon(string(h))
		require.NoError(t, err)
		assert.Equal(t, h, parsed)
	}

	_, err := ParseHorizon("H4")
	require.Error(t, err)
	_, err = ParseHorizon("h1")
	require.Error(t, err)
}

func TestDefaultHorizonOrderCoversAll(t *testing.T) {
	assert.ElementsMatch(t, Horizons, DefaultHorizonOrder)
	assert.Equal(t, H1, DefaultHorizonOrder[0])
	assert.Equal(t, H0, DefaultHorizonOrder[len(DefaultHorizonOrder)-1])
}
