package llmprovider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsStatus(t *testing.T) {
	err := &ProviderError{StatusCode: 402, Err: errors.New("payment required")}

	assert.True(t, IsStatus(err, 402))
	assert.False(t, IsStatus(err, 401))
	assert.False(t, IsStatus(errors.New("plain error"), 402))
}

func TestProviderErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &ProviderError{StatusCode: 500, Err: inner}

	assert.ErrorIs(t, err, inner)
}
