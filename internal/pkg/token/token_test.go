package token

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJTI_UniqueV4(t *testing.T) {
	a, err := NewJTI()
	require.NoError(t, err)
	b, err := NewJTI()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}

func TestHash_StableHex(t *testing.T) {
	h := Hash("header.payload.sig")
	assert.Len(t, h, 64)
	assert.Equal(t, h, Hash("header.payload.sig"))
	assert.NotEqual(t, h, Hash("header.payload.sig2"))
}
