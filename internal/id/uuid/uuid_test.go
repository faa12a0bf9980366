package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(7), parsed.Version())
	assert.True(t, Valid(id2))
}

func TestValid(t *testing.T) {
	t.Parallel()
	assert.True(t, Valid("0190b1a6-7c3e-7000-8000-000000000000"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("not-a-job"))
	assert.False(t, Valid("../../etc/passwd"))
}
