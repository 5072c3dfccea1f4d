package uuid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	a, err := gen.NewID()
	require.NoError(t, err)
	require.Len(t, a, 36)

	b, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
