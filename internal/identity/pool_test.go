package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/partvault/datasheet-harvester/internal/harvest"
)

func TestNewPoolRequiresProfiles(t *testing.T) {
	t.Parallel()

	_, err := NewPool(nil)
	require.Error(t, err)
}

func TestDefaultPoolOrderIsStable(t *testing.T) {
	t.Parallel()

	pool := NewDefaultPool()
	require.Equal(t, 5, pool.Len())

	first := pool.Profiles()
	second := pool.Profiles()
	for i := range first {
		require.Equal(t, first[i].Name, second[i].Name)
		require.NotEmpty(t, first[i].Headers["User-Agent"])
	}
}

func TestNewPoolCopiesInput(t *testing.T) {
	t.Parallel()

	src := []harvest.Profile{{Name: "a"}, {Name: "b"}}
	pool, err := NewPool(src)
	require.NoError(t, err)

	src[0].Name = "mutated"
	require.Equal(t, "a", pool.Profiles()[0].Name)
}
