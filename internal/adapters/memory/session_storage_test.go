package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

func TestSessionStorage(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStorage()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrStorageMiss)

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "b", "2"))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, s.Delete(ctx, "a", "b", "c"))
	_, err = s.Get(ctx, "b")
	require.ErrorIs(t, err, domain.ErrStorageMiss)
	require.NoError(t, s.Ping(ctx))
}
