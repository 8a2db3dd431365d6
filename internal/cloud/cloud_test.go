package cloud

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/covered/internal/keyspace"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, keyspace.Key("a"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.Put(ctx, keyspace.Key("a"), []byte("v")))
	v, err := s.Get(ctx, keyspace.Key("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, s.Delete(ctx, keyspace.Key("a")))
	_, err = s.Get(ctx, keyspace.Key("a"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStoreDeleteMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	assert.NoError(t, s.Delete(ctx, keyspace.Key("never-existed")))
}
