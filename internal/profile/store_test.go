package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadEmptyProfile(t *testing.T) {
	store, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	record, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, record.SessionKey)
	assert.Empty(t, record.ConnectedServer)
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, store.SaveSessionKey(ctx, []byte{1, 2, 3}))
	require.NoError(t, store.SaveServer(ctx, "voice.example.com:5900"))
	require.NoError(t, store.Close())

	// A second startup sees the persisted record.
	store, err = Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	record, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, record.SessionKey)
	assert.Equal(t, "voice.example.com:5900", record.ConnectedServer)
}

func TestOverwriteSessionKey(t *testing.T) {
	store, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.SaveSessionKey(ctx, []byte{1}))
	require.NoError(t, store.SaveSessionKey(ctx, []byte{2}))

	record, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, record.SessionKey)
}
