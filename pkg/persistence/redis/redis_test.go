package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagent/voyagent/pkg/persistence"
)

func testStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client, opts...), mr
}

func TestStore_RoundTrip(t *testing.T) {
	store, _ := testStore(t)

	require.NoError(t, store.Set(t.Context(), "context:ctx-1", []byte(`{"id":"ctx-1"}`)))

	data, err := store.Get(t.Context(), "context:ctx-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ctx-1"}`, string(data))

	require.NoError(t, store.Delete(t.Context(), "context:ctx-1"))

	_, err = store.Get(t.Context(), "context:ctx-1")
	assert.ErrorIs(t, err, persistence.ErrKeyNotFound)
}

func TestStore_MissingKey(t *testing.T) {
	store, _ := testStore(t)

	_, err := store.Get(t.Context(), "absent")
	assert.ErrorIs(t, err, persistence.ErrKeyNotFound)

	err = store.Delete(t.Context(), "absent")
	assert.ErrorIs(t, err, persistence.ErrKeyNotFound)
}

func TestStore_KeyPrefix(t *testing.T) {
	store, mr := testStore(t)

	require.NoError(t, store.Set(t.Context(), "k", []byte("v")))
	assert.True(t, mr.Exists("voyagent:k"))

	custom, mr2 := testStore(t, WithPrefix("other:"))
	require.NoError(t, custom.Set(t.Context(), "k", []byte("v")))
	assert.True(t, mr2.Exists("other:k"))
}

func TestStore_HealthCheck(t *testing.T) {
	store, mr := testStore(t)

	require.NoError(t, store.HealthCheck(t.Context()))

	mr.Close()
	assert.Error(t, store.HealthCheck(t.Context()))
}

func TestNewStoreFromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewStoreFromURL("redis://" + mr.Addr())
	require.NoError(t, err)
	require.NoError(t, store.Set(t.Context(), "k", []byte("v")))
	require.NoError(t, store.Close(t.Context()))

	_, err = NewStoreFromURL("not a url")
	assert.Error(t, err)
}
