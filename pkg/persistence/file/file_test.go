package file

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagent/voyagent/pkg/persistence"
)

func TestStore_RoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set(t.Context(), "context:ctx-1", []byte(`{"id":"ctx-1"}`)))

	data, err := store.Get(t.Context(), "context:ctx-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ctx-1"}`, string(data))

	require.NoError(t, store.Delete(t.Context(), "context:ctx-1"))

	_, err = store.Get(t.Context(), "context:ctx-1")
	assert.ErrorIs(t, err, persistence.ErrKeyNotFound)
}

func TestStore_MissingKey(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(t.Context(), "absent")
	assert.ErrorIs(t, err, persistence.ErrKeyNotFound)

	err = store.Delete(t.Context(), "absent")
	assert.ErrorIs(t, err, persistence.ErrKeyNotFound)
}

func TestStore_KeysCannotEscapeRoot(t *testing.T) {
	root := t.TempDir()

	store, err := NewStore(root)
	require.NoError(t, err)

	require.NoError(t, store.Set(t.Context(), "../escape", []byte("x")))

	entries, err := filepath.Glob(filepath.Join(root, "*.json"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "key must be encoded into a file under the root")
}

func TestStore_FileURL(t *testing.T) {
	root := t.TempDir()

	store, err := NewStore("file://" + root)
	require.NoError(t, err)

	require.NoError(t, store.Set(t.Context(), "k", []byte("v")))
	require.NoError(t, store.HealthCheck(t.Context()))
	require.NoError(t, store.Close(t.Context()))
}

func TestStore_Overwrite(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set(t.Context(), "k", []byte("one")))
	require.NoError(t, store.Set(t.Context(), "k", []byte("two")))

	data, err := store.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}
