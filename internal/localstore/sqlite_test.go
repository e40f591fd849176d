package localstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autosave.db")

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Put("autosave:fallback:a1", []byte(`{"v":1}`)))
	require.NoError(t, store.Put("autosave:fallback:a1", []byte(`{"v":2}`)))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	value, ok, err := reopened.Get("autosave:fallback:a1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"v":2}`, string(value))
}

func TestStoresListByPrefix(t *testing.T) {
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put("autosave:built:b", []byte("2")))
			require.NoError(t, store.Put("autosave:built:a", []byte("1")))
			require.NoError(t, store.Put("autosave:builtin", []byte("x")))
			require.NoError(t, store.Put("autosave:fallback:a", []byte("3")))

			entries, err := store.List("autosave:built:")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			require.Equal(t, "autosave:built:a", entries[0].Key)
			require.Equal(t, "autosave:built:b", entries[1].Key)

			require.NoError(t, store.Delete("autosave:built:a"))
			_, ok, err := store.Get("autosave:built:a")
			require.NoError(t, err)
			require.False(t, ok)

			require.ErrorIs(t, store.Put("  ", []byte("x")), ErrInvalidKey)
		})
	}
}

func TestPrefixUpperBound(t *testing.T) {
	upper, ok := prefixUpperBound("abc")
	require.True(t, ok)
	require.Equal(t, "abd", upper)

	upper, ok = prefixUpperBound("a\xff")
	require.True(t, ok)
	require.Equal(t, "b", upper)

	_, ok = prefixUpperBound("")
	require.False(t, ok)
}
