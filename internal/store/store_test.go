package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantmesh/sentinel/internal/errdefs"
)

// backends lists every Store implementation exercised by the shared
// conformance tests. Redis is covered separately in deployments with a
// live server; its semantics are the reference the others follow.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestKVRoundTrip(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := st.Get(ctx, "missing")
			assert.ErrorIs(t, err, errdefs.ErrNotFound)

			require.NoError(t, st.Set(ctx, "k1", "v1"))
			got, err := st.Get(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, "v1", got)

			require.NoError(t, st.Set(ctx, "k1", "v2"))
			got, err = st.Get(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, "v2", got)

			require.NoError(t, st.Delete(ctx, "k1"))
			_, err = st.Get(ctx, "k1")
			assert.ErrorIs(t, err, errdefs.ErrNotFound)

			// Deleting a missing key is not an error.
			assert.NoError(t, st.Delete(ctx, "k1"))
		})
	}
}

func TestHashOperations(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := st.HGet(ctx, "h1", "f1")
			assert.ErrorIs(t, err, errdefs.ErrNotFound)

			require.NoError(t, st.HSet(ctx, "h1", "f1", "v1"))
			require.NoError(t, st.HSet(ctx, "h1", "f2", "v2"))
			require.NoError(t, st.HSet(ctx, "h1", "f1", "v1b"))

			got, err := st.HGet(ctx, "h1", "f1")
			require.NoError(t, err)
			assert.Equal(t, "v1b", got)

			all, err := st.HGetAll(ctx, "h1")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"f1": "v1b", "f2": "v2"}, all)

			empty, err := st.HGetAll(ctx, "no-such-hash")
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestKeysGlob(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, st.Set(ctx, "trust:agent:a1", "x"))
			require.NoError(t, st.Set(ctx, "trust:agent:a2", "x"))
			require.NoError(t, st.Set(ctx, "vote:ledger:p1:a1", "x"))
			require.NoError(t, st.HSet(ctx, "governance:roles", "a1", "leader"))

			keys, err := st.Keys(ctx, "trust:agent:*")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"trust:agent:a1", "trust:agent:a2"}, keys)

			keys, err = st.Keys(ctx, "governance:*")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"governance:roles"}, keys)

			keys, err = st.Keys(ctx, "nothing:*")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestListPushTrimRange(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for i := 1; i <= 5; i++ {
				require.NoError(t, st.ListPush(ctx, "l1", fmt.Sprintf("v%d", i)))
			}

			// Push prepends: newest first.
			all, err := st.ListRange(ctx, "l1", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"v5", "v4", "v3", "v2", "v1"}, all)

			head, err := st.ListRange(ctx, "l1", 0, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"v5", "v4"}, head)

			require.NoError(t, st.ListTrim(ctx, "l1", 0, 2))
			trimmed, err := st.ListRange(ctx, "l1", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"v5", "v4", "v3"}, trimmed)

			empty, err := st.ListRange(ctx, "no-such-list", 0, -1)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}
