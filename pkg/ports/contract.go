package ports

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/dagflow/pkg/domain"
)

// RunDocumentStoreContract runs a suite of tests to verify that a DocumentStore
// implementation adheres to the interface contract. The store must be empty.
func RunDocumentStoreContract(t *testing.T, store DocumentStore) {
	ctx := context.Background()

	t.Run("Write and Read", func(t *testing.T) {
		require.NoError(t, store.WriteDocument(ctx, "state.json", []byte(`{"a":1}`)))

		data, err := store.ReadDocument(ctx, "state.json")
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(data))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.WriteDocument(ctx, "state.json", []byte(`{"a":2}`)))

		data, err := store.ReadDocument(ctx, "state.json")
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":2}`, string(data))
	})

	t.Run("Read Non-Existent", func(t *testing.T) {
		_, err := store.ReadDocument(ctx, "missing.json")
		require.ErrorIs(t, err, domain.ErrDocumentNotFound)
	})

	t.Run("List By Prefix", func(t *testing.T) {
		for _, name := range []string{"snapshots/snapshot-2.json", "snapshots/snapshot-1.json", "history.json"} {
			require.NoError(t, store.WriteDocument(ctx, name, []byte(`{}`)))
		}

		names, err := store.ListDocuments(ctx, "snapshots/")
		require.NoError(t, err)
		assert.Equal(t, []string{"snapshots/snapshot-1.json", "snapshots/snapshot-2.json"}, names)

		all, err := store.ListDocuments(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 4)

		none, err := store.ListDocuments(ctx, "nothing/")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
