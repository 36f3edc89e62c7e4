package file_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/adapters/storage/file"
	"github.com/aescanero/dagflow/pkg/ports"
)

func TestFileDocumentStore_Contract(t *testing.T) {
	store, err := file.NewDocumentStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	ports.RunDocumentStoreContract(t, store)
}

func TestFileDocumentStore_RejectsEscapingNames(t *testing.T) {
	store, err := file.NewDocumentStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	for _, name := range []string{"../outside.json", "/etc/passwd", ".", ""} {
		require.Error(t, store.WriteDocument(ctx, name, []byte("x")), name)
	}
}
