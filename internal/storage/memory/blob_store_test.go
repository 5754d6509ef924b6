package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "raw/shop-list/20250301/abc.json", "application/json", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://raw/shop-list/20250301/abc.json", uri)

	payload[0] = 'C'
	stored, ok := store.Get("raw/shop-list/20250301/abc.json")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, []string{"raw/shop-list/20250301/abc.json"}, store.Keys())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()
	_, err := NewBlobStore().PutObject(context.Background(), " ", "", nil)
	require.Error(t, err)
}
