package archive

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-intel/internal/clock/system"
	"github.com/JakeFAU/storefront-intel/internal/hash/sha256"
	"github.com/JakeFAU/storefront-intel/internal/monitor"
	"github.com/JakeFAU/storefront-intel/internal/storage/memory"
)

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket gone")
}

func newArchiver(blobs monitor.BlobStore, cfg Config) *Archiver {
	clk := system.NewFixed(time.Date(2025, 6, 7, 23, 0, 0, 0, time.UTC))
	return New(blobs, sha256.New(), clk, cfg)
}

func TestRawUsesContentAddressedKey(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	a := newArchiver(blobs, Config{})
	body := []byte(`{"data":{"list":[]}}`)

	uri, err := a.Raw(context.Background(), monitor.CategoryShopList, body)
	require.NoError(t, err)

	hash, _ := sha256.New().Hash(body)
	require.True(t, strings.HasPrefix(hash, sha256.Algorithm+"-"))
	want := "raw/shop-list/20250607/" + hash + ".json"
	require.Equal(t, "memory://"+want, uri)
	got, ok := blobs.Get(want)
	require.True(t, ok)
	require.Equal(t, body, got)
}

func TestUndecodableTruncatesAndPrefixes(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	a := newArchiver(blobs, Config{Prefix: "/intel/", UndecodableBytes: 10})
	_, err := a.Undecodable(context.Background(), monitor.CategoryProductList, []byte(strings.Repeat("x", 50)))
	require.NoError(t, err)

	keys := blobs.Keys()
	require.Len(t, keys, 1)
	require.True(t, strings.HasPrefix(keys[0], "intel/undecodable/product-list/20250607/"))
	got, _ := blobs.Get(keys[0])
	require.Len(t, got, 10)
}

func TestNilArchiverIsNoop(t *testing.T) {
	t.Parallel()

	var a *Archiver
	uri, err := a.Raw(context.Background(), monitor.CategoryVideoList, []byte("{}"))
	require.NoError(t, err)
	require.Empty(t, uri)
}

func TestPutErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	a := newArchiver(failingBlobs{}, Config{})
	_, err := a.Raw(context.Background(), monitor.CategoryVideoList, []byte("{}"))
	require.ErrorContains(t, err, "put object: bucket gone")
}
