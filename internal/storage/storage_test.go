package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euforicio/mdview/internal/storage"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st, err := storage.NewFileStore(afero.NewMemMapFs(), "/state")
	require.NoError(t, err)

	_, ok, err := st.Get(ctx, "draft")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Set(ctx, "draft", "# Title\n"))
	require.NoError(t, st.Set(ctx, "draft/other key", "second"))

	v, ok, err := st.Get(ctx, "draft")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "# Title\n", v)

	v, ok, err = st.Get(ctx, "draft/other key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", v)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("boom")
}

func (failingStore) Set(context.Context, string, string) error {
	return errors.New("boom")
}

func TestSafeSwallowsErrors(t *testing.T) {
	t.Parallel()

	safe := storage.NewSafe(failingStore{}, nil)
	safe.Save(context.Background(), "draft", "text")
	assert.Equal(t, "", safe.Load(context.Background(), "draft"))

	var nilSafe *storage.Safe
	nilSafe.Save(context.Background(), "draft", "text")
	assert.Equal(t, "", nilSafe.Load(context.Background(), "draft"))
}

func TestFileStoreReadOnly(t *testing.T) {
	t.Parallel()

	_, err := storage.NewFileStore(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/state")
	assert.Error(t, err)
}
