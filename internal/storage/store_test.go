package storage

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-extractor/internal/common"
)

func TestStores_PutGet(t *testing.T) {
	fs, err := NewFS(t.TempDir(), nil)
	require.NoError(t, err)

	stores := map[string]Store{
		"fs":     fs,
		"memory": NewMemory(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "expenses/abc/pages/0001.png"

			_, err := s.Get(ctx, key)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrNotFound))

			require.NoError(t, s.Put(ctx, key, []byte("one"), "image/png"))
			require.NoError(t, s.Put(ctx, key, []byte("two"), "image/png"))

			got, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "two", string(got))
		})
	}
}

func TestFS_RejectsEscapingKeys(t *testing.T) {
	fs, err := NewFS(t.TempDir(), nil)
	require.NoError(t, err)

	err = fs.Put(context.Background(), "../outside.txt", []byte("x"), "text/plain")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

func TestMemory_Keys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "p/a/1", nil, ""))
	require.NoError(t, m.Put(ctx, "p/a/2", nil, ""))
	require.NoError(t, m.Put(ctx, "p/b/1", nil, ""))

	keys := m.Keys("p/a/")
	sort.Strings(keys)
	assert.Equal(t, []string{"p/a/1", "p/a/2"}, keys)
}
