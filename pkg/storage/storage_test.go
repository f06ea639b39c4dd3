package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_SaveOpenDelete(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	err := store.Save(ctx, "agency-1/policy.pdf", strings.NewReader("raw bytes"))
	require.NoError(t, err)

	rc, err := store.Open(ctx, "agency-1/policy.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "raw bytes", string(data))

	require.NoError(t, store.Delete(ctx, "agency-1/policy.pdf"))

	_, err = store.Open(ctx, "agency-1/policy.pdf")
	assert.Error(t, err)
}

func TestLocalStore_DeleteMissingIsNoop(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	assert.NoError(t, store.Delete(context.Background(), "agency-1/nothing.pdf"))
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	err := store.Save(ctx, "../outside.pdf", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = store.Open(ctx, "/etc/passwd")
	assert.Error(t, err)
}
