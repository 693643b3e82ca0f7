package spacesync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drpcorg/spacesync/sync_errors"
)

func TestSpace_CreateAndExists(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	ok, err := e.SpaceExists(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, e.CreateSpace(ctx, "s1"))

	ok, err = e.SpaceExists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	ver, err := e.CurrentVersion(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ver)
}

func TestSpace_CreateConflict(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateSpace(ctx, "s1"))
	assert.ErrorIs(t, e.CreateSpace(ctx, "s1"), sync_errors.ErrSpaceExists)
}

func TestSpace_DropCascades(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateSpace(ctx, "s1"))
	push(t, e, "s1", "g1",
		mutation("c1", 1, "createTodo", todoArgs{ID: "t1", Text: "a"}),
	)
	pull(t, e, "s1", "g1", "")

	require.NoError(t, e.DropSpace(ctx, "s1"))

	ok, err := e.SpaceExists(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, e.DropSpace(ctx, "s1"), sync_errors.ErrSpaceUnknown)

	// recreation starts from scratch: no rows, no watermarks, version zero
	require.NoError(t, e.CreateSpace(ctx, "s1"))
	rows, err := e.Scan(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	rec, err := loadClient(e.db, "s1", "c1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	ver, err := e.CurrentVersion(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ver)
}
