package spacesync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drpcorg/spacesync/protocol"
	"github.com/drpcorg/spacesync/sync_errors"
)

// Scenario: fresh pull sees the pushed row, the next pull is an empty diff.
func TestPull_FirstContact(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateSpace(ctx, "s1"))

	push(t, e, "s1", "g1", mutation("c1", 1, "createTodo", todoArgs{ID: "t1", Text: "a"}))

	resp := pull(t, e, "s1", "g1", "")
	require.Len(t, resp.Patch, 1)
	assert.Equal(t, protocol.OpPut, resp.Patch[0].Op)
	assert.Equal(t, todoKey("t1"), resp.Patch[0].Key)
	assert.Equal(t, todoValue("a"), []byte(resp.Patch[0].Value))
	assert.Equal(t, uint64(1), resp.LastMutationIDChanges["c1"])
	assert.NotEmpty(t, resp.Cookie)

	again := pull(t, e, "s1", "g1", resp.Cookie)
	assert.Empty(t, again.Patch)
	assert.Empty(t, again.LastMutationIDChanges)
	assert.Equal(t, resp.Cookie, again.Cookie)
}

func TestPull_UnknownSpace(t *testing.T) {
	e := testEngine(t)
	_, err := e.Pull(context.Background(), protocol.PullRequest{
		SpaceID:       "nope",
		ClientGroupID: "g1",
	})
	assert.ErrorIs(t, err, sync_errors.ErrSpaceUnknown)
}

func TestPull_UnknownGroupWithCookie(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateSpace(ctx, "s1"))
	push(t, e, "s1", "g1", mutation("c1", 1, "createTodo", todoArgs{ID: "t1", Text: "a"}))

	resp := pull(t, e, "s1", "g1", "")

	// a cookie from g1 presented by a group the space never saw
	_, err := e.Pull(ctx, protocol.PullRequest{
		SpaceID:       "s1",
		ClientGroupID: "g2",
		Cookie:        resp.Cookie,
	})
	assert.ErrorIs(t, err, sync_errors.ErrClientGroupUnknown)
}

func TestPull_BadCookie(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateSpace(ctx, "s1"))

	_, err := e.Pull(ctx, protocol.PullRequest{
		SpaceID:       "s1",
		ClientGroupID: "g1",
		Cookie:        "not a cookie",
	})
	assert.ErrorIs(t, err, sync_errors.ErrBadCookie)
}

// Scenario: a key deleted after it was synced shows up as a del patch entry.
func TestPull_DeleteIsDiffed(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateSpace(ctx, "s1"))

	push(t, e, "s1", "g1",
		mutation("c1", 1, "createTodo", todoArgs{ID: "t1", Text: "a"}),
		mutation("c1", 2, "createTodo", todoArgs{ID: "t2", Text: "b"}),
	)
	resp := pull(t, e, "s1", "g1", "")
	require.Len(t, resp.Patch, 2)

	push(t, e, "s1", "g1", mutation("c1", 3, "deleteTodo", todoArgs{ID: "t1"}))

	next := pull(t, e, "s1", "g1", resp.Cookie)
	require.Len(t, next.Patch, 1)
	assert.Equal(t, protocol.OpDel, next.Patch[0].Op)
	assert.Equal(t, todoKey("t1"), next.Patch[0].Key)
}

// Diffs coalesce: any number of pushes between two pulls yields one patch
// that lands the replica exactly on current authoritative state.
func TestPull_Convergence(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateSpace(ctx, "s1"))

	replica := NewMemTx()
	cookie := ""

	syncUp := func() {
		resp := pull(t, e, "s1", "g1", cookie)
		replica.ApplyPatch(resp.Patch)
		cookie = resp.Cookie
	}

	assertConverged := func() {
		rows, err := e.Scan(ctx, "s1")
		require.NoError(t, err)
		local := replica.Rows()
		require.Equal(t, len(rows), len(local))
		for _, row := range rows {
			assert.Equal(t, row.Value, local[row.Key])
		}
	}

	push(t, e, "s1", "g1",
		mutation("c1", 1, "createTodo", todoArgs{ID: "t1", Text: "a"}),
		mutation("c1", 2, "createTodo", todoArgs{ID: "t2", Text: "b"}),
	)
	syncUp()
	assertConverged()

	push(t, e, "s1", "g1", mutation("c2", 1, "updateTodo", todoArgs{ID: "t1", Text: "a2"}))
	push(t, e, "s1", "g1", mutation("c2", 2, "deleteTodo", todoArgs{ID: "t2"}))
	push(t, e, "s1", "g1", mutation("c1", 3, "createTodo", todoArgs{ID: "t3", Text: "c"}))
	syncUp()
	assertConverged()

	// pulling with no intervening push stays converged and diffs empty
	resp := pull(t, e, "s1", "g1", cookie)
	assert.Empty(t, resp.Patch)
	assertConverged()
}

// The patch only carries changed keys, never the whole dataset.
func TestPull_MinimalDiff(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateSpace(ctx, "s1"))

	push(t, e, "s1", "g1",
		mutation("c1", 1, "createTodo", todoArgs{ID: "t1", Text: "a"}),
		mutation("c1", 2, "createTodo", todoArgs{ID: "t2", Text: "b"}),
		mutation("c1", 3, "createTodo", todoArgs{ID: "t3", Text: "c"}),
	)
	resp := pull(t, e, "s1", "g1", "")
	require.Len(t, resp.Patch, 3)

	push(t, e, "s1", "g1", mutation("c1", 4, "updateTodo", todoArgs{ID: "t2", Text: "b2"}))

	next := pull(t, e, "s1", "g1", resp.Cookie)
	require.Len(t, next.Patch, 1)
	assert.Equal(t, todoKey("t2"), next.Patch[0].Key)
	assert.Equal(t, todoValue("b2"), []byte(next.Patch[0].Value))
}

// Groups see each other's writes but keep independent view records.
func TestPull_GroupsAreIndependent(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateSpace(ctx, "s1"))

	push(t, e, "s1", "g1", mutation("c1", 1, "createTodo", todoArgs{ID: "t1", Text: "a"}))

	respA := pull(t, e, "s1", "g1", "")
	respB := pull(t, e, "s1", "g2", "")
	require.Len(t, respA.Patch, 1)
	require.Len(t, respB.Patch, 1)

	// only g1's client watermarks are reported to g1
	assert.Equal(t, uint64(1), respA.LastMutationIDChanges["c1"])
	assert.Empty(t, respB.LastMutationIDChanges)

	push(t, e, "s1", "g1", mutation("c1", 2, "updateTodo", todoArgs{ID: "t1", Text: "a2"}))

	nextA := pull(t, e, "s1", "g1", respA.Cookie)
	nextB := pull(t, e, "s1", "g2", respB.Cookie)
	assert.Len(t, nextA.Patch, 1)
	assert.Len(t, nextB.Patch, 1)
}
