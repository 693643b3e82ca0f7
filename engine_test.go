package spacesync

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/cockroachdb/pebble"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drpcorg/spacesync/protocol"
	"github.com/drpcorg/spacesync/sync_errors"
	"github.com/drpcorg/spacesync/utils"
)

type todoArgs struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func todoKey(id string) string { return "todo/" + id }

func todoValue(text string) []byte {
	val, _ := json.Marshal(map[string]string{"text": text})
	return val
}

// testRegistry mirrors the todo mutators a domain layer would register.
func testRegistry() *Registry {
	reg := NewRegistry()
	reg.Register("createTodo", func(ctx context.Context, tx Tx, args json.RawMessage) error {
		var a todoArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		return tx.Put(todoKey(a.ID), todoValue(a.Text))
	})
	reg.Register("updateTodo", func(ctx context.Context, tx Tx, args json.RawMessage) error {
		var a todoArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		if _, ok, err := tx.Get(todoKey(a.ID)); err != nil || !ok {
			return err
		}
		return tx.Put(todoKey(a.ID), todoValue(a.Text))
	})
	reg.Register("deleteTodo", func(ctx context.Context, tx Tx, args json.RawMessage) error {
		var a todoArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		return tx.Del(todoKey(a.ID))
	})
	reg.Register("boom", func(ctx context.Context, tx Tx, args json.RawMessage) error {
		_ = tx.Put("never", []byte(`"written"`))
		return fmt.Errorf("boom")
	})
	return reg
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(t.TempDir(), Options{
		Logger:       utils.NewDefaultLogger(slog.LevelError),
		Registry:     testRegistry(),
		WriteOptions: pebble.NoSync,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func mutation(client string, id uint64, name string, args any) protocol.Mutation {
	raw, _ := json.Marshal(args)
	return protocol.Mutation{ClientID: client, ID: id, Name: name, Args: raw}
}

func push(t *testing.T, e *Engine, space, group string, muts ...protocol.Mutation) protocol.PushResponse {
	t.Helper()
	resp, err := e.Push(context.Background(), protocol.PushRequest{
		SpaceID:       space,
		ClientGroupID: group,
		Mutations:     muts,
	})
	require.NoError(t, err)
	return resp
}

func pull(t *testing.T, e *Engine, space, group, cookie string) protocol.PullResponse {
	t.Helper()
	resp, err := e.Pull(context.Background(), protocol.PullRequest{
		SpaceID:       space,
		ClientGroupID: group,
		Cookie:        cookie,
	})
	require.NoError(t, err)
	return resp
}

func TestEngine_OpenClose(t *testing.T) {
	e := testEngine(t)
	assert.NotNil(t, e.Database())
	assert.NotNil(t, e.Logger())

	assert.NoError(t, e.Close())
	assert.ErrorIs(t, e.Close(), sync_errors.ErrClosed)

	_, err := e.Pull(context.Background(), protocol.PullRequest{SpaceID: "s", ClientGroupID: "g"})
	assert.ErrorIs(t, err, sync_errors.ErrClosed)
}

func TestEngine_BadIDs(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.CreateSpace(ctx, ""), sync_errors.ErrBadID)
	assert.ErrorIs(t, e.CreateSpace(ctx, "has\x00nul"), sync_errors.ErrBadID)

	_, err := e.Push(ctx, protocol.PushRequest{SpaceID: "s1", ClientGroupID: ""})
	assert.ErrorIs(t, err, sync_errors.ErrBadID)

	require.NoError(t, e.CreateSpace(ctx, "s1"))
	_, err = e.Push(ctx, protocol.PushRequest{
		SpaceID:       "s1",
		ClientGroupID: "g1",
		Mutations:     []protocol.Mutation{mutation("", 1, "createTodo", todoArgs{ID: "t1"})},
	})
	assert.ErrorIs(t, err, sync_errors.ErrBadID)
}
