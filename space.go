package spacesync

import (
	"context"

	"github.com/cockroachdb/pebble"

	"github.com/drpcorg/spacesync/sync_errors"
)

// spaceExists answers from the LRU first; misses fall through to the given
// reader. Only positive answers are cached: spaces are created once and
// never recreated, so a cached "exists" can not go stale short of a drop,
// and DropSpace invalidates.
func (e *Engine) spaceExists(r pebble.Reader, space string) (bool, error) {
	if ok, cached := e.spaces.Get(space); cached && ok {
		return true, nil
	}
	_, ok, err := readerGet(r, SKey(space))
	if err != nil {
		return false, err
	}
	if ok {
		e.spaces.Add(space, true)
	}
	return ok, nil
}

// CreateSpace registers a new isolated namespace. The id is caller-generated;
// creating an id that already exists is a conflict.
func (e *Engine) CreateSpace(ctx context.Context, space string) error {
	if e.isClosed() {
		return sync_errors.ErrClosed
	}
	if err := e.checkID(space); err != nil {
		return err
	}

	lock := e.spaceLock(space)
	lock.Lock()
	defer lock.Unlock()

	if ok, err := e.spaceExists(e.db, space); err != nil {
		return err
	} else if ok {
		return sync_errors.ErrSpaceExists
	}

	batch := e.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(SKey(space), nil, nil); err != nil {
		return wrapStore(err)
	}
	if err := batch.Set(VKey(space), versionBytes(0), nil); err != nil {
		return wrapStore(err)
	}
	if err := batch.Commit(e.wo); err != nil {
		return wrapStore(err)
	}

	e.spaces.Add(space, true)
	e.log.InfoCtx(ctx, "space created", "space", space)
	return nil
}

// SpaceExists reports whether the namespace was created.
func (e *Engine) SpaceExists(ctx context.Context, space string) (bool, error) {
	if e.isClosed() {
		return false, sync_errors.ErrClosed
	}
	if err := e.checkID(space); err != nil {
		return false, err
	}
	return e.spaceExists(e.db, space)
}

// DropSpace deletes a space and cascades over everything it owns: domain
// rows, client records, group view records, the version counter.
func (e *Engine) DropSpace(ctx context.Context, space string) error {
	if e.isClosed() {
		return sync_errors.ErrClosed
	}
	if err := e.checkID(space); err != nil {
		return err
	}

	lock := e.spaceLock(space)
	lock.Lock()
	defer lock.Unlock()

	if ok, err := e.spaceExists(e.db, space); err != nil {
		return err
	} else if !ok {
		return sync_errors.ErrSpaceUnknown
	}

	batch := e.db.NewBatch()
	defer batch.Close()
	for _, lit := range []byte{'R', 'C', 'G'} {
		from, till := scopedRange(lit, space)
		if err := batch.DeleteRange(from, till, nil); err != nil {
			return wrapStore(err)
		}
	}
	if err := batch.Delete(VKey(space), nil); err != nil {
		return wrapStore(err)
	}
	if err := batch.Delete(SKey(space), nil); err != nil {
		return wrapStore(err)
	}
	if err := batch.Commit(e.wo); err != nil {
		return wrapStore(err)
	}

	e.spaces.Remove(space)
	e.log.InfoCtx(ctx, "space dropped", "space", space)
	return nil
}
