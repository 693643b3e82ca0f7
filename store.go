package spacesync

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/drpcorg/spacesync/sync_errors"
)

// Row is one live domain row of a space, stamped with the space version its
// last write produced.
type Row struct {
	Key     string
	Value   []byte
	Version uint64
}

// rows are stored as 8 bytes of big-endian version followed by the raw value.
const rowHdrLen = 8

func rowBytes(version uint64, value []byte) []byte {
	ret := make([]byte, rowHdrLen, rowHdrLen+len(value))
	binary.BigEndian.PutUint64(ret, version)
	return append(ret, value...)
}

func rowParse(data []byte) (version uint64, value []byte, err error) {
	if len(data) < rowHdrLen {
		return 0, nil, errors.New("spacesync: short row record")
	}
	return binary.BigEndian.Uint64(data[:rowHdrLen]), data[rowHdrLen:], nil
}

func wrapStore(err error) error {
	return fmt.Errorf("%w: %v", sync_errors.ErrStoreUnavailable, err)
}

// readerGet loads one key from a pebble reader, mapping ErrNotFound to a
// clean miss and copying the value out of pebble's buffer.
func readerGet(r pebble.Reader, key []byte) (value []byte, ok bool, err error) {
	val, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapStore(err)
	}
	value = make([]byte, len(val))
	copy(value, val)
	return value, true, closer.Close()
}

// currentVersion reads a space's monotonic counter; a space with no writes
// yet is at version zero.
func currentVersion(r pebble.Reader, space string) (uint64, error) {
	val, ok, err := readerGet(r, VKey(space))
	if err != nil || !ok {
		return 0, err
	}
	if len(val) != 8 {
		return 0, errors.New("spacesync: bad version record")
	}
	return binary.BigEndian.Uint64(val), nil
}

func versionBytes(v uint64) []byte {
	var ret [8]byte
	binary.BigEndian.PutUint64(ret[:], v)
	return ret[:]
}

// scanRows iterates every live row of a space in key order. The reader
// decides the isolation: pass a snapshot for a consistent scan.
func scanRows(r pebble.Reader, space string, fn func(key string, version uint64, value []byte) error) error {
	from, till := scopedRange('R', space)
	it, err := r.NewIter(&pebble.IterOptions{LowerBound: from, UpperBound: till})
	if err != nil {
		return wrapStore(err)
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		ver, val, err := rowParse(it.Value())
		if err != nil {
			return err
		}
		if err := fn(scopedKeySuffix(from, it.Key()), ver, val); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return wrapStore(err)
	}
	return nil
}

// Scan returns a consistent snapshot of every live row of a space, in key
// order, as of the moment of the call.
func (e *Engine) Scan(ctx context.Context, space string) ([]Row, error) {
	if e.isClosed() {
		return nil, sync_errors.ErrClosed
	}
	if err := e.checkID(space); err != nil {
		return nil, err
	}

	snap := e.db.NewSnapshot()
	defer snap.Close()

	if ok, err := e.spaceExists(snap, space); err != nil {
		return nil, err
	} else if !ok {
		return nil, sync_errors.ErrSpaceUnknown
	}

	var rows []Row
	err := scanRows(snap, space, func(key string, version uint64, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		val := make([]byte, len(value))
		copy(val, value)
		rows = append(rows, Row{Key: key, Value: val, Version: version})
		return nil
	})
	return rows, err
}

// CurrentVersion returns the space's version counter; it never decreases.
func (e *Engine) CurrentVersion(ctx context.Context, space string) (uint64, error) {
	if e.isClosed() {
		return 0, sync_errors.ErrClosed
	}
	if err := e.checkID(space); err != nil {
		return 0, err
	}
	if ok, err := e.spaceExists(e.db, space); err != nil {
		return 0, err
	} else if !ok {
		return 0, sync_errors.ErrSpaceUnknown
	}
	return currentVersion(e.db, space)
}
