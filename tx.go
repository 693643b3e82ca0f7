package spacesync

import (
	"sort"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/drpcorg/spacesync/protocol"
)

// Entry is one key-value pair visible to a mutator.
type Entry struct {
	Key   string
	Value []byte
}

// Tx is the only store access a mutator gets. The same mutator body runs
// against a durable server-side context and an in-memory speculative one
// (MemTx); it must not be able to tell which, so Tx exposes no versions, no
// clock, and no way out of its space.
type Tx interface {
	Get(key string) (value []byte, ok bool, err error)
	Put(key string, value []byte) error
	Del(key string) error
	Scan(prefix string) ([]Entry, error)
}

type stagedRow struct {
	value []byte
	del   bool
}

// spaceTx is the durable mutator context. Reads go through the push batch
// (so a mutator sees the batch's earlier, already-flushed mutations) overlaid
// with this mutation's own staged writes. Writes stay staged until flush, so
// a failed mutator leaves no trace.
type spaceTx struct {
	reader pebble.Reader
	space  string
	staged map[string]stagedRow
}

func newSpaceTx(reader pebble.Reader, space string) *spaceTx {
	return &spaceTx{
		reader: reader,
		space:  space,
		staged: make(map[string]stagedRow),
	}
}

func (tx *spaceTx) Get(key string) ([]byte, bool, error) {
	if row, ok := tx.staged[key]; ok {
		if row.del {
			return nil, false, nil
		}
		return row.value, true, nil
	}
	data, ok, err := readerGet(tx.reader, RKey(tx.space, key))
	if err != nil || !ok {
		return nil, false, err
	}
	_, value, err := rowParse(data)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (tx *spaceTx) Put(key string, value []byte) error {
	val := make([]byte, len(value))
	copy(val, value)
	tx.staged[key] = stagedRow{value: val}
	return nil
}

func (tx *spaceTx) Del(key string) error {
	tx.staged[key] = stagedRow{del: true}
	return nil
}

func (tx *spaceTx) Scan(prefix string) ([]Entry, error) {
	merged := make(map[string][]byte)
	err := scanRows(tx.reader, tx.space, func(key string, _ uint64, value []byte) error {
		if strings.HasPrefix(key, prefix) {
			val := make([]byte, len(value))
			copy(val, value)
			merged[key] = val
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for key, row := range tx.staged {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if row.del {
			delete(merged, key)
		} else {
			merged[key] = row.value
		}
	}
	return sortedEntries(merged), nil
}

// flush stamps the staged writes into the push batch, one version tick per
// row, keys in sorted order so the stamping is deterministic. Returns the
// advanced space version.
func (tx *spaceTx) flush(batch *pebble.Batch, version uint64) (uint64, error) {
	keys := make([]string, 0, len(tx.staged))
	for key := range tx.staged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		row := tx.staged[key]
		version++
		if row.del {
			if err := batch.Delete(RKey(tx.space, key), nil); err != nil {
				return version, wrapStore(err)
			}
		} else {
			if err := batch.Set(RKey(tx.space, key), rowBytes(version, row.value), nil); err != nil {
				return version, wrapStore(err)
			}
		}
	}
	return version, nil
}

// MemTx is the speculative mutator context: a plain in-memory dataset. A
// client replica runs its optimistic mutations against a MemTx seeded with
// the last pulled state, then reconciles by applying the next pull's patch.
type MemTx struct {
	rows map[string][]byte
}

func NewMemTx() *MemTx {
	return &MemTx{rows: make(map[string][]byte)}
}

func (m *MemTx) Get(key string) ([]byte, bool, error) {
	value, ok := m.rows[key]
	return value, ok, nil
}

func (m *MemTx) Put(key string, value []byte) error {
	val := make([]byte, len(value))
	copy(val, value)
	m.rows[key] = val
	return nil
}

func (m *MemTx) Del(key string) error {
	delete(m.rows, key)
	return nil
}

func (m *MemTx) Scan(prefix string) ([]Entry, error) {
	matched := make(map[string][]byte)
	for key, value := range m.rows {
		if strings.HasPrefix(key, prefix) {
			matched[key] = value
		}
	}
	return sortedEntries(matched), nil
}

// ApplyPatch replays a pull patch onto the local dataset; afterwards the
// replica equals the server state the patch's cookie stands for.
func (m *MemTx) ApplyPatch(patch []protocol.PatchOp) {
	for _, op := range patch {
		switch op.Op {
		case protocol.OpPut:
			m.rows[op.Key] = []byte(op.Value)
		case protocol.OpDel:
			delete(m.rows, op.Key)
		}
	}
}

// Rows returns a copy of the dataset.
func (m *MemTx) Rows() map[string][]byte {
	ret := make(map[string][]byte, len(m.rows))
	for key, value := range m.rows {
		val := make([]byte, len(value))
		copy(val, value)
		ret[key] = val
	}
	return ret
}

func sortedEntries(m map[string][]byte) []Entry {
	entries := make([]Entry, 0, len(m))
	for key, value := range m {
		entries = append(entries, Entry{Key: key, Value: value})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}
