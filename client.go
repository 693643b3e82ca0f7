package spacesync

import (
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/drpcorg/spacesync/protocol"
)

// clientRecord is the durable replay state of one client: its group, the
// highest mutation id it got applied, and the space version that mutation
// produced. The record is the mutation log watermark; mutations themselves
// are never persisted.
type clientRecord struct {
	group   string
	last    uint64
	version uint64
}

var errBadClientRecord = errors.New("spacesync: bad client record")

// client record TLV: G(group) M(lastMutationID) V(version)
func (c *clientRecord) bytes() []byte {
	ret := protocol.Record('G', []byte(c.group))
	ret = protocol.AppendZipUint64(ret, 'M', c.last)
	return protocol.AppendZipUint64(ret, 'V', c.version)
}

func parseClientRecord(data []byte) (*clientRecord, error) {
	group, rest, err := protocol.Take('G', data)
	if err != nil {
		return nil, errBadClientRecord
	}
	last, rest, err := protocol.Take('M', rest)
	if err != nil {
		return nil, errBadClientRecord
	}
	version, rest, err := protocol.Take('V', rest)
	if err != nil || len(rest) != 0 {
		return nil, errBadClientRecord
	}
	return &clientRecord{
		group:   string(group),
		last:    protocol.UnzipUint64(last),
		version: protocol.UnzipUint64(version),
	}, nil
}

// loadClient reads a client record, reporting a miss as (nil, nil).
func loadClient(r pebble.Reader, space, client string) (*clientRecord, error) {
	data, ok, err := readerGet(r, CKey(space, client))
	if err != nil || !ok {
		return nil, err
	}
	return parseClientRecord(data)
}

// scanClients iterates every client record of a space in client id order.
func scanClients(r pebble.Reader, space string, fn func(client string, rec *clientRecord) error) error {
	from, till := scopedRange('C', space)
	it, err := r.NewIter(&pebble.IterOptions{LowerBound: from, UpperBound: till})
	if err != nil {
		return wrapStore(err)
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		rec, err := parseClientRecord(it.Value())
		if err != nil {
			return err
		}
		if err := fn(scopedKeySuffix(from, it.Key()), rec); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return wrapStore(err)
	}
	return nil
}
