package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/cespare/xxhash"
)

var ErrBadCookieRecord = errors.New("protocol: bad cookie record")

// ViewRecord is the per-group sync baseline: the store version it was taken
// at, the version every live key had, and every client's mutation watermark.
// Serialized it becomes the pull cookie; clients round-trip it opaquely.
type ViewRecord struct {
	Version uint64
	Keys    map[string]uint64
	Clients map[string]uint64
}

// cookie TLV: K( T(version) E(V(ver) key)* C(M(lmid) clientID)* ) H(xxhash)
const (
	litCookie  = 'K'
	litVersion = 'T'
	litEntry   = 'E'
	litEntryV  = 'V'
	litClient  = 'C'
	litClientM = 'M'
	litHash    = 'H'
)

func sortedKeys(m map[string]uint64) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// Bytes serializes the record deterministically: entries are sorted, so equal
// records always produce byte-equal cookies.
func (vr *ViewRecord) Bytes() []byte {
	body := AppendZipUint64(nil, litVersion, vr.Version)
	for _, key := range sortedKeys(vr.Keys) {
		body = AppendRecord(body, litEntry,
			Record(litEntryV, ZipUint64(vr.Keys[key])), []byte(key))
	}
	for _, cid := range sortedKeys(vr.Clients) {
		body = AppendRecord(body, litClient,
			Record(litClientM, ZipUint64(vr.Clients[cid])), []byte(cid))
	}
	ret := AppendRecord(nil, litCookie, body)
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(body))
	return AppendRecord(ret, litHash, sum[:])
}

// ParseViewRecord decodes and checksum-verifies a serialized view record.
func ParseViewRecord(data []byte) (*ViewRecord, error) {
	body, rest, err := Take(litCookie, data)
	if err != nil {
		return nil, err
	}
	sum, rest, err := Take(litHash, rest)
	if err != nil || len(rest) != 0 || len(sum) != 8 {
		return nil, ErrBadCookieRecord
	}
	if binary.LittleEndian.Uint64(sum) != xxhash.Sum64(body) {
		return nil, ErrBadCookieRecord
	}

	vr := &ViewRecord{
		Keys:    make(map[string]uint64),
		Clients: make(map[string]uint64),
	}
	var ver []byte
	ver, body, err = Take(litVersion, body)
	if err != nil {
		return nil, err
	}
	vr.Version = UnzipUint64(ver)
	for len(body) > 0 {
		lit, entry, tail, err := TakeAny(body)
		if err != nil {
			return nil, err
		}
		switch lit {
		case litEntry:
			v, key, err := Take(litEntryV, entry)
			if err != nil {
				return nil, err
			}
			vr.Keys[string(key)] = UnzipUint64(v)
		case litClient:
			m, cid, err := Take(litClientM, entry)
			if err != nil {
				return nil, err
			}
			vr.Clients[string(cid)] = UnzipUint64(m)
		default:
			return nil, ErrBadCookieRecord
		}
		body = tail
	}
	return vr, nil
}

// EncodeCookie renders the record as the opaque string the Pull response
// carries. Empty record encodes to the empty string.
func (vr *ViewRecord) EncodeCookie() string {
	if vr.Version == 0 && len(vr.Keys) == 0 && len(vr.Clients) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(vr.Bytes())
}

// DecodeCookie parses an inbound cookie; the empty string is the fresh
// baseline (client has seen nothing).
func DecodeCookie(s string) (*ViewRecord, error) {
	if s == "" {
		return &ViewRecord{
			Keys:    make(map[string]uint64),
			Clients: make(map[string]uint64),
		}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrBadCookieRecord
	}
	return ParseViewRecord(raw)
}
