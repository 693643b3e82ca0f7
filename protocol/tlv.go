// Package protocol defines the wire surface of the sync engine: the Push/Pull
// request and response shapes, the opaque pull cookie, and the compact TLV
// encoding the cookie and the persisted sync records use.
//
// The TLV format follows ToyTLV (MIT licence, Victor Grishchenko, 2024),
// trimmed to the two explicit framings this engine needs:
//
//   - short: [lowercase_type, body_length] for bodies up to 255 bytes
//   - long:  [uppercase_type, 4-byte little-endian length] for anything bigger
//
// Record types are uppercase letters A..Z. Parsing is always wary: this data
// round-trips through clients, so malformed input is an error, never a panic.
package protocol

import (
	"encoding/binary"
	"errors"
)

const caseBit byte = 'a' - 'A'

var (
	ErrIncomplete = errors.New("protocol: incomplete TLV record")
	ErrBadRecord  = errors.New("protocol: bad TLV record format")
)

// probeHeader reads a record header; returns lit==0 on malformed or
// truncated input.
func probeHeader(data []byte) (lit byte, hdrlen, bodylen int) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	l := data[0]
	switch {
	case l >= 'a' && l <= 'z': // short
		if len(data) < 2 {
			return 0, 0, 0
		}
		return l - caseBit, 2, int(data[1])
	case l >= 'A' && l <= 'Z': // long
		if len(data) < 5 {
			return 0, 0, 0
		}
		bl := binary.LittleEndian.Uint32(data[1:5])
		if bl > 0x7fffffff {
			return 0, 0, 0
		}
		return l, 5, int(bl)
	default:
		return 0, 0, 0
	}
}

// AppendRecord appends one TLV record to into, choosing the framing by body
// size. The record type must be an uppercase letter.
func AppendRecord(into []byte, lit byte, body ...[]byte) []byte {
	if lit < 'A' || lit > 'Z' {
		panic("TLV record type is A..Z")
	}
	bodylen := 0
	for _, b := range body {
		bodylen += len(b)
	}
	if bodylen > 0x7fffffff {
		panic("oversized TLV record")
	}
	if bodylen > 0xff {
		into = append(into, lit)
		into = binary.LittleEndian.AppendUint32(into, uint32(bodylen))
	} else {
		into = append(into, lit|caseBit, byte(bodylen))
	}
	for _, b := range body {
		into = append(into, b...)
	}
	return into
}

// Record encodes one TLV record.
func Record(lit byte, body ...[]byte) []byte {
	return AppendRecord(nil, lit, body...)
}

// TakeAny consumes the next record whatever its type.
func TakeAny(data []byte) (lit byte, body, rest []byte, err error) {
	l, hdrlen, bodylen := probeHeader(data)
	if l == 0 {
		return 0, nil, nil, ErrBadRecord
	}
	if len(data) < hdrlen+bodylen {
		return 0, nil, nil, ErrIncomplete
	}
	return l, data[hdrlen : hdrlen+bodylen], data[hdrlen+bodylen:], nil
}

// Take consumes the next record, requiring the given type.
func Take(lit byte, data []byte) (body, rest []byte, err error) {
	l, body, rest, err := TakeAny(data)
	if err != nil {
		return nil, nil, err
	}
	if l != lit {
		return nil, nil, ErrBadRecord
	}
	return body, rest, nil
}

// PeekLit returns the type of the next record, 0 if none can be parsed.
func PeekLit(data []byte) byte {
	lit, _, _ := probeHeader(data)
	return lit
}
