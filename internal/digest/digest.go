// Package digest computes the hashes used by the store.
//
// Structural is a 64-bit hash of a value tree used to bucket records in an
// index. Records and Bytes produce SHA-256 hex digests used as integrity
// records for snapshots.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/maruel/kvstore/internal/value"
)

// Type tags written before each node. Int and Float share tagNumber and are
// distinguished only by their payload encoding, so Int(1) and Float(1.0)
// hash differently.
const (
	tagNull byte = iota + 1
	tagBool
	tagNumber
	tagString
	tagArray
	tagObject
)

const (
	numInt   byte = 'i'
	numFloat byte = 'f'
)

// canonicalNaN is the bit pattern every NaN is hashed as.
const canonicalNaN = 0x7ff8000000000001

// Structural returns the 64-bit structural hash of v.
//
// Object entries are hashed in sorted key order so the result does not
// depend on insertion order. Array elements are hashed in order.
func Structural(v value.Value) uint64 {
	d := xxhash.New()
	h := hasher{d: d}
	h.walk(v)
	return d.Sum64()
}

type hasher struct {
	d   *xxhash.Digest
	buf [binary.MaxVarintLen64 + 1]byte
}

func (h *hasher) writeByte(b byte) {
	h.buf[0] = b
	_, _ = h.d.Write(h.buf[:1])
}

func (h *hasher) writeUvarint(n uint64) {
	l := binary.PutUvarint(h.buf[:], n)
	_, _ = h.d.Write(h.buf[:l])
}

func (h *hasher) writeUint64(n uint64) {
	binary.BigEndian.PutUint64(h.buf[:8], n)
	_, _ = h.d.Write(h.buf[:8])
}

func (h *hasher) writeString(s string) {
	h.writeUvarint(uint64(len(s)))
	_, _ = h.d.WriteString(s)
}

func (h *hasher) walk(v value.Value) {
	switch v := v.(type) {
	case nil, value.Null:
		h.writeByte(tagNull)
	case value.Bool:
		h.writeByte(tagBool)
		if v {
			h.writeByte(1)
		} else {
			h.writeByte(0)
		}
	case value.Int:
		h.writeByte(tagNumber)
		h.writeByte(numInt)
		h.writeUint64(uint64(v))
	case value.Float:
		h.writeByte(tagNumber)
		h.writeByte(numFloat)
		f := float64(v)
		switch {
		case math.IsNaN(f):
			h.writeUint64(canonicalNaN)
		case f == 0:
			h.writeUint64(0)
		default:
			h.writeUint64(math.Float64bits(f))
		}
	case value.String:
		h.writeByte(tagString)
		h.writeString(string(v))
	case value.Array:
		h.writeByte(tagArray)
		h.writeUvarint(uint64(len(v)))
		for _, e := range v {
			h.walk(e)
		}
	case value.Object:
		h.writeByte(tagObject)
		h.writeUvarint(uint64(len(v)))
		for _, k := range slices.Sorted(maps.Keys(v)) {
			h.writeString(k)
			h.walk(v[k])
		}
	default:
		panic(fmt.Sprintf("unexpected value type %T", v))
	}
}

// Records returns the SHA-256 hex digest of a record set.
//
// Keys are visited in sorted order; each contributes its UTF-8 bytes followed
// by the canonical compact JSON encoding of its value.
func Records(m map[string]value.Value) (string, error) {
	h := sha256.New()
	for _, k := range slices.Sorted(maps.Keys(m)) {
		_, _ = h.Write([]byte(k))
		b, err := value.Marshal(m[k])
		if err != nil {
			return "", fmt.Errorf("failed to encode %q: %w", k, err)
		}
		_, _ = h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the SHA-256 hex digest of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
