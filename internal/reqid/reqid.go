// Package reqid implements the invertible-multiplication request id
// codec: a logical
// {iothread, connection, generation} triple is packed into 64 bits and
// scrambled by a fixed invertible multiplier so a single-bit corruption
// anywhere in transit turns into a high-entropy value the decoder rejects,
// rather than silently decoding to a nearby, plausible-looking id.
package reqid

import (
	"github.com/appnexus/httpcore/internal/constants"
)

// K and KInv are a mutually inverse pair modulo 2^64: K*KInv ≡ 1 (mod 2^64).
// Implementers may pick a different pair; both sides of the wire must agree.
const (
	K    uint64 = 0x10000FFFFFFE1
	KInv uint64 = 0x37F114C742108421
)

const (
	genBits   = constants.SlotGenerationBits
	connBits  = constants.ConnIndexBits
	ioThrBits = constants.IOThreadIndexBits

	genMask  = (uint64(1) << genBits) - 1
	connMask = (uint64(1) << connBits) - 1
	ioThrMax = (uint64(1) << ioThrBits) - 1
)

// Fields is the decoded logical layout: [iothread_index:8 | conn_index:28 | generation:28].
type Fields struct {
	IOThread uint8
	ConnIdx  uint32
	Gen      uint32
}

// pack combines Fields into the pre-encoding 64-bit logical value.
func pack(f Fields) uint64 {
	return (uint64(f.IOThread) << (connBits + genBits)) |
		(uint64(f.ConnIdx&uint32(connMask)) << genBits) |
		uint64(f.Gen&uint32(genMask))
}

// unpack splits a pre-decoding 64-bit logical value back into Fields.
func unpack(v uint64) Fields {
	return Fields{
		IOThread: uint8(v >> (connBits + genBits)),
		ConnIdx:  uint32((v >> genBits) & connMask),
		Gen:      uint32(v & genMask),
	}
}

// Encode packs f and scrambles it with K, producing the opaque wire value.
func Encode(f Fields) uint64 {
	return pack(f) * K
}

// Decode reverses Encode and validates the result: the I/O-thread index
// must be in range and, if expectedGen is non-zero, must match the slot's
// current generation. A corrupted id almost always fails the thread-index
// range check because multiplication by K scrambles every bit.
func Decode(id uint64, numThreads int, expectedGen uint32) (Fields, bool) {
	v := id * KInv
	f := unpack(v)

	if int(f.IOThread) >= numThreads {
		return Fields{}, false
	}
	if uint64(f.IOThread) > ioThrMax {
		return Fields{}, false
	}
	if expectedGen != 0 && f.Gen != expectedGen {
		return Fields{}, false
	}
	return f, true
}
