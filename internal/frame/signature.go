package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"time"
)

// -------------------------------------------------------------------------
// Payload Signature
// -------------------------------------------------------------------------
//
// Every generated frame embeds a fixed 16 byte signature at the start of
// its payload, little-endian:
//
//	bytes 0-3   magic 0x56455031 ("VEP1")
//	bytes 4-7   profile id (FNV-1a hash of the profile name)
//	bytes 8-11  per-profile sequence number
//	bytes 12-15 monotonic emit time in microseconds, modulo 2^32

const (
	// SignatureSize is the fixed payload signature size in bytes.
	SignatureSize = 16

	// SignatureMagic identifies generator payloads ("VEP1" little-endian).
	SignatureMagic uint32 = 0x56455031
)

// Sentinel errors for signature parsing.
var (
	// ErrSignatureTooShort indicates the payload is shorter than 16 bytes.
	ErrSignatureTooShort = errors.New("payload signature too short: need 16 bytes")

	// ErrSignatureBadMagic indicates the magic bytes do not match.
	ErrSignatureBadMagic = errors.New("payload signature: bad magic")
)

// Signature is a parsed payload signature.
type Signature struct {
	// ProfileID is the FNV-1a hash of the originating profile name.
	ProfileID uint32

	// Seq is the per-profile sequence number, starting at 0.
	Seq uint32

	// EmitMicros is the monotonic emit time in microseconds modulo 2^32.
	EmitMicros uint32
}

// ProfileID derives the stable 32-bit profile identifier embedded in the
// signature from a profile name (FNV-1a).
func ProfileID(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))

	return h.Sum32()
}

// putSignature writes the 16 byte signature into buf (must be >= 16 bytes).
// emit is a monotonic offset (e.g. time.Since(processStart)); only its
// microsecond count modulo 2^32 is retained.
func putSignature(buf []byte, profileID, seq uint32, emit time.Duration) {
	binary.LittleEndian.PutUint32(buf[0:4], SignatureMagic)
	binary.LittleEndian.PutUint32(buf[4:8], profileID)
	binary.LittleEndian.PutUint32(buf[8:12], seq)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(emit.Microseconds())) //nolint:gosec // G115: intentional truncation modulo 2^32
}

// ParseSignature extracts a signature from the start of a payload.
func ParseSignature(payload []byte) (Signature, error) {
	if len(payload) < SignatureSize {
		return Signature{}, fmt.Errorf("parse signature: got %d bytes: %w",
			len(payload), ErrSignatureTooShort)
	}

	magic := binary.LittleEndian.Uint32(payload[0:4])
	if magic != SignatureMagic {
		return Signature{}, fmt.Errorf("parse signature: magic=0x%08x: %w",
			magic, ErrSignatureBadMagic)
	}

	return Signature{
		ProfileID:  binary.LittleEndian.Uint32(payload[4:8]),
		Seq:        binary.LittleEndian.Uint32(payload[8:12]),
		EmitMicros: binary.LittleEndian.Uint32(payload[12:16]),
	}, nil
}
