package vectorcache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"math"
)

// FileExt is the extension of stored vector files.
const FileExt = ".vec"

const (
	vecMagic   = "GZV1"
	headerSize = 8
	crcSize    = 4
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// FilenameForKey returns the storage filename for a path key: the hex SHA-256 of
// the key bytes plus FileExt. The key is used verbatim.
func FilenameForKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + FileExt
}

// EncodeVector serializes v as magic, uint32 dimension, little-endian float32
// components, and a CRC-32C trailer over everything before it.
func EncodeVector(v []float32) []byte {
	out := make([]byte, headerSize+4*len(v)+crcSize)
	copy(out, vecMagic)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(v)))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[headerSize+4*i:], math.Float32bits(f))
	}
	body := out[:len(out)-crcSize]
	binary.LittleEndian.PutUint32(out[len(body):], crc32.Checksum(body, castagnoli))
	return out
}

// DecodeVector parses bytes produced by EncodeVector. Any malformed input returns
// an error wrapping ErrCorrupt.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b) < headerSize+crcSize {
		return nil, fmt.Errorf("%w: short file (%d bytes)", ErrCorrupt, len(b))
	}
	if string(b[:4]) != vecMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, b[:4])
	}
	n := int(binary.LittleEndian.Uint32(b[4:8]))
	if want := headerSize + 4*n + crcSize; len(b) != want {
		return nil, fmt.Errorf("%w: length %d, want %d for dimension %d", ErrCorrupt, len(b), want, n)
	}
	body := b[:len(b)-crcSize]
	if got, want := crc32.Checksum(body, castagnoli), binary.LittleEndian.Uint32(b[len(body):]); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[headerSize+4*i:]))
	}
	return v, nil
}
