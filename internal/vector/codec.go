package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode packs a vector as little-endian float32s for BLOB storage.
func Encode(v []float32) []byte {
	const size = 4
	out := make([]byte, len(v)*size)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(f))
	}
	return out
}

// Decode unpacks a vector written by Encode. It fails when b is not a whole
// number of float32s or when dimensions is positive and does not match.
func Decode(b []byte, dimensions int) ([]float32, error) {
	const size = 4
	if len(b)%size != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of %d", len(b), size)
	}
	out := make([]float32, len(b)/size)
	if dimensions > 0 && len(out) != dimensions {
		return nil, fmt.Errorf("vector has %d dimensions, expected %d", len(out), dimensions)
	}
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out, nil
}
