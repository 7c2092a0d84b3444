package recorder

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Samples are stored as little-endian float64 pairs (real, imaginary) and
// the validity mask as one byte per cell, both in frame order.

func encodeSamples(s []complex128) []byte {
	buf := make([]byte, 16*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint64(buf[16*i:], math.Float64bits(real(v)))
		binary.LittleEndian.PutUint64(buf[16*i+8:], math.Float64bits(imag(v)))
	}
	return buf
}

func decodeSamples(buf []byte) ([]complex128, error) {
	if len(buf)%16 != 0 {
		return nil, fmt.Errorf("sample blob of %d bytes is not a whole number of samples", len(buf))
	}
	out := make([]complex128, len(buf)/16)
	for i := range out {
		re := math.Float64frombits(binary.LittleEndian.Uint64(buf[16*i:]))
		im := math.Float64frombits(binary.LittleEndian.Uint64(buf[16*i+8:]))
		out[i] = complex(re, im)
	}
	return out, nil
}

func encodeMask(valid []bool) []byte {
	buf := make([]byte, len(valid))
	for i, ok := range valid {
		if ok {
			buf[i] = 1
		}
	}
	return buf
}

func decodeMask(buf []byte) []bool {
	out := make([]bool, len(buf))
	for i, b := range buf {
		out[i] = b != 0
	}
	return out
}
