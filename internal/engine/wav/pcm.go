package wav

import (
	"encoding/binary"
	"errors"
)

// DecodePCM converts raw little-endian 16-bit PCM into samples.
func DecodePCM(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, ErrMisalignedFrame
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:])) //nolint:gosec
	}
	return samples, nil
}

// Resample converts mono samples between sample rates with linear
// interpolation.
func Resample(in []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, errors.New("sample rates must be positive")
	}
	if fromRate == toRate || len(in) == 0 {
		return in, nil
	}

	ratio := float64(toRate) / float64(fromRate)
	outLen := int(float64(len(in)) * ratio)
	out := make([]int16, outLen)

	for i := range out {
		pos := float64(i) / ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		v := float64(in[idx])*(1-frac) + float64(in[idx+1])*frac
		out[i] = int16(v)
	}
	return out, nil
}

// Clamp converts a float sample in [-1, 1] to int16, saturating at the
// bounds.
func Clamp(v float64) int16 {
	s := v * 32767
	switch {
	case s > 32767:
		return 32767
	case s < -32768:
		return -32768
	default:
		return int16(s)
	}
}
