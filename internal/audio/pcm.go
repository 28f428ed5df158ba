package audio

import (
	"encoding/binary"
	"math"
)

// decodePCM16 converts little-endian 16-bit PCM bytes to samples. A
// trailing odd byte is ignored.
func decodePCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// downmix averages interleaved channels into mono.
func downmix(samples []int, channels int) []int {
	if channels <= 1 {
		return samples
	}
	out := make([]int, len(samples)/channels)
	for i := range out {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / channels
	}
	return out
}

// to16 scales samples of the given bit depth to the int16 range.
func to16(samples []int, bitDepth int) []int16 {
	out := make([]int16, len(samples))
	for i, v := range samples {
		switch {
		case bitDepth == 8:
			v = (v - 128) << 8
		case bitDepth > 16:
			v >>= bitDepth - 16
		}
		out[i] = clamp16(v)
	}
	return out
}

func clamp16(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// resampler converts between sample rates by linear interpolation. It keeps
// the last input sample so consecutive blocks join without a seam.
type resampler struct {
	step float64
	pos  float64
	prev int16
}

func newResampler(from, to int) *resampler {
	if from <= 0 || to <= 0 || from == to {
		return nil
	}
	return &resampler{step: float64(from) / float64(to)}
}

func (r *resampler) process(in []int16) []int16 {
	if r == nil {
		return in
	}
	n := len(in)
	if n == 0 {
		return nil
	}
	at := func(i int) float64 {
		if i < 0 {
			return float64(r.prev)
		}
		return float64(in[i])
	}
	out := make([]int16, 0, int(float64(n)/r.step)+1)
	t := r.pos
	for t < float64(n-1) {
		i := int(math.Floor(t))
		frac := t - float64(i)
		a, b := at(i), at(i+1)
		out = append(out, clamp16(int(math.Round(a+(b-a)*frac))))
		t += r.step
	}
	r.pos = t - float64(n)
	r.prev = in[n-1]
	return out
}
