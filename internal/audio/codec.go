package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// G.711 mu-law companding constants.
const (
	ulawBias = 0x84  // 132
	ulawClip = 32635 // max magnitude representable after bias
)

// ulawToLinear maps each mu-law byte to its signed 16-bit linear sample.
var ulawToLinear [256]int16

func init() {
	for i := 0; i < 256; i++ {
		mu := ^uint8(i)
		sign := mu & 0x80
		exp := (mu >> 4) & 0x07
		man := mu & 0x0F
		sample := ((int32(man) << 3) + ulawBias) << exp
		sample -= ulawBias
		if sign != 0 {
			sample = -sample
		}
		ulawToLinear[i] = int16(sample)
	}
}

// DecodeULaw converts mu-law bytes to signed 16-bit little-endian PCM.
// One input byte yields one output sample; defined for all 256 byte values.
func DecodeULaw(data []byte) []byte {
	out := make([]byte, len(data)*2)
	for i, b := range data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(ulawToLinear[b]))
	}
	return out
}

// EncodeULaw converts signed 16-bit little-endian PCM to mu-law bytes.
// The PCM byte count must be even; an odd length is a caller bug, not a
// recoverable condition.
func EncodeULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: pcm length %d is not sample-aligned", len(pcm))
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		sample := int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		out[i] = linearToULaw(sample)
	}
	return out, nil
}

func linearToULaw(sample int) byte {
	sign := (sample >> 8) & 0x80
	if sign != 0 {
		sample = -sample
	}
	if sample > ulawClip {
		sample = ulawClip
	}
	sample += ulawBias

	exponent := 7
	for mask := 0x4000; exponent > 0 && sample&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := (sample >> (exponent + 3)) & 0x0F
	return byte(^(sign | exponent<<4 | mantissa))
}

// Resample converts 16-bit mono PCM between sample rates using linear
// interpolation. No anti-aliasing filter is applied; voice-call latency is
// favored over fidelity. Identity when the rates match.
func Resample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rates %d -> %d", fromRate, toRate)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: pcm length %d is not sample-aligned", len(pcm))
	}
	if fromRate == toRate {
		return pcm, nil
	}

	srcLen := len(pcm) / 2
	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(srcLen) / ratio)
	out := make([]byte, outLen*2)

	src := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		lo := int(pos)
		hi := lo + 1
		if hi > srcLen-1 {
			hi = srcLen - 1
		}
		frac := pos - math.Floor(pos)
		v := src(lo)*(1-frac) + src(hi)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out, nil
}
