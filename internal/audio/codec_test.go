package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func pcmFromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func samplesFromPCM(t *testing.T, pcm []byte) []int16 {
	t.Helper()
	if len(pcm)%2 != 0 {
		t.Fatalf("pcm length %d not sample-aligned", len(pcm))
	}
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func TestDecodeULawMatchesReferenceTable(t *testing.T) {
	// Spot-check against the G.711 expansion table.
	cases := map[byte]int16{
		0x00: -32124, // maximum negative magnitude
		0x80: 32124,  // maximum positive magnitude
		0xFF: 0,      // positive zero
		0x7F: 0,      // negative zero encodes to linear 0
	}
	for in, want := range cases {
		got := samplesFromPCM(t, DecodeULaw([]byte{in}))[0]
		if got != want {
			t.Fatalf("DecodeULaw(0x%02X) = %d, want %d", in, got, want)
		}
	}
}

func TestDecodeULawTotalAndBounded(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	samples := samplesFromPCM(t, DecodeULaw(all))
	if len(samples) != 256 {
		t.Fatalf("sample count = %d, want 256", len(samples))
	}
	for i, s := range samples {
		if s < -32124 || s > 32124 {
			t.Fatalf("DecodeULaw(0x%02X) = %d, outside mu-law range", i, s)
		}
	}
}

func TestEncodeULawRoundTripWithinQuantizationStep(t *testing.T) {
	// Re-encoding a decoded value must land within one quantization step of
	// the original decode. mu-law's largest step (top segment) is 256.
	const maxStep = 256
	for b := 0; b < 256; b++ {
		decoded := DecodeULaw([]byte{byte(b)})
		encoded, err := EncodeULaw(decoded)
		if err != nil {
			t.Fatalf("EncodeULaw() error = %v", err)
		}
		redecoded := DecodeULaw(encoded)
		a := samplesFromPCM(t, decoded)[0]
		c := samplesFromPCM(t, redecoded)[0]
		diff := int(a) - int(c)
		if diff < 0 {
			diff = -diff
		}
		if diff > maxStep {
			t.Fatalf("round trip 0x%02X: decode %d, re-decode %d (diff %d)", b, a, c, diff)
		}
	}
}

func TestEncodeULawMonotonic(t *testing.T) {
	prev := byte(0)
	prevSet := false
	for s := int32(-32768); s <= 32767; s += 97 {
		enc, err := EncodeULaw(pcmFromSamples([]int16{int16(s)}))
		if err != nil {
			t.Fatalf("EncodeULaw() error = %v", err)
		}
		// Map to a comparable linear value via the decode table.
		cur := enc[0]
		if prevSet {
			a := ulawToLinear[prev]
			b := ulawToLinear[cur]
			if b < a {
				t.Fatalf("encoding not monotonic at input %d: %d then %d", s, a, b)
			}
		}
		prev = cur
		prevSet = true
	}
}

func TestEncodeULawClampsExtremes(t *testing.T) {
	enc, err := EncodeULaw(pcmFromSamples([]int16{32767, -32768}))
	if err != nil {
		t.Fatalf("EncodeULaw() error = %v", err)
	}
	if got := ulawToLinear[enc[0]]; got != 32124 {
		t.Fatalf("clamped positive decodes to %d, want 32124", got)
	}
	if got := ulawToLinear[enc[1]]; got != -32124 {
		t.Fatalf("clamped negative decodes to %d, want -32124", got)
	}
}

func TestEncodeULawRejectsOddLength(t *testing.T) {
	if _, err := EncodeULaw([]byte{0x01}); err == nil {
		t.Fatalf("expected error for odd-length pcm")
	}
}

func TestResampleIdentity(t *testing.T) {
	in := pcmFromSamples([]int16{1, -2, 3, -4, 5})
	out, err := Resample(in, 8000, 8000)
	if err != nil {
		t.Fatalf("Resample() error = %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("identity resample changed data")
	}
}

func TestResampleOutputLength(t *testing.T) {
	cases := []struct {
		samples  int
		from, to int
		want     int
	}{
		{800, 8000, 16000, 1600},
		{2205, 22050, 8000, 800},
		{100, 16000, 8000, 50},
		{3, 8000, 16000, 6},
	}
	for _, tc := range cases {
		in := make([]byte, tc.samples*2)
		out, err := Resample(in, tc.from, tc.to)
		if err != nil {
			t.Fatalf("Resample(%d->%d) error = %v", tc.from, tc.to, err)
		}
		if len(out)/2 != tc.want {
			t.Fatalf("Resample(%d samples, %d->%d) = %d samples, want %d",
				tc.samples, tc.from, tc.to, len(out)/2, tc.want)
		}
	}
}

func TestResampleInterpolatesBetweenSamples(t *testing.T) {
	// Doubling the rate should place midpoints between adjacent samples.
	in := pcmFromSamples([]int16{0, 100, 200, 300})
	out, err := Resample(in, 8000, 16000)
	if err != nil {
		t.Fatalf("Resample() error = %v", err)
	}
	got := samplesFromPCM(t, out)
	want := []int16{0, 50, 100, 150, 200, 250, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("sample count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleRejectsBadInput(t *testing.T) {
	if _, err := Resample([]byte{1}, 8000, 16000); err == nil {
		t.Fatalf("expected error for odd-length pcm")
	}
	if _, err := Resample(nil, 0, 16000); err == nil {
		t.Fatalf("expected error for zero rate")
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Fatalf("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint16(wav[22:]); got != 1 {
		t.Fatalf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:]); got != 16000 {
		t.Fatalf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:]); got != 32000 {
		t.Fatalf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:]); got != 16 {
		t.Fatalf("bits per sample = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", got, len(pcm))
	}
}

func TestEncodeWAVRejectsBadRate(t *testing.T) {
	if _, err := EncodeWAVPCM16LE(nil, 0); err == nil {
		t.Fatalf("expected error for non-positive sample rate")
	}
}
