package media

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestRMSLevelSilence(t *testing.T) {
	if got := rmsLevel(pcm16(0, 0, 0, 0)); got != 0 {
		t.Fatalf("silence level = %v, want 0", got)
	}
	if got := rmsLevel(nil); got != 0 {
		t.Fatalf("empty buffer level = %v, want 0", got)
	}
}

func TestRMSLevelFullScale(t *testing.T) {
	got := rmsLevel(pcm16(32767, -32768, 32767, -32768))
	if math.Abs(got-100) > 0.01 {
		t.Fatalf("full-scale level = %v, want ~100", got)
	}
}

func TestRMSLevelMidScale(t *testing.T) {
	got := rmsLevel(pcm16(16384, -16384, 16384, -16384))
	if math.Abs(got-50) > 0.1 {
		t.Fatalf("half-scale level = %v, want ~50", got)
	}
}

func TestRMSLevelClamped(t *testing.T) {
	// Odd trailing byte is ignored rather than crashing.
	buf := append(pcm16(1000), 0x7f)
	if got := rmsLevel(buf); got < 0 || got > 100 {
		t.Fatalf("level %v outside 0..100", got)
	}
}
