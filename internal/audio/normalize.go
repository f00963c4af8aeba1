// Package audio turns raw client fragments into engine-ready PCM.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// MinProcessBytes is the smallest quantized payload worth sending to
	// the engine: 320 samples, 20 ms at 16 kHz.
	MinProcessBytes = 640
	// MaxChunkBytes bounds one engine call to a second of audio at 16 kHz,
	// capping per-call latency and memory.
	MaxChunkBytes = 32000
	// minPadSamples is the engine's practical minimum window.
	minPadSamples = 160
	// declickJump is the largest sample-to-sample step accepted before the
	// declick filter clamps the later sample.
	declickJump = 20000
)

var (
	ErrEmptyInput = errors.New("audio payload is empty")
	ErrMisaligned = errors.New("audio payload is not a whole number of float32 samples")
)

// Normalize converts a little-endian float32 fragment into bounded, declicked
// 16-bit mono PCM. The second return value is false when the fragment
// quantizes below MinProcessBytes; such fragments are dropped by the caller
// without touching the engine. Shape violations return ErrEmptyInput or
// ErrMisaligned; size bounding and padding are silent policy.
func Normalize(fragment []byte) ([]byte, bool, error) {
	if len(fragment) == 0 {
		return nil, false, ErrEmptyInput
	}
	if len(fragment)%4 != 0 {
		return nil, false, fmt.Errorf("fragment of %d bytes: %w", len(fragment), ErrMisaligned)
	}

	pcm := quantize(fragment)

	if len(pcm) < MinProcessBytes {
		return nil, false, nil
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if len(pcm) > MaxChunkBytes {
		pcm = pcm[:MaxChunkBytes]
	}

	declick(pcm)

	if len(pcm)/2 < minPadSamples {
		padded := make([]byte, minPadSamples*2)
		copy(padded, pcm)
		pcm = padded
	}
	return pcm, true, nil
}

// quantize reads float32 samples, sanitizes non-finite values, clamps to
// [-1, 1] and truncates to 16-bit signed integers.
func quantize(fragment []byte) []byte {
	samples := len(fragment) / 4
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		f := math.Float32frombits(binary.LittleEndian.Uint32(fragment[i*4:]))
		switch {
		case f != f: // NaN
			f = 0
		case f > 1:
			f = 1
		case f < -1:
			f = -1
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(f*32767)))
	}
	return pcm
}

// declick clamps decode glitches: any sample jumping more than declickJump
// from its predecessor is replaced by the predecessor, in a single pass.
func declick(pcm []byte) {
	if len(pcm) < 4 {
		return
	}
	prev := int16(binary.LittleEndian.Uint16(pcm))
	for i := 2; i < len(pcm); i += 2 {
		cur := int16(binary.LittleEndian.Uint16(pcm[i:]))
		if diff := int(cur) - int(prev); diff > declickJump || diff < -declickJump {
			binary.LittleEndian.PutUint16(pcm[i:], uint16(prev))
			cur = prev
		}
		prev = cur
	}
}
