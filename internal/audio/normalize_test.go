package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func floatFragment(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

func constFragment(n int, v float32) []byte {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return floatFragment(samples)
}

func sample(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func TestNormalizeRejectsEmpty(t *testing.T) {
	if _, _, err := Normalize(nil); err != ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestNormalizeRejectsMisaligned(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 6, 7, 641, 1023} {
		_, _, err := Normalize(make([]byte, n))
		if err == nil {
			t.Fatalf("length %d: expected error", n)
		}
		if !errors.Is(err, ErrMisaligned) {
			t.Fatalf("length %d: expected ErrMisaligned, got %v", n, err)
		}
	}
}

func TestNormalizeShortCircuitsBelowMinimum(t *testing.T) {
	// 319 samples quantize to 638 bytes, just under the floor.
	pcm, ok, err := Normalize(constFragment(319, 0.1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || pcm != nil {
		t.Fatalf("expected too-short sentinel, got %d bytes", len(pcm))
	}
}

func TestNormalizeOutputBounds(t *testing.T) {
	for _, n := range []int{320, 321, 4800, 16000, 20000, 50000} {
		pcm, ok, err := Normalize(constFragment(n, 0.25))
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		if !ok {
			t.Fatalf("n=%d: unexpected short-circuit", n)
		}
		if len(pcm)%2 != 0 {
			t.Fatalf("n=%d: output length %d is odd", n, len(pcm))
		}
		if len(pcm) < MinProcessBytes || len(pcm) > MaxChunkBytes {
			t.Fatalf("n=%d: output length %d outside [%d, %d]", n, len(pcm), MinProcessBytes, MaxChunkBytes)
		}
	}
}

func TestNormalizeSanitizesNonFinite(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	samples := make([]float32, 320)
	samples[0] = nan
	samples[1] = inf
	samples[2] = float32(math.Inf(-1))
	samples[3] = 2.5  // clamps to 1.0
	samples[4] = -7.0 // clamps to -1.0

	pcm, ok, err := Normalize(floatFragment(samples))
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if got := sample(pcm, 0); got != 0 {
		t.Fatalf("NaN should quantize to 0, got %d", got)
	}
	// +Inf and the over-range sample clamp to 1.0 → 32767, but the declick
	// pass then pulls them back toward the silent neighbors.
	if got := sample(pcm, 5); got != 0 {
		t.Fatalf("silence should stay 0, got %d", got)
	}
}

func TestNormalizeDeclicksTransients(t *testing.T) {
	samples := make([]float32, 320)
	for i := range samples {
		samples[i] = 0.1 // 3276 after quantization
	}
	samples[100] = 1.0 // 32767, a 29491 jump from its neighbor

	pcm, ok, err := Normalize(floatFragment(samples))
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	want := sample(pcm, 99)
	if got := sample(pcm, 100); got != want {
		t.Fatalf("transient not clamped: sample 100 = %d, neighbor = %d", got, want)
	}
}

func TestNormalizeKeepsModerateSteps(t *testing.T) {
	samples := make([]float32, 320)
	samples[10] = 0.5 // 16383, under the declick threshold

	pcm, ok, err := Normalize(floatFragment(samples))
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if got := sample(pcm, 10); got != 16383 {
		t.Fatalf("moderate step should survive, got %d", got)
	}
}

func TestNormalizeSineScenario(t *testing.T) {
	// 4800 samples of a sine captured at 24 kHz: a valid 19200-byte
	// fragment that must normalize cleanly, never reject.
	samples := make([]float32, 4800)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/24000))
	}
	pcm, ok, err := Normalize(floatFragment(samples))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("unexpected short-circuit")
	}
	if len(pcm) < MinProcessBytes || len(pcm) > MaxChunkBytes {
		t.Fatalf("output length %d outside [%d, %d]", len(pcm), MinProcessBytes, MaxChunkBytes)
	}
}

func TestNormalizeTruncatesOversizedFragments(t *testing.T) {
	pcm, ok, err := Normalize(constFragment(20000, 0.2))
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if len(pcm) != MaxChunkBytes {
		t.Fatalf("expected cap at %d bytes, got %d", MaxChunkBytes, len(pcm))
	}
}

func TestDecodeWaveFormatMismatch(t *testing.T) {
	var buf bytes.Buffer
	writeTestWave(t, &buf, 44100, 2)

	_, err := DecodeWave(bytes.NewReader(buf.Bytes()), 16000)
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if fe.Channels != 2 || fe.SampleRate != 44100 {
		t.Fatalf("format error should name the actual format: %+v", fe)
	}
}

func TestDecodeWaveAccepted(t *testing.T) {
	var buf bytes.Buffer
	writeTestWave(t, &buf, 16000, 1)

	pcm, err := DecodeWave(bytes.NewReader(buf.Bytes()), 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		t.Fatalf("unexpected pcm length %d", len(pcm))
	}
}

func TestDecodeWaveGarbage(t *testing.T) {
	if _, err := DecodeWave(bytes.NewReader([]byte("definitely not riff data")), 16000); err == nil {
		t.Fatal("expected error for non-wave payload")
	}
}

func writeTestWave(t *testing.T, buf *bytes.Buffer, rate, channels int) {
	t.Helper()
	data := make([]int, 800*channels)
	for i := range data {
		data[i] = int(int16(2000 * math.Sin(float64(i)/10)))
	}
	enc := wav.NewEncoder(&writeSeeker{buf: buf}, rate, 16, channels, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:   data,
	}); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
}

// writeSeeker adapts bytes.Buffer for the wav encoder, which patches RIFF
// sizes on close.
type writeSeeker struct {
	buf *bytes.Buffer
	pos int
}

func (ws *writeSeeker) Write(p []byte) (int, error) {
	if ws.pos < ws.buf.Len() {
		n := copy(ws.buf.Bytes()[ws.pos:], p)
		if n < len(p) {
			ws.buf.Write(p[n:])
		}
	} else {
		ws.buf.Write(p)
	}
	ws.pos += len(p)
	return len(p), nil
}

func (ws *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		ws.pos = int(offset)
	case 1:
		ws.pos += int(offset)
	case 2:
		ws.pos = ws.buf.Len() + int(offset)
	}
	return int64(ws.pos), nil
}
