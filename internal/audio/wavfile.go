package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
)

// ErrNotWave reports a payload that is not a parseable WAVE file.
var ErrNotWave = errors.New("not a valid WAVE file")

// FormatError describes a WAVE file whose format the engine cannot consume.
type FormatError struct {
	Channels   int
	BitDepth   int
	SampleRate int
	WantRate   int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unsupported audio format: need mono, 16-bit, %d Hz; got %d channel(s), %d-bit, %d Hz",
		e.WantRate, e.Channels, e.BitDepth, e.SampleRate)
}

// DecodeWave validates that r holds a mono, 16-bit WAVE file at wantRate and
// returns its raw little-endian PCM frames.
func DecodeWave(r io.ReadSeeker, wantRate int) ([]byte, error) {
	dec := wav.NewDecoder(r)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, ErrNotWave
	}
	if dec.NumChans != 1 || dec.BitDepth != 16 || int(dec.SampleRate) != wantRate {
		return nil, &FormatError{
			Channels:   int(dec.NumChans),
			BitDepth:   int(dec.BitDepth),
			SampleRate: int(dec.SampleRate),
			WantRate:   wantRate,
		}
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav frames: %w", err)
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return pcm, nil
}
