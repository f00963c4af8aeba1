package engine

import (
	"errors"

	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/config"
)

// ErrNotLoaded reports that the engine has no usable model behind it.
var ErrNotLoaded = errors.New("recognition engine not loaded")

// Result is the engine's transcription output. Confidence is optional;
// engines that do not score their output leave HasConfidence false.
type Result struct {
	Text          string
	Confidence    float64
	HasConfidence bool
}

// Handle is per-utterance recognizer state. A handle accumulates acoustic
// context across AcceptWaveform calls and is not safe for concurrent use;
// callers serialize access (the session registry does this per session).
type Handle interface {
	// AcceptWaveform feeds 16-bit little-endian mono PCM into the
	// recognizer. It reports true when the engine detected an utterance
	// boundary, in which case Final returns the completed transcription.
	AcceptWaveform(pcm []byte) (bool, error)

	// Partial returns the tentative transcription for audio accepted so
	// far. It may be empty.
	Partial() string

	// Final flushes the recognizer and returns its best transcription.
	Final() Result

	// Close releases engine-side resources for this handle.
	Close()
}

// Engine creates recognizer handles.
type Engine interface {
	NewHandle(sampleRate int) (Handle, error)
	Loaded() bool
	Close()
}

// New builds an engine from configuration.
func New(cfg config.EngineConfig) (Engine, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecEngine(cfg)
	case "mock":
		return NewMockEngine(cfg.MockFinalEvery), nil
	default:
		return nil, errors.New("unknown engine mode: " + cfg.Mode)
	}
}
