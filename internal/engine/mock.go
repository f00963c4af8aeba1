package engine

import (
	"fmt"
	"sync"
)

type mockEngine struct {
	finalEvery int
	mu         sync.Mutex
	closed     bool
}

// NewMockEngine returns an in-process engine for development and tests.
// When finalEvery is N > 0, every Nth accepted buffer reports an utterance
// boundary; with 0 the mock only finalizes on an explicit flush.
func NewMockEngine(finalEvery int) Engine {
	return &mockEngine{finalEvery: finalEvery}
}

func (m *mockEngine) NewHandle(sampleRate int) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrNotLoaded
	}
	return &mockHandle{finalEvery: m.finalEvery, sampleRate: sampleRate}, nil
}

func (m *mockEngine) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *mockEngine) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

type mockHandle struct {
	finalEvery int
	sampleRate int
	accepted   int
	bytes      int
}

func (h *mockHandle) AcceptWaveform(pcm []byte) (bool, error) {
	h.accepted++
	h.bytes += len(pcm)
	if h.finalEvery > 0 && h.accepted%h.finalEvery == 0 {
		return true, nil
	}
	return false, nil
}

func (h *mockHandle) Partial() string {
	if h.accepted == 0 {
		return ""
	}
	return fmt.Sprintf("[partial buffers=%d]", h.accepted)
}

func (h *mockHandle) Final() Result {
	if h.accepted == 0 {
		return Result{}
	}
	seconds := float64(h.bytes) / float64(2*h.sampleRate)
	return Result{
		Text:          fmt.Sprintf("[final buffers=%d duration=%.2fs]", h.accepted, seconds),
		Confidence:    1,
		HasConfidence: true,
	}
}

func (h *mockHandle) Close() {}
