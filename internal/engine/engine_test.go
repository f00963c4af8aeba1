package engine

import (
	"testing"

	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/config"
)

func TestNewExecEngineRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecEngine(config.EngineConfig{Command: ""}); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := NewExecEngine(config.EngineConfig{Command: "recognize 'unterminated"}); err == nil {
		t.Fatal("expected error for unparsable command")
	}
}

func TestMockEngineBoundaryEveryN(t *testing.T) {
	eng := NewMockEngine(2)
	h, err := eng.NewHandle(16000)
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	pcm := make([]byte, 640)

	boundary, err := h.AcceptWaveform(pcm)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if boundary {
		t.Fatal("first buffer should not hit a boundary")
	}
	if h.Partial() == "" {
		t.Fatal("expected non-empty partial after audio")
	}

	boundary, err = h.AcceptWaveform(pcm)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !boundary {
		t.Fatal("second buffer should hit a boundary")
	}
	final := h.Final()
	if final.Text == "" || !final.HasConfidence {
		t.Fatalf("unexpected final result: %+v", final)
	}
}

func TestMockEngineEmptyFinalWithoutAudio(t *testing.T) {
	eng := NewMockEngine(0)
	h, err := eng.NewHandle(16000)
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	if got := h.Final(); got.Text != "" || got.HasConfidence {
		t.Fatalf("expected empty final, got %+v", got)
	}
}

func TestMockEngineClosedRefusesHandles(t *testing.T) {
	eng := NewMockEngine(0)
	eng.Close()
	if eng.Loaded() {
		t.Fatal("closed engine should not report loaded")
	}
	if _, err := eng.NewHandle(16000); err == nil {
		t.Fatal("expected error from closed engine")
	}
}
