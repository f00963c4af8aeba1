package engine

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/config"
)

// execEngine shells out to an external recognizer command. One-shot commands
// cannot emit interim hypotheses, so handles buffer PCM and only produce text
// on the final flush.
type execEngine struct {
	cmd []string
	cfg config.EngineConfig
	log *slog.Logger
}

type execResult struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

func NewExecEngine(cfg config.EngineConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	return &execEngine{cmd: args, cfg: cfg, log: slog.With(slog.String("component", "exec-engine"))}, nil
}

func (e *execEngine) NewHandle(sampleRate int) (Handle, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	return &execHandle{eng: e, sampleRate: sampleRate}, nil
}

func (e *execEngine) Loaded() bool { return true }

func (e *execEngine) Close() {}

type execHandle struct {
	eng        *execEngine
	sampleRate int
	pcm        []byte
	done       bool
}

func (h *execHandle) AcceptWaveform(pcm []byte) (bool, error) {
	if h.done {
		return false, fmt.Errorf("handle already finalized")
	}
	if len(pcm)%2 != 0 {
		return false, fmt.Errorf("pcm payload not aligned")
	}
	h.pcm = append(h.pcm, pcm...)
	// One-shot backends never report a boundary mid-stream.
	return false, nil
}

func (h *execHandle) Partial() string { return "" }

func (h *execHandle) Final() Result {
	h.done = true
	if len(h.pcm) == 0 {
		return Result{}
	}
	res, err := h.eng.transcribe(h.pcm, h.sampleRate)
	if err != nil {
		h.eng.log.Warn("exec transcription failed", slog.String("error", err.Error()))
		return Result{}
	}
	return res
}

func (h *execHandle) Close() {
	h.pcm = nil
	h.done = true
}

func (e *execEngine) transcribe(pcm []byte, sampleRate int) (Result, error) {
	file, err := os.CreateTemp(os.TempDir(), "speechd_utt_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, sampleRate); err != nil {
		return Result{}, err
	}

	args := append([]string{}, e.cmd...)
	base := args[0]
	cmdArgs := args[1:]
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if e.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", e.cfg.ModelPath)
	}

	command := exec.Command(base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("engine command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode engine response: %w", err)
	}
	out := Result{Text: resp.Text}
	if resp.Confidence != nil {
		out.Confidence = *resp.Confidence
		out.HasConfidence = true
	}
	return out, nil
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
