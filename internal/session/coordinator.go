package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/audio"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/engine"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/protocol"
)

// Publisher broadcasts transcripts to interested consumers. Implementations
// must be safe for concurrent use.
type Publisher interface {
	PublishTranscript(t protocol.Transcript) error
}

// Recorder persists finished utterances.
type Recorder interface {
	RecordUtterance(ctx context.Context, u protocol.Utterance) error
}

// Result is the service-shaped recognition outcome.
type Result struct {
	Text          string
	Confidence    float64
	HasConfidence bool
	Final         bool
}

// Coordinator drives the per-session recognition state machine: it looks up
// or creates session state, serializes engine access through the session
// lock, feeds normalized audio to the engine and maps its output.
type Coordinator struct {
	engine     engine.Engine
	registry   *Registry
	sampleRate int
	publisher  Publisher // may be nil
	recorder   Recorder  // may be nil
	log        *slog.Logger

	fragments metric.Int64Counter
	stale     metric.Int64Counter
}

func NewCoordinator(eng engine.Engine, sampleRate int, publisher Publisher, recorder Recorder, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		engine:     eng,
		registry:   NewRegistry(),
		sampleRate: sampleRate,
		publisher:  publisher,
		recorder:   recorder,
		log:        logger.With(slog.String("component", "session-coordinator")),
	}
	c.initMetrics()
	return c
}

func (c *Coordinator) initMetrics() {
	meter := otel.Meter("github.com/Ddahuang324/IeltsSpeking-Assistant/speechd")
	if counter, err := meter.Int64Counter("speechd.fragments.total",
		metric.WithDescription("Audio fragments accepted for processing")); err == nil {
		c.fragments = counter
	}
	if counter, err := meter.Int64Counter("speechd.fragments.stale",
		metric.WithDescription("Fragments dropped because their session was closed")); err == nil {
		c.stale = counter
	}
	gauge, err := meter.Int64ObservableGauge("speechd.sessions.active",
		metric.WithDescription("Live streaming sessions"))
	if err != nil {
		return
	}
	_, _ = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(c.registry.Len()))
		return nil
	}, gauge)
}

// ProcessFragment normalizes one audio fragment and feeds it to the
// session's recognizer. Validation failures surface before any session state
// is touched; a fragment for a closed session is answered with an empty
// partial without reaching the engine.
func (c *Coordinator) ProcessFragment(ctx context.Context, sessionID string, fragment []byte) (Result, error) {
	if c.engine == nil || !c.engine.Loaded() {
		return Result{}, engine.ErrNotLoaded
	}

	pcm, ok, err := audio.Normalize(fragment)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		// Too short to advance the engine; report an empty partial.
		return Result{}, nil
	}

	if c.fragments != nil {
		c.fragments.Add(ctx, 1)
	}

	s := c.registry.Acquire(sessionID)
	s.Lock()
	defer s.Unlock()

	if s.Closed() {
		if c.stale != nil {
			c.stale.Add(ctx, 1)
		}
		c.log.Debug("dropping late fragment for closed session", slog.String("session_id", sessionID))
		return Result{}, nil
	}

	h := s.Handle()
	if h == nil {
		h, err = c.engine.NewHandle(c.sampleRate)
		if err != nil {
			return Result{}, fmt.Errorf("create recognizer handle: %w", err)
		}
		s.Bind(h)
		c.log.Debug("session activated", slog.String("session_id", sessionID))
	}

	boundary, err := h.AcceptWaveform(pcm)
	if err != nil {
		// The session stays registered; the caller may retry with the
		// next fragment.
		return Result{}, fmt.Errorf("accept waveform: %w", err)
	}

	if boundary {
		res := c.aggregateFinal(h.Final())
		c.emit(ctx, sessionID, res)
		return res, nil
	}
	res := Result{Text: h.Partial()}
	c.emit(ctx, sessionID, res)
	return res, nil
}

// EndUtterance runs the CLOSING transition: it flushes the final result,
// marks the session closed and removes every trace of it so the id can be
// reused. Calling it for an unknown or already-closed session yields an
// empty final result, not an error.
func (c *Coordinator) EndUtterance(ctx context.Context, sessionID string) (Result, error) {
	if c.engine == nil || !c.engine.Loaded() {
		return Result{}, engine.ErrNotLoaded
	}

	s, ok := c.registry.Peek(sessionID)
	if !ok {
		return Result{Final: true}, nil
	}

	s.Lock()
	defer s.Unlock()

	if s.Closed() {
		return Result{Final: true}, nil
	}

	h := c.registry.CloseAndRemove(s)
	if h == nil {
		return Result{Final: true}, nil
	}
	res := c.aggregateFinal(h.Final())
	h.Close()
	c.log.Info("session closed",
		slog.String("session_id", sessionID),
		slog.Int("transcript_len", len(res.Text)))
	c.emit(ctx, sessionID, res)
	return res, nil
}

// Sessions reports the number of live streaming sessions.
func (c *Coordinator) Sessions() int { return c.registry.Len() }

// aggregateFinal maps the engine-native final shape onto the service shape.
// Absent engine output degrades to empty text.
func (c *Coordinator) aggregateFinal(r engine.Result) Result {
	return Result{
		Text:          r.Text,
		Confidence:    r.Confidence,
		HasConfidence: r.HasConfidence,
		Final:         true,
	}
}

func (c *Coordinator) emit(ctx context.Context, sessionID string, res Result) {
	if res.Text == "" {
		return
	}
	if c.publisher != nil {
		t := protocol.Transcript{
			SessionID: sessionID,
			Text:      res.Text,
			Partial:   !res.Final,
			Timestamp: time.Now().UTC(),
		}
		if res.HasConfidence {
			t.Confidence = res.Confidence
		}
		if err := c.publisher.PublishTranscript(t); err != nil {
			c.log.Warn("failed to publish transcript", slog.String("error", err.Error()))
		}
	}
	if c.recorder != nil && res.Final {
		u := protocol.Utterance{
			SessionID: sessionID,
			TraceID:   protocol.TraceIDFrom(ctx),
			Text:      res.Text,
			Source:    "stream",
		}
		if res.HasConfidence {
			u.Confidence = res.Confidence
		}
		if err := c.recorder.RecordUtterance(ctx, u); err != nil {
			c.log.Warn("failed to record utterance", slog.String("error", err.Error()))
		}
	}
}
