package protocol

import (
	"context"
	"time"
)

// Transcript is the recognition event broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

const (
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
)

// Utterance is a finished transcription persisted to the transcript store.
type Utterance struct {
	SessionID  string
	TraceID    string
	Source     string // "stream" or "file"
	Text       string
	Confidence float64
	CreatedAt  time.Time
}

type traceIDKey struct{}

// WithTraceID attaches a request trace id to the context.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// TraceIDFrom returns the trace id carried by ctx, or "".
func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}
