package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/audio"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/engine"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/protocol"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/session"
)

type recognitionResponse struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	Success    bool     `json:"success"`
	Type       string   `json:"type"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", ModelLoaded: s.engineLoaded()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && s.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleRecognize transcribes one uploaded WAVE file against the shared
// legacy recognizer.
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	if !s.engineLoaded() {
		writeError(w, http.StatusInternalServerError, "recognition engine not initialized")
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no audio file in request")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	pcm, err := audio.DecodeWave(bytes.NewReader(data), s.cfg.Engine.SampleRate)
	if err != nil {
		var fe *audio.FormatError
		switch {
		case errors.As(err, &fe):
			writeError(w, http.StatusBadRequest, fe.Error())
		case errors.Is(err, audio.ErrNotWave):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.legacyHandle()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create recognizer: "+err.Error())
		return
	}
	boundary, err := h.AcceptWaveform(pcm)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "recognition failed: "+err.Error())
		return
	}

	var res session.Result
	if boundary {
		final := h.Final()
		res = session.Result{Text: final.Text, Confidence: final.Confidence, HasConfidence: final.HasConfidence, Final: true}
		s.recordFileUtterance(r.Context(), res)
	} else {
		res = session.Result{Text: h.Partial()}
	}
	writeResult(w, res)
}

// handleRecognizeStream accepts one float32 fragment (or an end-of-utterance
// signal) for a streaming session.
func (s *Server) handleRecognizeStream(w http.ResponseWriter, r *http.Request) {
	if !s.engineLoaded() {
		writeError(w, http.StatusInternalServerError, "recognition engine not initialized")
		return
	}

	sessionID := resolveSessionID(r)

	if endOfUtterance(r) {
		res, err := s.coord.EndUtterance(r.Context(), sessionID)
		if err != nil {
			s.writeRecognitionError(w, err)
			return
		}
		writeResult(w, res)
		return
	}

	fragment, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	res, err := s.coord.ProcessFragment(r.Context(), sessionID, fragment)
	if err != nil {
		s.writeRecognitionError(w, err)
		return
	}
	writeResult(w, res)
}

// handleReset replaces the legacy single-shot recognizer. Streaming sessions
// are unaffected.
func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if !s.engineLoaded() {
		writeError(w, http.StatusInternalServerError, "recognition engine not initialized")
		return
	}

	fresh, err := s.engine.NewHandle(s.cfg.Engine.SampleRate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create recognizer: "+err.Error())
		return
	}

	s.mu.Lock()
	old := s.legacy
	s.legacy = fresh
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	s.log.Info("legacy recognizer reset")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "recognizer reset"})
}

func (s *Server) writeRecognitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, audio.ErrEmptyInput), errors.Is(err, audio.ErrMisaligned):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotLoaded):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) recordFileUtterance(ctx context.Context, res session.Result) {
	if s.recorder == nil || res.Text == "" {
		return
	}
	u := protocol.Utterance{
		SessionID: "file-upload",
		TraceID:   protocol.TraceIDFrom(ctx),
		Source:    "file",
		Text:      res.Text,
	}
	if res.HasConfidence {
		u.Confidence = res.Confidence
	}
	if err := s.recorder.RecordUtterance(ctx, u); err != nil {
		s.log.Warn("failed to record utterance", slog.String("error", err.Error()))
	}
}

// resolveSessionID prefers the X-Session-Id header, then the session_id
// query parameter, then the caller's network origin. The origin fallback is
// advisory only; callers behind shared addresses should send the header.
func resolveSessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Session-Id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("session_id")); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "default"
	}
	return host
}

func endOfUtterance(r *http.Request) bool {
	switch strings.ToLower(strings.TrimSpace(r.Header.Get("X-End-Of-Utterance"))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeResult(w http.ResponseWriter, res session.Result) {
	out := recognitionResponse{Text: res.Text, Success: true, Type: "partial"}
	if res.Final {
		out.Type = "final"
	}
	if res.HasConfidence {
		conf := res.Confidence
		out.Confidence = &conf
	}
	writeJSON(w, http.StatusOK, out)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// traceID ensures every request carries a trace id, generating one when the
// caller did not supply it.
func (s *Server) traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Trace-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Trace-Id", id)
		next.ServeHTTP(w, r.WithContext(protocol.WithTraceID(r.Context(), id)))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("trace_id", protocol.TraceIDFrom(r.Context())),
			slog.Duration("duration", time.Since(start)))
	})
}
