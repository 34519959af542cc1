// Package server exposes the narration relay over HTTP.
//
// Story turns are delivered as server-sent events: the response opens with an
// "open" event, narration text arrives as "delta" events, per-sentence audio
// as "audio" events, and the stream ends with "done" (or an in-band "error"
// event for failures that happen after the headers are written). Malformed
// requests are rejected with a 4xx status before any streaming starts.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taleweave/taleweave/internal/health"
	"github.com/taleweave/taleweave/internal/narrate"
	"github.com/taleweave/taleweave/internal/observe"
	"github.com/taleweave/taleweave/internal/transcript"
	"github.com/taleweave/taleweave/pkg/archive"
	"github.com/taleweave/taleweave/pkg/audio"
	"github.com/taleweave/taleweave/pkg/provider/embeddings"
	"github.com/taleweave/taleweave/pkg/provider/stt"
	"github.com/taleweave/taleweave/pkg/provider/tts"
)

// sttSampleRate is the PCM rate speech uploads are normalised to before
// transcription.
const sttSampleRate = 16000

// maxUploadBytes caps speech uploads (multipart form memory plus body).
const maxUploadBytes = 32 << 20

// Decoder converts a container-format audio upload (ogg, webm, mp3, wav)
// into mono 16-bit PCM at the decoder's configured rate.
type Decoder interface {
	Decode(ctx context.Context, container []byte) ([]byte, error)
}

// Option is a functional option for Server.
type Option func(*Server)

// WithSTT attaches a speech-to-text provider, enabling the speak and
// transcribe endpoints.
func WithSTT(p stt.Provider) Option {
	return func(s *Server) { s.stt = p }
}

// WithDecoder attaches an audio container decoder. Without one, speech
// uploads must be WAV.
func WithDecoder(d Decoder) Option {
	return func(s *Server) { s.decoder = d }
}

// WithCorrector attaches a lexicon corrector applied to transcriptions.
func WithCorrector(c *transcript.Corrector) Option {
	return func(s *Server) { s.corrector = c }
}

// WithTTS attaches a speech synthesis provider, enabling the voices endpoint.
func WithTTS(p tts.Provider) Option {
	return func(s *Server) { s.tts = p }
}

// WithArchive attaches the story archive, enabling the recall endpoint.
func WithArchive(a archive.Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithEmbeddings attaches an embeddings provider for semantic recall.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(s *Server) { s.embed = p }
}

// WithDefaultVoice sets the voice used when a speech request carries none.
func WithDefaultVoice(v tts.VoiceProfile) Option {
	return func(s *Server) { s.defaultVoice = v }
}

// WithLanguage sets the expected language of speech uploads.
func WithLanguage(lang string) Option {
	return func(s *Server) { s.language = lang }
}

// WithHealth attaches a health handler with readiness checks.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server routes HTTP requests to the relay and its supporting providers.
type Server struct {
	relay        *narrate.Relay
	stt          stt.Provider
	decoder      Decoder
	corrector    *transcript.Corrector
	tts          tts.Provider
	archive      archive.Archive
	embed        embeddings.Provider
	defaultVoice tts.VoiceProfile
	language     string
	health       *health.Handler
	metrics      *observe.Metrics
	logger       *slog.Logger
	mux          *http.ServeMux
}

// New creates a Server around relay and registers all routes.
func New(relay *narrate.Relay, opts ...Option) (*Server, error) {
	if relay == nil {
		return nil, errors.New("server: relay must not be nil")
	}
	s := &Server{
		relay:    relay,
		language: "en",
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/story/stream", s.handleStream)
	mux.HandleFunc("POST /v1/story/speak", s.handleSpeak)
	mux.HandleFunc("POST /v1/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /v1/story/recall", s.handleRecall)
	mux.HandleFunc("GET /v1/voices", s.handleVoices)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	s.mux = mux
	return s, nil
}

// Handler returns the full request handler with observability middleware.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.metrics)(s.mux)
}

// streamRequest is the JSON body of POST /v1/story/stream.
type streamRequest struct {
	SessionID string `json:"session_id"`
	Character string `json:"character"`
	Action    string `json:"action"`
	Speech    bool   `json:"speech"`
	VoiceID   string `json:"voice_id"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	s.streamTurn(w, r, req, "")
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if s.stt == nil {
		writeError(w, http.StatusNotImplemented, "no speech-to-text provider configured")
		return
	}

	pcm, form, ok := s.readSpeechUpload(w, r)
	if !ok {
		return
	}

	text, _, err := s.transcribe(r.Context(), pcm)
	if err != nil {
		writeError(w, http.StatusBadGateway, "transcription failed: "+err.Error())
		return
	}
	if text == "" {
		writeError(w, http.StatusUnprocessableEntity, "no speech recognised in upload")
		return
	}

	req := streamRequest{
		SessionID: form.Get("session_id"),
		Character: form.Get("character"),
		Action:    text,
		Speech:    form.Get("speech") == "true",
		VoiceID:   form.Get("voice_id"),
	}
	s.streamTurn(w, r, req, text)
}

// streamTurn validates the request against the relay and, once accepted,
// switches the response to SSE. transcription, when non-empty, is emitted as
// the first event after open so speech callers see what was understood.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, req streamRequest, transcription string) {
	voice := s.defaultVoice
	if req.VoiceID != "" {
		voice = tts.VoiceProfile{ID: req.VoiceID, Provider: s.defaultVoice.Provider}
	}

	events, err := s.relay.Stream(r.Context(), narrate.Request{
		SessionID: req.SessionID,
		Character: req.Character,
		Action:    req.Action,
		Speech:    req.Speech,
		Voice:     voice,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sse.send(narrate.Event{Type: narrate.EventOpen})
	if transcription != "" {
		sse.send(narrate.Event{Type: narrate.EventTranscription, Text: transcription})
	}

	for ev := range events {
		if err := sse.send(ev); err != nil {
			s.logger.Debug("client gone, draining stream", "error", err)
			for range events {
			}
			return
		}
	}
}

// transcribeResponse is the JSON body returned by POST /v1/transcribe.
type transcribeResponse struct {
	Text        string                  `json:"text"`
	Corrections []transcript.Correction `json:"corrections,omitempty"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.stt == nil {
		writeError(w, http.StatusNotImplemented, "no speech-to-text provider configured")
		return
	}

	pcm, _, ok := s.readSpeechUpload(w, r)
	if !ok {
		return
	}

	text, corrections, err := s.transcribe(r.Context(), pcm)
	if err != nil {
		writeError(w, http.StatusBadGateway, "transcription failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, transcribeResponse{Text: text, Corrections: corrections})
}

// recallResult is one archived beat in the recall response.
type recallResult struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	Scene     string    `json:"scene"`
	Distance  float64   `json:"distance,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotImplemented, "no story archive configured")
		return
	}

	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	opts := archive.SearchOpts{SessionID: q.Get("session")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = limit
	}

	var (
		results []archive.Result
		err     error
	)
	switch mode := q.Get("mode"); mode {
	case "", "text":
		results, err = s.archive.SearchText(r.Context(), query, opts)
	case "semantic":
		if s.embed == nil {
			writeError(w, http.StatusNotImplemented, "semantic recall requires an embeddings provider")
			return
		}
		var vec []float32
		vec, err = s.embed.Embed(r.Context(), query)
		if err == nil {
			results, err = s.archive.SearchSemantic(r.Context(), vec, opts)
		}
	default:
		writeError(w, http.StatusBadRequest, "mode must be \"text\" or \"semantic\"")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "recall failed: "+err.Error())
		return
	}

	out := make([]recallResult, 0, len(results))
	for _, res := range results {
		out = append(out, recallResult{
			ID:        res.Beat.ID,
			SessionID: res.Beat.SessionID,
			Action:    res.Beat.Action,
			Scene:     res.Beat.Scene,
			Distance:  res.Distance,
			CreatedAt: res.Beat.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// voiceResult is one synthesis voice in the voices response.
type voiceResult struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Provider string            `json:"provider"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.tts == nil {
		writeError(w, http.StatusNotImplemented, "no speech synthesis provider configured")
		return
	}
	voices, err := s.tts.ListVoices(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "listing voices failed: "+err.Error())
		return
	}
	out := make([]voiceResult, 0, len(voices))
	for _, v := range voices {
		out = append(out, voiceResult{ID: v.ID, Name: v.Name, Provider: v.Provider, Metadata: v.Metadata})
	}
	writeJSON(w, http.StatusOK, out)
}

// readSpeechUpload parses the multipart form, decodes the "audio" part to
// mono 16 kHz PCM, and writes the error response itself on failure.
func (s *Server) readSpeechUpload(w http.ResponseWriter, r *http.Request) ([]byte, url.Values, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return nil, nil, false
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file part is required")
		return nil, nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading audio part: "+err.Error())
		return nil, nil, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "audio file part is empty")
		return nil, nil, false
	}

	pcm, err := s.decodeUpload(r.Context(), data)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "cannot decode audio: "+err.Error())
		return nil, nil, false
	}
	return pcm, r.Form, true
}

// decodeUpload converts an uploaded payload to mono 16 kHz PCM. With a
// container decoder any common format works; otherwise only WAV is accepted.
func (s *Server) decodeUpload(ctx context.Context, data []byte) ([]byte, error) {
	if s.decoder != nil {
		return s.decoder.Decode(ctx, data)
	}
	pcm, rate, channels, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	out := audio.NormalizeMono16(pcm, rate, channels, sttSampleRate)
	if out == nil {
		return nil, errors.New("unsupported channel layout")
	}
	return out, nil
}

// transcribe runs STT over pcm and applies the lexicon corrector.
func (s *Server) transcribe(ctx context.Context, pcm []byte) (string, []transcript.Correction, error) {
	start := time.Now()
	text, err := s.stt.Transcribe(ctx, pcm, stt.Config{
		SampleRate: sttSampleRate,
		Language:   s.language,
	})
	s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderError(ctx, "stt", "transcribe")
		return "", nil, err
	}
	if s.corrector == nil {
		return text, nil, nil
	}
	corrected, corrections := s.corrector.Correct(text)
	return corrected, corrections, nil
}

// errorResponse is the JSON body for non-streaming error replies.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
