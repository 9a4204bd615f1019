// Package httpapi exposes the voice session and the generative studio over
// HTTP/JSON.
//
// Routes:
//
//	POST   /v1/voice/start          start a live voice session
//	POST   /v1/voice/stop           stop the session (idempotent)
//	POST   /v1/voice/ack            acknowledge an error state
//	POST   /v1/voice/text           send typed text into the session
//	GET    /v1/voice                session status
//	GET    /v1/voice/transcript     transcript lines
//	DELETE /v1/voice/transcript     clear the transcript
//	POST   /v1/chat/{conversation}  send a chat turn
//	GET    /v1/chat/{conversation}  chat history
//	DELETE /v1/chat/{conversation}  drop a conversation
//	POST   /v1/images               generate an image
//	POST   /v1/videos               submit a video job
//	GET    /v1/videos               list video jobs
//	GET    /v1/videos/{id}          video job status
//	GET    /v1/videos/{id}/content  download a finished video
//
// plus /healthz, /readyz, and /metrics when configured.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrWong99/vertex/internal/health"
	"github.com/MrWong99/vertex/internal/observe"
	"github.com/MrWong99/vertex/internal/studio"
	"github.com/MrWong99/vertex/internal/voice"
	providerstudio "github.com/MrWong99/vertex/pkg/provider/studio"
)

// maxBodyBytes bounds request bodies. Chat turns may carry an image.
const maxBodyBytes = 20 << 20

// Voice is the subset of [voice.Controller] the API uses.
type Voice interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Acknowledge()
	SendText(text string) error
	Status() voice.Status
	Transcript() []voice.Line
	ClearTranscript()
}

// Chat is the subset of [studio.ChatService] the API uses.
type Chat interface {
	Send(ctx context.Context, conversationID, text string, image *providerstudio.InlineImage) (studio.ChatMessage, error)
	History(conversationID string) []studio.ChatMessage
	Reset(conversationID string)
}

// Images is the subset of [studio.ImageService] the API uses.
type Images interface {
	Generate(ctx context.Context, prompt, aspectRatio string) (*providerstudio.Image, error)
}

// Videos is the subset of [studio.VideoService] the API uses.
type Videos interface {
	Submit(ctx context.Context, prompt string) (studio.VideoJob, error)
	Get(id string) (studio.VideoJob, error)
	List() []studio.VideoJob
	Download(ctx context.Context, id string) ([]byte, string, error)
}

// Server routes API requests to the configured services. Services that are
// not configured answer 503.
type Server struct {
	voice   Voice
	chat    Chat
	images  Images
	videos  Videos
	health  *health.Handler
	metrics http.Handler
	obs     *observe.Metrics
}

// Option is a functional option for [New].
type Option func(*Server)

// WithVoice serves the /v1/voice routes from v.
func WithVoice(v Voice) Option { return func(s *Server) { s.voice = v } }

// WithChat serves the /v1/chat routes from c.
func WithChat(c Chat) Option { return func(s *Server) { s.chat = c } }

// WithImages serves /v1/images from i.
func WithImages(i Images) Option { return func(s *Server) { s.images = i } }

// WithVideos serves the /v1/videos routes from v.
func WithVideos(v Videos) Option { return func(s *Server) { s.videos = v } }

// WithHealth registers /healthz and /readyz.
func WithHealth(h *health.Handler) Option { return func(s *Server) { s.health = h } }

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithObserve wraps all routes in the request metrics and tracing
// middleware.
func WithObserve(m *observe.Metrics) Option { return func(s *Server) { s.obs = m } }

// New returns a Server.
func New(opts ...Option) *Server {
	s := &Server{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/voice/start", s.needVoice(s.voiceStart))
	mux.HandleFunc("POST /v1/voice/stop", s.needVoice(s.voiceStop))
	mux.HandleFunc("POST /v1/voice/ack", s.needVoice(s.voiceAck))
	mux.HandleFunc("POST /v1/voice/text", s.needVoice(s.voiceText))
	mux.HandleFunc("GET /v1/voice", s.needVoice(s.voiceStatus))
	mux.HandleFunc("GET /v1/voice/transcript", s.needVoice(s.transcript))
	mux.HandleFunc("DELETE /v1/voice/transcript", s.needVoice(s.clearTranscript))

	mux.HandleFunc("POST /v1/chat/{conversation}", s.chatSend)
	mux.HandleFunc("GET /v1/chat/{conversation}", s.chatHistory)
	mux.HandleFunc("DELETE /v1/chat/{conversation}", s.chatReset)

	mux.HandleFunc("POST /v1/images", s.imageGenerate)

	mux.HandleFunc("POST /v1/videos", s.videoSubmit)
	mux.HandleFunc("GET /v1/videos", s.videoList)
	mux.HandleFunc("GET /v1/videos/{id}", s.videoGet)
	mux.HandleFunc("GET /v1/videos/{id}/content", s.videoContent)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	if s.obs != nil {
		return observe.Middleware(s.obs)(mux)
	}
	return mux
}

// ── Voice ─────────────────────────────────────────────────────────────────────

func (s *Server) needVoice(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.voice == nil {
			writeError(w, http.StatusServiceUnavailable, "voice is not configured")
			return
		}
		h(w, r)
	}
}

func (s *Server) voiceStart(w http.ResponseWriter, r *http.Request) {
	err := s.voice.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.voice.Status())
	case errors.Is(err, voice.ErrNotIdle), errors.Is(err, voice.ErrStopped):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Status: ptr(s.voice.Status())})
	default:
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Status: ptr(s.voice.Status())})
	}
}

func (s *Server) voiceStop(w http.ResponseWriter, r *http.Request) {
	if err := s.voice.Stop(r.Context()); err != nil {
		observe.Logger(r.Context()).Warn("httpapi: stop voice", "err", err)
	}
	writeJSON(w, http.StatusOK, s.voice.Status())
}

func (s *Server) voiceAck(w http.ResponseWriter, _ *http.Request) {
	s.voice.Acknowledge()
	writeJSON(w, http.StatusOK, s.voice.Status())
}

func (s *Server) voiceStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.voice.Status())
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) voiceText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	err := s.voice.SendText(req.Text)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, voice.ErrNotActive):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

type transcriptResponse struct {
	Lines []voice.Line `json:"lines"`
}

func (s *Server) transcript(w http.ResponseWriter, _ *http.Request) {
	lines := s.voice.Transcript()
	if lines == nil {
		lines = []voice.Line{}
	}
	writeJSON(w, http.StatusOK, transcriptResponse{Lines: lines})
}

func (s *Server) clearTranscript(w http.ResponseWriter, _ *http.Request) {
	s.voice.ClearTranscript()
	w.WriteHeader(http.StatusNoContent)
}

// ── Chat ──────────────────────────────────────────────────────────────────────

type imagePayload struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type chatRequest struct {
	Text  string        `json:"text"`
	Image *imagePayload `json:"image,omitempty"`
}

type chatHistoryResponse struct {
	Messages []studio.ChatMessage `json:"messages"`
}

func (s *Server) chatSend(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	var img *providerstudio.InlineImage
	if req.Image != nil && len(req.Image.Data) > 0 {
		mime := req.Image.MIMEType
		if mime == "" {
			mime = http.DetectContentType(req.Image.Data)
		}
		img = &providerstudio.InlineImage{MIMEType: mime, Data: req.Image.Data}
	}
	reply, err := s.chat.Send(r.Context(), r.PathValue("conversation"), req.Text, img)
	if err != nil {
		writeStudioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	msgs := s.chat.History(r.PathValue("conversation"))
	if msgs == nil {
		msgs = []studio.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, chatHistoryResponse{Messages: msgs})
}

func (s *Server) chatReset(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	s.chat.Reset(r.PathValue("conversation"))
	w.WriteHeader(http.StatusNoContent)
}

// ── Images ────────────────────────────────────────────────────────────────────

type imageRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
}

func (s *Server) imageGenerate(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		writeError(w, http.StatusServiceUnavailable, "image generation is not configured")
		return
	}
	var req imageRequest
	if !decode(w, r, &req) {
		return
	}
	img, err := s.images.Generate(r.Context(), req.Prompt, req.AspectRatio)
	if err != nil {
		writeStudioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, imagePayload{MIMEType: img.MIMEType, Data: img.Data})
}

// ── Videos ────────────────────────────────────────────────────────────────────

type videoRequest struct {
	Prompt string `json:"prompt"`
}

type videoListResponse struct {
	Jobs []studio.VideoJob `json:"jobs"`
}

func (s *Server) needVideos(w http.ResponseWriter) bool {
	if s.videos == nil {
		writeError(w, http.StatusServiceUnavailable, "video generation is not configured")
		return false
	}
	return true
}

func (s *Server) videoSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.needVideos(w) {
		return
	}
	var req videoRequest
	if !decode(w, r, &req) {
		return
	}
	job, err := s.videos.Submit(r.Context(), req.Prompt)
	if err != nil {
		writeStudioError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/videos/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) videoList(w http.ResponseWriter, _ *http.Request) {
	if !s.needVideos(w) {
		return
	}
	writeJSON(w, http.StatusOK, videoListResponse{Jobs: s.videos.List()})
}

func (s *Server) videoGet(w http.ResponseWriter, r *http.Request) {
	if !s.needVideos(w) {
		return
	}
	job, err := s.videos.Get(r.PathValue("id"))
	if err != nil {
		writeStudioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) videoContent(w http.ResponseWriter, r *http.Request) {
	if !s.needVideos(w) {
		return
	}
	data, mime, err := s.videos.Download(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStudioError(w, err)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		observe.Logger(r.Context()).Debug("httpapi: write video", "err", err)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

type errorBody struct {
	Error  string        `json:"error"`
	Status *voice.Status `json:"voice,omitempty"`
}

func ptr[T any](v T) *T { return &v }

// decode reads a JSON body into v. On failure it writes a 400 and returns
// false. An empty body decodes to the zero value.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeStudioError maps studio errors to status codes.
func writeStudioError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, studio.ErrEmptyPrompt), errors.Is(err, studio.ErrInvalidAspectRatio):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, studio.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, studio.ErrJobNotReady):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("httpapi: encode response", "err", err)
	}
}
