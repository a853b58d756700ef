// Package api exposes the automation session over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lance13c/chatgate/internal/automation"
	"github.com/lance13c/chatgate/internal/database"
)

const (
	// maxBodyBytes caps the /chat request body
	maxBodyBytes = 1 << 20
	// defaultMaxRetriesLimit bounds max_retries when Options leaves it unset
	defaultMaxRetriesLimit = 10
)

// Submitter is the part of the automator the handlers need
type Submitter interface {
	Submit(ctx context.Context, text string, maxRetries int) (*automation.Reply, error)
	IsReady() automation.Readiness
}

// History records exchanges and serves them back
type History interface {
	SaveExchange(ctx context.Context, ex *database.Exchange) (int64, error)
	RecentExchanges(ctx context.Context, limit int) ([]database.Exchange, error)
	GetStatistics(ctx context.Context) (*database.Stats, error)
}

// Options configures a Handler
type Options struct {
	QueueTimeout      time.Duration // how long a request waits for the session, 0 waits for the request context
	DefaultMaxRetries int
	MaxRetriesLimit   int     // largest max_retries a request may ask for
	Message           string  // returned by GET /
	History           History // optional transcript
	Logger            *zap.SugaredLogger
}

// Handler serves the chat API. Only one prompt drives the browser at a time.
type Handler struct {
	sub  Submitter
	gate *semaphore.Weighted
	opts Options
	log  *zap.SugaredLogger
}

// ChatRequest is the POST /chat body
type ChatRequest struct {
	Prompt     string `json:"prompt"`
	MaxRetries *int   `json:"max_retries,omitempty"`
}

// ChatResponse is the POST /chat reply
type ChatResponse struct {
	Response     string  `json:"response"`
	Success      bool    `json:"success"`
	ErrorMessage *string `json:"error_message"`
}

// HealthResponse is the GET /health reply
type HealthResponse struct {
	Status string `json:"status"`
	automation.Readiness
}

// NewHandler creates a Handler around sub
func NewHandler(sub Submitter, opts Options) *Handler {
	if opts.DefaultMaxRetries < 1 {
		opts.DefaultMaxRetries = 3
	}
	if opts.MaxRetriesLimit < opts.DefaultMaxRetries {
		opts.MaxRetriesLimit = max(defaultMaxRetriesLimit, opts.DefaultMaxRetries)
	}
	if opts.Message == "" {
		opts.Message = "chatgate is running"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		sub:  sub,
		gate: semaphore.NewWeighted(1),
		opts: opts,
		log:  log,
	}
}

// Routes builds the router with the standard middleware stack
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/", h.Root)
	r.Post("/chat", h.Chat)
	r.Get("/health", h.Health)
	r.Get("/ws", h.ChatSocket)
	if h.opts.History != nil {
		r.Get("/history", h.ListHistory)
		r.Get("/history/stats", h.HistoryStats)
	}
	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Root handles GET /
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"message": h.opts.Message,
		"status":  "healthy",
	})
}

// Health handles GET /health. It never touches the browser.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	r := h.sub.IsReady()
	resp := HealthResponse{Status: "healthy", Readiness: r}
	status := http.StatusOK
	if !r.Ready() {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, resp)
}

// retries applies the default and bounds to a requested max_retries
func (h *Handler) retries(requested *int) (int, error) {
	if requested == nil {
		return h.opts.DefaultMaxRetries, nil
	}
	switch n := *requested; {
	case n < 1:
		return 0, errors.New("max_retries must be at least 1")
	case n > h.opts.MaxRetriesLimit:
		return 0, fmt.Errorf("max_retries must be at most %d", h.opts.MaxRetriesLimit)
	default:
		return n, nil
	}
}

// Chat handles POST /chat
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		Error(w, http.StatusBadRequest, "prompt is required")
		return
	}
	maxRetries, err := h.retries(req.MaxRetries)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	h.log.Infow("Received chat request", "request_id", reqID, "prompt", preview(req.Prompt, 50), "max_retries", maxRetries)

	status, resp := h.exchange(r.Context(), "http", req.Prompt, maxRetries)
	JSON(w, status, resp)
}

// exchange runs one prompt through the gate and the session, records it and
// maps the outcome onto a status code and response body
func (h *Handler) exchange(ctx context.Context, source, prompt string, maxRetries int) (int, ChatResponse) {
	if err := h.acquire(ctx); err != nil {
		h.log.Warnw("Chat request not admitted", "source", source, "error", err)
		return http.StatusServiceUnavailable, failure("session busy: " + err.Error())
	}
	defer h.gate.Release(1)

	start := time.Now()
	reply, err := h.sub.Submit(ctx, prompt, maxRetries)
	if err != nil {
		h.log.Errorw("Chat request failed", "source", source, "elapsed", time.Since(start), "error", err)
		h.record(ctx, &database.Exchange{
			Source:   source,
			Prompt:   prompt,
			Error:    err.Error(),
			Attempts: attempts(err),
			Duration: time.Since(start),
		})
		status := http.StatusServiceUnavailable
		if errors.Is(err, automation.ErrEmptyPrompt) {
			status = http.StatusBadRequest
		}
		return status, failure(err.Error())
	}

	h.log.Infow("Chat request succeeded", "source", source, "turn", reply.TurnID, "attempts", reply.Attempts, "elapsed", reply.Elapsed)
	h.record(ctx, &database.Exchange{
		TurnID:   reply.TurnID,
		Source:   source,
		Prompt:   prompt,
		Response: reply.Text,
		Success:  true,
		Attempts: reply.Attempts,
		Duration: reply.Elapsed,
	})
	return http.StatusOK, ChatResponse{Response: reply.Text, Success: true}
}

// record stores ex in the transcript; a failed write never fails the request
func (h *Handler) record(ctx context.Context, ex *database.Exchange) {
	if h.opts.History == nil {
		return
	}
	if _, err := h.opts.History.SaveExchange(context.WithoutCancel(ctx), ex); err != nil {
		h.log.Warnw("Failed to record exchange", "error", err)
	}
}

// ListHistory handles GET /history?limit=N
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	exchanges, err := h.opts.History.RecentExchanges(r.Context(), limit)
	if err != nil {
		h.log.Errorw("Failed to read history", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	JSON(w, http.StatusOK, exchanges)
}

// HistoryStats handles GET /history/stats
func (h *Handler) HistoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.opts.History.GetStatistics(r.Context())
	if err != nil {
		h.log.Errorw("Failed to read history stats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	JSON(w, http.StatusOK, stats)
}

// acquire waits for the session gate, bounded by the queue timeout
func (h *Handler) acquire(ctx context.Context) error {
	if h.opts.QueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.QueueTimeout)
		defer cancel()
	}
	return h.gate.Acquire(ctx, 1)
}

func failure(msg string) ChatResponse {
	return ChatResponse{Success: false, ErrorMessage: &msg}
}

func attempts(err error) int {
	var autoErr *automation.AutomationError
	if errors.As(err, &autoErr) {
		return autoErr.Attempts
	}
	return 0
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
