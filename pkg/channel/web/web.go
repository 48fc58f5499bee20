// Package web exposes bots over a small HTTP JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"botserver/pkg/bots"
	"botserver/pkg/bus"
	"botserver/pkg/channel"
	"botserver/pkg/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const channelName = "web"
const defaultHost = "0.0.0.0"
const maxRequestBytes = 1 << 20

// Adapter serves the message API.
type Adapter struct {
	cfg   config.WebConfig
	log   *slog.Logger
	newID func() string
}

type attachmentPayload struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	FileName  string `json:"file_name,omitempty"`
}

type messageRequest struct {
	Text        string              `json:"text"`
	SenderID    string              `json:"sender_id,omitempty"`
	Attachments []attachmentPayload `json:"attachments,omitempty"`
}

type suggestionPayload struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

type messageResponse struct {
	Messages    []string            `json:"messages"`
	Suggestions []suggestionPayload `json:"suggestions"`
}

type sessionResponse struct {
	Session string `json:"session"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewAdapter(cfg config.WebConfig, log *slog.Logger) (*Adapter, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("channels.web.port %d is out of range", cfg.Port)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:   cfg,
		log:   log.With("component", "channel.web"),
		newID: uuid.NewString,
	}, nil
}

func (a *Adapter) Name() string {
	return channelName
}

// Run serves the API until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	host := strings.TrimSpace(a.cfg.Host)
	if host == "" {
		host = defaultHost
	}
	addr := net.JoinHostPort(host, strconv.Itoa(a.cfg.Port))

	server := &http.Server{
		Addr:              addr,
		Handler:           a.Router(handler),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	a.log.Info("Web channel started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve web channel: %w", err)
	}
	return nil
}

// Router builds the HTTP handler for the API.
func (a *Adapter) Router(handler channel.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	a.RegisterRoutes(r, handler)
	return r
}

// RegisterRoutes mounts the API under /api.
func (a *Adapter) RegisterRoutes(r chi.Router, handler channel.Handler) {
	r.Route("/api/bots/{bot}/sessions", func(r chi.Router) {
		r.Post("/", a.createSession)
		r.Post("/{session}/messages", a.postMessage(handler))
	})
}

func (a *Adapter) createSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, sessionResponse{Session: a.newID()})
}

func (a *Adapter) postMessage(handler channel.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot := chi.URLParam(r, "bot")
		session := strings.TrimSpace(chi.URLParam(r, "session"))
		if !bots.ValidName(bot) {
			writeError(w, http.StatusBadRequest, "invalid bot name")
			return
		}
		if session == "" {
			writeError(w, http.StatusBadRequest, "session is required")
			return
		}

		var req messageRequest
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
			writeError(w, http.StatusBadRequest, "text or attachments are required")
			return
		}

		inbound := toInbound(bot, session, req)
		inbound.Metadata = map[string]string{"request_id": middleware.GetReqID(r.Context())}
		a.log.Info("Received message", "bot", bot, "session_key", inbound.SessionKey, "attachments", len(inbound.Attachments))

		outbound, err := handler(r.Context(), inbound)
		if err != nil {
			a.log.Error("Failed to process inbound message", "bot", bot, "session_key", inbound.SessionKey, "error", err)
			writeError(w, statusForError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toResponse(outbound))
	}
}

func toInbound(bot, session string, req messageRequest) bus.InboundMessage {
	senderID := strings.TrimSpace(req.SenderID)
	if senderID == "" {
		senderID = session
	}

	attachments := make([]bus.Attachment, 0, len(req.Attachments))
	for _, item := range req.Attachments {
		if strings.TrimSpace(item.URL) == "" {
			continue
		}
		attachments = append(attachments, bus.Attachment{
			URL:       strings.TrimSpace(item.URL),
			MediaType: strings.TrimSpace(item.MediaType),
			FileName:  item.FileName,
		})
	}

	return bus.InboundMessage{
		Channel:     channelName,
		Bot:         bot,
		SenderID:    senderID,
		ChatID:      session,
		SessionKey:  channelName + ":" + session,
		Content:     strings.TrimSpace(req.Text),
		Attachments: attachments,
	}
}

func toResponse(outbound bus.OutboundMessage) messageResponse {
	resp := messageResponse{
		Messages:    outbound.Messages,
		Suggestions: make([]suggestionPayload, 0, len(outbound.Suggestions)),
	}
	if resp.Messages == nil {
		resp.Messages = []string{}
		if outbound.Content != "" {
			resp.Messages = append(resp.Messages, outbound.Content)
		}
	}
	for _, s := range outbound.Suggestions {
		resp.Suggestions = append(resp.Suggestions, suggestionPayload{Text: s.Text, Value: s.Value})
	}
	return resp
}

func statusForError(err error) int {
	switch bots.CategoryFromError(err) {
	case bots.ErrorBotNotFound, bots.ErrorDialogNotFound:
		return http.StatusNotFound
	case bots.ErrorInvalidName:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
