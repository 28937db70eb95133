package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	statex "github.com/fitlabs/respond-agent/agent/state"
)

type Config struct {
	Addr           string        `split_words:"true" default:":8080"`
	ProcessTimeout time.Duration `envconfig:"PROCESS_TIMEOUT" split_words:"true" default:"120s"`
}

// Runner is the pipeline entry point the server drives.
type Runner interface {
	Run(ctx context.Context, msg contractx.InboundMessage) (*statex.ConversationState, error)
}

// StateReader exposes persisted snapshots and history for inspection.
type StateReader interface {
	LoadSnapshot(ctx context.Context, chatID string) (*statex.ConversationState, error)
	History(ctx context.Context, chatID string) ([]statex.Turn, error)
}

type Server struct {
	runner         Runner
	states         StateReader
	processTimeout time.Duration
	router         chi.Router
}

func New(runner Runner, states StateReader, cfg Config) (*Server, error) {
	if runner == nil {
		return nil, errors.New("pipeline runner is required")
	}
	if states == nil {
		return nil, errors.New("state reader is required")
	}

	timeout := cfg.ProcessTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	s := &Server{
		runner:         runner,
		states:         states,
		processTimeout: timeout,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/webhook/wazzup", s.handleWazzupWebhook)
	r.Post("/webhook/chatflow", s.handleChatflowWebhook)
	r.Post("/process", s.handleProcess)
	r.Get("/graph/state/{chatID}", s.handleGetState)
	r.Get("/graph/history/{chatID}", s.handleGetHistory)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// wazzupWebhook is the channel provider's callback shape. Only inbound
// messages from the user are processed; echoes of our own sends are skipped.
type wazzupWebhook struct {
	Messages []struct {
		ChatID    string `json:"chatId"`
		ChannelID string `json:"channelId"`
		ChatType  string `json:"chatType"`
		Text      string `json:"text"`
		Status    string `json:"status"`
		IsEcho    bool   `json:"isEcho"`
		Contact   struct {
			Name string `json:"name"`
		} `json:"contact"`
	} `json:"messages"`
}

func (s *Server) handleWazzupWebhook(w http.ResponseWriter, r *http.Request) {
	var payload wazzupWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed webhook payload")
		return
	}

	accepted := 0
	for _, m := range payload.Messages {
		if m.Status != "inbound" || m.IsEcho {
			continue
		}
		if strings.TrimSpace(m.ChatID) == "" || strings.TrimSpace(m.Text) == "" {
			continue
		}
		accepted++
		s.runAsync(contractx.InboundMessage{
			ChatID:    m.ChatID,
			SenderID:  m.ChatID,
			Text:      m.Text,
			Source:    m.ChatType,
			ChannelID: m.ChannelID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]int{"accepted": accepted})
}

type chatflowWebhook struct {
	ChatID    string `json:"chatId"`
	ChannelID string `json:"channelId"`
	ChatType  string `json:"chatType"`
	Msg       string `json:"msg"`
}

func (s *Server) handleChatflowWebhook(w http.ResponseWriter, r *http.Request) {
	var payload chatflowWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed webhook payload")
		return
	}
	if strings.TrimSpace(payload.ChatID) == "" {
		writeError(w, http.StatusBadRequest, "chatId is required")
		return
	}

	s.runAsync(contractx.InboundMessage{
		ChatID:    payload.ChatID,
		SenderID:  payload.ChatID,
		Text:      payload.Msg,
		Source:    payload.ChatType,
		ChannelID: payload.ChannelID,
	})
	writeJSON(w, http.StatusOK, map[string]int{"accepted": 1})
}

// runAsync detaches the pipeline run from the webhook request so the channel
// provider gets its ack immediately.
func (s *Server) runAsync(msg contractx.InboundMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.processTimeout)
		defer cancel()

		if _, err := s.runner.Run(ctx, msg); err != nil {
			log.Error().Str("chat_id", msg.ChatID).Err(err).Msg("webhook pipeline run failed")
		}
	}()
}

// ProcessResponse is the synchronous run result for direct invocation.
type ProcessResponse struct {
	ResponseText     string `json:"response_text,omitempty"`
	EscalationNeeded bool   `json:"escalation_needed"`
	EscalationReason string `json:"escalation_reason,omitempty"`
	Error            string `json:"error,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var msg contractx.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.processTimeout)
	defer cancel()

	st, err := s.runner.Run(ctx, msg)
	if err != nil {
		if errors.Is(err, contractx.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Str("chat_id", msg.ChatID).Err(err).Msg("pipeline run failed")
		writeError(w, http.StatusInternalServerError, "pipeline run failed")
		return
	}

	writeJSON(w, http.StatusOK, ProcessResponse{
		ResponseText:     st.HumanizedResponse,
		EscalationNeeded: st.EscalationNeeded,
		EscalationReason: st.EscalationReason,
		Error:            st.Error,
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	st, err := s.states.LoadSnapshot(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, statex.ErrStateNotFound) {
			writeError(w, http.StatusNotFound, "no state for chat")
			return
		}
		log.Error().Str("chat_id", chatID).Err(err).Msg("load snapshot failed")
		writeError(w, http.StatusInternalServerError, "load state failed")
		return
	}

	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	turns, err := s.states.History(r.Context(), chatID)
	if err != nil {
		log.Error().Str("chat_id", chatID).Err(err).Msg("load history failed")
		writeError(w, http.StatusInternalServerError, "load history failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chat_id": chatID,
		"history": turns,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
