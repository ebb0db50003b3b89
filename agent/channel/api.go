package channel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Champsson/Kooler-Agent/agent/agents/orchestrator"
	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
)

const (
	maxChatBodySize = 64 << 10

	// apiKeyPrefix keeps chat sessions apart from phone-number keys used by
	// the Twilio routes.
	apiKeyPrefix = "api:"
)

type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
			return
		}
		message := strings.TrimSpace(req.Message)
		if message == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Message is required"})
			return
		}
		sessionID := strings.TrimSpace(req.SessionID)
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		reply, err := deps.Conversation.HandleMessage(r.Context(), apiKeyPrefix+sessionID, contractx.ChannelAPI, message)
		switch {
		case err == nil:
		case errors.Is(err, contractx.ErrProcessing):
			log.Warn().Err(err).Str("session_id", sessionID).Msg("using fallback reply")
			reply = orchestrator.FallbackReply(message)
		default:
			log.Error().Err(err).Str("session_id", sessionID).Msg("chat request failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to process message"})
			return
		}

		writeJSON(w, http.StatusOK, ChatResponse{Response: reply, SessionID: sessionID})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write json response")
	}
}
