package bot

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// The webhook speaks a plain REST channel contract: one user message in, a
// list of bot messages out.

type webhookRequest struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

type webhookMessage struct {
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
}

// Routes registers the chat webhook.
func (b *Bot) Routes(r chi.Router) {
	r.Post("/webhooks/rest/webhook", b.handleWebhook)
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Sender == "" || req.Message == "" {
		http.Error(w, "sender and message are required", http.StatusBadRequest)
		return
	}

	replies := b.HandleMessage(r.Context(), req.Sender, req.Message)
	out := make([]webhookMessage, 0, len(replies))
	for _, text := range replies {
		out = append(out, webhookMessage{RecipientID: req.Sender, Text: text})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		slog.Error("encode webhook response", "error", err)
	}
}
