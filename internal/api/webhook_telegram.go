package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/finik/vpn-subscription-service/internal/metrics"
)

// TelegramSecretHeader carries the secret token registered with setWebhook.
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateHandler reacts to chat updates.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

// TelegramWebhookHandler receives bot updates pushed by Telegram.
type TelegramWebhookHandler struct {
	updates UpdateHandler
	secret  string
	logger  *slog.Logger
	*dispatcher
}

// NewTelegramWebhookHandler creates the handler. An empty secret disables the check.
func NewTelegramWebhookHandler(updates UpdateHandler, secret string, logger *slog.Logger, timeout time.Duration) *TelegramWebhookHandler {
	return &TelegramWebhookHandler{
		updates:    updates,
		secret:     secret,
		logger:     logger,
		dispatcher: newDispatcher(timeout, logger),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *TelegramWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(TelegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.logger.Warn("rejected telegram webhook with bad secret token", "remote_addr", r.RemoteAddr)
			h.respond(w, http.StatusUnauthorized)
			return
		}
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&update); err != nil {
		h.logger.Error("failed to decode telegram update", "error", err)
		h.respond(w, http.StatusBadRequest)
		return
	}

	h.dispatch(r.Context(), "telegram.update", func(ctx context.Context) error {
		return h.updates.HandleUpdate(ctx, update)
	})
	h.respond(w, http.StatusOK)
}

func (h *TelegramWebhookHandler) respond(w http.ResponseWriter, status int) {
	metrics.WebhookRequestsTotal.WithLabelValues("telegram", strconv.Itoa(status)).Inc()
	w.WriteHeader(status)
}
