package contact

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kenshi-labs/unchained-dashboard/domain"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type MessageRelay interface {
	Relay(ctx context.Context, message Message) error
}

type Handler struct {
	relay  MessageRelay
	logger *zap.SugaredLogger
}

func NewHandler(relay MessageRelay, logger *zap.SugaredLogger) *Handler {
	return &Handler{relay: relay, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var message Message
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&message)
	if err != nil {
		http.Error(w, ReasonMissingArguments, http.StatusUnauthorized)
		return
	}

	err = h.relay.Relay(r.Context(), message)
	var validationErr *domain.ValidationError
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	case errors.As(err, &validationErr):
		http.Error(w, validationErr.Reason, http.StatusUnauthorized)
	case errors.Is(err, ErrTooManyRequests):
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
	default:
		h.logger.Errorw("Error relaying contact message.", "error", err)
		http.Error(w, "Error sending message", http.StatusBadGateway)
	}
}
