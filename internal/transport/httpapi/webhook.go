package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/service/gateway"
)

// WebhookApplier применяет асинхронный результат провайдера.
type WebhookApplier interface {
	ApplyWebhook(ctx context.Context, providerID string, body []byte) (gateway.Outcome, error)
}

var _ WebhookApplier = (*gateway.Processor)(nil)

type webhookHandler struct {
	applier WebhookApplier
	logger  *log.Entry
}

type webhookResponse struct {
	Outcome gateway.Outcome `json:"outcome"`
}

// receive отвечает 200 и на повторный webhook: провайдер не должен ретраить дубль.
func (h *webhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(body) == 0 {
		writeError(w, fmt.Errorf("%w: empty webhook body", errBadRequest))
		return
	}

	outcome, err := h.applier.ApplyWebhook(r.Context(), providerID, body)
	if err != nil {
		h.logger.WithError(err).WithField("provider", providerID).Warn("webhook rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Outcome: outcome})
}
