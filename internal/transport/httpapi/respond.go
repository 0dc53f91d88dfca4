package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/provider"
	"github.com/vladislavdragonenkov/paycore/internal/service/gateway"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorResponse{Error: err.Error()})
}

// statusOf сопоставляет доменные ошибки с HTTP-статусами.
func statusOf(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest), errors.Is(err, provider.ErrMalformedWebhook):
		return http.StatusBadRequest
	case domain.IsNotFound(err), errors.Is(err, domain.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrWebhookUnsupported):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAggregateAlreadyExists),
		errors.Is(err, domain.ErrNegativeStock),
		errors.Is(err, domain.ErrProcessAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentProviderRequired),
		errors.Is(err, domain.ErrMIDRequired),
		errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, domain.ErrPaymentAmountInvalid),
		errors.Is(err, domain.ErrOrderLinesRequired),
		errors.Is(err, domain.ErrOrderLineQtyInvalid),
		errors.Is(err, domain.ErrAggregateIDRequired),
		errors.Is(err, domain.ErrAggregateKindInvalid),
		errors.Is(err, domain.ErrLedgerDeltaZero):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
