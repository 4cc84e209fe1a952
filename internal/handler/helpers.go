package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/serverr"
)

type ErrorResponse struct {
	Error  string          `json:"error"`
	Result *serverr.Result `json:"result,omitempty"`
}

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

// respondWithError sends a JSON error body
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

// respondWithJSON sends a JSON body
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("handler: failed to write JSON response")
	}
}

// respondWithServiceError maps a service failure to a status code. Classified
// backend failures carry their structured result so the UI can highlight rows.
func respondWithServiceError(w http.ResponseWriter, err error) {
	status := mapErrorToStatusCode(err)

	var ae *order.ActionError
	if errors.As(err, &ae) {
		res := ae.Result
		respondWithJSON(w, status, ErrorResponse{Error: ae.Error(), Result: &res})
		return
	}
	if status == http.StatusInternalServerError {
		respondWithError(w, status, "Internal error")
		return
	}
	respondWithError(w, status, err.Error())
}

func mapErrorToStatusCode(err error) int {
	var ae *order.ActionError
	switch {
	case errors.As(err, &ae):
		if ae.Result.Structured() {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	case errors.Is(err, order.ErrTabNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrNotPermitted),
		errors.Is(err, order.ErrIdentityUnresolved):
		return http.StatusForbidden
	case errors.Is(err, order.ErrActionInFlight),
		errors.Is(err, order.ErrInvalidStatusTransition),
		errors.Is(err, order.ErrOrderLocked),
		errors.Is(err, order.ErrNotSaved),
		errors.Is(err, order.ErrUnsavedChanges),
		errors.Is(err, order.ErrNotConfirmed),
		errors.Is(err, order.ErrNoInvoice),
		errors.Is(err, order.ErrNothingOutstanding),
		errors.Is(err, order.ErrConfirmationRejected),
		errors.Is(err, order.ErrFullyReturned),
		errors.Is(err, order.ErrReturnNotOpened):
		return http.StatusConflict
	case errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInvalidItem),
		errors.Is(err, order.ErrItemIndex),
		errors.Is(err, order.ErrInvalidDiscount),
		errors.Is(err, order.ErrInvalidPayment),
		errors.Is(err, order.ErrCustomerNotFound),
		errors.Is(err, order.ErrCustomerUnresolved),
		errors.Is(err, order.ErrAllocationMismatch),
		errors.Is(err, order.ErrOverAllocation),
		errors.Is(err, order.ErrNegativeAllocation),
		errors.Is(err, order.ErrUnknownWarehouse),
		errors.Is(err, order.ErrInsufficientAllocation),
		errors.Is(err, order.ErrUnknownReturnLine),
		errors.Is(err, order.ErrNothingReturnable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrRefreshFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			details[fe.Field()] = "is required"
		case "numeric":
			details[fe.Field()] = "must be a number"
		case "max":
			details[fe.Field()] = "must be at most " + fe.Param() + " characters"
		case "gte", "lte":
			details[fe.Field()] = "is out of range"
		default:
			details[fe.Field()] = "failed on " + fe.Tag()
		}
	}
	return details
}
