package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
)

// errorBody — тело любого ответа с ошибкой.
type errorBody struct {
	Error     string   `json:"error"`
	Details   []string `json:"details,omitempty"`
	ProductID int      `json:"productId,omitempty"`
	Available *int     `json:"available,omitempty"`
	Requested *int     `json:"requested,omitempty"`
}

// requestError — некорректный запрос до обращения к сервисам: JSON, path-параметр, заголовок.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// statusFor сопоставляет ошибку HTTP-коду. Порядок важен: ErrNotAConsumer и
// ErrNotASeller оборачивают NotFound и должны проверяться раньше.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrEmptyRequest),
		errors.Is(err, domain.ErrUnknownUserType):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAConsumer), errors.Is(err, domain.ErrNotASeller):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrDuplicateEmail),
		errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorPayload строит код и тело ответа. Внутренние ошибки не раскрываются клиенту.
func errorPayload(err error) (int, errorBody) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		return status, errorBody{Error: "internal error"}
	}

	body := errorBody{Error: err.Error()}
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		for _, e := range validation.Errs {
			body.Details = append(body.Details, e.Error())
		}
	}
	if stock, ok := domain.AsInsufficientStock(err); ok {
		body.ProductID = stock.ProductID
		body.Available = &stock.Available
		body.Requested = &stock.Requested
	}
	return status, body
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorPayload(err)
	if status == http.StatusInternalServerError {
		a.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}
	writeJSON(w, status, body)
}
