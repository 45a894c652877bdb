package api

import (
	"errors"

	"AgroPulse/internal/domain/models"
	xhttp "AgroPulse/pkg/http"
)

// toAppError maps domain failures onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, models.ErrInvalidObservation),
		errors.Is(err, models.ErrInsufficientData),
		errors.Is(err, models.ErrInsufficientMarkets):
		return xhttp.UnprocessableError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrModelUnavailable):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrHorizonTooLong),
		errors.Is(err, models.ErrInvalidHorizon):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrComputationTimeout):
		return xhttp.ServiceUnavailableError(err.Error()).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}

// badRequest carries request validation details.
type badRequest struct {
	details interface{}
}

func (b *badRequest) Error() string { return "bad request" }
