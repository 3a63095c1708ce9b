package controller

import (
	"errors"
	"net/http"

	"github.com/clientdesk/crm/model"
)

// fromModelError maps the store's error taxonomy onto HTTP responses.
func fromModelError(err error) *appError {
	var (
		ve *model.ValidationError
		nf *model.NotFoundError
		oe *model.OverpaymentError
	)
	switch {
	case errors.As(err, &ve):
		return &appError{
			Code:   "validation_error",
			Status: http.StatusBadRequest,
			Err:    err,
			Public: "The input is invalid. Please check the listed fields.",
			fields: ve.Fields,
		}
	case errors.As(err, &nf):
		return &appError{Code: "not_found", Status: http.StatusNotFound, Err: err, Public: nf.Error()}
	case errors.As(err, &oe):
		return &appError{
			Code:      "overpayment",
			Status:    http.StatusUnprocessableEntity,
			Err:       err,
			Public:    oe.Error(),
			remaining: model.FormatMoney(oe.Remaining),
		}
	case errors.Is(err, model.ErrConflict):
		return &appError{Code: "conflict", Status: http.StatusConflict, Err: err, retryable: true}
	case errors.Is(err, model.ErrPersistence):
		return &appError{Code: "db_error", Status: http.StatusInternalServerError, Err: err}
	}
	return ErrInternal(err)
}
