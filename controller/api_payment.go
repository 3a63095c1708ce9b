package controller

import (
	"net/http"
	"strconv"

	"github.com/clientdesk/crm/model"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type paymentRequest struct {
	Amount        *decimal.Decimal `json:"amount"`
	PaymentMethod *string          `json:"payment_method"`
	PaymentDate   *apiDate         `json:"payment_date"`
	Reference     *string          `json:"reference"`
	Notes         *string          `json:"notes"`
}

func (r paymentRequest) input() model.PaymentInput {
	in := model.PaymentInput{}
	if r.Amount != nil {
		in.Amount = *r.Amount
	}
	if r.PaymentMethod != nil {
		in.PaymentMethod = model.PaymentMethod(*r.PaymentMethod)
	}
	if t := r.PaymentDate.timePtr(); t != nil {
		in.PaymentDate = *t
	}
	if r.Reference != nil {
		in.Reference = *r.Reference
	}
	if r.Notes != nil {
		in.Notes = *r.Notes
	}
	return in
}

func (r paymentRequest) patch() model.PaymentPatch {
	p := model.PaymentPatch{
		Amount:      r.Amount,
		PaymentDate: r.PaymentDate.timePtr(),
		Reference:   r.Reference,
		Notes:       r.Notes,
	}
	if r.PaymentMethod != nil {
		m := model.PaymentMethod(*r.PaymentMethod)
		p.PaymentMethod = &m
	}
	return p
}

// invoicePayment resolves :id and :pid and makes sure the payment belongs to
// the invoice.
func (ctrl *controller) invoicePayment(c echo.Context) (invoiceID uint, p *model.InvoicePayment, err error) {
	if invoiceID, err = paramID(c, "id"); err != nil {
		return 0, nil, err
	}
	pid, err := paramID(c, "pid")
	if err != nil {
		return 0, nil, err
	}
	if p, err = ctrl.model.GetPayment(c.Request().Context(), pid); err != nil {
		return 0, nil, err
	}
	if p.InvoiceID != invoiceID {
		return 0, nil, &model.NotFoundError{Entity: "payment", ID: pid}
	}
	return invoiceID, p, nil
}

func (ctrl *controller) apiPaymentList(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))
	res, err := ctrl.model.ListPayments(c.Request().Context(), id, page, perPage)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, toAPIPage(res, toAPIPayment))
}

func (ctrl *controller) apiPaymentCreate(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return ErrInvalid(err, "invalid payload")
	}
	p, err := ctrl.model.AddPayment(c.Request().Context(), id, req.input(), apiUserID(c))
	if err != nil {
		return err
	}
	loggerFrom(c, ctrl.logger).Info("payment recorded",
		"invoice_id", id, "payment_id", p.ID, "amount", model.FormatMoney(p.Amount))
	return respond(c, http.StatusCreated, toAPIPayment(p))
}

func (ctrl *controller) apiPaymentUpdate(c echo.Context) error {
	_, p, err := ctrl.invoicePayment(c)
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return ErrInvalid(err, "invalid payload")
	}
	p, err = ctrl.model.UpdatePayment(c.Request().Context(), p.ID, req.patch())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, toAPIPayment(p))
}

func (ctrl *controller) apiPaymentDelete(c echo.Context) error {
	id, p, err := ctrl.invoicePayment(c)
	if err != nil {
		return err
	}
	if err := ctrl.model.DeletePayment(c.Request().Context(), p.ID); err != nil {
		return err
	}
	loggerFrom(c, ctrl.logger).Info("payment deleted", "invoice_id", id, "payment_id", p.ID)
	return c.NoContent(http.StatusNoContent)
}
