package controller

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clientdesk/crm/model"
	"github.com/labstack/echo/v4"
)

type APIFieldError struct {
	Field   string `json:"field" xml:"field,attr"`
	Message string `json:"message" xml:",chardata"`
}

type APIError struct {
	XMLName   struct{}        `json:"-" xml:"error"`
	Code      string          `json:"code" xml:"code"`
	Message   string          `json:"message" xml:"message"`
	RequestID string          `json:"request_id,omitempty" xml:"request_id,omitempty"`
	Fields    []APIFieldError `json:"fields,omitempty" xml:"fields>field,omitempty"`
	Remaining string          `json:"remaining_amount,omitempty" xml:"remaining_amount,omitempty"`
	Retryable bool            `json:"retryable,omitempty" xml:"retryable,omitempty"`
}

func apiError(code, msg string) *APIError { return &APIError{Code: code, Message: msg} }

func (e *appError) payload(requestID string) *APIError {
	out := &APIError{
		Code:      e.Code,
		Message:   userMessage(e),
		RequestID: requestID,
		Remaining: e.remaining,
		Retryable: e.retryable,
	}
	for _, f := range e.fields {
		out.Fields = append(out.Fields, APIFieldError{Field: f.Field, Message: f.Message})
	}
	return out
}

func wantsXML(c echo.Context) bool {
	if c.QueryParam("format") == "xml" {
		return true
	}
	accept := c.Request().Header.Get(echo.HeaderAccept)
	return strings.Contains(accept, "application/xml") || strings.Contains(accept, "text/xml")
}

func respond(c echo.Context, status int, v any) error {
	if wantsXML(c) {
		return c.XML(status, v)
	}
	return c.JSON(status, v)
}

// apiDate is a calendar date in requests. It accepts "2006-01-02" as well as
// RFC 3339 timestamps.
type apiDate time.Time

func (d *apiDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	t, err := parseDate(s)
	if err != nil {
		return err
	}
	*d = apiDate(t)
	return nil
}

func (d *apiDate) timePtr() *time.Time {
	if d == nil {
		return nil
	}
	t := time.Time(*d)
	return &t
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, use YYYY-MM-DD", s)
	}
	return t, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func paramID(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalid(err, "invalid "+name)
	}
	return uint(id), nil
}

// ---- DTOs ----

type APITag struct {
	ID    uint   `json:"id" xml:"id,attr"`
	Name  string `json:"name" xml:"name"`
	Color string `json:"color,omitempty" xml:"color,omitempty"`
}

type APIInvoiceItem struct {
	ID          uint   `json:"id" xml:"id,attr"`
	Position    int    `json:"position" xml:"position"`
	ProductID   *uint  `json:"product_id,omitempty" xml:"product_id,omitempty"`
	Description string `json:"description" xml:"description"`
	Quantity    string `json:"quantity" xml:"quantity"`
	UnitPrice   string `json:"unit_price" xml:"unit_price"`
	Discount    string `json:"discount" xml:"discount"`
	Total       string `json:"total" xml:"total"`
}

type APIPayment struct {
	ID                 uint      `json:"id" xml:"id,attr"`
	InvoiceID          uint      `json:"invoice_id" xml:"invoice_id"`
	UserID             uint      `json:"user_id" xml:"user_id"`
	Amount             string    `json:"amount" xml:"amount"`
	PaymentMethod      string    `json:"payment_method" xml:"payment_method"`
	PaymentMethodLabel string    `json:"payment_method_label" xml:"payment_method_label"`
	PaymentDate        string    `json:"payment_date" xml:"payment_date"`
	Reference          string    `json:"reference,omitempty" xml:"reference,omitempty"`
	Notes              string    `json:"notes,omitempty" xml:"notes,omitempty"`
	CreatedAt          time.Time `json:"created_at" xml:"created_at"`
}

type APIInvoice struct {
	XMLName         struct{}         `json:"-" xml:"invoice"`
	ID              uint             `json:"id" xml:"id,attr"`
	Number          string           `json:"invoice_number" xml:"invoice_number"`
	Status          string           `json:"status" xml:"status"`
	StatusLabel     string           `json:"status_label" xml:"status_label"`
	ClientID        uint             `json:"client_id" xml:"client_id"`
	ClientName      string           `json:"client_name,omitempty" xml:"client_name,omitempty"`
	CityID          *uint            `json:"city_id,omitempty" xml:"city_id,omitempty"`
	CityName        string           `json:"city_name,omitempty" xml:"city_name,omitempty"`
	UserID          uint             `json:"user_id" xml:"user_id"`
	Subtotal        string           `json:"subtotal" xml:"subtotal"`
	TaxRate         string           `json:"tax_rate" xml:"tax_rate"`
	TaxAmount       string           `json:"tax_amount" xml:"tax_amount"`
	Discount        string           `json:"discount" xml:"discount"`
	Total           string           `json:"total" xml:"total"`
	PaidAmount      string           `json:"paid_amount" xml:"paid_amount"`
	RemainingAmount string           `json:"remaining_amount" xml:"remaining_amount"`
	DueDate         string           `json:"due_date,omitempty" xml:"due_date,omitempty"`
	PaidAt          *time.Time       `json:"paid_at" xml:"paid_at,omitempty"`
	Notes           string           `json:"notes,omitempty" xml:"notes,omitempty"`
	Tags            []APITag         `json:"tags" xml:"tags>tag"`
	Items           []APIInvoiceItem `json:"items,omitempty" xml:"items>item,omitempty"`
	Payments        []APIPayment     `json:"payments,omitempty" xml:"payments>payment,omitempty"`
	CreatedAt       time.Time        `json:"created_at" xml:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" xml:"updated_at"`
	DeletedAt       *time.Time       `json:"deleted_at,omitempty" xml:"deleted_at,omitempty"`
}

type APIPage[T any] struct {
	XMLName  struct{} `json:"-" xml:"page"`
	Items    []T      `json:"items" xml:"item"`
	Total    int64    `json:"total" xml:"total"`
	Page     int      `json:"page" xml:"page_number"`
	PerPage  int      `json:"per_page" xml:"per_page"`
	LastPage int      `json:"last_page" xml:"last_page"`
}

func toAPIPage[T, U any](p *model.Page[T], conv func(*T) U) APIPage[U] {
	out := APIPage[U]{
		Items:    make([]U, len(p.Items)),
		Total:    p.Total,
		Page:     p.Page,
		PerPage:  p.PageSize,
		LastPage: p.LastPage(),
	}
	for i := range p.Items {
		out.Items[i] = conv(&p.Items[i])
	}
	return out
}

func toAPITag(t *model.Tag) APITag {
	return APITag{ID: t.ID, Name: t.Name, Color: t.Color}
}

func toAPIPayment(p *model.InvoicePayment) APIPayment {
	return APIPayment{
		ID:                 p.ID,
		InvoiceID:          p.InvoiceID,
		UserID:             p.UserID,
		Amount:             model.FormatMoney(p.Amount),
		PaymentMethod:      string(p.PaymentMethod),
		PaymentMethodLabel: p.PaymentMethod.Label(),
		PaymentDate:        p.PaymentDate.Format("2006-01-02"),
		Reference:          p.Reference,
		Notes:              p.Notes,
		CreatedAt:          p.CreatedAt,
	}
}

// toAPIInvoice maps a model.Invoice to the DTO used by the JSON/XML API and
// the exports. Items and payments are included when loaded.
func toAPIInvoice(inv *model.Invoice) APIInvoice {
	out := APIInvoice{
		ID:              inv.ID,
		Number:          inv.InvoiceNumber,
		Status:          string(inv.Status),
		StatusLabel:     inv.Status.Label(),
		ClientID:        inv.ClientID,
		ClientName:      inv.Client.Name,
		CityID:          inv.CityID,
		UserID:          inv.UserID,
		Subtotal:        model.FormatMoney(inv.Subtotal),
		TaxRate:         model.FormatMoney(inv.TaxRate),
		TaxAmount:       model.FormatMoney(inv.TaxAmount),
		Discount:        model.FormatMoney(inv.Discount),
		Total:           model.FormatMoney(inv.Total),
		PaidAmount:      model.FormatMoney(inv.PaidAmount),
		RemainingAmount: model.FormatMoney(inv.RemainingAmount),
		DueDate:         formatDate(inv.DueDate),
		PaidAt:          inv.PaidAt,
		Notes:           inv.Notes,
		Tags:            make([]APITag, len(inv.Tags)),
		CreatedAt:       inv.CreatedAt,
		UpdatedAt:       inv.UpdatedAt,
	}
	if inv.City != nil {
		out.CityName = inv.City.Name
	}
	if d, ok := inv.Lifecycle().(model.Deleted); ok {
		at := d.At
		out.DeletedAt = &at
	}
	for i := range inv.Tags {
		out.Tags[i] = toAPITag(&inv.Tags[i])
	}
	for _, it := range inv.Items {
		out.Items = append(out.Items, APIInvoiceItem{
			ID:          it.ID,
			Position:    it.Position,
			ProductID:   it.ProductID,
			Description: it.Description,
			Quantity:    model.FormatMoney(it.Quantity),
			UnitPrice:   model.FormatMoney(it.UnitPrice),
			Discount:    model.FormatMoney(it.Discount),
			Total:       model.FormatMoney(it.Total),
		})
	}
	for i := range inv.Payments {
		out.Payments = append(out.Payments, toAPIPayment(&inv.Payments[i]))
	}
	return out
}
