package controller

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clientdesk/crm/model"
	"github.com/clientdesk/crm/notify"
	"github.com/go-playground/form/v4"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type invoiceListQuery struct {
	Status      string    `form:"status"`
	ClientID    uint      `form:"client_id"`
	CityID      uint      `form:"city_id"`
	UserID      uint      `form:"user_id"`
	DateFrom    time.Time `form:"date_from"`
	DateTo      time.Time `form:"date_to"`
	DueDateFrom time.Time `form:"due_date_from"`
	DueDateTo   time.Time `form:"due_date_to"`
	Search      string    `form:"search"`
	SortBy      string    `form:"sort_by"`
	SortDir     string    `form:"sort_dir"`
	Trashed     string    `form:"trashed"`
	Page        int       `form:"page"`
	PerPage     int       `form:"per_page"`
}

func newQueryDecoder() *form.Decoder {
	dec := form.NewDecoder()
	dec.RegisterCustomTypeFunc(func(vals []string) (interface{}, error) {
		if strings.TrimSpace(vals[0]) == "" {
			return time.Time{}, nil
		}
		return parseDate(vals[0])
	}, time.Time{})
	return dec
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// bindInvoiceFilter reads the list filters from the query string. format and
// the paging keys are shared with the export.
func bindInvoiceFilter(c echo.Context) (model.InvoiceFilter, error) {
	var q invoiceListQuery
	if err := newQueryDecoder().Decode(&q, c.QueryParams()); err != nil {
		return model.InvoiceFilter{}, ErrInvalid(err, "invalid query parameters")
	}
	switch q.Trashed {
	case "", "with", "only":
	default:
		return model.InvoiceFilter{}, ErrInvalid(nil, `trashed must be "with" or "only"`)
	}
	st := model.InvoiceStatus(q.Status)
	if st != "" && !st.Valid() {
		return model.InvoiceFilter{}, ErrInvalid(nil, "unknown status "+q.Status)
	}
	return model.InvoiceFilter{
		Status:      st,
		ClientID:    q.ClientID,
		CityID:      q.CityID,
		UserID:      q.UserID,
		DateFrom:    timeOrNil(q.DateFrom),
		DateTo:      timeOrNil(q.DateTo),
		DueDateFrom: timeOrNil(q.DueDateFrom),
		DueDateTo:   timeOrNil(q.DueDateTo),
		Search:      q.Search,
		SortBy:      q.SortBy,
		SortDir:     q.SortDir,
		Trashed:     q.Trashed,
		Page:        q.Page,
		PerPage:     q.PerPage,
	}, nil
}

func (ctrl *controller) apiInvoiceList(c echo.Context) error {
	f, err := bindInvoiceFilter(c)
	if err != nil {
		return err
	}
	page, err := ctrl.model.ListInvoices(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, toAPIPage(page, toAPIInvoice))
}

func invoiceETag(inv *model.Invoice) string {
	return `W/"inv-` + strconv.FormatUint(uint64(inv.ID), 10) +
		`-` + strconv.FormatInt(inv.UpdatedAt.Unix(), 10) + `"`
}

func (ctrl *controller) apiInvoiceGet(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	var inv *model.Invoice
	if c.QueryParam("trashed") == "with" {
		inv, err = ctrl.model.LoadInvoiceWithDeleted(ctx, id)
	} else {
		inv, err = ctrl.model.LoadInvoice(ctx, id)
	}
	if err != nil {
		return err
	}
	etag := invoiceETag(inv)
	c.Response().Header().Set("ETag", etag)
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}
	return respond(c, http.StatusOK, toAPIInvoice(inv))
}

// invoiceRequest is the body of create and update requests.
type invoiceRequest struct {
	ClientID *uint             `json:"client_id"`
	CityID   *uint             `json:"city_id"`
	Items    []model.ItemInput `json:"items"`
	TaxRate  *decimal.Decimal  `json:"tax_rate"`
	Discount *decimal.Decimal  `json:"discount"`
	DueDate  *apiDate          `json:"due_date"`
	Notes    *string           `json:"notes"`
	Status   string            `json:"status"`
	Tags     []uint            `json:"tags"`
}

func (r invoiceRequest) input() model.InvoiceInput {
	in := model.InvoiceInput{
		CityID:   r.CityID,
		Items:    r.Items,
		TaxRate:  r.TaxRate,
		Discount: r.Discount,
		DueDate:  r.DueDate.timePtr(),
		Status:   model.InvoiceStatus(r.Status),
		TagIDs:   r.Tags,
	}
	if r.ClientID != nil {
		in.ClientID = *r.ClientID
	}
	if r.Notes != nil {
		in.Notes = *r.Notes
	}
	return in
}

func (r invoiceRequest) patch() model.InvoicePatch {
	return model.InvoicePatch{
		ClientID: r.ClientID,
		CityID:   r.CityID,
		Items:    r.Items,
		TaxRate:  r.TaxRate,
		Discount: r.Discount,
		DueDate:  r.DueDate.timePtr(),
		Notes:    r.Notes,
		TagIDs:   r.Tags,
	}
}

func (ctrl *controller) apiInvoiceCreate(c echo.Context) error {
	var req invoiceRequest
	if err := c.Bind(&req); err != nil {
		return ErrInvalid(err, "invalid payload")
	}
	inv, err := ctrl.model.CreateInvoice(c.Request().Context(), req.input(), apiUserID(c))
	if err != nil {
		return err
	}
	loggerFrom(c, ctrl.logger).Info("invoice created", "invoice_id", inv.ID, "number", inv.InvoiceNumber)
	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/invoices/"+strconv.FormatUint(uint64(inv.ID), 10))
	return respond(c, http.StatusCreated, toAPIInvoice(inv))
}

func (ctrl *controller) apiInvoiceUpdate(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req invoiceRequest
	if err := c.Bind(&req); err != nil {
		return ErrInvalid(err, "invalid payload")
	}
	if req.Status != "" {
		return ErrInvalid(nil, "use PATCH /invoices/:id/status to change the status")
	}
	inv, err := ctrl.model.UpdateInvoice(c.Request().Context(), id, req.patch())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, toAPIInvoice(inv))
}

func (ctrl *controller) apiInvoiceDelete(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := ctrl.model.DeleteInvoice(c.Request().Context(), id); err != nil {
		return err
	}
	loggerFrom(c, ctrl.logger).Info("invoice deleted", "invoice_id", id)
	return c.NoContent(http.StatusNoContent)
}

func (ctrl *controller) apiInvoiceRestore(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	inv, err := ctrl.model.RestoreInvoice(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, toAPIInvoice(inv))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (ctrl *controller) apiInvoiceStatus(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return ErrInvalid(err, "invalid payload")
	}
	inv, err := ctrl.model.ChangeInvoiceStatus(c.Request().Context(), id, model.InvoiceStatus(req.Status))
	if err != nil {
		return err
	}
	loggerFrom(c, ctrl.logger).Info("invoice status changed", "invoice_id", id, "status", inv.Status)
	return respond(c, http.StatusOK, toAPIInvoice(inv))
}

type sendRequest struct {
	Channels []string `json:"channels"`
}

type sendResponse struct {
	XMLName  struct{}   `json:"-" xml:"sent"`
	Invoice  APIInvoice `json:"invoice" xml:"invoice"`
	Channels []string   `json:"channels" xml:"channels>channel"`
	Skipped  []string   `json:"skipped,omitempty" xml:"skipped>channel,omitempty"`
}

// apiInvoiceSend notifies the client over the requested channels and moves a
// draft invoice to sent. Delivery happens in the background.
func (ctrl *controller) apiInvoiceSend(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return ErrInvalid(err, "invalid payload")
	}
	channels := notify.DefaultChannels
	if len(req.Channels) > 0 {
		if channels, err = notify.ParseChannels(req.Channels); err != nil {
			return ErrInvalid(err, err.Error())
		}
	}

	ctx := c.Request().Context()
	inv, err := ctrl.model.LoadInvoice(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status == model.InvoiceStatusCancelled {
		return &model.ValidationError{Fields: []model.FieldError{{Field: "status", Message: "cancelled invoices cannot be sent"}}}
	}
	if inv, err = ctrl.model.MarkInvoiceSent(ctx, id); err != nil {
		return err
	}

	out := sendResponse{Invoice: toAPIInvoice(inv)}
	var msgs []notify.Message
	for _, m := range notify.InvoiceMessages(inv, channels, ctrl.model.Now()) {
		if m.To == "" {
			out.Skipped = append(out.Skipped, string(m.Channel))
			continue
		}
		out.Channels = append(out.Channels, string(m.Channel))
		msgs = append(msgs, m)
	}
	ctrl.notify.Dispatch(msgs...)
	loggerFrom(c, ctrl.logger).Info("invoice sent", "invoice_id", id, "channels", out.Channels, "skipped", out.Skipped)
	return respond(c, http.StatusAccepted, out)
}

type APIStatusStat struct {
	Status string `json:"status" xml:"status,attr"`
	Count  int64  `json:"count" xml:"count"`
	Total  string `json:"total" xml:"total"`
}

type APIInvoiceStats struct {
	XMLName       struct{}        `json:"-" xml:"stats"`
	TotalInvoices int64           `json:"total_invoices" xml:"total_invoices"`
	Revenue       string          `json:"revenue" xml:"revenue"`
	Pending       string          `json:"pending" xml:"pending"`
	Received      string          `json:"received" xml:"received"`
	ByStatus      []APIStatusStat `json:"by_status" xml:"by_status>status"`
}

type statsQuery struct {
	From time.Time `form:"from"`
	To   time.Time `form:"to"`
}

func (ctrl *controller) apiInvoiceStats(c echo.Context) error {
	var q statsQuery
	if err := newQueryDecoder().Decode(&q, c.QueryParams()); err != nil {
		return ErrInvalid(err, "invalid query parameters")
	}
	st, err := ctrl.model.InvoiceStats(c.Request().Context(), timeOrNil(q.From), timeOrNil(q.To))
	if err != nil {
		return err
	}
	out := APIInvoiceStats{
		TotalInvoices: st.TotalInvoices,
		Revenue:       model.FormatMoney(st.Revenue),
		Pending:       model.FormatMoney(st.Pending),
		Received:      model.FormatMoney(st.Received),
	}
	for _, s := range st.ByStatus {
		out.ByStatus = append(out.ByStatus, APIStatusStat{Status: string(s.Status), Count: s.Count, Total: model.FormatMoney(s.Total)})
	}
	return respond(c, http.StatusOK, out)
}

func (ctrl *controller) apiInvoiceNextNumber(c echo.Context) error {
	n, err := ctrl.model.GenerateInvoiceNumber(c.Request().Context())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, nextNumberResponse{InvoiceNumber: n})
}

type nextNumberResponse struct {
	XMLName       struct{} `json:"-" xml:"next"`
	InvoiceNumber string   `json:"invoice_number" xml:"invoice_number"`
}
