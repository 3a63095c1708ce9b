package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clientdesk/crm/fixtures"
	"github.com/clientdesk/crm/model"
	"github.com/clientdesk/crm/notify"
	"github.com/labstack/echo/v4"
)

type testAPI struct {
	e     *echo.Echo
	store *model.Store
	seed  *fixtures.Seed
	token string
	sent  *outbox
}

// outbox records every message handed to a sender.
type outbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (o *outbox) Send(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) messages() []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Message(nil), o.msgs...)
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := fixtures.NewTestStore(t)
	seed := fixtures.SeedTestData(t, store)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	box := &outbox{}
	dispatcher := notify.NewDispatcher(logger, time.Second)
	for _, ch := range []notify.Channel{notify.ChannelEmail, notify.ChannelSMS, notify.ChannelWhatsApp} {
		dispatcher.Register(ch, box)
	}

	token, _, err := store.CreateAPIToken(context.Background(), seed.User.ID, "test", "", nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = dispatcher.Wait(ctx)
	})
	return &testAPI{
		e:     NewServer(store, dispatcher, logger),
		store: store,
		seed:  seed,
		token: token,
		sent:  box,
	}
}

func (a *testAPI) do(method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+a.token)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("JSON unmarshal error: %v (body %s)", err, rec.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("Status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func invoiceBody(clientID uint, extra string) string {
	return fmt.Sprintf(`{"client_id":%d,"items":[{"description":"Consulting","quantity":"2","unit_price":"50.00"}]%s}`, clientID, extra)
}

func (a *testAPI) createInvoice(t *testing.T) APIInvoice {
	t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/invoices", invoiceBody(a.seed.Client.ID, ""))
	expectStatus(t, rec, http.StatusCreated)
	return decode[APIInvoice](t, rec)
}

func invoicePath(id uint, suffix string) string {
	return "/api/v1/invoices/" + strconv.FormatUint(uint64(id), 10) + suffix
}

func TestAPI_Auth(t *testing.T) {
	a := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices", nil)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/invoices", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer crm_nottherealtoken")
	rec = httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: status = %d, want 200", rec.Code)
	}
}

func TestAPI_ReadOnlyTokenCannotWrite(t *testing.T) {
	a := setupTestAPI(t)
	ro, _, err := a.store.CreateAPIToken(context.Background(), a.seed.User.ID, "ro", model.ScopeRead, nil)
	if err != nil {
		t.Fatal(err)
	}
	a.token = ro

	expectStatus(t, a.do(http.MethodGet, "/api/v1/invoices", ""), http.StatusOK)
	rec := a.do(http.MethodPost, "/api/v1/invoices", invoiceBody(a.seed.Client.ID, ""))
	expectStatus(t, rec, http.StatusForbidden)
}

func TestAPI_InvoiceWithPayments(t *testing.T) {
	a := setupTestAPI(t)
	inv := a.createInvoice(t)

	if inv.Status != "draft" || inv.Total != "100.00" || inv.RemainingAmount != "100.00" {
		t.Fatalf("created invoice = %+v", inv)
	}
	if !strings.HasPrefix(inv.Number, "INV-") {
		t.Errorf("Number = %q, want INV- prefix", inv.Number)
	}

	rec := a.do(http.MethodPost, invoicePath(inv.ID, "/payments"),
		`{"amount":"40.00","payment_method":"bank_transfer","payment_date":"2025-03-01","reference":"TX-1"}`)
	expectStatus(t, rec, http.StatusCreated)
	p := decode[APIPayment](t, rec)
	if p.Amount != "40.00" || p.PaymentMethodLabel != "Bank transfer" {
		t.Errorf("payment = %+v", p)
	}

	rec = a.do(http.MethodGet, invoicePath(inv.ID, ""), "")
	expectStatus(t, rec, http.StatusOK)
	got := decode[APIInvoice](t, rec)
	if got.Status != "partially_paid" || got.PaidAmount != "40.00" || got.RemainingAmount != "60.00" {
		t.Errorf("after 40.00: status %s paid %s remaining %s", got.Status, got.PaidAmount, got.RemainingAmount)
	}
	if len(got.Payments) != 1 || len(got.Items) != 1 {
		t.Errorf("payments = %d, items = %d, want 1 and 1", len(got.Payments), len(got.Items))
	}

	// overpayment is rejected with the remaining amount
	rec = a.do(http.MethodPost, invoicePath(inv.ID, "/payments"),
		`{"amount":"70.00","payment_method":"cash","payment_date":"2025-03-02"}`)
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	apiErr := decode[APIError](t, rec)
	if apiErr.Code != "overpayment" || apiErr.Remaining != "60.00" {
		t.Errorf("overpayment error = %+v", apiErr)
	}

	rec = a.do(http.MethodPost, invoicePath(inv.ID, "/payments"),
		`{"amount":"60.00","payment_method":"cash","payment_date":"2025-03-02"}`)
	expectStatus(t, rec, http.StatusCreated)

	rec = a.do(http.MethodGet, invoicePath(inv.ID, "/payments"), "")
	expectStatus(t, rec, http.StatusOK)
	list := decode[APIPage[APIPayment]](t, rec)
	if list.Total != 2 {
		t.Errorf("payments total = %d, want 2", list.Total)
	}

	rec = a.do(http.MethodGet, invoicePath(inv.ID, ""), "")
	got = decode[APIInvoice](t, rec)
	if got.Status != "paid" || got.RemainingAmount != "0.00" || got.PaidAt == nil {
		t.Errorf("after full payment: status %s remaining %s paid_at %v", got.Status, got.RemainingAmount, got.PaidAt)
	}

	// deleting a payment reopens the invoice
	rec = a.do(http.MethodDelete, invoicePath(inv.ID, "/payments/"+strconv.FormatUint(uint64(p.ID), 10)), "")
	expectStatus(t, rec, http.StatusNoContent)
	got = decode[APIInvoice](t, a.do(http.MethodGet, invoicePath(inv.ID, ""), ""))
	if got.Status != "partially_paid" || got.PaidAmount != "60.00" {
		t.Errorf("after delete: status %s paid %s", got.Status, got.PaidAmount)
	}
}

func TestAPI_PaymentOfOtherInvoice(t *testing.T) {
	a := setupTestAPI(t)
	first := a.createInvoice(t)
	second := a.createInvoice(t)
	p := fixtures.AddPayment(t, a.store, a.seed, first.ID, "10.00")

	path := invoicePath(second.ID, "/payments/"+strconv.FormatUint(uint64(p.ID), 10))
	expectStatus(t, a.do(http.MethodDelete, path, ""), http.StatusNotFound)
	expectStatus(t, a.do(http.MethodPut, path, `{"amount":"5.00"}`), http.StatusNotFound)

	paid, err := a.store.PaidAmount(context.Background(), first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !paid.Equal(fixtures.Money("10.00")) {
		t.Errorf("paid = %s, want 10.00", paid)
	}
}

func TestAPI_ValidationError(t *testing.T) {
	a := setupTestAPI(t)

	rec := a.do(http.MethodPost, "/api/v1/invoices",
		fmt.Sprintf(`{"client_id":%d,"items":[{"description":"","quantity":"0","unit_price":"1.005"}]}`, a.seed.Client.ID))
	expectStatus(t, rec, http.StatusBadRequest)
	apiErr := decode[APIError](t, rec)
	if apiErr.Code != "validation_error" {
		t.Errorf("Code = %q, want validation_error", apiErr.Code)
	}
	fields := map[string]bool{}
	for _, f := range apiErr.Fields {
		fields[f.Field] = true
	}
	for _, want := range []string{"items[0].description", "items[0].quantity", "items[0].unit_price"} {
		if !fields[want] {
			t.Errorf("missing field error for %s, got %+v", want, apiErr.Fields)
		}
	}
	if apiErr.RequestID == "" {
		t.Error("request_id should be set")
	}

	inv := a.createInvoice(t)
	rec = a.do(http.MethodPatch, invoicePath(inv.ID, "/status"), `{"status":"paid"}`)
	expectStatus(t, rec, http.StatusBadRequest)

	expectStatus(t, a.do(http.MethodGet, "/api/v1/invoices/abc", ""), http.StatusBadRequest)
	expectStatus(t, a.do(http.MethodGet, "/api/v1/invoices/9999", ""), http.StatusNotFound)
}

func TestAPI_UpdateStatusDeleteRestore(t *testing.T) {
	a := setupTestAPI(t)
	inv := a.createInvoice(t)

	rec := a.do(http.MethodPut, invoicePath(inv.ID, ""),
		`{"items":[{"description":"Design","quantity":"3","unit_price":"20.00"}],"tax_rate":"10","notes":"rush"}`)
	expectStatus(t, rec, http.StatusOK)
	got := decode[APIInvoice](t, rec)
	if got.Subtotal != "60.00" || got.TaxAmount != "6.00" || got.Total != "66.00" || got.Notes != "rush" {
		t.Errorf("updated invoice = %+v", got)
	}

	rec = a.do(http.MethodPatch, invoicePath(inv.ID, "/status"), `{"status":"sent"}`)
	expectStatus(t, rec, http.StatusOK)
	if got = decode[APIInvoice](t, rec); got.Status != "sent" {
		t.Errorf("Status = %s, want sent", got.Status)
	}

	expectStatus(t, a.do(http.MethodDelete, invoicePath(inv.ID, ""), ""), http.StatusNoContent)
	expectStatus(t, a.do(http.MethodGet, invoicePath(inv.ID, ""), ""), http.StatusNotFound)

	rec = a.do(http.MethodGet, "/api/v1/invoices?trashed=only", "")
	expectStatus(t, rec, http.StatusOK)
	if page := decode[APIPage[APIInvoice]](t, rec); page.Total != 1 || page.Items[0].DeletedAt == nil {
		t.Errorf("trashed list = %+v", page)
	}

	expectStatus(t, a.do(http.MethodPost, invoicePath(inv.ID, "/restore"), ""), http.StatusOK)
	expectStatus(t, a.do(http.MethodGet, invoicePath(inv.ID, ""), ""), http.StatusOK)
}

func TestAPI_ETag(t *testing.T) {
	a := setupTestAPI(t)
	inv := a.createInvoice(t)

	rec := a.do(http.MethodGet, invoicePath(inv.ID, ""), "")
	expectStatus(t, rec, http.StatusOK)
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("ETag header should be set")
	}
	rec = a.do(http.MethodGet, invoicePath(inv.ID, ""), "", "If-None-Match", etag)
	expectStatus(t, rec, http.StatusNotModified)
}

func TestAPI_XML(t *testing.T) {
	a := setupTestAPI(t)
	inv := a.createInvoice(t)

	rec := a.do(http.MethodGet, invoicePath(inv.ID, ""), "", echo.HeaderAccept, "application/xml")
	expectStatus(t, rec, http.StatusOK)
	body := rec.Body.String()
	for _, want := range []string{"<invoice ", "<total>100.00</total>", "<status>draft</status>"} {
		if !strings.Contains(body, want) {
			t.Errorf("XML body misses %q: %s", want, body)
		}
	}
}

func TestAPI_ListFilters(t *testing.T) {
	a := setupTestAPI(t)
	a.createInvoice(t)
	sent := a.createInvoice(t)
	expectStatus(t, a.do(http.MethodPatch, invoicePath(sent.ID, "/status"), `{"status":"sent"}`), http.StatusOK)

	rec := a.do(http.MethodGet, "/api/v1/invoices?status=sent&per_page=5", "")
	expectStatus(t, rec, http.StatusOK)
	page := decode[APIPage[APIInvoice]](t, rec)
	if page.Total != 1 || page.Items[0].ID != sent.ID || page.PerPage != 5 {
		t.Errorf("status filter = %+v", page)
	}

	expectStatus(t, a.do(http.MethodGet, "/api/v1/invoices?status=bogus", ""), http.StatusBadRequest)
	expectStatus(t, a.do(http.MethodGet, "/api/v1/invoices?date_from=yesterday", ""), http.StatusBadRequest)

	rec = a.do(http.MethodGet, "/api/v1/invoices?search=acme&sort_by=total&sort_dir=asc", "")
	expectStatus(t, rec, http.StatusOK)
	if page = decode[APIPage[APIInvoice]](t, rec); page.Total != 2 {
		t.Errorf("search total = %d, want 2", page.Total)
	}
}

func TestAPI_StatsAndNextNumber(t *testing.T) {
	a := setupTestAPI(t)
	inv := a.createInvoice(t)
	fixtures.AddPayment(t, a.store, a.seed, inv.ID, "25.50")

	rec := a.do(http.MethodGet, "/api/v1/invoices/stats", "")
	expectStatus(t, rec, http.StatusOK)
	st := decode[APIInvoiceStats](t, rec)
	if st.TotalInvoices != 1 || st.Received != "25.50" || st.Pending != "74.50" || st.Revenue != "0.00" {
		t.Errorf("stats = %+v", st)
	}

	rec = a.do(http.MethodGet, "/api/v1/invoices/next-number", "")
	expectStatus(t, rec, http.StatusOK)
	next := decode[nextNumberResponse](t, rec)
	if next.InvoiceNumber == inv.Number || !strings.HasPrefix(next.InvoiceNumber, "INV-") {
		t.Errorf("next number = %q, last issued %q", next.InvoiceNumber, inv.Number)
	}
}

func TestAPI_Send(t *testing.T) {
	a := setupTestAPI(t)
	inv := a.createInvoice(t)

	rec := a.do(http.MethodPost, invoicePath(inv.ID, "/send"), `{"channels":["email","sms"]}`)
	expectStatus(t, rec, http.StatusAccepted)
	res := decode[sendResponse](t, rec)
	if res.Invoice.Status != "sent" || len(res.Channels) != 2 {
		t.Errorf("send response = %+v", res)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(a.sent.messages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	msgs := a.sent.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if !strings.Contains(m.Body, inv.Number) {
			t.Errorf("%s message does not mention %s: %q", m.Channel, inv.Number, m.Body)
		}
	}

	rec = a.do(http.MethodPost, invoicePath(inv.ID, "/send"), `{"channels":["fax"]}`)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestAPI_SendDefaultChannels(t *testing.T) {
	a := setupTestAPI(t)
	inv := a.createInvoice(t)

	rec := a.do(http.MethodPost, invoicePath(inv.ID, "/send"), `{}`)
	expectStatus(t, rec, http.StatusAccepted)
	res := decode[sendResponse](t, rec)
	want := []string{"whatsapp", "sms"}
	if strings.Join(res.Channels, ",") != strings.Join(want, ",") || len(res.Skipped) != 0 {
		t.Errorf("default channels = %v (skipped %v), want %v", res.Channels, res.Skipped, want)
	}
}

func TestAPI_Export(t *testing.T) {
	a := setupTestAPI(t)
	inv := a.createInvoice(t)

	rec := a.do(http.MethodGet, "/api/v1/invoices/export", "")
	expectStatus(t, rec, http.StatusOK)
	body := rec.Body.Bytes()
	if !bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}) {
		t.Error("CSV should start with a UTF-8 BOM")
	}
	lines := strings.Split(strings.TrimSpace(string(body[3:])), "\n")
	if len(lines) != 2 {
		t.Fatalf("CSV lines = %d, want 2: %q", len(lines), body)
	}
	if !strings.HasPrefix(lines[0], "Number;Client;") {
		t.Errorf("CSV header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], inv.Number+";Acme Ltd;") || !strings.Contains(lines[1], ";100.00;") {
		t.Errorf("CSV row = %q", lines[1])
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, ".csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	rec = a.do(http.MethodGet, "/api/v1/invoices/export?format=xlsx", "")
	expectStatus(t, rec, http.StatusOK)
	// xlsx is a zip archive
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Error("xlsx export is not a zip archive")
	}

	rec = a.do(http.MethodGet, "/api/v1/invoices/export?format=xml", "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `<invoices version="1">`) {
		t.Errorf("xml export = %s", rec.Body.String())
	}

	expectStatus(t, a.do(http.MethodGet, "/api/v1/invoices/export?format=pdf", ""), http.StatusBadRequest)
}

func TestAPI_TagsAndTokens(t *testing.T) {
	a := setupTestAPI(t)

	rec := a.do(http.MethodPost, "/api/v1/tags", `{"name":"Priority","color":"#ff0000"}`)
	expectStatus(t, rec, http.StatusCreated)

	rec = a.do(http.MethodGet, "/api/v1/tags?q=pr", "")
	expectStatus(t, rec, http.StatusOK)
	tags := decode[APITagList](t, rec)
	if len(tags.Items) != 1 || tags.Items[0].Name != "Priority" {
		t.Errorf("suggest = %+v", tags.Items)
	}
	tags = decode[APITagList](t, a.do(http.MethodGet, "/api/v1/tags", ""))
	if len(tags.Items) != 3 {
		t.Errorf("tags = %d, want 3", len(tags.Items))
	}

	rec = a.do(http.MethodPost, "/api/v1/tokens", `{"name":"ci","scope":"read"}`)
	expectStatus(t, rec, http.StatusCreated)
	created := decode[createTokenResp](t, rec)
	if created.Token == "" || !strings.HasPrefix(created.Token, created.Prefix) {
		t.Errorf("token response = %+v", created)
	}

	list := decode[APIPage[APITokenInfo]](t, a.do(http.MethodGet, "/api/v1/tokens", ""))
	if list.Total != 2 {
		t.Errorf("tokens = %d, want 2", list.Total)
	}

	path := "/api/v1/tokens/" + strconv.FormatUint(uint64(created.ID), 10)
	expectStatus(t, a.do(http.MethodDelete, path, ""), http.StatusNoContent)
	expectStatus(t, a.do(http.MethodDelete, "/api/v1/tokens/9999", ""), http.StatusNotFound)

	a.token = created.Token
	expectStatus(t, a.do(http.MethodGet, "/api/v1/tags", ""), http.StatusUnauthorized)
}

func TestAPI_ClientTimeline(t *testing.T) {
	a := setupTestAPI(t)
	inv := a.createInvoice(t)

	path := "/api/v1/clients/" + strconv.FormatUint(uint64(a.seed.Client.ID), 10)
	rec := a.do(http.MethodGet, path, "")
	expectStatus(t, rec, http.StatusOK)
	if cl := decode[APIClient](t, rec); cl.Status != "subscriber" || cl.Country != "PT" {
		t.Errorf("client = %+v", cl)
	}

	rec = a.do(http.MethodGet, path+"/timeline", "")
	expectStatus(t, rec, http.StatusOK)
	page := decode[APIPage[APITimelineEntry]](t, rec)
	if page.Total != 1 || page.Items[0].InvoiceID == nil || *page.Items[0].InvoiceID != inv.ID {
		t.Errorf("timeline = %+v", page)
	}

	expectStatus(t, a.do(http.MethodGet, "/api/v1/clients/9999/timeline", ""), http.StatusNotFound)
}
