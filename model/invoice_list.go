package model

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceFilter captures filter, paging, and sorting options for listing invoices.
type InvoiceFilter struct {
	Status      InvoiceStatus
	ClientID    uint
	CityID      uint
	UserID      uint
	DateFrom    *time.Time // created_at, inclusive
	DateTo      *time.Time // created_at, inclusive (whole day)
	DueDateFrom *time.Time
	DueDateTo   *time.Time
	Search      string // invoice number or client name
	SortBy      string // created_at (default), due_date, total, invoice_number
	SortDir     string // desc (default), asc
	Trashed     string // "" active only, "with" all, "only" deleted only
	Page        int
	PerPage     int    // 1–200, default 15
}

var invoiceSortColumns = map[string]string{
	"created_at":     "invoices.created_at",
	"due_date":       "invoices.due_date",
	"total":          "invoices.total",
	"invoice_number": "invoices.invoice_number",
}

func (f InvoiceFilter) apply(db *gorm.DB) *gorm.DB {
	switch f.Trashed {
	case "with":
		db = db.Unscoped()
	case "only":
		db = db.Unscoped().Where("invoices.deleted_at IS NOT NULL")
	}
	if f.Status != "" {
		db = db.Where("invoices.status = ?", f.Status)
	}
	if f.ClientID != 0 {
		db = db.Where("invoices.client_id = ?", f.ClientID)
	}
	if f.CityID != 0 {
		db = db.Where("invoices.city_id = ?", f.CityID)
	}
	if f.UserID != 0 {
		db = db.Where("invoices.user_id = ?", f.UserID)
	}
	if f.DateFrom != nil {
		db = db.Where("invoices.created_at >= ?", dateOnly(*f.DateFrom))
	}
	if f.DateTo != nil {
		db = db.Where("invoices.created_at < ?", dateOnly(*f.DateTo).AddDate(0, 0, 1))
	}
	if f.DueDateFrom != nil {
		db = db.Where("invoices.due_date >= ?", dateOnly(*f.DueDateFrom))
	}
	if f.DueDateTo != nil {
		db = db.Where("invoices.due_date <= ?", dateOnly(*f.DueDateTo))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
		db = db.Joins("LEFT JOIN clients ON clients.id = invoices.client_id").
			Where("(LOWER(invoices.invoice_number) LIKE ? ESCAPE '!' OR LOWER(clients.name) LIKE ? ESCAPE '!')", like, like)
	}
	return db
}

func (f InvoiceFilter) order() string {
	col, ok := invoiceSortColumns[f.SortBy]
	if !ok {
		col = invoiceSortColumns["created_at"]
	}
	dir := "DESC"
	if strings.EqualFold(f.SortDir, "asc") {
		dir = "ASC"
	}
	return col + " " + dir + ", invoices.id " + dir
}

// ListInvoices returns one page of invoices with client, city and tags.
// Each invoice carries its derived paid and remaining amount.
func (s *Store) ListInvoices(ctx context.Context, f InvoiceFilter) (*Page[Invoice], error) {
	page, perPage := normalizePage(f.Page, f.PerPage)
	db := s.db.WithContext(ctx)

	var total int64
	if err := f.apply(db.Model(&Invoice{})).Count(&total).Error; err != nil {
		return nil, classify("list invoices", err)
	}

	var invs []Invoice
	if err := f.apply(db.Model(&Invoice{})).
		Select("invoices.*").
		Preload("Client").
		Preload("City").
		Preload("Tags").
		Order(f.order()).
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&invs).Error; err != nil {
		return nil, classify("list invoices", err)
	}
	if err := attachLedger(db, invs); err != nil {
		return nil, classify("list invoices", err)
	}
	return newPage(invs, total, page, perPage), nil
}

// attachLedger sets PaidAmount and RemainingAmount of invs with one query.
func attachLedger(db *gorm.DB, invs []Invoice) error {
	if len(invs) == 0 {
		return nil
	}
	ids := make([]uint, len(invs))
	for i := range invs {
		ids[i] = invs[i].ID
	}
	paid, err := paidByInvoice(db, ids)
	if err != nil {
		return err
	}
	for i := range invs {
		invs[i].setPaid(paid[invs[i].ID])
	}
	return nil
}

func paidByInvoice(db *gorm.DB, ids []uint) (map[uint]decimal.Decimal, error) {
	var rows []struct {
		InvoiceID uint
		Amount    decimal.Decimal
	}
	if err := db.Model(&InvoicePayment{}).
		Select("invoice_id, amount").
		Where("invoice_id IN ?", ids).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	paid := make(map[uint]decimal.Decimal, len(ids))
	for _, r := range rows {
		paid[r.InvoiceID] = paid[r.InvoiceID].Add(r.Amount)
	}
	return paid, nil
}
