package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusSent          InvoiceStatus = "sent"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusOverdue       InvoiceStatus = "overdue"
	InvoiceStatusCancelled     InvoiceStatus = "cancelled"
)

// InvoiceStatuses lists all statuses in display order.
var InvoiceStatuses = []InvoiceStatus{
	InvoiceStatusDraft,
	InvoiceStatusSent,
	InvoiceStatusPartiallyPaid,
	InvoiceStatusPaid,
	InvoiceStatusOverdue,
	InvoiceStatusCancelled,
}

func (s InvoiceStatus) Valid() bool {
	for _, st := range InvoiceStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// IsFinal reports whether manual status changes are over.
func (s InvoiceStatus) IsFinal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// LedgerDriven statuses are only ever set by the reconciler.
func (s InvoiceStatus) LedgerDriven() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusPartiallyPaid
}

func (s InvoiceStatus) Label() string {
	switch s {
	case InvoiceStatusDraft:
		return "Draft"
	case InvoiceStatusSent:
		return "Sent"
	case InvoiceStatusPartiallyPaid:
		return "Partially paid"
	case InvoiceStatusPaid:
		return "Paid"
	case InvoiceStatusOverdue:
		return "Overdue"
	case InvoiceStatusCancelled:
		return "Cancelled"
	}
	return "Unknown"
}

// Invoice is the aggregate root. Subtotal, TaxAmount and Total are always
// recomputed from Items, TaxRate and Discount; PaidAmount and
// RemainingAmount are derived from the payment ledger on load.
type Invoice struct {
	gorm.Model
	InvoiceNumber string          `gorm:"size:32;not null;uniqueIndex"`
	ClientID      uint            `gorm:"not null;index"`
	Client        Client          `gorm:"constraint:OnDelete:RESTRICT;"`
	UserID        uint            `gorm:"not null;index"`
	CityID        *uint           `gorm:"index"`
	City          *City           `gorm:"constraint:OnDelete:SET NULL;"`
	Subtotal      decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"`
	TaxRate       decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	TaxAmount     decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"`
	Discount      decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"`
	Total         decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"`
	Status        InvoiceStatus   `gorm:"size:20;not null;default:draft;check:status IN ('draft','sent','partially_paid','paid','overdue','cancelled');index"`
	DueDate       *time.Time      `gorm:"type:date"`
	PaidAt        *time.Time
	Notes         string `gorm:"type:text"`
	// LedgerVersion is bumped by every reconciliation; a stale value means
	// another writer changed the ledger in between.
	LedgerVersion uint `gorm:"not null;default:0"`

	Items    []InvoiceItem    `gorm:"constraint:OnDelete:CASCADE;"`
	Payments []InvoicePayment `gorm:"constraint:OnDelete:CASCADE;"`
	Tags     []Tag            `gorm:"many2many:invoice_tags;"`

	PaidAmount      decimal.Decimal `gorm:"-"`
	RemainingAmount decimal.Decimal `gorm:"-"`
}

// InvoiceItem is one line of an invoice. Items are never edited in place,
// an update replaces the full set.
type InvoiceItem struct {
	ID          uint `gorm:"primarykey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	InvoiceID   uint            `gorm:"not null;index"`
	ProductID   *uint           `gorm:"index"`
	Position    int             `gorm:"not null;default:0"`
	Description string          `gorm:"size:255;not null"`
	Quantity    decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Discount    decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"`
	Total       decimal.Decimal `gorm:"type:decimal(10,2);not null"`
}

func (InvoiceItem) TableName() string { return "invoice_items" }

// LineTotal is quantity × unit price − discount, rounded to cents.
func (it InvoiceItem) LineTotal() decimal.Decimal {
	return RoundMoney(it.Quantity.Mul(it.UnitPrice).Sub(it.Discount))
}

// Totals is the computed money part of an invoice.
type Totals struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// ComputeTotals derives subtotal, tax and total from the line items:
//
//	subtotal = Σ round(quantity × unit_price − item discount)
//	tax      = round(subtotal × tax_rate / 100)
//	total    = subtotal + tax − discount
func ComputeTotals(items []InvoiceItem, taxRate, discount decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	tax := RoundMoney(subtotal.Mul(taxRate).Div(hundred))
	return Totals{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax).Sub(discount),
	}
}

// RecomputeTotals refreshes item totals and the invoice sums from Items.
func (inv *Invoice) RecomputeTotals() {
	for i := range inv.Items {
		inv.Items[i].Total = inv.Items[i].LineTotal()
	}
	t := ComputeTotals(inv.Items, inv.TaxRate, inv.Discount)
	inv.Subtotal = t.Subtotal
	inv.TaxAmount = t.TaxAmount
	inv.Total = t.Total
}

// setPaid stores the ledger sum and the derived remaining amount.
func (inv *Invoice) setPaid(paid decimal.Decimal) {
	inv.PaidAmount = paid
	inv.RemainingAmount = inv.Total.Sub(paid)
}

// Lifecycle is either Active or Deleted.
type Lifecycle interface {
	lifecycle()
	String() string
}

// Active is the lifecycle of a visible invoice.
type Active struct{}

// Deleted is the lifecycle of a soft-deleted invoice; it can be restored.
type Deleted struct {
	At time.Time
}

func (Active) lifecycle()      {}
func (Deleted) lifecycle()     {}
func (Active) String() string  { return "active" }
func (Deleted) String() string { return "deleted" }

// Lifecycle reports whether the invoice is soft-deleted.
func (inv *Invoice) Lifecycle() Lifecycle {
	if inv.DeletedAt.Valid {
		return Deleted{At: inv.DeletedAt.Time}
	}
	return Active{}
}
