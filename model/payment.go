package model

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodCheque       PaymentMethod = "cheque"
)

func (m PaymentMethod) Label() string {
	switch m {
	case PaymentMethodCash:
		return "Cash"
	case PaymentMethodBankTransfer:
		return "Bank transfer"
	case PaymentMethodCard:
		return "Card"
	case PaymentMethodCheque:
		return "Cheque"
	}
	return string(m)
}

// InvoicePayment is one entry of an invoice's payment ledger. Payments are
// recorded manually; nothing is collected.
type InvoicePayment struct {
	ID            uint `gorm:"primarykey"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	InvoiceID     uint            `gorm:"not null;index"`
	UserID        uint            `gorm:"not null;index"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	PaymentMethod PaymentMethod   `gorm:"size:20;not null"`
	PaymentDate   time.Time       `gorm:"type:date;not null"`
	Reference     string          `gorm:"size:100"`
	Notes         string          `gorm:"size:500"`
}

func (InvoicePayment) TableName() string { return "invoice_payments" }

// PaymentInput is what a caller supplies to record a payment.
type PaymentInput struct {
	Amount        decimal.Decimal `json:"amount" validate:"dgte=0.01"`
	PaymentMethod PaymentMethod   `json:"payment_method" validate:"required,oneof=cash bank_transfer card cheque"`
	PaymentDate   time.Time       `json:"payment_date" validate:"required"`
	Reference     string          `json:"reference" validate:"max=100"`
	Notes         string          `json:"notes" validate:"max=500"`
}

// PaymentPatch changes the fields that are set and leaves the rest.
type PaymentPatch struct {
	Amount        *decimal.Decimal `json:"amount" validate:"omitempty,dgte=0.01"`
	PaymentMethod *PaymentMethod   `json:"payment_method" validate:"omitempty,oneof=cash bank_transfer card cheque"`
	PaymentDate   *time.Time       `json:"payment_date"`
	Reference     *string          `json:"reference" validate:"omitempty,max=100"`
	Notes         *string          `json:"notes" validate:"omitempty,max=500"`
}

func checkAmountScale(ve *ValidationError, field string, d decimal.Decimal) {
	if !d.Equal(RoundMoney(d)) {
		ve.Add(field, "must not have more than 2 decimals")
	}
}

// lockInvoice reads an active invoice and locks its row until the
// transaction ends (SELECT ... FOR UPDATE; sqlite serializes writers anyway).
func lockInvoice(tx *gorm.DB, id uint) (*Invoice, error) {
	var inv Invoice
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "invoice", ID: id}
		}
		return nil, err
	}
	return &inv, nil
}

func ledgerOpen(inv *Invoice) error {
	if inv.Status == InvoiceStatusCancelled {
		return invalid("invoice", "invoice is cancelled, payments cannot be changed")
	}
	return nil
}

func remainingOrZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// AddPayment records a payment and reconciles the invoice status in one
// transaction. It fails with an OverpaymentError when the amount exceeds the
// invoice total minus the current ledger sum.
func (s *Store) AddPayment(ctx context.Context, invoiceID uint, in PaymentInput, userID uint) (*InvoicePayment, error) {
	ve := validateStruct(in)
	if ve == nil {
		ve = &ValidationError{}
	}
	checkAmountScale(ve, "amount", in.Amount)
	if err := ve.orNil(); err != nil {
		return nil, err
	}

	var p InvoicePayment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := lockInvoice(tx, invoiceID)
		if err != nil {
			return err
		}
		if err = ledgerOpen(inv); err != nil {
			return err
		}
		paid, err := ledgerSum(tx, inv.ID)
		if err != nil {
			return err
		}
		remaining := inv.Total.Sub(paid)
		if in.Amount.GreaterThan(remaining) {
			return &OverpaymentError{Amount: in.Amount, Remaining: remainingOrZero(remaining)}
		}

		p = InvoicePayment{
			InvoiceID:     inv.ID,
			UserID:        userID,
			Amount:        in.Amount,
			PaymentMethod: in.PaymentMethod,
			PaymentDate:   in.PaymentDate,
			Reference:     in.Reference,
			Notes:         in.Notes,
		}
		if err = tx.Create(&p).Error; err != nil {
			return err
		}
		return s.reconcile(tx, inv)
	})
	if err != nil {
		return nil, classify("add payment", err)
	}
	return &p, nil
}

// GetPayment loads a single payment.
func (s *Store) GetPayment(ctx context.Context, id uint) (*InvoicePayment, error) {
	var p InvoicePayment
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "payment", ID: id}
		}
		return nil, classify("get payment", err)
	}
	return &p, nil
}

// lockPayment locks the invoice of a payment and re-reads the payment under
// that lock.
func lockPayment(tx *gorm.DB, paymentID uint) (*InvoicePayment, *Invoice, error) {
	var p InvoicePayment
	if err := tx.First(&p, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, &NotFoundError{Entity: "payment", ID: paymentID}
		}
		return nil, nil, err
	}
	inv, err := lockInvoice(tx, p.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	if err = tx.First(&p, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, &NotFoundError{Entity: "payment", ID: paymentID}
		}
		return nil, nil, err
	}
	return &p, inv, nil
}

// UpdatePayment applies patch to a payment. A new amount may not exceed the
// invoice total minus all other payments.
func (s *Store) UpdatePayment(ctx context.Context, paymentID uint, patch PaymentPatch) (*InvoicePayment, error) {
	ve := validateStruct(patch)
	if ve == nil {
		ve = &ValidationError{}
	}
	if patch.Amount != nil {
		checkAmountScale(ve, "amount", *patch.Amount)
	}
	if patch.PaymentDate != nil && patch.PaymentDate.IsZero() {
		ve.Add("payment_date", "is required")
	}
	if err := ve.orNil(); err != nil {
		return nil, err
	}

	var out *InvoicePayment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, inv, err := lockPayment(tx, paymentID)
		if err != nil {
			return err
		}
		if err = ledgerOpen(inv); err != nil {
			return err
		}

		updates := map[string]any{}
		if patch.Amount != nil {
			paid, err := ledgerSum(tx, inv.ID)
			if err != nil {
				return err
			}
			ceiling := inv.Total.Sub(paid.Sub(p.Amount))
			if patch.Amount.GreaterThan(ceiling) {
				return &OverpaymentError{Amount: *patch.Amount, Remaining: remainingOrZero(ceiling)}
			}
			updates["amount"] = *patch.Amount
			p.Amount = *patch.Amount
		}
		if patch.PaymentMethod != nil {
			updates["payment_method"] = *patch.PaymentMethod
			p.PaymentMethod = *patch.PaymentMethod
		}
		if patch.PaymentDate != nil {
			updates["payment_date"] = *patch.PaymentDate
			p.PaymentDate = *patch.PaymentDate
		}
		if patch.Reference != nil {
			updates["reference"] = *patch.Reference
			p.Reference = *patch.Reference
		}
		if patch.Notes != nil {
			updates["notes"] = *patch.Notes
			p.Notes = *patch.Notes
		}
		if len(updates) > 0 {
			if err = tx.Model(&InvoicePayment{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
				return err
			}
		}
		out = p
		return s.reconcile(tx, inv)
	})
	if err != nil {
		return nil, classify("update payment", err)
	}
	return out, nil
}

// DeletePayment removes a payment from the ledger and reconciles the invoice.
func (s *Store) DeletePayment(ctx context.Context, paymentID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, inv, err := lockPayment(tx, paymentID)
		if err != nil {
			return err
		}
		if err = ledgerOpen(inv); err != nil {
			return err
		}
		if err = tx.Delete(&InvoicePayment{}, p.ID).Error; err != nil {
			return err
		}
		return s.reconcile(tx, inv)
	})
	return classify("delete payment", err)
}

// PaidAmount returns the current ledger sum of an invoice.
func (s *Store) PaidAmount(ctx context.Context, invoiceID uint) (decimal.Decimal, error) {
	paid, err := ledgerSum(s.db.WithContext(ctx), invoiceID)
	if err != nil {
		return decimal.Zero, classify("paid amount", err)
	}
	return paid, nil
}

// ListPayments returns the payments of an active invoice, newest payment
// date first.
func (s *Store) ListPayments(ctx context.Context, invoiceID uint, page, perPage int) (*Page[InvoicePayment], error) {
	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&Invoice{}).Where("id = ?", invoiceID).Count(&n).Error; err != nil {
		return nil, classify("list payments", err)
	}
	if n == 0 {
		return nil, &NotFoundError{Entity: "invoice", ID: invoiceID}
	}
	page, perPage = normalizePage(page, perPage)

	q := db.Model(&InvoicePayment{}).Where("invoice_id = ?", invoiceID).Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, classify("list payments", err)
	}
	var rows []InvoicePayment
	if err := q.Order("payment_date desc, id desc").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&rows).Error; err != nil {
		return nil, classify("list payments", err)
	}
	return newPage(rows, total, page, perPage), nil
}
