package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReconcileStatus derives the ledger-driven status of an invoice.
//
//	paid == 0          -> sent if the invoice was (partially) paid, else unchanged
//	0 < paid < total   -> partially_paid, paid_at cleared
//	paid >= total      -> paid, paid_at kept or set to now
//
// The zero branch is checked first, so an invoice with a zero total and no
// payments keeps its status.
func ReconcileStatus(total, paid decimal.Decimal, current InvoiceStatus, paidAt *time.Time, now time.Time) (InvoiceStatus, *time.Time) {
	switch {
	case !paid.IsPositive():
		if current.LedgerDriven() {
			return InvoiceStatusSent, nil
		}
		return current, paidAt
	case paid.GreaterThanOrEqual(total):
		if paidAt != nil {
			return InvoiceStatusPaid, paidAt
		}
		t := now
		return InvoiceStatusPaid, &t
	default:
		return InvoiceStatusPartiallyPaid, nil
	}
}

// ledgerSum returns the sum of all payments of an invoice. Amounts are
// summed as decimals; SQL SUM over sqlite REAL columns is not exact.
func ledgerSum(tx *gorm.DB, invoiceID uint) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := tx.Model(&InvoicePayment{}).
		Where("invoice_id = ?", invoiceID).
		Pluck("amount", &amounts).Error; err != nil {
		return decimal.Zero, err
	}
	return sumMoney(amounts), nil
}

// reconcile re-reads the ledger of inv and writes the derived status, paid_at
// and the next ledger version. inv must have been read in the same
// transaction; the write fails with errStaleLedger when another transaction
// reconciled the invoice since.
func (s *Store) reconcile(tx *gorm.DB, inv *Invoice) error {
	paid, err := ledgerSum(tx, inv.ID)
	if err != nil {
		return err
	}
	status, paidAt := ReconcileStatus(inv.Total, paid, inv.Status, inv.PaidAt, s.now())

	updates := map[string]any{
		"status":         status,
		"paid_at":        paidAt,
		"ledger_version": inv.LedgerVersion + 1,
	}
	res := tx.Model(&Invoice{}).
		Where("id = ? AND ledger_version = ?", inv.ID, inv.LedgerVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errStaleLedger
	}
	inv.Status = status
	inv.PaidAt = paidAt
	inv.LedgerVersion++
	inv.setPaid(paid)
	return nil
}
