package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ItemInput is one line item of a create or update request.
type ItemInput struct {
	ProductID   *uint            `json:"product_id"`
	Description string           `json:"description" validate:"required,max=255"`
	Quantity    *decimal.Decimal `json:"quantity" validate:"required,dgt=0"`
	UnitPrice   *decimal.Decimal `json:"unit_price" validate:"required,dgte=0"`
	Discount    *decimal.Decimal `json:"discount" validate:"omitempty,dgte=0"`
}

// InvoiceInput creates an invoice. Status defaults to draft.
type InvoiceInput struct {
	ClientID uint             `json:"client_id" validate:"required"`
	CityID   *uint            `json:"city_id"`
	Items    []ItemInput      `json:"items" validate:"required,min=1,dive"`
	TaxRate  *decimal.Decimal `json:"tax_rate" validate:"omitempty,dgte=0,dlte=100"`
	Discount *decimal.Decimal `json:"discount" validate:"omitempty,dgte=0"`
	DueDate  *time.Time       `json:"due_date"`
	Notes    string           `json:"notes"`
	Status   InvoiceStatus    `json:"status" validate:"omitempty,oneof=draft sent"`
	TagIDs   []uint           `json:"tags"`
}

// InvoicePatch updates an invoice. Nil fields are left alone; a non-nil
// Items replaces all items, a non-nil TagIDs replaces all tags.
type InvoicePatch struct {
	ClientID *uint            `json:"client_id" validate:"omitempty,min=1"`
	CityID   *uint            `json:"city_id"`
	Items    []ItemInput      `json:"items" validate:"omitempty,min=1,dive"`
	TaxRate  *decimal.Decimal `json:"tax_rate" validate:"omitempty,dgte=0,dlte=100"`
	Discount *decimal.Decimal `json:"discount" validate:"omitempty,dgte=0"`
	DueDate  *time.Time       `json:"due_date"`
	Notes    *string          `json:"notes"`
	TagIDs   []uint           `json:"tags"`
}

func decimalOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// dateOnly drops the time of day.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func checkItemScales(ve *ValidationError, items []ItemInput) {
	for i, it := range items {
		prefix := fmt.Sprintf("items[%d].", i)
		if it.Quantity != nil {
			checkAmountScale(ve, prefix+"quantity", *it.Quantity)
		}
		if it.UnitPrice != nil {
			checkAmountScale(ve, prefix+"unit_price", *it.UnitPrice)
		}
		if it.Discount != nil {
			checkAmountScale(ve, prefix+"discount", *it.Discount)
		}
	}
}

func checkMoneyScales(ve *ValidationError, taxRate, discount *decimal.Decimal) {
	if taxRate != nil {
		checkAmountScale(ve, "tax_rate", *taxRate)
	}
	if discount != nil {
		checkAmountScale(ve, "discount", *discount)
	}
}

func (s *Store) checkInvoiceInput(in InvoiceInput, now time.Time) error {
	ve := validateStruct(in)
	if ve == nil {
		ve = &ValidationError{}
	}
	checkItemScales(ve, in.Items)
	checkMoneyScales(ve, in.TaxRate, in.Discount)
	if in.DueDate != nil && dateOnly(*in.DueDate).Before(dateOnly(now)) {
		ve.Add("due_date", "must be today or later")
	}
	return ve.orNil()
}

func checkInvoicePatch(p InvoicePatch) error {
	ve := validateStruct(p)
	if ve == nil {
		ve = &ValidationError{}
	}
	if p.Items != nil && len(p.Items) == 0 {
		ve.Add("items", "needs at least 1 entries")
	}
	checkItemScales(ve, p.Items)
	checkMoneyScales(ve, p.TaxRate, p.Discount)
	return ve.orNil()
}

func buildItems(in []ItemInput) []InvoiceItem {
	items := make([]InvoiceItem, len(in))
	for i, it := range in {
		items[i] = InvoiceItem{
			ProductID:   it.ProductID,
			Position:    i + 1,
			Description: it.Description,
			Quantity:    decimalOrZero(it.Quantity),
			UnitPrice:   decimalOrZero(it.UnitPrice),
			Discount:    decimalOrZero(it.Discount),
		}
		items[i].Total = items[i].LineTotal()
	}
	return items
}

// references collects the foreign keys of an input that must exist.
type references struct {
	clientID *uint
	cityID   *uint
	items    []ItemInput
	tagIDs   []uint
}

func exists(tx *gorm.DB, model any, id uint) (bool, error) {
	var n int64
	if err := tx.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func checkReferences(tx *gorm.DB, refs references) error {
	ve := &ValidationError{}
	if refs.clientID != nil {
		ok, err := exists(tx, &Client{}, *refs.clientID)
		if err != nil {
			return err
		}
		if !ok {
			ve.Add("client_id", "does not exist")
		}
	}
	if refs.cityID != nil {
		ok, err := exists(tx, &City{}, *refs.cityID)
		if err != nil {
			return err
		}
		if !ok {
			ve.Add("city_id", "does not exist")
		}
	}
	for i, it := range refs.items {
		if it.ProductID == nil {
			continue
		}
		ok, err := exists(tx, &Product{}, *it.ProductID)
		if err != nil {
			return err
		}
		if !ok {
			ve.Add(fmt.Sprintf("items[%d].product_id", i), "does not exist")
		}
	}
	tagErrs, err := checkTagIDs(tx, refs.tagIDs, "tags")
	if err != nil {
		return err
	}
	if tagErrs != nil {
		ve.Fields = append(ve.Fields, tagErrs.Fields...)
	}
	return ve.orNil()
}

func insertItems(tx *gorm.DB, invoiceID uint, items []InvoiceItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].ID = 0
		items[i].InvoiceID = invoiceID
	}
	return tx.Omit("ID").Create(&items).Error
}

// CreateInvoice validates in, assigns the next invoice number of the current
// year and persists invoice, items and tags atomically. The client becomes a
// subscriber.
func (s *Store) CreateInvoice(ctx context.Context, in InvoiceInput, userID uint) (*Invoice, error) {
	now := s.now()
	if err := s.checkInvoiceInput(in, now); err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = InvoiceStatusDraft
	}
	inv := &Invoice{
		ClientID: in.ClientID,
		CityID:   in.CityID,
		UserID:   userID,
		TaxRate:  decimalOrZero(in.TaxRate),
		Discount: decimalOrZero(in.Discount),
		Status:   status,
		Notes:    in.Notes,
		Items:    buildItems(in.Items),
	}
	if in.DueDate != nil {
		d := dateOnly(*in.DueDate)
		inv.DueDate = &d
	}
	inv.RecomputeTotals()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkReferences(tx, references{
			clientID: &in.ClientID,
			cityID:   in.CityID,
			items:    in.Items,
			tagIDs:   in.TagIDs,
		}); err != nil {
			return err
		}
		number, err := nextInvoiceNumber(tx, now.Year())
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number
		if err = tx.Omit(clause.Associations).Create(inv).Error; err != nil {
			return err
		}
		if err = insertItems(tx, inv.ID, inv.Items); err != nil {
			return err
		}
		if err = replaceInvoiceTags(tx, inv.ID, in.TagIDs); err != nil {
			return err
		}
		return markClientSubscriber(tx, inv.ClientID, inv.ID, userID)
	})
	if err != nil {
		return nil, classify("create invoice", err)
	}
	return s.LoadInvoice(ctx, inv.ID)
}

// UpdateInvoice applies patch. Totals are recomputed (and the status
// reconciled against the ledger) whenever items, tax rate or discount change,
// using the new value where given and the stored one otherwise. The new total
// may not drop below the paid amount, and the totals of a cancelled invoice
// are frozen.
func (s *Store) UpdateInvoice(ctx context.Context, id uint, patch InvoicePatch) (*Invoice, error) {
	if err := checkInvoicePatch(patch); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := lockInvoice(tx, id)
		if err != nil {
			return err
		}
		if err = checkReferences(tx, references{
			clientID: patch.ClientID,
			cityID:   patch.CityID,
			items:    patch.Items,
			tagIDs:   patch.TagIDs,
		}); err != nil {
			return err
		}

		updates := map[string]any{}
		if patch.ClientID != nil {
			updates["client_id"] = *patch.ClientID
		}
		if patch.CityID != nil {
			updates["city_id"] = *patch.CityID
		}
		if patch.DueDate != nil {
			updates["due_date"] = dateOnly(*patch.DueDate)
		}
		if patch.Notes != nil {
			updates["notes"] = *patch.Notes
		}

		recompute := patch.Items != nil || patch.TaxRate != nil || patch.Discount != nil
		if recompute {
			if err = ledgerOpen(inv); err != nil {
				return err
			}
			if patch.TaxRate != nil {
				inv.TaxRate = *patch.TaxRate
			}
			if patch.Discount != nil {
				inv.Discount = *patch.Discount
			}
			if patch.Items != nil {
				if err = tx.Where("invoice_id = ?", id).Delete(&InvoiceItem{}).Error; err != nil {
					return fmt.Errorf("delete items: %w", err)
				}
				inv.Items = buildItems(patch.Items)
				if err = insertItems(tx, id, inv.Items); err != nil {
					return fmt.Errorf("recreate items: %w", err)
				}
			} else if err = tx.Where("invoice_id = ?", id).Order("position ASC, id ASC").Find(&inv.Items).Error; err != nil {
				return err
			}
			inv.RecomputeTotals()
			var paid decimal.Decimal
			if paid, err = ledgerSum(tx, id); err != nil {
				return err
			}
			if inv.Total.LessThan(paid) {
				return invalid("total", fmt.Sprintf("total %s is below the paid amount %s", FormatMoney(inv.Total), FormatMoney(paid)))
			}
			updates["tax_rate"] = inv.TaxRate
			updates["discount"] = inv.Discount
			updates["subtotal"] = inv.Subtotal
			updates["tax_amount"] = inv.TaxAmount
			updates["total"] = inv.Total
		}
		if len(updates) > 0 {
			if err = tx.Model(&Invoice{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return fmt.Errorf("update invoice: %w", err)
			}
		}
		if patch.TagIDs != nil {
			if err = replaceInvoiceTags(tx, id, patch.TagIDs); err != nil {
				return err
			}
		}
		if recompute {
			return s.reconcile(tx, inv)
		}
		return nil
	})
	if err != nil {
		return nil, classify("update invoice", err)
	}
	return s.LoadInvoice(ctx, id)
}

// DeleteInvoice soft-deletes an invoice. Items, payments and tags stay.
func (s *Store) DeleteInvoice(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&Invoice{}, id)
	if res.Error != nil {
		return classify("delete invoice", res.Error)
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Entity: "invoice", ID: id}
	}
	return nil
}

// RestoreInvoice brings a soft-deleted invoice back.
func (s *Store) RestoreInvoice(ctx context.Context, id uint) (*Invoice, error) {
	res := s.db.WithContext(ctx).Unscoped().Model(&Invoice{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		Update("deleted_at", nil)
	if res.Error != nil {
		return nil, classify("restore invoice", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &NotFoundError{Entity: "deleted invoice", ID: id}
	}
	return s.LoadInvoice(ctx, id)
}

func preloadInvoice(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") }).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("payment_date DESC, id DESC") }).
		Preload("Tags", func(db *gorm.DB) *gorm.DB { return db.Order("name ASC") }).
		Preload("Client").
		Preload("City")
}

// LoadInvoice loads an active invoice with items, payments, tags, client and
// city. PaidAmount and RemainingAmount are derived from the loaded payments.
func (s *Store) LoadInvoice(ctx context.Context, id uint) (*Invoice, error) {
	return s.loadInvoice(s.db.WithContext(ctx), id)
}

// LoadInvoiceWithDeleted is LoadInvoice including soft-deleted invoices.
func (s *Store) LoadInvoiceWithDeleted(ctx context.Context, id uint) (*Invoice, error) {
	return s.loadInvoice(s.db.WithContext(ctx).Unscoped(), id)
}

func (s *Store) loadInvoice(db *gorm.DB, id uint) (*Invoice, error) {
	var inv Invoice
	if err := preloadInvoice(db).First(&inv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "invoice", ID: id}
		}
		return nil, classify("load invoice", err)
	}
	paid := decimal.Zero
	for _, p := range inv.Payments {
		paid = paid.Add(p.Amount)
	}
	inv.setPaid(paid)
	return &inv, nil
}

// --- Status Transitions ------------------------------------------------------
//
// Allowed manual transitions:
//   draft          -> sent | cancelled
//   sent           -> draft | overdue | cancelled
//   overdue        -> sent | cancelled
//   partially_paid -> overdue | cancelled
//   paid, cancelled -> (final)
// partially_paid and paid are set by the ledger only. Moving back to draft or
// sent requires an empty ledger.

var manualTransitions = map[InvoiceStatus]map[InvoiceStatus]bool{
	InvoiceStatusDraft:         {InvoiceStatusSent: true, InvoiceStatusCancelled: true},
	InvoiceStatusSent:          {InvoiceStatusDraft: true, InvoiceStatusOverdue: true, InvoiceStatusCancelled: true},
	InvoiceStatusOverdue:       {InvoiceStatusSent: true, InvoiceStatusCancelled: true},
	InvoiceStatusPartiallyPaid: {InvoiceStatusOverdue: true, InvoiceStatusCancelled: true},
}

// ChangeInvoiceStatus sets the status directly, bypassing the reconciler.
// Setting the current status again is a no-op.
func (s *Store) ChangeInvoiceStatus(ctx context.Context, id uint, to InvoiceStatus) (*Invoice, error) {
	if !to.Valid() {
		return nil, invalid("status", "unknown status "+string(to))
	}
	if to.LedgerDriven() {
		return nil, invalid("status", fmt.Sprintf("%s is derived from payments and cannot be set manually", to))
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := lockInvoice(tx, id)
		if err != nil {
			return err
		}
		from := inv.Status
		if from == to {
			return nil
		}
		if from.IsFinal() {
			return invalid("status", fmt.Sprintf("%s invoices cannot change status", from))
		}
		if !manualTransitions[from][to] {
			return invalid("status", fmt.Sprintf("invalid status transition %q -> %q", from, to))
		}
		if to == InvoiceStatusDraft || to == InvoiceStatusSent {
			var paid decimal.Decimal
			if paid, err = ledgerSum(tx, id); err != nil {
				return err
			}
			if paid.IsPositive() {
				return invalid("status", fmt.Sprintf("invoice has payments, cannot move to %s", to))
			}
		}
		return tx.Model(&Invoice{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": to}).Error
	})
	if err != nil {
		return nil, classify("change invoice status", err)
	}
	return s.LoadInvoice(ctx, id)
}

// MarkInvoiceSent moves a draft invoice to sent. Other statuses are left
// unchanged; the invoice is returned either way.
func (s *Store) MarkInvoiceSent(ctx context.Context, id uint) (*Invoice, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := lockInvoice(tx, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceStatusDraft {
			return nil
		}
		return tx.Model(&Invoice{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": InvoiceStatusSent}).Error
	})
	if err != nil {
		return nil, classify("mark invoice sent", err)
	}
	return s.LoadInvoice(ctx, id)
}
