package model_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clientdesk/crm/fixtures"
	"github.com/clientdesk/crm/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldNames(err error) []string {
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		return nil
	}
	out := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		out = append(out, f.Field)
	}
	return out
}

func TestCreateInvoice_Validation(t *testing.T) {
	store := fixtures.NewTestStore(t)
	seed := fixtures.SeedTestData(t, store)
	ctx := context.Background()
	store.SetClock(fixtures.FixedClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)))

	tests := []struct {
		name   string
		in     model.InvoiceInput
		fields []string
	}{
		{
			name:   "no items",
			in:     fixtures.InvoiceInput(seed, fixtures.WithItems()),
			fields: []string{"items"},
		},
		{
			name:   "zero quantity",
			in:     fixtures.InvoiceInput(seed, fixtures.WithItems(fixtures.Item("Bad", "0", "10", ""))),
			fields: []string{"items[0].quantity"},
		},
		{
			name: "negative price and missing description",
			in: fixtures.InvoiceInput(seed, fixtures.WithItems(
				fixtures.Item("Fine", "1", "10", ""),
				fixtures.Item("", "1", "-1", ""),
			)),
			fields: []string{"items[1].description", "items[1].unit_price"},
		},
		{
			name:   "tax rate above 100",
			in:     fixtures.InvoiceInput(seed, fixtures.WithTaxRate("100.01")),
			fields: []string{"tax_rate"},
		},
		{
			name:   "three decimal price",
			in:     fixtures.InvoiceInput(seed, fixtures.WithItems(fixtures.Item("Precise", "1", "9.999", ""))),
			fields: []string{"items[0].unit_price"},
		},
		{
			name:   "due date in the past",
			in:     fixtures.InvoiceInput(seed, fixtures.WithDueDate(time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC))),
			fields: []string{"due_date"},
		},
		{
			name:   "paid is not a creation status",
			in:     fixtures.InvoiceInput(seed, fixtures.WithStatus(model.InvoiceStatusPaid)),
			fields: []string{"status"},
		},
		{
			name: "unknown client",
			in: func() model.InvoiceInput {
				in := fixtures.InvoiceInput(seed)
				in.ClientID = 4711
				return in
			}(),
			fields: []string{"client_id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreateInvoice(ctx, tt.in, seed.User.ID)
			require.ErrorIs(t, err, model.ErrValidation)
			assert.ElementsMatch(t, tt.fields, fieldNames(err))
		})
	}

	// due today is fine
	inv := fixtures.CreateInvoice(t, store, seed, fixtures.WithDueDate(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, inv.DueDate)
}

func TestCreateInvoice_MarksClientSubscriber(t *testing.T) {
	store := fixtures.NewTestStore(t)
	seed := fixtures.SeedTestData(t, store)
	ctx := context.Background()

	require.Equal(t, model.ClientStatusLead, seed.Client.Status)
	inv := fixtures.CreateInvoice(t, store, seed, fixtures.WithTags(seed.Tags[0].ID, seed.Tags[1].ID))
	assert.Len(t, inv.Tags, 2)

	client, err := store.GetClient(ctx, seed.Client.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClientStatusSubscriber, client.Status)
	assert.Equal(t, "PT", client.Country)
}

func TestUpdateInvoice_RecomputesAndReconciles(t *testing.T) {
	store := fixtures.NewTestStore(t)
	seed := fixtures.SeedTestData(t, store)
	ctx := context.Background()

	inv := fixtures.CreateInvoice(t, store, seed, fixtures.WithStatus(model.InvoiceStatusSent))
	fixtures.AddPayment(t, store, seed, inv.ID, "60.00")

	// lower the total to what was paid: the invoice becomes paid
	updated, err := store.UpdateInvoice(ctx, inv.ID, model.InvoicePatch{
		Items: []model.ItemInput{fixtures.Item("Consulting", "1", "60.00", "")},
	})
	require.NoError(t, err)
	requireMoney(t, "60.00", updated.Total)
	assert.Equal(t, model.InvoiceStatusPaid, updated.Status)
	assert.NotNil(t, updated.PaidAt)
	assert.Len(t, updated.Items, 1)

	// raising the tax reopens it, items stay as stored
	updated, err = store.UpdateInvoice(ctx, inv.ID, model.InvoicePatch{TaxRate: fixtures.MoneyPtr("10")})
	require.NoError(t, err)
	requireMoney(t, "66.00", updated.Total)
	assert.Equal(t, model.InvoiceStatusPartiallyPaid, updated.Status)
	assert.Nil(t, updated.PaidAt)
	requireMoney(t, "6.00", updated.RemainingAmount)
	assert.Len(t, updated.Items, 1)
}

func TestUpdateInvoice_TotalBelowPaidIsRejected(t *testing.T) {
	store := fixtures.NewTestStore(t)
	seed := fixtures.SeedTestData(t, store)
	ctx := context.Background()

	inv := fixtures.CreateInvoice(t, store, seed, fixtures.WithStatus(model.InvoiceStatusSent))
	fixtures.AddPayment(t, store, seed, inv.ID, "100.00")

	_, err := store.UpdateInvoice(ctx, inv.ID, model.InvoicePatch{Discount: fixtures.MoneyPtr("20.00")})
	require.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, []string{"total"}, fieldNames(err))

	got, err := store.LoadInvoice(ctx, inv.ID)
	require.NoError(t, err)
	requireMoney(t, "100.00", got.Total)
	requireMoney(t, "0.00", got.Discount)
	assert.Equal(t, model.InvoiceStatusPaid, got.Status)
	assert.Len(t, got.Items, len(inv.Items))
}

func TestUpdateInvoice_CancelledTotalsAreFrozen(t *testing.T) {
	store := fixtures.NewTestStore(t)
	seed := fixtures.SeedTestData(t, store)
	ctx := context.Background()

	inv := fixtures.CreateInvoice(t, store, seed, fixtures.WithStatus(model.InvoiceStatusSent))
	fixtures.AddPayment(t, store, seed, inv.ID, "40.00")
	_, err := store.ChangeInvoiceStatus(ctx, inv.ID, model.InvoiceStatusCancelled)
	require.NoError(t, err)

	_, err = store.UpdateInvoice(ctx, inv.ID, model.InvoicePatch{Discount: fixtures.MoneyPtr("1.00")})
	require.ErrorIs(t, err, model.ErrValidation)

	notes := "written off"
	got, err := store.UpdateInvoice(ctx, inv.ID, model.InvoicePatch{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusCancelled, got.Status)
	assert.Equal(t, "written off", got.Notes)
	requireMoney(t, "100.00", got.Total)
}

func TestUpdateInvoice_NotesAndTags(t *testing.T) {
	store := fixtures.NewTestStore(t)
	seed := fixtures.SeedTestData(t, store)
	ctx := context.Background()

	inv := fixtures.CreateInvoice(t, store, seed, fixtures.WithTags(seed.Tags[0].ID))
	notes := "net 30"
	updated, err := store.UpdateInvoice(ctx, inv.ID, model.InvoicePatch{
		Notes:  &notes,
		TagIDs: []uint{seed.Tags[1].ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "net 30", updated.Notes)
	require.Len(t, updated.Tags, 1)
	assert.Equal(t, seed.Tags[1].ID, updated.Tags[0].ID)
	assert.Equal(t, inv.LedgerVersion, updated.LedgerVersion, "no money change, no reconciliation")

	updated, err = store.UpdateInvoice(ctx, inv.ID, model.InvoicePatch{TagIDs: []uint{}})
	require.NoError(t, err)
	assert.Empty(t, updated.Tags)

	_, err = store.UpdateInvoice(ctx, 777, model.InvoicePatch{Notes: &notes})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestChangeInvoiceStatus(t *testing.T) {
	store := fixtures.NewTestStore(t)
	seed := fixtures.SeedTestData(t, store)
	ctx := context.Background()

	inv := fixtures.CreateInvoice(t, store, seed)
	steps := []struct {
		to      model.InvoiceStatus
		wantErr bool
	}{
		{model.InvoiceStatusPaid, true},
		{model.InvoiceStatusOverdue, true}, // draft -> overdue
		{model.InvoiceStatusSent, false},
		{model.InvoiceStatusSent, false}, // no-op
		{model.InvoiceStatusOverdue, false},
		{model.InvoiceStatusDraft, true},
		{model.InvoiceStatusSent, false},
		{model.InvoiceStatusCancelled, false},
		{model.InvoiceStatusSent, true},
		{"bogus", true},
	}
	for i, st := range steps {
		got, err := store.ChangeInvoiceStatus(ctx, inv.ID, st.to)
		if st.wantErr {
			require.ErrorIs(t, err, model.ErrValidation, "step %d -> %s", i, st.to)
			continue
		}
		require.NoError(t, err, "step %d -> %s", i, st.to)
		assert.Equal(t, st.to, got.Status)
	}
}

func TestChangeInvoiceStatus_PaymentsBlockDraft(t *testing.T) {
	store := fixtures.NewTestStore(t)
	seed := fixtures.SeedTestData(t, store)
	ctx := context.Background()

	inv := fixtures.CreateInvoice(t, store, seed, fixtures.WithStatus(model.InvoiceStatusSent))
	fixtures.AddPayment(t, store, seed, inv.ID, "10.00")

	_, err := store.ChangeInvoiceStatus(ctx, inv.ID, model.InvoiceStatusDraft)
	require.ErrorIs(t, err, model.ErrValidation)
	got, err := store.ChangeInvoiceStatus(ctx, inv.ID, model.InvoiceStatusOverdue)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusOverdue, got.Status)
}

func TestMarkInvoiceSent(t *testing.T) {
	store := fixtures.NewTestStore(t)
	seed := fixtures.SeedTestData(t, store)
	ctx := context.Background()

	inv := fixtures.CreateInvoice(t, store, seed)
	got, err := store.MarkInvoiceSent(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusSent, got.Status)

	fixtures.AddPayment(t, store, seed, inv.ID, "10.00")
	got, err = store.MarkInvoiceSent(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPartiallyPaid, got.Status)
}

func TestDeleteAndRestoreInvoice(t *testing.T) {
	store := fixtures.NewTestStore(t)
	seed := fixtures.SeedTestData(t, store)
	ctx := context.Background()

	inv := fixtures.CreateInvoice(t, store, seed)
	fixtures.AddPayment(t, store, seed, inv.ID, "25.00")
	assert.Equal(t, "active", inv.Lifecycle().String())

	require.NoError(t, store.DeleteInvoice(ctx, inv.ID))
	_, err := store.LoadInvoice(ctx, inv.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = store.AddPayment(ctx, inv.ID, fixtures.Payment("1.00"), seed.User.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
	require.ErrorIs(t, store.DeleteInvoice(ctx, inv.ID), model.ErrNotFound)

	deleted, err := store.LoadInvoiceWithDeleted(ctx, inv.ID)
	require.NoError(t, err)
	_, isDeleted := deleted.Lifecycle().(model.Deleted)
	assert.True(t, isDeleted)
	requireMoney(t, "25.00", deleted.PaidAmount)

	restored, err := store.RestoreInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Active{}, restored.Lifecycle())
	requireMoney(t, "25.00", restored.PaidAmount)

	_, err = store.RestoreInvoice(ctx, inv.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestErrorTaxonomy(t *testing.T) {
	errs := []error{
		&model.ValidationError{Fields: []model.FieldError{{Field: "x", Message: "bad"}}},
		&model.NotFoundError{Entity: "invoice", ID: 1},
		&model.OverpaymentError{Amount: decimal.NewFromInt(2), Remaining: decimal.NewFromInt(1)},
		&model.ConsistencyConflictError{Op: "add payment"},
		&model.PersistenceError{Op: "add payment"},
	}
	sentinels := []error{model.ErrValidation, model.ErrNotFound, model.ErrOverpayment, model.ErrConflict, model.ErrPersistence}
	for i, err := range errs {
		for j, s := range sentinels {
			assert.Equal(t, i == j, errors.Is(err, s), "%T vs %v", err, s)
		}
	}
}
