package model_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/clientdesk/crm/fixtures"
	"github.com/clientdesk/crm/model"
	"github.com/stretchr/testify/require"
)

func TestRunMaintenance(t *testing.T) {
	store := fixtures.NewTestStore(t)
	seed := fixtures.SeedTestData(t, store)
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	store.SetClock(fixtures.FixedClock(now))

	due := now.AddDate(0, 0, 3)
	sent := fixtures.CreateInvoice(t, store, seed, fixtures.WithStatus(model.InvoiceStatusSent), fixtures.WithDueDate(due))
	partial := fixtures.CreateInvoice(t, store, seed, fixtures.WithStatus(model.InvoiceStatusSent), fixtures.WithDueDate(due))
	fixtures.AddPayment(t, store, seed, partial.ID, "10.00")
	draft := fixtures.CreateInvoice(t, store, seed, fixtures.WithDueDate(due))
	notDue := fixtures.CreateInvoice(t, store, seed, fixtures.WithStatus(model.InvoiceStatusSent), fixtures.WithDueDate(now.AddDate(0, 1, 0)))

	expires := now.AddDate(0, 0, 1)
	_, _, err := store.CreateAPIToken(ctx, seed.User.ID, "short", "", &expires)
	require.NoError(t, err)
	_, revoked, err := store.CreateAPIToken(ctx, seed.User.ID, "revoked", "", nil)
	require.NoError(t, err)
	require.NoError(t, store.RevokeAPIToken(ctx, seed.User.ID, revoked.ID))
	keep, _, err := store.CreateAPIToken(ctx, seed.User.ID, "keep", "", nil)
	require.NoError(t, err)

	store.SetClock(fixtures.FixedClock(now.AddDate(0, 0, 10)))
	rep, err := model.RunMaintenance(ctx, store, nil, false)
	require.NoError(t, err)
	require.EqualValues(t, 2, rep.TokensDeleted)
	require.EqualValues(t, 1, rep.InvoicesOverdue)

	for id, want := range map[uint]model.InvoiceStatus{
		sent.ID:    model.InvoiceStatusOverdue,
		partial.ID: model.InvoiceStatusPartiallyPaid,
		draft.ID:   model.InvoiceStatusDraft,
		notDue.ID:  model.InvoiceStatusSent,
	} {
		inv, err := store.LoadInvoice(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want, inv.Status, "invoice %d", id)
	}

	_, err = store.ValidateAPIToken(ctx, keep)
	require.NoError(t, err)

	// a second run has nothing left to do
	rep, err = model.RunMaintenance(ctx, store, nil, false)
	require.NoError(t, err)
	require.Zero(t, rep.TokensDeleted)
	require.Zero(t, rep.InvoicesOverdue)
}

func TestRunMaintenance_AdvisoryLock_Postgres(t *testing.T) {
	store := fixtures.NewPostgresTestStore(t)
	other := fixtures.PostgresConn(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// a second session holding the lock blocks the run
	var got bool
	require.NoError(t, other.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", model.MaintenanceLockID).Scan(&got))
	require.True(t, got)
	_, err := model.RunMaintenance(ctx, store, logger, false)
	require.Error(t, err)
	_, err = other.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", model.MaintenanceLockID)
	require.NoError(t, err)

	// after the runs the lock is free for every other session
	for i := 0; i < 3; i++ {
		_, err = model.RunMaintenance(ctx, store, logger, false)
		require.NoError(t, err)
	}
	require.NoError(t, other.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", model.MaintenanceLockID).Scan(&got))
	require.True(t, got, "maintenance left the advisory lock held")
	_, err = other.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", model.MaintenanceLockID)
	require.NoError(t, err)
}

func TestClientTimeline(t *testing.T) {
	store := fixtures.NewTestStore(t)
	seed := fixtures.SeedTestData(t, store)
	ctx := context.Background()

	page, err := store.ClientTimeline(ctx, seed.Client.ID, 1, 10)
	require.NoError(t, err)
	require.Zero(t, page.Total)

	inv := fixtures.CreateInvoice(t, store, seed)
	fixtures.CreateInvoice(t, store, seed)

	page, err = store.ClientTimeline(ctx, seed.Client.ID, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total, "only the first invoice changes the client status")
	require.Equal(t, "status_changed", page.Items[0].Event)
	require.NotNil(t, page.Items[0].InvoiceID)
	require.Equal(t, inv.ID, *page.Items[0].InvoiceID)

	_, err = store.ClientTimeline(ctx, 9999, 1, 10)
	require.ErrorIs(t, err, model.ErrNotFound)
}
