package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// MaintenanceReport counts what a maintenance run changed.
type MaintenanceReport struct {
	TokensDeleted   int64
	InvoicesOverdue int64
}

// RunMaintenance executes housekeeping tasks.
// Tasks are idempotent and safe to run multiple times.
func RunMaintenance(ctx context.Context, s *Store, logger *slog.Logger, vacuum bool) (*MaintenanceReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	logger.Info("maintenance: start")

	// DB-level singleton lock (Postgres only)
	unlock, err := tryAcquireLock(ctx, s)
	if err != nil {
		return nil, err
	}
	if unlock != nil {
		defer unlock()
	}

	rep := &MaintenanceReport{}
	if rep.TokensDeleted, err = deleteInvalidAPITokens(ctx, s); err != nil {
		return nil, fmt.Errorf("delete invalid API tokens: %w", err)
	}
	if rep.InvoicesOverdue, err = s.MarkOverdueInvoices(ctx); err != nil {
		return nil, fmt.Errorf("mark overdue invoices: %w", err)
	}
	if vacuum {
		if err = vacuumAnalyze(ctx, s); err != nil {
			return nil, fmt.Errorf("vacuum/analyze: %w", err)
		}
	}

	logger.Info("maintenance: done",
		"took", time.Since(start).Truncate(time.Millisecond),
		"tokens_deleted", rep.TokensDeleted,
		"invoices_overdue", rep.InvoicesOverdue)
	return rep, nil
}

// MaintenanceLockID is the PostgreSQL advisory lock key held during a
// maintenance run.
const MaintenanceLockID = 91423001

// tryAcquireLock takes the advisory lock on a dedicated connection. Advisory
// locks belong to the session, so lock, unlock and release of the connection
// must happen on that same connection.
func tryAcquireLock(ctx context.Context, s *Store) (func(), error) {
	if s.db.Dialector.Name() != "postgres" {
		return nil, nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	var got bool
	if err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", MaintenanceLockID).Scan(&got); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !got {
		_ = conn.Close()
		return nil, errors.New("another maintenance run is in progress")
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", MaintenanceLockID)
		_ = conn.Close()
	}, nil
}

// deleteInvalidAPITokens removes tokens that are revoked or past their
// expiration date.
func deleteInvalidAPITokens(ctx context.Context, s *Store) (int64, error) {
	res := s.db.WithContext(ctx).Unscoped().
		Where("disabled = ? OR (expires_at IS NOT NULL AND expires_at < ?)", true, s.now()).
		Delete(&APIToken{})
	return res.RowsAffected, res.Error
}

// MarkOverdueInvoices moves sent invoices whose due date has passed to
// overdue. Partially paid invoices keep their status.
func (s *Store) MarkOverdueInvoices(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Invoice{}).
		Where("status = ? AND due_date IS NOT NULL AND due_date < ?", InvoiceStatusSent, dateOnly(s.now())).
		Update("status", InvoiceStatusOverdue)
	if res.Error != nil {
		return 0, classify("mark overdue invoices", res.Error)
	}
	return res.RowsAffected, nil
}

// vacuumAnalyze runs database cleanup commands depending on DB engine.
func vacuumAnalyze(ctx context.Context, s *Store) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	switch s.db.Dialector.Name() {
	case "postgres":
		_, err = sqlDB.ExecContext(ctx, "VACUUM (ANALYZE)")
	case "sqlite":
		_, err = sqlDB.ExecContext(ctx, "VACUUM")
		if err == nil {
			_, _ = sqlDB.ExecContext(ctx, "PRAGMA optimize")
		}
	case "mysql":
		_, err = sqlDB.ExecContext(ctx, "ANALYZE TABLE invoices, invoice_items, invoice_payments")
	}
	return err
}
