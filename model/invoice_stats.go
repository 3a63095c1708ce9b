package model

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// StatusStat is the number and total amount of invoices in one status.
type StatusStat struct {
	Status InvoiceStatus
	Count  int64
	Total  decimal.Decimal
}

// InvoiceStats summarizes active invoices.
type InvoiceStats struct {
	TotalInvoices int64
	// Revenue is the sum of totals of paid invoices.
	Revenue decimal.Decimal
	// Pending is what is still owed on sent, overdue and partially paid invoices.
	Pending  decimal.Decimal
	Received decimal.Decimal
	ByStatus []StatusStat
}

var openStatuses = []InvoiceStatus{InvoiceStatusSent, InvoiceStatusOverdue, InvoiceStatusPartiallyPaid}

// InvoiceStats computes the dashboard figures, optionally restricted to
// invoices created in [from, to].
func (s *Store) InvoiceStats(ctx context.Context, from, to *time.Time) (*InvoiceStats, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&Invoice{})
		if from != nil {
			db = db.Where("invoices.created_at >= ?", dateOnly(*from))
		}
		if to != nil {
			db = db.Where("invoices.created_at < ?", dateOnly(*to).AddDate(0, 0, 1))
		}
		return db
	}

	type invRow struct {
		ID     uint
		Status InvoiceStatus
		Total  decimal.Decimal
	}
	var (
		invs     []invRow
		payments []struct {
			InvoiceID uint
			Amount    decimal.Decimal
		}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scope(s.db.WithContext(gctx)).
			Select("invoices.id, invoices.status, invoices.total").
			Scan(&invs).Error
	})
	g.Go(func() error {
		sub := scope(s.db.WithContext(gctx)).Select("invoices.id")
		return s.db.WithContext(gctx).Model(&InvoicePayment{}).
			Select("invoice_id, amount").
			Where("invoice_id IN (?)", sub).
			Scan(&payments).Error
	})
	if err := g.Wait(); err != nil {
		return nil, classify("invoice stats", err)
	}

	paid := make(map[uint]decimal.Decimal)
	received := decimal.Zero
	for _, p := range payments {
		paid[p.InvoiceID] = paid[p.InvoiceID].Add(p.Amount)
		received = received.Add(p.Amount)
	}

	byStatus := make(map[InvoiceStatus]*StatusStat, len(InvoiceStatuses))
	for _, st := range InvoiceStatuses {
		byStatus[st] = &StatusStat{Status: st, Total: decimal.Zero}
	}
	out := &InvoiceStats{Revenue: decimal.Zero, Pending: decimal.Zero, Received: received}
	for _, r := range invs {
		out.TotalInvoices++
		if st, ok := byStatus[r.Status]; ok {
			st.Count++
			st.Total = st.Total.Add(r.Total)
		}
		if r.Status == InvoiceStatusPaid {
			out.Revenue = out.Revenue.Add(r.Total)
		}
		for _, open := range openStatuses {
			if r.Status == open {
				out.Pending = out.Pending.Add(remainingOrZero(r.Total.Sub(paid[r.ID])))
			}
		}
	}
	for _, st := range InvoiceStatuses {
		out.ByStatus = append(out.ByStatus, *byStatus[st])
	}
	return out, nil
}
