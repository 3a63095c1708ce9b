package model

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoiceNumberTemplate is the layout of invoice numbers. %YYYY% and %YY%
// are the year, %05C% the per-year counter padded to five digits.
const InvoiceNumberTemplate = "INV-%YYYY%-%05C%"

var (
	year4Replacer   = regexp.MustCompile(`%YYYY%`)
	year2Replacer   = regexp.MustCompile(`%YY%`)
	counterReplacer = regexp.MustCompile(`%(0)?(\d*)C%`)
)

// InvoiceSequence holds the last counter handed out for a year. The row is
// updated inside the invoice-creating transaction, so concurrent creations
// in the same year queue on it.
type InvoiceSequence struct {
	Year      int `gorm:"primaryKey;autoIncrement:false"`
	LastValue int `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (InvoiceSequence) TableName() string { return "invoice_sequences" }

// FormatInvoiceNumber fills the template placeholders.
func FormatInvoiceNumber(tmpl string, year, counter int) string {
	tmpl = year4Replacer.ReplaceAllLiteralString(tmpl, fmt.Sprintf("%04d", year))
	tmpl = year2Replacer.ReplaceAllLiteralString(tmpl, fmt.Sprintf("%02d", year%100))
	return counterReplacer.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := counterReplacer.FindStringSubmatch(m)
		if sub[1] == "0" && sub[2] != "" {
			return fmt.Sprintf("%0"+sub[2]+"d", counter)
		}
		return strconv.Itoa(counter)
	})
}

// invoiceNumberPrefix is the part of the number in front of the counter.
func invoiceNumberPrefix(year int) string {
	loc := counterReplacer.FindStringIndex(InvoiceNumberTemplate)
	if loc == nil {
		return FormatInvoiceNumber(InvoiceNumberTemplate, year, 0)
	}
	return FormatInvoiceNumber(InvoiceNumberTemplate[:loc[0]], year, 0)
}

// maxIssuedCounter scans the numbers already issued in a year (deleted
// invoices included) for the highest counter. It seeds the sequence row of
// a year the first time it is used.
func maxIssuedCounter(tx *gorm.DB, year int) (int, error) {
	prefix := invoiceNumberPrefix(year)
	var numbers []string
	if err := tx.Unscoped().Model(&Invoice{}).
		Where("invoice_number LIKE ?", prefix+"%").
		Pluck("invoice_number", &numbers).Error; err != nil {
		return 0, err
	}
	max := 0
	for _, n := range numbers {
		c, err := strconv.Atoi(strings.TrimPrefix(n, prefix))
		if err == nil && c > max {
			max = c
		}
	}
	return max, nil
}

// nextInvoiceNumber reserves the next number of year. It must run inside the
// transaction that inserts the invoice; a rollback releases the number again.
func nextInvoiceNumber(tx *gorm.DB, year int) (string, error) {
	res := tx.Model(&InvoiceSequence{}).
		Where("year = ?", year).
		Updates(map[string]any{"last_value": gorm.Expr("last_value + 1")})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		seed, err := maxIssuedCounter(tx, year)
		if err != nil {
			return "", err
		}
		// a concurrent first insert for the same year turns into an increment
		if err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "year"}},
			DoUpdates: clause.Assignments(map[string]any{
				"last_value": gorm.Expr("invoice_sequences.last_value + 1"),
			}),
		}).Create(&InvoiceSequence{Year: year, LastValue: seed + 1}).Error; err != nil {
			return "", err
		}
	}
	var seq InvoiceSequence
	if err := tx.Where("year = ?", year).First(&seq).Error; err != nil {
		return "", err
	}
	return FormatInvoiceNumber(InvoiceNumberTemplate, year, seq.LastValue), nil
}

// GenerateInvoiceNumber returns the number the next invoice created now
// would get. It does not reserve it; creation assigns numbers itself.
func (s *Store) GenerateInvoiceNumber(ctx context.Context) (string, error) {
	year := s.now().Year()
	var seq InvoiceSequence
	err := s.db.WithContext(ctx).Where("year = ?", year).First(&seq).Error
	switch {
	case err == nil:
		return FormatInvoiceNumber(InvoiceNumberTemplate, year, seq.LastValue+1), nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		max, err := maxIssuedCounter(s.db.WithContext(ctx), year)
		if err != nil {
			return "", classify("generate invoice number", err)
		}
		return FormatInvoiceNumber(InvoiceNumberTemplate, year, max+1), nil
	default:
		return "", classify("generate invoice number", err)
	}
}
