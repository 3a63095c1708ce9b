// Package fixtures builds in-memory stores and sample data for tests.
package fixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clientdesk/crm/model"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultPassword is the password of the seeded user.
const DefaultPassword = "correct horse battery"

var dbCounter atomic.Int64

// NewTestStore opens a fresh in-memory sqlite database with the full schema.
func NewTestStore(t testing.TB) *model.Store {
	t.Helper()
	// a named shared-cache database survives across pool connections
	dsn := fmt.Sprintf("file:crmtest%d?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("test database handle: %v", err)
	}
	// a single connection runs transactions one after another, so concurrency
	// tests on this store only check outcomes; NewPostgresTestStore contends
	sqlDB.SetMaxOpenConns(1)

	store := model.NewStore(db, &model.Config{Mode: "test"})
	if err = store.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// FixedClock returns a clock that always reports t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Seed is the sample data created by SeedTestData.
type Seed struct {
	User    *model.User
	Client  *model.Client
	City    *model.City
	Product *model.Product
	Tags    []*model.Tag
}

// SeedTestData creates one user, client, city, product and two tags.
func SeedTestData(t testing.TB, store *model.Store) *Seed {
	t.Helper()
	ctx := context.Background()

	user, err := store.CreateUser(ctx, "jane@example.com", "Jane Doe", DefaultPassword)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	city := &model.City{Name: "Lisbon", Country: "Portugal"}
	if err = store.CreateCity(ctx, city); err != nil {
		t.Fatalf("seed city: %v", err)
	}
	client := &model.Client{
		Name:     "Acme Ltd",
		Email:    "billing@acme.example",
		Phone:    "+351 210 000 000",
		WhatsApp: "+351910000000",
		CityID:   &city.ID,
		Country:  "PT",
	}
	if err = store.CreateClient(ctx, client); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	product := &model.Product{Name: "Consulting hour", Price: decimal.RequireFromString("80.00")}
	if err = store.CreateProduct(ctx, product); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	seed := &Seed{User: user, Client: client, City: city, Product: product}
	for _, name := range []string{"Retainer", "Urgent"} {
		tag, err := store.CreateTag(ctx, model.TagInput{Name: name})
		if err != nil {
			t.Fatalf("seed tag %s: %v", name, err)
		}
		seed.Tags = append(seed.Tags, tag)
	}
	return seed
}

// Money parses an amount and panics on malformed input.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func MoneyPtr(s string) *decimal.Decimal {
	d := Money(s)
	return &d
}

// Item builds a line item input. An empty discount means none.
func Item(description, quantity, unitPrice, discount string) model.ItemInput {
	it := model.ItemInput{
		Description: description,
		Quantity:    MoneyPtr(quantity),
		UnitPrice:   MoneyPtr(unitPrice),
	}
	if discount != "" {
		it.Discount = MoneyPtr(discount)
	}
	return it
}

// InvoiceOption modifies an InvoiceInput built by InvoiceInput.
type InvoiceOption func(*model.InvoiceInput)

func WithItems(items ...model.ItemInput) InvoiceOption {
	return func(in *model.InvoiceInput) { in.Items = items }
}

func WithTaxRate(rate string) InvoiceOption {
	return func(in *model.InvoiceInput) { in.TaxRate = MoneyPtr(rate) }
}

func WithDiscount(discount string) InvoiceOption {
	return func(in *model.InvoiceInput) { in.Discount = MoneyPtr(discount) }
}

func WithDueDate(d time.Time) InvoiceOption {
	return func(in *model.InvoiceInput) { in.DueDate = &d }
}

func WithStatus(s model.InvoiceStatus) InvoiceOption {
	return func(in *model.InvoiceInput) { in.Status = s }
}

func WithTags(ids ...uint) InvoiceOption {
	return func(in *model.InvoiceInput) { in.TagIDs = ids }
}

func WithNotes(notes string) InvoiceOption {
	return func(in *model.InvoiceInput) { in.Notes = notes }
}

// InvoiceInput returns a valid input for the seeded client: one item of
// 2 × 50.00 and no tax, so the total is 100.00.
func InvoiceInput(seed *Seed, opts ...InvoiceOption) model.InvoiceInput {
	in := model.InvoiceInput{
		ClientID: seed.Client.ID,
		CityID:   &seed.City.ID,
		Items:    []model.ItemInput{Item("Consulting", "2", "50.00", "")},
	}
	for _, opt := range opts {
		opt(&in)
	}
	return in
}

// CreateInvoice stores an invoice built from InvoiceInput and fails the test
// on error.
func CreateInvoice(t testing.TB, store *model.Store, seed *Seed, opts ...InvoiceOption) *model.Invoice {
	t.Helper()
	inv, err := store.CreateInvoice(context.Background(), InvoiceInput(seed, opts...), seed.User.ID)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

// Payment builds a payment input dated 2025-03-01.
func Payment(amount string) model.PaymentInput {
	return model.PaymentInput{
		Amount:        Money(amount),
		PaymentMethod: model.PaymentMethodBankTransfer,
		PaymentDate:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Reference:     "TX-" + amount,
	}
}

// AddPayment records a payment and fails the test on error.
func AddPayment(t testing.TB, store *model.Store, seed *Seed, invoiceID uint, amount string) *model.InvoicePayment {
	t.Helper()
	p, err := store.AddPayment(context.Background(), invoiceID, Payment(amount), seed.User.ID)
	if err != nil {
		t.Fatalf("add payment %s: %v", amount, err)
	}
	return p
}
