package model

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/biter777/countries"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ClientStatus string

const (
	ClientStatusLead       ClientStatus = "lead"
	ClientStatusProspect   ClientStatus = "prospect"
	ClientStatusSubscriber ClientStatus = "subscriber"
	ClientStatusInactive   ClientStatus = "inactive"
)

// Client is the customer an invoice is addressed to. Lead management lives
// elsewhere; this is the part invoicing needs.
type Client struct {
	gorm.Model
	Name     string       `gorm:"size:255;not null;index"`
	Email    string       `gorm:"size:255"`
	Phone    string       `gorm:"size:50"`
	WhatsApp string       `gorm:"size:50"`
	Status   ClientStatus `gorm:"size:20;not null;default:lead;index"`
	CityID   *uint        `gorm:"index"`
	Country  string       `gorm:"size:2"`
}

// BeforeSave stores the country as ISO alpha-2 code.
func (c *Client) BeforeSave(tx *gorm.DB) error {
	c.Country = countryCode(c.Country)
	return nil
}

// ClientTimelineEntry records an automatic change on a client.
type ClientTimelineEntry struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	ClientID  uint   `gorm:"not null;index"`
	UserID    uint   `gorm:"not null"`
	InvoiceID *uint  `gorm:"index"`
	Event     string `gorm:"size:50;not null"`
	Details   string `gorm:"type:text"`
}

func (ClientTimelineEntry) TableName() string { return "client_timeline" }

// City is a delivery/billing location an invoice may refer to.
type City struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Name      string `gorm:"size:255;not null"`
	Country   string `gorm:"size:2"`
}

func (c *City) BeforeSave(tx *gorm.DB) error {
	c.Country = countryCode(c.Country)
	return nil
}

// Product is the catalogue entry an invoice item may point at. The link is
// informational; items carry their own description and price.
type Product struct {
	gorm.Model
	Name        string          `gorm:"size:255;not null"`
	Description string          `gorm:"type:text"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"`
}

// countryCode returns the two letter alpha code for the given country name or
// code, or "" if it is unknown.
func countryCode(country string) string {
	country = strings.TrimSpace(country)
	if country == "" {
		return ""
	}
	c := countries.ByName(country)
	if c == countries.Unknown {
		return ""
	}
	return c.Alpha2()
}

func (s *Store) CreateClient(ctx context.Context, c *Client) error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", "is required")
	}
	if c.Status == "" {
		c.Status = ClientStatusLead
	}
	return classify("create client", s.db.WithContext(ctx).Create(c).Error)
}

func (s *Store) GetClient(ctx context.Context, id uint) (*Client, error) {
	var c Client
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "client", ID: id}
		}
		return nil, classify("get client", err)
	}
	return &c, nil
}

func (s *Store) CreateCity(ctx context.Context, c *City) error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", "is required")
	}
	return classify("create city", s.db.WithContext(ctx).Create(c).Error)
}

func (s *Store) CreateProduct(ctx context.Context, p *Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name", "is required")
	}
	return classify("create product", s.db.WithContext(ctx).Create(p).Error)
}

// markClientSubscriber moves the client of a new invoice to the subscriber
// status and records the change on its timeline.
func markClientSubscriber(tx *gorm.DB, clientID, invoiceID, userID uint) error {
	res := tx.Session(&gorm.Session{SkipHooks: true}).Model(&Client{}).
		Where("id = ? AND status <> ?", clientID, ClientStatusSubscriber).
		Update("status", ClientStatusSubscriber)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	return tx.Create(&ClientTimelineEntry{
		ClientID:  clientID,
		UserID:    userID,
		InvoiceID: &invoiceID,
		Event:     "status_changed",
		Details:   "status set to subscriber after invoice creation",
	}).Error
}
