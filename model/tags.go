package model

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/*
Tag is a reusable label for invoices. We store both the display name (Name)
and a normalized version (Norm) to enforce cross-DB case-insensitive uniqueness.
*/
type Tag struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Name      string `gorm:"size:128;not null;index"`
	Norm      string `gorm:"size:128;not null;uniqueIndex"`
	Color     string `gorm:"size:7"`
}

func (Tag) TableName() string { return "tags" }

// invoiceTag is a row of the invoice_tags join table.
type invoiceTag struct {
	InvoiceID uint `gorm:"primaryKey"`
	TagID     uint `gorm:"primaryKey"`
}

func (invoiceTag) TableName() string { return "invoice_tags" }

// TagInput creates a tag.
type TagInput struct {
	Name  string `json:"name" validate:"required,max=128"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

// normalizeTag turns a user-facing name into its canonical Norm string.
func normalizeTag(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

/*
CreateTag returns the tag with the given name, creating it if needed. It is
safe under concurrent calls (uses INSERT ... DO NOTHING); an existing tag
keeps its color.
*/
func (s *Store) CreateTag(ctx context.Context, in TagInput) (*Tag, error) {
	in.Name = strings.TrimSpace(in.Name)
	if ve := validateStruct(in); ve != nil {
		return nil, ve
	}
	norm := normalizeTag(in.Name)
	var tag Tag
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "norm"}},
			DoNothing: true,
		}).Create(&Tag{Name: in.Name, Norm: norm, Color: in.Color}).Error; err != nil {
			return err
		}
		return tx.Where("norm = ?", norm).First(&tag).Error
	})
	if err != nil {
		return nil, classify("create tag", err)
	}
	return &tag, nil
}

// ListTags returns all tags ordered by name.
func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	var out []Tag
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&out).Error; err != nil {
		return nil, classify("list tags", err)
	}
	return out, nil
}

// SuggestTags returns tags whose normalized form starts with the given prefix,
// ordered by display name. If limit <= 0, a sensible default is used.
func (s *Store) SuggestTags(ctx context.Context, prefix string, limit int) ([]Tag, error) {
	prefix = normalizeTag(prefix)
	if prefix == "" {
		return []Tag{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	prefix = likeEscaper.Replace(prefix)

	var out []Tag
	err := s.db.WithContext(ctx).
		Where("norm LIKE ? ESCAPE '!'", prefix+"%").
		Order("name ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, classify("suggest tags", err)
	}
	return out, nil
}

// likeEscaper escapes LIKE wildcards with '!' (a backslash would need
// different quoting on MySQL).
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// checkTagIDs reports every id in ids that has no tag row.
func checkTagIDs(tx *gorm.DB, ids []uint, field string) (*ValidationError, error) {
	ids = uniqueUint(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	var found []uint
	if err := tx.Model(&Tag{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	missing := diffUint(ids, found)
	if len(missing) == 0 {
		return nil, nil
	}
	ve := &ValidationError{}
	for _, id := range missing {
		ve.Add(field, "unknown tag id "+strconv.FormatUint(uint64(id), 10))
	}
	return ve, nil
}

// replaceInvoiceTags hard-deletes the current links of an invoice, then
// inserts the new set.
func replaceInvoiceTags(tx *gorm.DB, invoiceID uint, tagIDs []uint) error {
	if err := tx.Where("invoice_id = ?", invoiceID).Delete(&invoiceTag{}).Error; err != nil {
		return err
	}
	tagIDs = uniqueUint(tagIDs)
	if len(tagIDs) == 0 {
		return nil
	}
	links := make([]invoiceTag, 0, len(tagIDs))
	for _, id := range tagIDs {
		links = append(links, invoiceTag{InvoiceID: invoiceID, TagID: id})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
}

// diffUint returns elements in a that are not in b.
func diffUint(a, b []uint) []uint {
	if len(a) == 0 {
		return nil
	}
	m := make(map[uint]struct{}, len(b))
	for _, x := range b {
		m[x] = struct{}{}
	}
	var out []uint
	for _, x := range a {
		if _, ok := m[x]; !ok {
			out = append(out, x)
		}
	}
	return out
}

func uniqueUint(in []uint) []uint {
	seen := make(map[uint]struct{}, len(in))
	out := make([]uint, 0, len(in))
	for _, x := range in {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}

// GetTag loads one tag.
func (s *Store) GetTag(ctx context.Context, id uint) (*Tag, error) {
	var t Tag
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "tag", ID: id}
		}
		return nil, classify("get tag", err)
	}
	return &t, nil
}
