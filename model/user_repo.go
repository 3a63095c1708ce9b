package model

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

// ListUsers returns a page of users filtered by query `q` (matches email or full name, case-insensitive).
func (s *Store) ListUsers(ctx context.Context, q string, page, perPage int) (*Page[User], error) {
	page, perPage = normalizePage(page, perPage)
	db := s.db.WithContext(ctx).Model(&User{})

	if q = strings.TrimSpace(q); q != "" {
		like := "%" + likeEscaper.Replace(strings.ToLower(q)) + "%"
		db = db.Where("LOWER(email) LIKE ? ESCAPE '!' OR LOWER(full_name) LIKE ? ESCAPE '!'", like, like)
	}
	db = db.Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, classify("list users", err)
	}
	var users []User
	if err := db.Order("created_at DESC, id DESC").Offset((page - 1) * perPage).Limit(perPage).Find(&users).Error; err != nil {
		return nil, classify("list users", err)
	}
	return newPage(users, total, page, perPage), nil
}
