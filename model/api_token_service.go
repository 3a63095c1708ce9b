package model

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// CreateAPIToken creates a token for userID and returns its plaintext
// exactly once. scope defaults to "read write".
func (s *Store) CreateAPIToken(ctx context.Context, userID uint, name, scope string, expiresAt *time.Time) (plain string, rec *APIToken, err error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = ScopeRead + " " + ScopeWrite
	}
	if len(name) > 100 {
		return "", nil, invalid("name", "must be at most 100 characters")
	}
	if _, err = s.GetUserByID(ctx, userID); err != nil {
		return "", nil, err
	}
	plain, prefix, saltHex, hash, err := makeToken()
	if err != nil {
		return "", nil, classify("create api token", err)
	}
	rec = &APIToken{
		UserID:      userID,
		TokenPrefix: prefix,
		TokenHash:   hash,
		Salt:        saltHex,
		Name:        name,
		Scope:       scope,
		ExpiresAt:   expiresAt,
	}
	if err = s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return "", nil, classify("create api token", err)
	}
	return plain, rec, nil
}

// ValidateAPIToken verifies a raw bearer token.
//
// The token is looked up by its prefix and the salted hash is compared in
// constant time. Disabled and expired tokens are rejected. last_used_at is
// updated best effort.
func (s *Store) ValidateAPIToken(ctx context.Context, raw string) (*APIToken, error) {
	if len(raw) < 12 {
		return nil, ErrTokenInvalid
	}
	prefix := raw[:8]

	var candidates []APIToken
	if err := s.db.WithContext(ctx).Where("token_prefix = ?", prefix).Find(&candidates).Error; err != nil {
		return nil, classify("validate api token", err)
	}
	if len(candidates) == 0 {
		return nil, ErrTokenNotFound
	}

	var rec *APIToken
	for i := range candidates {
		salt, err := hex.DecodeString(candidates[i].Salt)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hashToken(salt, raw)), []byte(candidates[i].TokenHash)) == 1 {
			rec = &candidates[i]
			break
		}
	}
	if rec == nil {
		return nil, ErrTokenInvalid
	}
	if rec.Disabled {
		return nil, ErrTokenDisabled
	}
	now := s.now()
	if rec.ExpiresAt != nil && now.After(*rec.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	_ = s.db.WithContext(ctx).Model(&APIToken{}).Where("id = ?", rec.ID).UpdateColumn("last_used_at", now).Error
	return rec, nil
}

// RevokeAPIToken disables a token of userID.
func (s *Store) RevokeAPIToken(ctx context.Context, userID, tokenID uint) error {
	res := s.db.WithContext(ctx).Model(&APIToken{}).
		Where("id = ? AND user_id = ?", tokenID, userID).
		Update("disabled", true)
	if res.Error != nil {
		return classify("revoke api token", res.Error)
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Entity: "api token", ID: tokenID}
	}
	return nil
}

// ListAPITokens returns the tokens of userID, newest first.
func (s *Store) ListAPITokens(ctx context.Context, userID uint, page, perPage int) (*Page[APIToken], error) {
	page, perPage = normalizePage(page, perPage)
	q := s.db.WithContext(ctx).Model(&APIToken{}).Where("user_id = ?", userID).Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, classify("list api tokens", err)
	}
	var rows []APIToken
	if err := q.Order("created_at desc, id desc").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&rows).Error; err != nil {
		return nil, classify("list api tokens", err)
	}
	return newPage(rows, total, page, perPage), nil
}

// GetAPIToken loads a token of userID.
func (s *Store) GetAPIToken(ctx context.Context, userID, tokenID uint) (*APIToken, error) {
	var t APIToken
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", tokenID, userID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "api token", ID: tokenID}
		}
		return nil, classify("get api token", err)
	}
	return &t, nil
}
