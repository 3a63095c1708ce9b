package model

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Token scopes. A token with "write" may also read.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// APIToken authenticates API calls on behalf of a user. Only a salted hash
// of the token is stored.
type APIToken struct {
	gorm.Model
	UserID      uint   `gorm:"index;not null"`
	TokenPrefix string `gorm:"size:16;index;not null"`
	TokenHash   string `gorm:"size:64;uniqueIndex;not null"`
	Salt        string `gorm:"size:64;not null"`

	Name       string `gorm:"size:100"`
	Scope      string `gorm:"size:200"`
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	Disabled   bool `gorm:"not null;default:false"`
}

func (APIToken) TableName() string { return "api_tokens" }

// HasScope reports whether the token grants scope. Scopes are separated by
// spaces or commas.
func (t *APIToken) HasScope(scope string) bool {
	scopes := strings.FieldsFunc(t.Scope, func(r rune) bool { return r == ' ' || r == ',' })
	if slices.Contains(scopes, scope) {
		return true
	}
	return scope == ScopeRead && slices.Contains(scopes, ScopeWrite)
}

// makeToken is the only place that creates random token material.
func makeToken() (plain, prefix, saltHex, tokenHash string, err error) {
	// 32 random bytes, URL safe without '='
	randBytes := make([]byte, 32)
	if _, e := rand.Read(randBytes); e != nil {
		return "", "", "", "", e
	}
	plain = base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(randBytes)
	if len(plain) < 8 {
		return "", "", "", "", errors.New("token generation failed")
	}
	prefix = plain[:8]

	salt := make([]byte, 16)
	if _, e := rand.Read(salt); e != nil {
		return "", "", "", "", e
	}
	saltHex = hex.EncodeToString(salt)
	tokenHash = hashToken(salt, plain)
	return
}

func hashToken(salt []byte, plain string) string {
	h := sha256.Sum256(append(salt, []byte(plain)...))
	return hex.EncodeToString(h[:])
}
