package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// NormalizeEmail lowercases and trims the email string
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

var (
	ErrInvalidPassword = fmt.Errorf("invalid password")
	ErrTokenExpired    = fmt.Errorf("token expired")
	ErrTokenInvalid    = fmt.Errorf("token invalid")
	ErrTokenNotFound   = fmt.Errorf("token not found")
	ErrTokenDisabled   = fmt.Errorf("token disabled")
	ErrUnauthorized    = fmt.Errorf("unauthorized")
)

// User is an operator of the CRM. Users record invoices and payments and own
// API tokens.
type User struct {
	gorm.Model
	Email       string `gorm:"size:255;uniqueIndex;not null"` // always stored lowercase
	FullName    string `gorm:"size:255"`
	Password    string `gorm:"size:100;not null"`
	LastLoginAt *time.Time
}

// Normalize email before saving
func (u *User) BeforeSave(tx *gorm.DB) error {
	u.Email = NormalizeEmail(u.Email)
	return nil
}

// SetPassword stores the bcrypt hash of password.
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) == nil
}

// CreateUser adds a user with a hashed password.
func (s *Store) CreateUser(ctx context.Context, email, fullName, password string) (*User, error) {
	email = NormalizeEmail(email)
	ve := &ValidationError{}
	if email == "" || !strings.Contains(email, "@") {
		ve.Add("email", "must be a valid email address")
	}
	if len(password) < 8 {
		ve.Add("password", "must be at least 8 characters")
	}
	if err := ve.orNil(); err != nil {
		return nil, err
	}
	u := &User{Email: email, FullName: strings.TrimSpace(fullName)}
	if err := u.SetPassword(password); err != nil {
		return nil, classify("create user", err)
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return nil, classify("create user", err)
	}
	if n > 0 {
		return nil, invalid("email", "is already taken")
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, classify("create user", err)
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id uint) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "user", ID: id}
		}
		return nil, classify("get user", err)
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "user"}
		}
		return nil, classify("get user", err)
	}
	return &user, nil
}

// AuthenticateUser checks email and password and records the login time.
func (s *Store) AuthenticateUser(ctx context.Context, email, password string) (*User, error) {
	u, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidPassword
		}
		return nil, err
	}
	if !u.CheckPassword(password) {
		return nil, ErrInvalidPassword
	}
	now := s.now().UTC()
	u.LastLoginAt = &now
	if err = s.db.WithContext(ctx).Model(u).UpdateColumn("last_login_at", now).Error; err != nil {
		return nil, classify("authenticate user", err)
	}
	return u, nil
}
