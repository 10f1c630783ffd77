package db

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User is a dashboard user. IsAdmin grants the "manage store" capability
// required by the sync endpoints. The bootstrap admin (from env) is created
// as a row in this table on startup.
type User struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255;not null"`

	IsAdmin bool `gorm:"default:false"`
}

func (User) TableName() string { return "datalens_users" }

// CanManageStore reports whether the user may trigger order syncs.
func (u *User) CanManageStore() bool {
	return u != nil && u.IsAdmin
}

// CreateUser stores a user with a bcrypt hash of password.
func CreateUser(ctx context.Context, db *gorm.DB, username, password string, isAdmin bool) (*User, error) {
	if username == "" || password == "" {
		return nil, errors.New("username and password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &User{Username: username, PasswordHash: string(hash), IsAdmin: isAdmin}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate returns the user whose credentials match, or nil.
func Authenticate(ctx context.Context, db *gorm.DB, username, password string) (*User, error) {
	var u User
	err := db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, nil
	}
	return &u, nil
}
