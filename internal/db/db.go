package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"datalens/internal/config"
)

var (
	// ErrNotProvisioned is returned when a backing table does not exist yet.
	ErrNotProvisioned = errors.New("store not provisioned")

	// ErrDuplicateOrder is returned when an insert hits the unique order_id key.
	ErrDuplicateOrder = errors.New("order already mirrored")
)

// Connect opens a GORM connection using APP_DATABASE_URL and migrates the schema.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	db, err := Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Open opens a connection without migrating. Supported URL schemes are
// postgres://, postgresql://, mysql:// and sqlite://.
func Open(rawURL string) (*gorm.DB, error) {
	dsn := strings.TrimSpace(rawURL)
	if dsn == "" {
		return nil, errors.New("database URL is required")
	}

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	case strings.HasPrefix(dsn, "mysql://"):
		// go-sql-driver wants user:pass@tcp(host)/db?parseTime=true
		dialector = mysql.Open(mysqlDSN(strings.TrimPrefix(dsn, "mysql://")))
	case strings.HasPrefix(dsn, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	default:
		return nil, errors.New("database URL must be a postgres://, mysql:// or sqlite:// URL")
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	// TranslateError maps unique violations to gorm.ErrDuplicatedKey on every dialect.
	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func mysqlDSN(rest string) string {
	// user:pass@host:port/db?x=y -> user:pass@tcp(host:port)/db?x=y&parseTime=true
	at := strings.LastIndex(rest, "@")
	creds, hostPath := "", rest
	if at >= 0 {
		creds, hostPath = rest[:at+1], rest[at+1:]
	}
	host, path := hostPath, ""
	if slash := strings.Index(hostPath, "/"); slash >= 0 {
		host, path = hostPath[:slash], hostPath[slash:]
	}
	if !strings.HasPrefix(host, "tcp(") && !strings.HasPrefix(host, "unix(") {
		host = "tcp(" + host + ")"
	}
	dsn := creds + host + path
	if !strings.Contains(dsn, "parseTime=") {
		if strings.Contains(dsn, "?") {
			dsn += "&parseTime=true"
		} else {
			dsn += "?parseTime=true"
		}
	}
	return dsn
}

// Migrate creates or updates every table the core uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Event{}, &OrderRecord{}, &OrderItem{}, &ProductView{}, &Option{}, &User{})
}

// TableStatus reports, per table name, whether the core table exists.
func TableStatus(db *gorm.DB) map[string]bool {
	m := db.Migrator()
	return map[string]bool{
		Event{}.TableName():       m.HasTable(&Event{}),
		OrderRecord{}.TableName(): m.HasTable(&OrderRecord{}),
		OrderItem{}.TableName():   m.HasTable(&OrderItem{}),
		ProductView{}.TableName(): m.HasTable(&ProductView{}),
		Option{}.TableName():      m.HasTable(&Option{}),
	}
}

// EnsureBootstrapAdmin makes sure there is at least one admin user
// corresponding to the bootstrap credentials in config. If a user with
// that username already exists, it is left as-is.
func EnsureBootstrapAdmin(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil
	}

	var count int64
	if err := db.WithContext(ctx).Model(&User{}).Where("username = ?", cfg.AdminUser).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	_, err := CreateUser(ctx, db, cfg.AdminUser, cfg.AdminPassword, true)
	return err
}
