package keyvalue

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DatabaseStore persists key-value entries using GORM.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseStore) Driver() string {
	return store.driverLabel
}

type entryRecord struct {
	EntryKey      string `gorm:"column:entry_key;primaryKey"`
	EntryValue    string `gorm:"column:entry_value;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (entryRecord) TableName() string {
	return "credential_entries"
}

// NewDatabaseStore constructs a GORM-backed store and migrates its table.
func NewDatabaseStore(ctx context.Context, databaseURL string) (*DatabaseStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("keyvalue.database.open: %w", errEmptyStoreURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("keyvalue.database.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&entryRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("keyvalue.database.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Get returns the value stored under key.
func (store *DatabaseStore) Get(ctx context.Context, key string) (string, bool, error) {
	if strings.TrimSpace(key) == "" {
		return "", false, fmt.Errorf("keyvalue.database.get.%s: %w", store.driverLabel, ErrEmptyKey)
	}
	var record entryRecord
	err := store.db.WithContext(ctx).Where("entry_key = ?", key).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("keyvalue.database.get.%s: %w", store.driverLabel, err)
	}
	return record.EntryValue, true, nil
}

// Set upserts value under key.
func (store *DatabaseStore) Set(ctx context.Context, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("keyvalue.database.set.%s: %w", store.driverLabel, ErrEmptyKey)
	}
	record := entryRecord{
		EntryKey:      key,
		EntryValue:    value,
		UpdatedAtUnix: time.Now().UTC().Unix(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at_unix"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("keyvalue.database.set.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Remove deletes key; removing an absent key succeeds.
func (store *DatabaseStore) Remove(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("keyvalue.database.remove.%s: %w", store.driverLabel, ErrEmptyKey)
	}
	if err := store.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&entryRecord{}).Error; err != nil {
		return fmt.Errorf("keyvalue.database.remove.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (store *DatabaseStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return fmt.Errorf("keyvalue.database.close.%s: %w", store.driverLabel, err)
	}
	return sqlDB.Close()
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("keyvalue.database.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("keyvalue.database.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("keyvalue.database.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("keyvalue.database.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedScheme)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
