package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/internal/pkg/env"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DB is the shared connection, set by SetupDatabase.
var DB *gorm.DB

// Models lists every table the service owns.
func Models() []interface{} {
	return []interface{}{
		&models.PaymentRecord{},
		&models.WebhookEvent{},
		&models.AuditLogEntry{},
		&models.Subscription{},
		&models.UserEntitlement{},
		&models.UsageRecord{},
		&models.APIKeyUsage{},
	}
}

// DSN builds the MySQL data source name from DB_* variables.
func DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)
}

// SetupDatabase connects with retries. In dev the schema is auto-migrated;
// elsewhere cmd/migrate owns it.
func SetupDatabase() error {
	var err error
	level := gormlogger.Warn
	if env.IsDev() {
		level = gormlogger.Info
	}

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       DSN(),
			DefaultStringSize:         256,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			// unique violations surface as gorm.ErrDuplicatedKey
			TranslateError: true,
			Logger:         gormlogger.Default.LogMode(level),
			NowFunc:        func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			if env.IsDev() {
				if err := DB.AutoMigrate(Models()...); err != nil {
					return fmt.Errorf("auto migrate: %w", err)
				}
			}
			return nil
		}

		logger.Log.Warn("failed to connect to database",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err),
		)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return fmt.Errorf("connect database: %w", err)
}

// GetDB returns the shared connection.
func GetDB() *gorm.DB {
	return DB
}

// Close releases the underlying connection pool.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
