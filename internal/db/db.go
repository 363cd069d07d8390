package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/pkg/config"
	"github.com/fedibird/fedimind/pkg/logging"
)

// ErrDuplicateURI is returned when a status with the same URI already exists
var ErrDuplicateURI = errors.New("status uri already exists")

// zapWriter adapts zap.Logger to logger.Writer interface
type zapWriter struct {
	logger *zap.Logger
}

func (w *zapWriter) Printf(format string, args ...interface{}) {
	w.logger.Sugar().Infof(format, args...)
}

// DB wraps GORM database connection
type DB struct {
	*gorm.DB
}

// New creates a new database connection
func New(cfg *config.DatabaseConfig, logLevel string) (*DB, error) {
	gormLogger := logger.New(
		&zapWriter{logger: logging.WithComponent("gorm")},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogLevel(logLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.GetLogger().Info("Database connection established")

	return &DB{DB: db}, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "DEBUG", "debug":
		return logger.Info
	case "INFO", "info":
		return logger.Warn
	case "WARN", "warn", "WARNING", "warning":
		return logger.Error
	case "ERROR", "error":
		return logger.Silent
	default:
		return logger.Warn
	}
}

// Migrate creates or updates every table used by the server
func (d *DB) Migrate(ctx context.Context) error {
	err := d.DB.WithContext(ctx).AutoMigrate(
		&models.Account{},
		&models.Conversation{},
		&models.Status{},
		&models.MediaAttachment{},
		&models.PreviewCard{},
		&models.Tag{},
		&models.StatusTag{},
		&models.Mention{},
		&models.StatusReference{},
		&models.PendingReference{},
		&models.Poll{},
		&models.PollVote{},
		&models.Follow{},
		&models.List{},
		&models.ListAccount{},
		&models.TagFollow{},
		&models.DomainSubscription{},
		&models.KeywordSubscription{},
		&models.Notification{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	if err := d.DB.WithContext(ctx).Exec("CREATE SEQUENCE IF NOT EXISTS " + nodeSequence).Error; err != nil {
		return fmt.Errorf("failed to create %s: %w", nodeSequence, err)
	}
	return nil
}

const nodeSequence = "snowflake_nodes"

// NextNodeID draws a process-wide id generator node from a shared
// sequence, so concurrently running processes embed distinct nodes
func (d *DB) NextNodeID(ctx context.Context) (int64, error) {
	var n int64
	if err := d.DB.WithContext(ctx).Raw("SELECT nextval('" + nodeSequence + "')").Scan(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to allocate node id: %w", err)
	}
	return n, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks database health
func (d *DB) Health(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
