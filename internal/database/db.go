package database

import (
	"fmt"

	"dojo-backend/internal/config"
	"dojo-backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init opens the Postgres connection, migrates and stores the handle in DB.
func Init(cfg *config.Config, log *zap.Logger) error {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), Options())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := Migrate(db, log); err != nil {
		return err
	}
	DB = db
	log.Info("database connected, migration finished")
	return nil
}

// Options is shared by the server and tests so both translate driver errors
// (unique violations become gorm.ErrDuplicatedKey).
func Options() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
}

// Models lists every table in dependency order.
func Models() []any {
	return []any{
		&models.Dojo{},
		&models.User{},
		&models.Member{},
		&models.Contract{},
		&models.Contribution{},
		&models.SepaMandate{},
		&models.CreditorAccount{},
		&models.CollectionBatch{},
		&models.CollectionItem{},
		&models.CollectionLock{},
		&models.Invoice{},
		&models.InvoiceLine{},
		&models.FeeInvoice{},
		&models.InvoiceCounter{},
		&models.Payment{},
		&models.ProcessorEvent{},
		&models.AuditLog{},
	}
}

func Migrate(db *gorm.DB, log *zap.Logger) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// Older rows may predate the minimum term column default.
	res := db.Model(&models.Contract{}).
		Where("minimum_term_months IS NULL OR minimum_term_months <= 0").
		Update("minimum_term_months", models.DefaultMinimumTermMonths)
	if res.Error != nil {
		log.Warn("backfill minimum_term_months failed", zap.Error(res.Error))
	} else if res.RowsAffected > 0 {
		log.Info("backfilled minimum_term_months", zap.Int64("rows", res.RowsAffected))
	}

	return nil
}
