// Package store opens the catalog database and provides the keyed bulk
// get-or-create primitive every reconciliation stage is built on.
package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"partsfeed/internal/catalog"
	"partsfeed/internal/logger"
)

// Open connects to Postgres and returns the gorm handle. SQL-level logging
// stays off; the application logs at the chunk level instead.
func Open(dsn string, log *logger.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	log.Info("connected to catalog database")
	return db, nil
}

// AutoMigrate creates or updates every catalog table in dependency order.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&catalog.DigitalAssetType{},
		&catalog.DigitalAsset{},
		&catalog.Brand{},
		&catalog.ProductLine{},
		&catalog.Category{},
		&catalog.Product{},
		&catalog.ProductFeature{},
		&catalog.Attribute{},
		&catalog.AttributeValue{},
		&catalog.ProductAttribute{},
		&catalog.ProductPackaging{},
		&catalog.ProductDigitalAsset{},
		&catalog.ProductCategoryLookup{},
		&catalog.VehicleMake{},
		&catalog.VehicleModel{},
		&catalog.VehicleSubModel{},
		&catalog.FuelType{},
		&catalog.FuelDelivery{},
		&catalog.EngineAspiration{},
		&catalog.VehicleEngine{},
		&catalog.Vehicle{},
		&catalog.VehicleYear{},
		&catalog.ProductFitment{},
		&catalog.ImportTracking{},
	)
}
