// Package reconcile folds parsed feed records into the relational catalog.
// Each chunk of work commits in its own transaction; re-running an import
// against an unchanged database performs no writes. Batches assume a single
// writer; a concurrent writer surfaces as a constraint error and the job
// runner retries.
package reconcile

import (
	"errors"

	"gorm.io/gorm"

	"partsfeed/internal/catalog"
	"partsfeed/internal/logger"
	"partsfeed/internal/metrics"
)

var (
	// ErrMissingCategoryFeed means the catalog feed arrived before any
	// category lookup rows for the brand.
	ErrMissingCategoryFeed = errors.New("reconcile: no category lookup rows stored for brand")

	// ErrCategoryChanged means an existing product's lookup row now names a
	// different category. Reassignment is not supported; the import fails so
	// the mismatch gets looked at instead of silently moving the product.
	ErrCategoryChanged = errors.New("reconcile: product category changed between imports")
)

// Progress is the resumption checkpoint for one file's import. Chunk is the
// index of the next chunk to reconcile; a retried run passes the same
// Progress back in and already-committed chunks are skipped instead of
// re-reconciled.
type Progress struct {
	Chunk int
}

func (p *Progress) skip(seq int) bool { return seq < p.Chunk }

func (p *Progress) committed(seq int) { p.Chunk = seq + 1 }

// Sizes carries the chunking knobs, all in rows or distinct parts.
type Sizes struct {
	ProductChunk       int
	FitmentChunk       int
	CategoryChunk      int
	ScratchInsertChunk int
}

// Engine reconciles feed records into the catalog database.
type Engine struct {
	db    *gorm.DB
	log   *logger.Logger
	rec   *metrics.Recorder
	sizes Sizes

	assetTypeIDs    map[string]uint
	fuelTypeIDs     map[string]uint
	fuelDeliveryIDs map[string]uint
	aspirationIDs   map[string]uint
}

func New(db *gorm.DB, log *logger.Logger, rec *metrics.Recorder, sizes Sizes) *Engine {
	return &Engine{
		db:              db,
		log:             log.With("component", "reconcile"),
		rec:             rec,
		sizes:           sizes,
		assetTypeIDs:    map[string]uint{},
		fuelTypeIDs:     map[string]uint{},
		fuelDeliveryIDs: map[string]uint{},
		aspirationIDs:   map[string]uint{},
	}
}

// chunkTx runs one chunk of work in its own transaction. The id caches may
// hold rows first seen inside the transaction, so a rollback flushes them;
// a retry resolves the ids from the database again.
func (e *Engine) chunkTx(fn func(tx *gorm.DB) error) error {
	err := e.db.Transaction(fn)
	if err != nil {
		e.resetCaches()
	}
	return err
}

func (e *Engine) resetCaches() {
	e.assetTypeIDs = map[string]uint{}
	e.fuelTypeIDs = map[string]uint{}
	e.fuelDeliveryIDs = map[string]uint{}
	e.aspirationIDs = map[string]uint{}
}

// assetTypeID get-or-creates a digital asset type by name. Types are a tiny
// closed set, so ids are cached for the engine's lifetime.
func (e *Engine) assetTypeID(tx *gorm.DB, name string) (uint, error) {
	if id, ok := e.assetTypeIDs[name]; ok {
		return id, nil
	}
	row := catalog.DigitalAssetType{Name: name}
	if err := tx.Where("name = ?", name).FirstOrCreate(&row).Error; err != nil {
		return 0, err
	}
	e.assetTypeIDs[name] = row.ID
	return row.ID, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
