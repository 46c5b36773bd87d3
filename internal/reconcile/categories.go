package reconcile

import (
	"fmt"
	"io"

	"gorm.io/gorm"

	"partsfeed/internal/catalog"
	"partsfeed/internal/metrics"
	"partsfeed/internal/parser/piesflat"
	"partsfeed/internal/store"
	"partsfeed/pkg/records"
)

// ImportCategoryLookup reconciles the category lookup feed for one brand.
// Categories from this feed are a flat list of root nodes; the lookup rows
// bind (brand, category, part number) so the catalog import can place
// products later.
func (e *Engine) ImportCategoryLookup(src io.Reader, brandShortName string, prog *Progress) error {
	if prog == nil {
		prog = &Progress{}
	}
	e.log.Info("storing category lookup", "brand", brandShortName)
	seq := 0
	return piesflat.ForEachChunk(src, brandShortName, e.sizes.CategoryChunk, func(chunk piesflat.Chunk) error {
		defer func() { seq++ }()
		if prog.skip(seq) {
			return nil
		}
		err := e.chunkTx(func(tx *gorm.DB) error {
			return e.storeCategoryChunk(tx, brandShortName, chunk)
		})
		if err == nil {
			prog.committed(seq)
		}
		return err
	})
}

func (e *Engine) storeCategoryChunk(tx *gorm.DB, brandShortName string, chunk piesflat.Chunk) error {
	names := make([]string, 0, len(chunk.Categories))
	candidates := make(map[records.Key]*catalog.Category, len(chunk.Categories))
	for name := range chunk.Categories {
		names = append(names, name)
		candidates[records.MakeKey(name)] = &catalog.Category{Name: name}
	}

	categories := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB { return q.Where("name IN ? AND parent_id IS NULL", names) },
		func(c *catalog.Category) records.Key { return records.MakeKey(c.Name) },
	)
	categoryIDs, err := categories.BulkGetOrCreate(tx, candidates)
	if err != nil {
		return fmt.Errorf("reconcile: categories: %w", err)
	}
	e.rec.Add("category", metrics.OpInsert, categories.Created())

	lookupCandidates := make(map[records.Key]*catalog.ProductCategoryLookup, len(chunk.Entries))
	for key, entry := range chunk.Entries {
		lookupCandidates[key] = &catalog.ProductCategoryLookup{
			BrandShortName: entry.BrandShortName,
			CategoryID:     categoryIDs[records.MakeKey(entry.Category)],
			PartNumber:     entry.PartNumber,
		}
	}
	parts := make([]string, 0, len(chunk.PartNumbers))
	for p := range chunk.PartNumbers {
		parts = append(parts, p)
	}
	lookups := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB {
			return q.Joins("Category").
				Where("brand_short_name = ? AND part_number IN ?", brandShortName, parts)
		},
		func(l *catalog.ProductCategoryLookup) records.Key {
			return records.MakeKey(l.BrandShortName, l.Category.Name, l.PartNumber)
		},
	)
	if _, err := lookups.BulkGetOrCreate(tx, lookupCandidates); err != nil {
		return fmt.Errorf("reconcile: category lookup rows: %w", err)
	}
	e.rec.Add("category_lookup", metrics.OpInsert, lookups.Created())
	return nil
}
