package reconcile

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"partsfeed/internal/catalog"
	"partsfeed/internal/metrics"
	"partsfeed/internal/parser/pies"
	"partsfeed/internal/store"
	"partsfeed/pkg/records"
)

// ImportCatalog reconciles one brand's PIES catalog document. The category
// lookup feed for the brand must already be stored.
func (e *Engine) ImportCatalog(src io.Reader, brandShortName string, prog *Progress) error {
	if prog == nil {
		prog = &Progress{}
	}
	scanner := pies.NewScanner(src, brandShortName)
	brandRec, err := scanner.Brand()
	if err != nil {
		return err
	}
	e.log.Info("storing catalog", "brand", brandRec.Name)

	var lookupCount int64
	if err := e.db.Model(&catalog.ProductCategoryLookup{}).
		Where("brand_short_name = ?", brandShortName).
		Count(&lookupCount).Error; err != nil {
		return fmt.Errorf("reconcile: count category lookups: %w", err)
	}
	if lookupCount == 0 {
		return fmt.Errorf("%w %s", ErrMissingCategoryFeed, brandShortName)
	}

	var brandID uint
	if err := e.chunkTx(func(tx *gorm.DB) error {
		brandID, err = e.upsertBrand(tx, brandRec)
		return err
	}); err != nil {
		return err
	}

	batch := make([]records.ProductRecord, 0, e.sizes.ProductChunk)
	seq := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		defer func() { seq++ }()
		if prog.skip(seq) {
			batch = batch[:0]
			return nil
		}
		err := e.chunkTx(func(tx *gorm.DB) error {
			return e.storeProductChunk(tx, brandID, brandShortName, batch)
		})
		batch = batch[:0]
		if err == nil {
			prog.committed(seq)
		}
		return err
	}
	for {
		product, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		batch = append(batch, product)
		if len(batch) == e.sizes.ProductChunk {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// upsertBrand creates the brand with its logo asset on first sight. Brand
// rows are never updated from the feed after creation.
func (e *Engine) upsertBrand(tx *gorm.DB, rec records.BrandRecord) (uint, error) {
	var existing catalog.Brand
	err := tx.Where("name = ?", rec.Name).First(&existing).Error
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("reconcile: find brand: %w", err)
	}

	brand := catalog.Brand{
		Name:          rec.Name,
		ShortName:     rec.ShortName,
		MarketingCopy: rec.MarketingCopy,
	}
	if rec.Logo != nil {
		typeID, err := e.assetTypeID(tx, "Brand Logo")
		if err != nil {
			return 0, fmt.Errorf("reconcile: asset type: %w", err)
		}
		logo := catalog.DigitalAsset{TypeID: typeID, URL: rec.Logo.URL, FileSizeBytes: rec.Logo.FileSizeBytes}
		if err := tx.Create(&logo).Error; err != nil {
			return 0, fmt.Errorf("reconcile: create brand logo: %w", err)
		}
		brand.LogoID = &logo.ID
	}
	if err := tx.Create(&brand).Error; err != nil {
		return 0, fmt.Errorf("reconcile: create brand: %w", err)
	}
	e.rec.Add("brand", metrics.OpInsert, 1)
	return brand.ID, nil
}

// relTarget is one product whose related collections need (re)creating
// inside the current chunk transaction.
type relTarget struct {
	productID  uint
	categoryID uint
	rec        records.ProductRecord

	features bool
	attrs    bool
	packages bool
	assets   bool
}

func (e *Engine) storeProductChunk(tx *gorm.DB, brandID uint, brandShortName string, batch []records.ProductRecord) error {
	byPart := make(map[string]records.ProductRecord, len(batch))
	parts := make([]string, 0, len(batch))
	for _, p := range batch {
		byPart[p.PartNumber] = p
		parts = append(parts, p.PartNumber)
	}

	categoryByPart, err := e.categoryLookup(tx, brandShortName, parts)
	if err != nil {
		return err
	}

	var existing []*catalog.Product
	if err := tx.
		Preload("Features").
		Preload("Attributes.Attribute").
		Preload("Attributes.Value").
		Preload("Packages").
		Preload("DigitalAssets.DigitalAsset.Type").
		Where("brand_id = ? AND part_number IN ?", brandID, parts).
		Find(&existing).Error; err != nil {
		return fmt.Errorf("reconcile: load existing products: %w", err)
	}

	targets := make([]relTarget, 0, len(batch))
	toCreate := byPart
	for _, row := range existing {
		in := toCreate[row.PartNumber]
		delete(toCreate, row.PartNumber)

		diff, err := diffProduct(row, in, categoryByPart[row.PartNumber])
		if err != nil {
			return err
		}
		if !diff.any() {
			continue
		}
		if diff.scalarChanged {
			if err := tx.Omit(clause.Associations).Save(row).Error; err != nil {
				return fmt.Errorf("reconcile: update product %s: %w", row.PartNumber, err)
			}
			e.rec.Add("product", metrics.OpUpdate, 1)
		}
		if err := e.dropReplacedCollections(tx, row.ID, diff); err != nil {
			return err
		}
		targets = append(targets, relTarget{
			productID:  row.ID,
			categoryID: row.CategoryID,
			rec:        in,
			features:   diff.replaceFeatures,
			attrs:      diff.replaceAttrs,
			packages:   diff.replacePackages,
			assets:     diff.replaceAssets,
		})
	}

	created, err := e.createProducts(tx, brandID, toCreate, categoryByPart)
	if err != nil {
		return err
	}
	targets = append(targets, created...)

	return e.createRelationships(tx, targets)
}

func (e *Engine) categoryLookup(tx *gorm.DB, brandShortName string, parts []string) (map[string]uint, error) {
	var rows []catalog.ProductCategoryLookup
	if err := tx.Where("brand_short_name = ? AND part_number IN ?", brandShortName, parts).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reconcile: load category lookups: %w", err)
	}
	out := make(map[string]uint, len(rows))
	for _, r := range rows {
		out[r.PartNumber] = r.CategoryID
	}
	return out, nil
}

// createProducts bulk-inserts new products that have a category assignment,
// then requeries for their generated ids. Products without a lookup row are
// logged and skipped.
func (e *Engine) createProducts(tx *gorm.DB, brandID uint, toCreate map[string]records.ProductRecord, categoryByPart map[string]uint) ([]relTarget, error) {
	rows := make([]*catalog.Product, 0, len(toCreate))
	for part, in := range toCreate {
		categoryID, ok := categoryByPart[part]
		if !ok {
			e.log.Warn("no category info for part, skipping", "part", part)
			continue
		}
		rows = append(rows, &catalog.Product{
			PartNumber:     in.PartNumber,
			Name:           in.Name,
			BrandID:        brandID,
			IsHazardous:    in.IsHazardous,
			IsCarbLegal:    in.IsCarbLegal,
			IsDiscontinued: in.IsDiscontinued,
			IsObsolete:     in.IsObsolete,
			IsSuperseded:   in.IsSuperseded,
			SupersededBy:   strPtr(in.SupersededBy),
			MapPrice:       in.MapPrice,
			RetailPrice:    in.RetailPrice,
			CategoryID:     categoryID,
		})
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("reconcile: bulk create products: %w", err)
	}
	e.rec.Add("product", metrics.OpInsert, len(rows))

	createdParts := make([]string, len(rows))
	for i, r := range rows {
		createdParts[i] = r.PartNumber
	}
	var requeried []catalog.Product
	if err := tx.Where("brand_id = ? AND part_number IN ?", brandID, createdParts).
		Find(&requeried).Error; err != nil {
		return nil, fmt.Errorf("reconcile: requery created products: %w", err)
	}
	targets := make([]relTarget, 0, len(requeried))
	for _, r := range requeried {
		targets = append(targets, relTarget{
			productID:  r.ID,
			categoryID: r.CategoryID,
			rec:        toCreate[r.PartNumber],
			features:   true,
			attrs:      true,
			packages:   true,
			assets:     true,
		})
	}
	return targets, nil
}

func (e *Engine) dropReplacedCollections(tx *gorm.DB, productID uint, diff productDiff) error {
	drop := func(entity string, model any, do bool) error {
		if !do {
			return nil
		}
		res := tx.Where("product_id = ?", productID).Delete(model)
		if res.Error != nil {
			return fmt.Errorf("reconcile: clear %s: %w", entity, res.Error)
		}
		e.rec.Add(entity, metrics.OpDelete, int(res.RowsAffected))
		return nil
	}
	if err := drop("product_feature", &catalog.ProductFeature{}, diff.replaceFeatures); err != nil {
		return err
	}
	if err := drop("product_attribute", &catalog.ProductAttribute{}, diff.replaceAttrs); err != nil {
		return err
	}
	if err := drop("product_packaging", &catalog.ProductPackaging{}, diff.replacePackages); err != nil {
		return err
	}
	return drop("product_digital_asset", &catalog.ProductDigitalAsset{}, diff.replaceAssets)
}

func (e *Engine) createRelationships(tx *gorm.DB, targets []relTarget) error {
	if len(targets) == 0 {
		return nil
	}
	if err := e.createFeatures(tx, targets); err != nil {
		return err
	}
	if err := e.createAttributes(tx, targets); err != nil {
		return err
	}
	if err := e.createAssets(tx, targets); err != nil {
		return err
	}
	return e.createPackaging(tx, targets)
}

func (e *Engine) createFeatures(tx *gorm.DB, targets []relTarget) error {
	var rows []catalog.ProductFeature
	for _, t := range targets {
		if !t.features {
			continue
		}
		for idx, name := range t.rec.Features {
			rows = append(rows, catalog.ProductFeature{Name: name, ListingSequence: idx, ProductID: t.productID})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("reconcile: create features: %w", err)
	}
	e.rec.Add("product_feature", metrics.OpInsert, len(rows))
	return nil
}

// createAttributes upserts the category-scoped attribute and value
// dimensions first, then links products to them.
func (e *Engine) createAttributes(tx *gorm.DB, targets []relTarget) error {
	attrCandidates := map[records.Key]*catalog.Attribute{}
	var names []string
	var categoryIDs []uint
	for _, t := range targets {
		if !t.attrs || len(t.rec.Attributes) == 0 {
			continue
		}
		categoryIDs = append(categoryIDs, t.categoryID)
		for _, a := range t.rec.Attributes {
			key := attrKey(t.categoryID, a.Name)
			if _, ok := attrCandidates[key]; !ok {
				attrCandidates[key] = &catalog.Attribute{Name: a.Name, CategoryID: t.categoryID}
				names = append(names, a.Name)
			}
		}
	}
	if len(attrCandidates) == 0 {
		return nil
	}

	attrs := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB { return q.Where("name IN ? AND category_id IN ?", names, categoryIDs) },
		func(a *catalog.Attribute) records.Key { return attrKey(a.CategoryID, a.Name) },
	)
	attrIDs, err := attrs.BulkGetOrCreate(tx, attrCandidates)
	if err != nil {
		return fmt.Errorf("reconcile: attributes: %w", err)
	}
	e.rec.Add("attribute", metrics.OpInsert, attrs.Created())

	valueCandidates := map[records.Key]*catalog.AttributeValue{}
	var values []string
	for _, t := range targets {
		if !t.attrs {
			continue
		}
		for _, a := range t.rec.Attributes {
			attributeID := attrIDs[attrKey(t.categoryID, a.Name)]
			key := valueKey(attributeID, a.Value)
			if _, ok := valueCandidates[key]; !ok {
				valueCandidates[key] = &catalog.AttributeValue{AttributeID: attributeID, Value: a.Value}
				values = append(values, a.Value)
			}
		}
	}
	attrValues := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB { return q.Where("value IN ? AND attribute_id IN ?", values, mapValues(attrIDs)) },
		func(v *catalog.AttributeValue) records.Key { return valueKey(v.AttributeID, v.Value) },
	)
	valueIDs, err := attrValues.BulkGetOrCreate(tx, valueCandidates)
	if err != nil {
		return fmt.Errorf("reconcile: attribute values: %w", err)
	}
	e.rec.Add("attribute_value", metrics.OpInsert, attrValues.Created())

	var links []catalog.ProductAttribute
	for _, t := range targets {
		if !t.attrs {
			continue
		}
		for _, a := range t.rec.Attributes {
			attributeID := attrIDs[attrKey(t.categoryID, a.Name)]
			links = append(links, catalog.ProductAttribute{
				ProductID:   t.productID,
				AttributeID: attributeID,
				ValueID:     valueIDs[valueKey(attributeID, a.Value)],
			})
		}
	}
	if len(links) == 0 {
		return nil
	}
	if err := tx.Create(&links).Error; err != nil {
		return fmt.Errorf("reconcile: create product attributes: %w", err)
	}
	e.rec.Add("product_attribute", metrics.OpInsert, len(links))
	return nil
}

func (e *Engine) createAssets(tx *gorm.DB, targets []relTarget) error {
	assetCandidates := map[records.Key]*catalog.DigitalAsset{}
	var urls []string
	for _, t := range targets {
		if !t.assets {
			continue
		}
		for _, a := range t.rec.Assets {
			typeID, err := e.assetTypeID(tx, a.Type)
			if err != nil {
				return fmt.Errorf("reconcile: asset type: %w", err)
			}
			key := records.MakeKey(a.URL, a.Type)
			if _, ok := assetCandidates[key]; !ok {
				assetCandidates[key] = &catalog.DigitalAsset{TypeID: typeID, URL: a.URL, FileSizeBytes: a.FileSizeBytes}
				urls = append(urls, a.URL)
			}
		}
	}
	if len(assetCandidates) == 0 {
		return nil
	}

	assets := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB { return q.Joins("Type").Where("url IN ?", urls) },
		func(a *catalog.DigitalAsset) records.Key { return records.MakeKey(a.URL, a.Type.Name) },
	)
	assetIDs, err := assets.BulkGetOrCreate(tx, assetCandidates)
	if err != nil {
		return fmt.Errorf("reconcile: digital assets: %w", err)
	}
	e.rec.Add("digital_asset", metrics.OpInsert, assets.Created())

	var links []catalog.ProductDigitalAsset
	for _, t := range targets {
		if !t.assets {
			continue
		}
		for _, a := range t.rec.Assets {
			links = append(links, catalog.ProductDigitalAsset{
				ProductID:       t.productID,
				DigitalAssetID:  assetIDs[records.MakeKey(a.URL, a.Type)],
				DisplaySequence: a.DisplaySequence,
			})
		}
	}
	if len(links) == 0 {
		return nil
	}
	if err := tx.Create(&links).Error; err != nil {
		return fmt.Errorf("reconcile: create product assets: %w", err)
	}
	e.rec.Add("product_digital_asset", metrics.OpInsert, len(links))
	return nil
}

func (e *Engine) createPackaging(tx *gorm.DB, targets []relTarget) error {
	var rows []catalog.ProductPackaging
	for _, t := range targets {
		if !t.packages {
			continue
		}
		for _, p := range t.rec.Packages {
			rows = append(rows, catalog.ProductPackaging{
				ProductID:         t.productID,
				ProductQuantity:   p.Quantity,
				Weight:            p.Weight,
				DimensionalWeight: p.DimensionalWeight,
				Height:            p.Height,
				Length:            p.Length,
				Width:             p.Width,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("reconcile: create packaging: %w", err)
	}
	e.rec.Add("product_packaging", metrics.OpInsert, len(rows))
	return nil
}

func attrKey(categoryID uint, name string) records.Key {
	return records.MakeKey(strconv.FormatUint(uint64(categoryID), 10), name)
}

func valueKey(attributeID uint, value string) records.Key {
	return records.MakeKey(strconv.FormatUint(uint64(attributeID), 10), value)
}

func mapValues(m map[records.Key]uint) []uint {
	out := make([]uint, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
