package reconcile

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"partsfeed/internal/catalog"
	"partsfeed/internal/metrics"
	"partsfeed/internal/parser/vendorcsv"
	"partsfeed/internal/store"
	"partsfeed/pkg/records"
)

// ImportVendorCatalog reconciles the second vendor's product and fitment
// exports. Products key on internal part number; brand, product line and
// the two-level category tree are upserted from the rows themselves, so no
// separate category feed exists in this pipeline. fitmentSrc may be nil.
func (e *Engine) ImportVendorCatalog(productSrc, fitmentSrc io.Reader, prog *Progress) error {
	if prog == nil {
		prog = &Progress{}
	}
	fitment := map[string][]records.VendorFitmentRow{}
	if fitmentSrc != nil {
		var err error
		fitment, err = vendorcsv.ParseFitment(fitmentSrc)
		if err != nil {
			return err
		}
	}
	e.log.Info("storing vendor catalog")

	batch := make([]vendorcsv.Product, 0, e.sizes.ProductChunk)
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
			return e.storeVendorChunk(tx, batch, fitment)
		})
		batch = batch[:0]
		if err == nil {
			prog.committed(seq)
		}
		return err
	}
	if err := vendorcsv.ParseProducts(productSrc, func(p vendorcsv.Product) error {
		batch = append(batch, p)
		if len(batch) == e.sizes.ProductChunk {
			return flush()
		}
		return nil
	}); err != nil {
		return err
	}
	return flush()
}

func (e *Engine) storeVendorChunk(tx *gorm.DB, batch []vendorcsv.Product, fitment map[string][]records.VendorFitmentRow) error {
	brandIDs, err := e.vendorBrands(tx, batch)
	if err != nil {
		return err
	}
	lineIDs, err := e.vendorProductLines(tx, batch, brandIDs)
	if err != nil {
		return err
	}
	categoryIDs, err := e.vendorCategories(tx, batch)
	if err != nil {
		return err
	}

	internalParts := make([]string, 0, len(batch))
	byPart := make(map[string]vendorcsv.Product, len(batch))
	for _, p := range batch {
		internalParts = append(internalParts, p.InternalPartNumber)
		byPart[p.InternalPartNumber] = p
	}

	var existing []*catalog.Product
	if err := tx.
		Preload("Features").
		Preload("Attributes.Attribute").
		Preload("Attributes.Value").
		Preload("Packages").
		Preload("DigitalAssets.DigitalAsset.Type").
		Where("internal_part_number IN ?", internalParts).
		Find(&existing).Error; err != nil {
		return fmt.Errorf("reconcile: load existing vendor products: %w", err)
	}

	toCreate := byPart
	var targets []relTarget
	productIDs := make(map[string]uint, len(batch))
	for _, row := range existing {
		part := strVal(row.InternalPartNumber)
		p := toCreate[part]
		delete(toCreate, part)
		productIDs[part] = row.ID

		diff, err := diffProduct(row, vendorRecord(p), vendorCategoryID(p, categoryIDs))
		if err != nil {
			return err
		}
		if !diff.any() {
			continue
		}
		if diff.scalarChanged {
			if err := tx.Omit(clause.Associations).Save(row).Error; err != nil {
				return fmt.Errorf("reconcile: update vendor product %s: %w", part, err)
			}
			e.rec.Add("product", metrics.OpUpdate, 1)
		}
		if err := e.dropReplacedCollections(tx, row.ID, diff); err != nil {
			return err
		}
		targets = append(targets, relTarget{
			productID:  row.ID,
			categoryID: row.CategoryID,
			rec:        vendorRecord(p),
			features:   diff.replaceFeatures,
			attrs:      diff.replaceAttrs,
			packages:   diff.replacePackages,
			assets:     diff.replaceAssets,
		})
	}

	rows := make([]*catalog.Product, 0, len(toCreate))
	for part, p := range toCreate {
		in := p.ProductRecord
		row := &catalog.Product{
			PartNumber:         in.PartNumber,
			InternalPartNumber: strPtr(part),
			Name:               in.Name,
			BrandID:            brandIDs[records.MakeKey(p.Vendor)],
			IsCarbLegal:        in.IsCarbLegal,
			IsDiscontinued:     in.IsDiscontinued,
			MapPrice:           in.MapPrice,
			RetailPrice:        in.RetailPrice,
			Cost:               in.Cost,
			CoreCharge:         in.CoreCharge,
			CategoryID:         vendorCategoryID(p, categoryIDs),
		}
		if in.ProductLine != "" {
			id := lineIDs[records.MakeKey(p.Vendor, in.ProductLine)]
			row.ProductLineID = &id
		}
		rows = append(rows, row)
	}
	if len(rows) > 0 {
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("reconcile: bulk create vendor products: %w", err)
		}
		e.rec.Add("product", metrics.OpInsert, len(rows))
		var requeried []catalog.Product
		createdParts := make([]string, len(rows))
		for i, r := range rows {
			createdParts[i] = strVal(r.InternalPartNumber)
		}
		if err := tx.Where("internal_part_number IN ?", createdParts).
			Find(&requeried).Error; err != nil {
			return fmt.Errorf("reconcile: requery vendor products: %w", err)
		}
		for _, r := range requeried {
			part := strVal(r.InternalPartNumber)
			productIDs[part] = r.ID
			targets = append(targets, relTarget{
				productID:  r.ID,
				categoryID: r.CategoryID,
				rec:        vendorRecord(toCreate[part]),
				features:   true,
				attrs:      true,
				packages:   true,
				assets:     true,
			})
		}
	}

	if err := e.createRelationships(tx, targets); err != nil {
		return err
	}
	return e.storeObservations(tx, productIDs, vendorFitmentChunk(batch, fitment))
}

// vendorRecord is the canonical record for diffing: vendor images ride in
// the asset collection.
func vendorRecord(p vendorcsv.Product) records.ProductRecord {
	rec := p.ProductRecord
	rec.Assets = p.Images
	return rec
}

func vendorCategoryID(p vendorcsv.Product, categoryIDs map[records.Key]uint) uint {
	if p.SubCategory != "" {
		return categoryIDs[records.MakeKey(p.Category, p.SubCategory)]
	}
	return categoryIDs[records.MakeKey(p.Category)]
}

func (e *Engine) vendorBrands(tx *gorm.DB, batch []vendorcsv.Product) (map[records.Key]uint, error) {
	names := []string{}
	candidates := map[records.Key]*catalog.Brand{}
	for _, p := range batch {
		key := records.MakeKey(p.Vendor)
		if _, ok := candidates[key]; ok {
			continue
		}
		candidates[key] = &catalog.Brand{Name: p.Vendor, ShortName: vendorShortName(p.Vendor)}
		names = append(names, p.Vendor)
	}
	brands := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB { return q.Where("name IN ?", names) },
		func(b *catalog.Brand) records.Key { return records.MakeKey(b.Name) },
	)
	ids, err := brands.BulkGetOrCreate(tx, candidates)
	if err != nil {
		return nil, fmt.Errorf("reconcile: vendor brands: %w", err)
	}
	e.rec.Add("brand", metrics.OpInsert, brands.Created())
	return ids, nil
}

func (e *Engine) vendorProductLines(tx *gorm.DB, batch []vendorcsv.Product, brandIDs map[records.Key]uint) (map[records.Key]uint, error) {
	names := []string{}
	candidates := map[records.Key]*catalog.ProductLine{}
	chunkKeyByIDKey := map[records.Key]records.Key{}
	for _, p := range batch {
		if p.ProductLine == "" {
			continue
		}
		chunkKey := records.MakeKey(p.Vendor, p.ProductLine)
		brandID := brandIDs[records.MakeKey(p.Vendor)]
		key := idKey(brandID, p.ProductLine)
		if _, ok := candidates[key]; ok {
			continue
		}
		candidates[key] = &catalog.ProductLine{Name: p.ProductLine, BrandID: brandID}
		chunkKeyByIDKey[key] = chunkKey
		names = append(names, p.ProductLine)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	lines := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB {
			return q.Where("name IN ? AND brand_id IN ?", names, idValues(brandIDs))
		},
		func(l *catalog.ProductLine) records.Key { return idKey(l.BrandID, l.Name) },
	)
	ids, err := lines.BulkGetOrCreate(tx, candidates)
	if err != nil {
		return nil, fmt.Errorf("reconcile: product lines: %w", err)
	}
	e.rec.Add("product_line", metrics.OpInsert, lines.Created())
	return rekey(ids, chunkKeyByIDKey), nil
}

// vendorCategories upserts the fixed two-level tree: roots first, then
// subcategories under their resolved parents. Returned keys are
// (category) for roots and (category, subcategory) for children.
func (e *Engine) vendorCategories(tx *gorm.DB, batch []vendorcsv.Product) (map[records.Key]uint, error) {
	rootNames := []string{}
	rootCandidates := map[records.Key]*catalog.Category{}
	for _, p := range batch {
		if p.Category == "" {
			continue
		}
		key := records.MakeKey(p.Category)
		if _, ok := rootCandidates[key]; ok {
			continue
		}
		rootCandidates[key] = &catalog.Category{Name: p.Category}
		rootNames = append(rootNames, p.Category)
	}
	if len(rootCandidates) == 0 {
		return nil, nil
	}
	roots := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB { return q.Where("name IN ? AND parent_id IS NULL", rootNames) },
		func(c *catalog.Category) records.Key { return records.MakeKey(c.Name) },
	)
	out, err := roots.BulkGetOrCreate(tx, rootCandidates)
	if err != nil {
		return nil, fmt.Errorf("reconcile: vendor categories: %w", err)
	}
	e.rec.Add("category", metrics.OpInsert, roots.Created())

	subNames := []string{}
	subCandidates := map[records.Key]*catalog.Category{}
	chunkKeyByIDKey := map[records.Key]records.Key{}
	for _, p := range batch {
		if p.Category == "" || p.SubCategory == "" {
			continue
		}
		parentID := out[records.MakeKey(p.Category)]
		key := idKey(parentID, p.SubCategory)
		if _, ok := subCandidates[key]; ok {
			continue
		}
		sub := &catalog.Category{Name: p.SubCategory, ParentID: &parentID, Depth: 1}
		if err := catalog.ValidateCategory(&catalog.Category{
			Name:   sub.Name,
			Depth:  sub.Depth,
			Parent: rootCandidates[records.MakeKey(p.Category)],
		}); err != nil {
			return nil, err
		}
		subCandidates[key] = sub
		chunkKeyByIDKey[key] = records.MakeKey(p.Category, p.SubCategory)
		subNames = append(subNames, p.SubCategory)
	}
	if len(subCandidates) == 0 {
		return out, nil
	}
	subs := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB {
			return q.Where("name IN ? AND parent_id IN ?", subNames, idValues(out))
		},
		func(c *catalog.Category) records.Key { return idKey(derefUint(c.ParentID), c.Name) },
	)
	subIDs, err := subs.BulkGetOrCreate(tx, subCandidates)
	if err != nil {
		return nil, fmt.Errorf("reconcile: vendor subcategories: %w", err)
	}
	e.rec.Add("category", metrics.OpInsert, subs.Created())
	for idK, chunkK := range chunkKeyByIDKey {
		out[chunkK] = subIDs[idK]
	}
	return out, nil
}

// vendorFitmentChunk reassembles vendor fitment rows into the canonical
// chunk form. Ranges arrive pre-compressed, so observations carry their
// spans directly and no Compress pass runs. Every batch part gets an entry
// so stored fitment is cleared when the feed stops carrying any.
func vendorFitmentChunk(batch []vendorcsv.Product, fitment map[string][]records.VendorFitmentRow) *records.FitmentChunk {
	chunk := records.NewFitmentChunk()
	for _, p := range batch {
		part := p.InternalPartNumber
		groups := map[records.Key]*records.FitmentObservation{}
		chunk.PartFitment[part] = groups
		for _, row := range fitment[part] {
			makeKey := records.MakeKey(row.Make)
			if _, ok := chunk.Makes[makeKey]; !ok {
				chunk.Makes[makeKey] = records.MakeSeed{Name: row.Make}
			}
			modelKey := records.MakeKey(row.Make, row.Model)
			if _, ok := chunk.Models[modelKey]; !ok {
				chunk.Models[modelKey] = records.ModelSeed{Name: row.Model, MakeKey: makeKey}
			}
			var subModelKey records.Key
			if row.SubModel != "" {
				subModelKey = records.MakeKey(row.Make, row.Model, row.SubModel)
				if _, ok := chunk.SubModels[subModelKey]; !ok {
					chunk.SubModels[subModelKey] = records.SubModelSeed{Name: row.SubModel, ModelKey: modelKey}
				}
			}
			var engineKey records.Key
			if row.Engine != "" {
				ref := records.EngineRef{Configuration: row.Engine}
				engineKey = ref.Key()
				if _, ok := chunk.Engines[engineKey]; !ok {
					chunk.Engines[engineKey] = ref
				}
			}
			vehicleKey := records.MakeKey(row.Make, row.Model, row.SubModel, string(engineKey))
			vehicle, ok := chunk.Vehicles[vehicleKey]
			if !ok {
				vehicle = &records.VehicleSeed{
					MakeKey:     makeKey,
					ModelKey:    modelKey,
					SubModelKey: subModelKey,
					EngineKey:   engineKey,
					Years:       map[int]struct{}{},
				}
				chunk.Vehicles[vehicleKey] = vehicle
			}
			for year := row.StartYear; year <= row.EndYear; year++ {
				vehicle.Years[year] = struct{}{}
			}
			base := records.MakeKey(string(vehicleKey), row.Note, "")
			fitKey := base.Prefixed(strconv.Itoa(row.StartYear), strconv.Itoa(row.EndYear))
			groups[fitKey] = &records.FitmentObservation{
				PartNumber: part,
				VehicleKey: vehicleKey,
				StartYear:  row.StartYear,
				EndYear:    row.EndYear,
				Info1:      row.Note,
			}
		}
	}
	return chunk
}

// vendorShortName derives a stable short code for brands the vendor
// pipeline discovers, which have no supplier-assigned code.
func vendorShortName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == 10 {
				break
			}
		}
	}
	return b.String()
}

func derefUint(p *uint) uint {
	if p == nil {
		return 0
	}
	return *p
}
