package reconcile

import (
	"fmt"
	"io"
	"strconv"

	"gorm.io/gorm"

	"partsfeed/internal/catalog"
	"partsfeed/internal/metrics"
	"partsfeed/internal/parser/aces"
	"partsfeed/internal/store"
	"partsfeed/pkg/records"
)

// ImportFitment reconciles one brand's fitment feed. Products must already
// exist; fitment for unknown part numbers is dropped. Per part the incoming
// observation set is compared against the stored one on natural keys: an
// identical set writes nothing, a differing set is deleted and recreated
// whole.
func (e *Engine) ImportFitment(src io.Reader, brandShortName string, prog *Progress) error {
	if prog == nil {
		prog = &Progress{}
	}
	var brand catalog.Brand
	if err := e.db.Where("short_name = ?", brandShortName).First(&brand).Error; err != nil {
		return fmt.Errorf("reconcile: brand %s not stored, catalog must import first: %w", brandShortName, err)
	}
	e.log.Info("storing fitment", "brand", brand.Name)

	parser := aces.New(e.sizes.ScratchInsertChunk, e.log)
	seq := 0
	return parser.ForEachChunk(src, e.sizes.FitmentChunk, func(chunk *records.FitmentChunk) error {
		defer func() { seq++ }()
		if prog.skip(seq) {
			return nil
		}
		// Chunks holding only all-years parts carry no vehicle data.
		if len(chunk.Makes) == 0 {
			prog.committed(seq)
			return nil
		}
		err := e.chunkTx(func(tx *gorm.DB) error {
			return e.storeFitmentChunk(tx, brand.ID, chunk)
		})
		if err == nil {
			prog.committed(seq)
		}
		return err
	})
}

func (e *Engine) storeFitmentChunk(tx *gorm.DB, brandID uint, chunk *records.FitmentChunk) error {
	parts := make([]string, 0, len(chunk.PartFitment))
	for part := range chunk.PartFitment {
		parts = append(parts, part)
	}
	var products []catalog.Product
	if err := tx.Select("id", "part_number").
		Where("brand_id = ? AND part_number IN ?", brandID, parts).
		Find(&products).Error; err != nil {
		return fmt.Errorf("reconcile: load fitment products: %w", err)
	}
	productIDs := make(map[string]uint, len(products))
	for _, p := range products {
		productIDs[p.PartNumber] = p.ID
	}
	for part := range chunk.PartFitment {
		if _, ok := productIDs[part]; !ok {
			e.log.Warn("fitment references unknown part, skipping", "part", part)
			delete(chunk.PartFitment, part)
		}
	}
	return e.storeObservations(tx, productIDs, chunk)
}

// storeObservations reconciles the chunk's observation groups for products
// already resolved to ids, then upserts the vehicle graph and inserts the
// remaining facts. Shared between the fitment feed and the vendor pipeline.
func (e *Engine) storeObservations(tx *gorm.DB, productIDs map[string]uint, chunk *records.FitmentChunk) error {
	if len(chunk.PartFitment) == 0 {
		return nil
	}
	if err := e.diffObservations(tx, productIDs, chunk); err != nil {
		return err
	}
	if len(chunk.PartFitment) == 0 {
		return nil
	}

	vehicleIDs, err := e.storeVehicleGraph(tx, chunk)
	if err != nil {
		return err
	}

	var facts []catalog.ProductFitment
	for part, groups := range chunk.PartFitment {
		for _, obs := range groups {
			facts = append(facts, catalog.ProductFitment{
				ProductID:    productIDs[part],
				VehicleID:    vehicleIDs[obs.VehicleKey],
				StartYear:    obs.StartYear,
				EndYear:      obs.EndYear,
				FitmentInfo1: strPtr(obs.Info1),
				FitmentInfo2: strPtr(obs.Info2),
			})
		}
	}
	if len(facts) == 0 {
		return nil
	}
	if err := tx.Create(&facts).Error; err != nil {
		return fmt.Errorf("reconcile: create fitment: %w", err)
	}
	e.rec.Add("product_fitment", metrics.OpInsert, len(facts))
	return nil
}

// diffObservations drops parts whose stored observation set already matches
// the feed and deletes the stored rows of parts whose set differs.
func (e *Engine) diffObservations(tx *gorm.DB, productIDs map[string]uint, chunk *records.FitmentChunk) error {
	ids := make([]uint, 0, len(chunk.PartFitment))
	partByID := make(map[uint]string, len(chunk.PartFitment))
	for part := range chunk.PartFitment {
		id := productIDs[part]
		ids = append(ids, id)
		partByID[id] = part
	}
	var existing []catalog.ProductFitment
	if err := tx.
		Preload("Vehicle.Make").
		Preload("Vehicle.VehicleModel").
		Preload("Vehicle.SubModel").
		Preload("Vehicle.Engine.FuelType").
		Preload("Vehicle.Engine.FuelDelivery").
		Preload("Vehicle.Engine.Aspiration").
		Where("product_id IN ?", ids).
		Find(&existing).Error; err != nil {
		return fmt.Errorf("reconcile: load existing fitment: %w", err)
	}

	existingKeys := map[string]map[records.Key]struct{}{}
	existingRowIDs := map[string][]uint{}
	for _, row := range existing {
		part := partByID[row.ProductID]
		if existingKeys[part] == nil {
			existingKeys[part] = map[records.Key]struct{}{}
		}
		existingKeys[part][fitmentRowKey(row)] = struct{}{}
		existingRowIDs[part] = append(existingRowIDs[part], row.ID)
	}

	var toDelete []uint
	for part, stored := range existingKeys {
		incoming := chunk.PartFitment[part]
		if sameKeySets(stored, incoming) {
			delete(chunk.PartFitment, part)
			continue
		}
		toDelete = append(toDelete, existingRowIDs[part]...)
	}
	if len(toDelete) > 0 {
		res := tx.Delete(&catalog.ProductFitment{}, toDelete)
		if res.Error != nil {
			return fmt.Errorf("reconcile: delete stale fitment: %w", res.Error)
		}
		e.rec.Add("product_fitment", metrics.OpDelete, int(res.RowsAffected))
	}
	return nil
}

// fitmentRowKey rebuilds the parser's span-prefixed observation key from a
// stored row and its preloaded vehicle graph.
func fitmentRowKey(row catalog.ProductFitment) records.Key {
	v := row.Vehicle
	makeName, modelName, subModelName := "", "", ""
	var engineKey records.Key
	if v != nil {
		if v.Make != nil {
			makeName = v.Make.Name
		}
		if v.VehicleModel != nil {
			modelName = v.VehicleModel.Name
		}
		if v.SubModel != nil {
			subModelName = v.SubModel.Name
		}
		if v.Engine != nil {
			ref := records.EngineRef{
				Configuration: v.Engine.Configuration,
				Liters:        v.Engine.Liters,
				EngineCode:    strVal(v.Engine.EngineCode),
			}
			if v.Engine.FuelType != nil {
				ref.FuelType = v.Engine.FuelType.Name
			}
			if v.Engine.FuelDelivery != nil {
				ref.FuelDelivery = v.Engine.FuelDelivery.Name
			}
			if v.Engine.Aspiration != nil {
				ref.Aspiration = v.Engine.Aspiration.Name
			}
			engineKey = ref.Key()
		}
	}
	vehicleKey := records.MakeKey(makeName, modelName, subModelName, string(engineKey))
	base := records.MakeKey(string(vehicleKey), strVal(row.FitmentInfo1), strVal(row.FitmentInfo2))
	return base.Prefixed(strconv.Itoa(row.StartYear), strconv.Itoa(row.EndYear))
}

func sameKeySets(stored map[records.Key]struct{}, incoming map[records.Key]*records.FitmentObservation) bool {
	if len(stored) != len(incoming) {
		return false
	}
	for key := range incoming {
		if _, ok := stored[key]; !ok {
			return false
		}
	}
	return true
}

// storeVehicleGraph upserts every dimension the chunk references in
// dependency order and returns chunk vehicle key → vehicle id.
func (e *Engine) storeVehicleGraph(tx *gorm.DB, chunk *records.FitmentChunk) (map[records.Key]uint, error) {
	makeIDs, err := e.storeMakes(tx, chunk)
	if err != nil {
		return nil, err
	}
	modelIDs, err := e.storeModels(tx, chunk, makeIDs)
	if err != nil {
		return nil, err
	}
	subModelIDs, err := e.storeSubModels(tx, chunk, modelIDs)
	if err != nil {
		return nil, err
	}
	engineIDs, err := e.storeEngines(tx, chunk)
	if err != nil {
		return nil, err
	}
	return e.storeVehicles(tx, chunk, makeIDs, modelIDs, subModelIDs, engineIDs)
}

func (e *Engine) storeMakes(tx *gorm.DB, chunk *records.FitmentChunk) (map[records.Key]uint, error) {
	names := make([]string, 0, len(chunk.Makes))
	candidates := make(map[records.Key]*catalog.VehicleMake, len(chunk.Makes))
	for key, seed := range chunk.Makes {
		names = append(names, seed.Name)
		candidates[key] = &catalog.VehicleMake{Name: seed.Name}
	}
	makes := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB { return q.Where("name IN ?", names) },
		func(m *catalog.VehicleMake) records.Key { return records.MakeKey(m.Name) },
	)
	ids, err := makes.BulkGetOrCreate(tx, candidates)
	if err != nil {
		return nil, fmt.Errorf("reconcile: makes: %w", err)
	}
	e.rec.Add("vehicle_make", metrics.OpInsert, makes.Created())
	return ids, nil
}

// Models and the dimensions below key on parent ids rather than joined
// names, so the requery after a bulk create needs no joins.
func (e *Engine) storeModels(tx *gorm.DB, chunk *records.FitmentChunk, makeIDs map[records.Key]uint) (map[records.Key]uint, error) {
	names := make([]string, 0, len(chunk.Models))
	candidates := make(map[records.Key]*catalog.VehicleModel, len(chunk.Models))
	chunkKeyByIDKey := make(map[records.Key]records.Key, len(chunk.Models))
	for key, seed := range chunk.Models {
		makeID := makeIDs[seed.MakeKey]
		names = append(names, seed.Name)
		candidates[idKey(makeID, seed.Name)] = &catalog.VehicleModel{Name: seed.Name, MakeID: makeID}
		chunkKeyByIDKey[idKey(makeID, seed.Name)] = key
	}
	models := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB {
			return q.Where("name IN ? AND make_id IN ?", names, idValues(makeIDs))
		},
		func(m *catalog.VehicleModel) records.Key { return idKey(m.MakeID, m.Name) },
	)
	ids, err := models.BulkGetOrCreate(tx, candidates)
	if err != nil {
		return nil, fmt.Errorf("reconcile: models: %w", err)
	}
	e.rec.Add("vehicle_model", metrics.OpInsert, models.Created())
	return rekey(ids, chunkKeyByIDKey), nil
}

func (e *Engine) storeSubModels(tx *gorm.DB, chunk *records.FitmentChunk, modelIDs map[records.Key]uint) (map[records.Key]uint, error) {
	if len(chunk.SubModels) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(chunk.SubModels))
	candidates := make(map[records.Key]*catalog.VehicleSubModel, len(chunk.SubModels))
	chunkKeyByIDKey := make(map[records.Key]records.Key, len(chunk.SubModels))
	for key, seed := range chunk.SubModels {
		modelID := modelIDs[seed.ModelKey]
		names = append(names, seed.Name)
		candidates[idKey(modelID, seed.Name)] = &catalog.VehicleSubModel{Name: seed.Name, VehicleModelID: modelID}
		chunkKeyByIDKey[idKey(modelID, seed.Name)] = key
	}
	subModels := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB {
			return q.Where("name IN ? AND vehicle_model_id IN ?", names, idValues(modelIDs))
		},
		func(m *catalog.VehicleSubModel) records.Key { return idKey(m.VehicleModelID, m.Name) },
	)
	ids, err := subModels.BulkGetOrCreate(tx, candidates)
	if err != nil {
		return nil, fmt.Errorf("reconcile: sub-models: %w", err)
	}
	e.rec.Add("vehicle_sub_model", metrics.OpInsert, subModels.Created())
	return rekey(ids, chunkKeyByIDKey), nil
}

func (e *Engine) storeEngines(tx *gorm.DB, chunk *records.FitmentChunk) (map[records.Key]uint, error) {
	if len(chunk.Engines) == 0 {
		return nil, nil
	}
	configurations := make([]string, 0, len(chunk.Engines))
	candidates := make(map[records.Key]*catalog.VehicleEngine, len(chunk.Engines))
	chunkKeyByIDKey := make(map[records.Key]records.Key, len(chunk.Engines))
	for key, ref := range chunk.Engines {
		fuelTypeID, err := e.dimensionID(tx, e.fuelTypeIDs, &catalog.FuelType{Name: ref.FuelType}, ref.FuelType)
		if err != nil {
			return nil, err
		}
		fuelDeliveryID, err := e.dimensionID(tx, e.fuelDeliveryIDs, &catalog.FuelDelivery{Name: ref.FuelDelivery}, ref.FuelDelivery)
		if err != nil {
			return nil, err
		}
		aspirationID, err := e.dimensionID(tx, e.aspirationIDs, &catalog.EngineAspiration{Name: ref.Aspiration}, ref.Aspiration)
		if err != nil {
			return nil, err
		}
		row := &catalog.VehicleEngine{
			Configuration:  ref.Configuration,
			Liters:         ref.Liters,
			EngineCode:     strPtr(ref.EngineCode),
			FuelTypeID:     fuelTypeID,
			FuelDeliveryID: fuelDeliveryID,
			AspirationID:   aspirationID,
		}
		configurations = append(configurations, ref.Configuration)
		candidates[engineIDKey(row)] = row
		chunkKeyByIDKey[engineIDKey(row)] = key
	}
	engines := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB { return q.Where("configuration IN ?", configurations) },
		func(en *catalog.VehicleEngine) records.Key { return engineIDKey(en) },
	)
	ids, err := engines.BulkGetOrCreate(tx, candidates)
	if err != nil {
		return nil, fmt.Errorf("reconcile: engines: %w", err)
	}
	e.rec.Add("vehicle_engine", metrics.OpInsert, engines.Created())
	return rekey(ids, chunkKeyByIDKey), nil
}

func (e *Engine) storeVehicles(tx *gorm.DB, chunk *records.FitmentChunk, makeIDs, modelIDs, subModelIDs, engineIDs map[records.Key]uint) (map[records.Key]uint, error) {
	candidates := make(map[records.Key]*catalog.Vehicle, len(chunk.Vehicles))
	chunkKeyByIDKey := make(map[records.Key]records.Key, len(chunk.Vehicles))
	years := make(map[records.Key]map[int]struct{}, len(chunk.Vehicles))
	for key, seed := range chunk.Vehicles {
		row := &catalog.Vehicle{
			MakeID:         makeIDs[seed.MakeKey],
			VehicleModelID: modelIDs[seed.ModelKey],
		}
		if seed.SubModelKey != "" {
			id := subModelIDs[seed.SubModelKey]
			row.SubModelID = &id
		}
		if seed.EngineKey != "" {
			id := engineIDs[seed.EngineKey]
			row.EngineID = &id
		}
		candidates[vehicleIDKey(row)] = row
		chunkKeyByIDKey[vehicleIDKey(row)] = key
		years[vehicleIDKey(row)] = seed.Years
	}
	vehicles := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB { return q.Where("vehicle_model_id IN ?", idValues(modelIDs)) },
		func(v *catalog.Vehicle) records.Key { return vehicleIDKey(v) },
	)
	ids, err := vehicles.BulkGetOrCreate(tx, candidates)
	if err != nil {
		return nil, fmt.Errorf("reconcile: vehicles: %w", err)
	}
	e.rec.Add("vehicle", metrics.OpInsert, vehicles.Created())

	yearCandidates := map[records.Key]*catalog.VehicleYear{}
	for vKey, yearSet := range years {
		vehicleID := ids[vKey]
		for year := range yearSet {
			row := &catalog.VehicleYear{VehicleID: vehicleID, Year: year}
			yearCandidates[idKey(vehicleID, strconv.Itoa(year))] = row
		}
	}
	vehicleYears := store.NewRetriever(
		func(q *gorm.DB) *gorm.DB { return q.Where("vehicle_id IN ?", idValues(ids)) },
		func(vy *catalog.VehicleYear) records.Key { return idKey(vy.VehicleID, strconv.Itoa(vy.Year)) },
	)
	if _, err := vehicleYears.BulkGetOrCreate(tx, yearCandidates); err != nil {
		return nil, fmt.Errorf("reconcile: vehicle years: %w", err)
	}
	e.rec.Add("vehicle_year", metrics.OpInsert, vehicleYears.Created())

	return rekey(ids, chunkKeyByIDKey), nil
}

// dimensionID get-or-creates a tiny engine dimension row (fuel type, fuel
// delivery, aspiration) and caches the id for the engine's lifetime.
func (e *Engine) dimensionID(tx *gorm.DB, cache map[string]uint, row interface{ GetID() uint }, name string) (*uint, error) {
	if name == "" {
		return nil, nil
	}
	if id, ok := cache[name]; ok {
		return &id, nil
	}
	if err := tx.Where("name = ?", name).FirstOrCreate(row).Error; err != nil {
		return nil, fmt.Errorf("reconcile: engine dimension %q: %w", name, err)
	}
	id := row.GetID()
	cache[name] = id
	return &id, nil
}

func idKey(parentID uint, name string) records.Key {
	return records.MakeKey(strconv.FormatUint(uint64(parentID), 10), name)
}

func engineIDKey(en *catalog.VehicleEngine) records.Key {
	liters := ""
	if en.Liters.Valid {
		liters = en.Liters.Decimal.String()
	}
	return records.MakeKey(
		en.Configuration, liters,
		uintPtrStr(en.FuelTypeID), uintPtrStr(en.FuelDeliveryID),
		strVal(en.EngineCode), uintPtrStr(en.AspirationID),
	)
}

func vehicleIDKey(v *catalog.Vehicle) records.Key {
	return records.MakeKey(
		strconv.FormatUint(uint64(v.MakeID), 10),
		strconv.FormatUint(uint64(v.VehicleModelID), 10),
		uintPtrStr(v.SubModelID), uintPtrStr(v.EngineID),
	)
}

func uintPtrStr(p *uint) string {
	if p == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*p), 10)
}

func idValues(m map[records.Key]uint) []uint {
	out := make([]uint, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func rekey(ids map[records.Key]uint, chunkKeyByIDKey map[records.Key]records.Key) map[records.Key]uint {
	out := make(map[records.Key]uint, len(chunkKeyByIDKey))
	for idK, chunkK := range chunkKeyByIDKey {
		out[chunkK] = ids[idK]
	}
	return out
}
