// Package aces parses the ACES flat fitment feed into chunked canonical
// fitment records. The feed is staged through a temporary sqlite database so
// rows arrive sorted by part number, then consolidated into per-part
// observation groups with compressed year runs.
package aces

import (
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"partsfeed/internal/logger"
	"partsfeed/internal/parser/flatfile"
	"partsfeed/pkg/records"
)

// allYearsSentinel marks rows that apply to every model year. There is no
// sane relational representation for it, so such rows are dropped and
// counted.
const allYearsSentinel = "ALL"

// Parser consolidates fitment rows for one brand's feed.
type Parser struct {
	insertChunk int
	log         *logger.Logger

	// SkippedAllYears counts dropped all-years rows from the last run.
	SkippedAllYears int
}

// New returns a Parser. insertChunk bounds the scratch store's transaction
// size.
func New(insertChunk int, log *logger.Logger) *Parser {
	return &Parser{insertChunk: insertChunk, log: log}
}

// ForEachChunk parses the feed and invokes fn with compressed fitment
// chunks of at most partsPerChunk distinct part numbers. A chunk never
// splits a part number. fn errors abort the scan.
func (p *Parser) ForEachChunk(src io.Reader, partsPerChunk int, fn func(*records.FitmentChunk) error) error {
	p.SkippedAllYears = 0

	r, err := flatfile.NewPipeReader(src)
	if err != nil {
		return fmt.Errorf("aces: %w", err)
	}

	scratch, err := newScratchStore(p.log)
	if err != nil {
		return err
	}
	defer scratch.Close()

	if err := scratch.load(r, p.insertChunk); err != nil {
		return err
	}
	rows, err := scratch.sorted()
	if err != nil {
		return err
	}
	defer rows.Close()

	chunk := records.NewFitmentChunk()
	values := make([]string, len(scratchColumns))
	scanDest := make([]any, len(scratchColumns))
	for i := range values {
		scanDest[i] = &values[i]
	}
	colIdx := make(map[string]int, len(scratchColumns))
	for i, col := range scratchColumns {
		colIdx[col] = i
	}
	get := func(col string) string { return values[colIdx[col]] }

	prevPart := ""
	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return fmt.Errorf("aces: scan scratch row: %w", err)
		}
		part := get("exppartno")
		if prevPart != "" && prevPart != part && chunk.Parts() == partsPerChunk {
			chunk.Compress()
			if err := fn(chunk); err != nil {
				return err
			}
			chunk = records.NewFitmentChunk()
		}
		prevPart = part
		if err := p.consolidateRow(chunk, get); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("aces: iterate scratch rows: %w", err)
	}
	if chunk.Parts() > 0 {
		chunk.Compress()
		if err := fn(chunk); err != nil {
			return err
		}
	}
	if p.SkippedAllYears > 0 {
		p.log.Warn("dropped all-years fitment rows", "rows", p.SkippedAllYears)
	}
	return nil
}

// consolidateRow folds one feed row into the chunk's dimension and
// observation maps.
func (p *Parser) consolidateRow(chunk *records.FitmentChunk, get func(string) string) error {
	yearStr := get("year")
	if yearStr == allYearsSentinel {
		p.SkippedAllYears++
		return nil
	}
	year, err := parseYear(yearStr)
	if err != nil {
		return err
	}

	makeName := get("make")
	makeKey := records.MakeKey(makeName)
	if _, ok := chunk.Makes[makeKey]; !ok {
		chunk.Makes[makeKey] = records.MakeSeed{Name: makeName}
	}

	modelName := get("model")
	modelKey := records.MakeKey(makeName, modelName)
	if _, ok := chunk.Models[modelKey]; !ok {
		chunk.Models[modelKey] = records.ModelSeed{Name: modelName, MakeKey: makeKey}
	}

	var subModelKey records.Key
	if subModel := get("submodel"); subModel != "" {
		subModelKey = records.MakeKey(makeName, modelName, subModel)
		if _, ok := chunk.SubModels[subModelKey]; !ok {
			chunk.SubModels[subModelKey] = records.SubModelSeed{Name: subModel, ModelKey: modelKey}
		}
	}

	var engineKey records.Key
	if configuration := get("engtype"); configuration != "" {
		engine := records.EngineRef{
			Configuration: configuration,
			EngineCode:    get("engdesg"),
			FuelType:      get("fuel"),
			FuelDelivery:  get("fueldel"),
			Aspiration:    decodeAspiration(get("asp")),
		}
		if liters := get("liter"); liters != "" {
			val, err := decimal.NewFromString(liters)
			if err != nil {
				return fmt.Errorf("aces: bad engine displacement %q: %w", liters, err)
			}
			engine.Liters = decimal.NewNullDecimal(val)
		}
		engineKey = engine.Key()
		if _, ok := chunk.Engines[engineKey]; !ok {
			chunk.Engines[engineKey] = engine
		}
	}

	vehicleKey := records.MakeKey(makeName, modelName, get("submodel"), string(engineKey))
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
	vehicle.Years[year] = struct{}{}

	part := get("exppartno")
	groups, ok := chunk.PartFitment[part]
	if !ok {
		groups = map[records.Key]*records.FitmentObservation{}
		chunk.PartFitment[part] = groups
	}
	info1, info2 := get("vqdescr"), get("fndescr")
	// Rows differing only by engine VIN collapse into one observation.
	fitKey := records.MakeKey(string(vehicleKey), info1, info2)
	obs, ok := groups[fitKey]
	if !ok {
		obs = &records.FitmentObservation{
			PartNumber: part,
			VehicleKey: vehicleKey,
			Years:      map[int]struct{}{},
			Info1:      info1,
			Info2:      info2,
		}
		groups[fitKey] = obs
	}
	obs.Years[year] = struct{}{}
	return nil
}

// decodeAspiration expands the feed's single-letter aspiration codes. Only
// supercharged and turbocharged are enumerated in the feed today.
func decodeAspiration(code string) string {
	switch code {
	case "S":
		return "Supercharged"
	case "T":
		return "Turbocharged"
	default:
		return "N/A"
	}
}

func parseYear(s string) (int, error) {
	year, err := strconv.Atoi(s)
	if err != nil || year <= 0 {
		return 0, fmt.Errorf("aces: bad model year %q", s)
	}
	return year, nil
}
