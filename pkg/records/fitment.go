package records

import "strconv"

// Seed types hold the field values used to create a dimension row when its
// key is not already present. They mirror the creation order the reconciler
// follows: make → model → sub-model → engine → vehicle → vehicle-year.

type MakeSeed struct {
	Name string
}

type ModelSeed struct {
	Name    string
	MakeKey Key
}

type SubModelSeed struct {
	Name     string
	ModelKey Key
}

type VehicleSeed struct {
	MakeKey     Key
	ModelKey    Key
	SubModelKey Key // empty when no sub-model
	EngineKey   Key // empty when no engine
	Years       map[int]struct{}
}

// FitmentObservation is one (vehicle, note) group for one part. Years
// accumulates while parsing; Compress turns each group into one observation
// per contiguous year run with StartYear/EndYear set.
type FitmentObservation struct {
	PartNumber string
	VehicleKey Key
	Years      map[int]struct{}
	StartYear  int
	EndYear    int
	Info1      string
	Info2      string
}

// FitmentChunk accumulates grouped fitment observations for a bounded set of
// part numbers. Dimension maps are deduplicated across every part in the
// chunk, not per part, so the downstream upserts see each distinct key once.
type FitmentChunk struct {
	Makes     map[Key]MakeSeed
	Models    map[Key]ModelSeed
	SubModels map[Key]SubModelSeed
	Engines   map[Key]EngineRef
	Vehicles  map[Key]*VehicleSeed

	// PartFitment maps part number → fitment key → observation. Before
	// Compress the fitment key is (vehicle, info1, info2); after Compress it
	// is prefixed with the year span so disjoint ranges coexist.
	PartFitment map[string]map[Key]*FitmentObservation
}

func NewFitmentChunk() *FitmentChunk {
	return &FitmentChunk{
		Makes:       make(map[Key]MakeSeed),
		Models:      make(map[Key]ModelSeed),
		SubModels:   make(map[Key]SubModelSeed),
		Engines:     make(map[Key]EngineRef),
		Vehicles:    make(map[Key]*VehicleSeed),
		PartFitment: make(map[string]map[Key]*FitmentObservation),
	}
}

// Parts returns the number of distinct part numbers accumulated so far.
func (c *FitmentChunk) Parts() int {
	return len(c.PartFitment)
}

// Compress rewrites every observation group into minimal contiguous year
// ranges. Each resulting observation keeps a copy of the group's shared
// attributes; the original year sets are discarded.
func (c *FitmentChunk) Compress() {
	for part, groups := range c.PartFitment {
		compressed := make(map[Key]*FitmentObservation, len(groups))
		for key, obs := range groups {
			years := make([]int, 0, len(obs.Years))
			for y := range obs.Years {
				years = append(years, y)
			}
			for _, r := range CompressYears(years) {
				span := *obs
				span.Years = nil
				span.StartYear = r.Start
				span.EndYear = r.End
				compressed[key.Prefixed(strconv.Itoa(r.Start), strconv.Itoa(r.End))] = &span
			}
		}
		c.PartFitment[part] = compressed
	}
}
