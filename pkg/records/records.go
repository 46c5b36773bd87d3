// Package records defines the canonical in-memory records the feed parsers
// emit and the reconciliation engine consumes. The types are deliberately
// storage-agnostic: parsers know nothing about the relational model, the
// reconciler knows nothing about feed file layouts.
package records

import "github.com/shopspring/decimal"

// BrandRecord is the brand-level data discovered from a catalog feed.
type BrandRecord struct {
	Name          string
	ShortName     string
	MarketingCopy string
	Logo          *AssetRecord
}

// ProductRecord is one canonical product from either catalog feed. Optional
// sections that are absent in the feed are empty slices, never nil checks at
// the call site are required beyond len().
type ProductRecord struct {
	PartNumber         string
	InternalPartNumber string // second-vendor feed only
	Name               string

	IsHazardous    bool
	IsCarbLegal    bool
	IsDiscontinued bool
	IsObsolete     bool
	IsSuperseded   bool
	SupersededBy   string

	MapPrice    decimal.NullDecimal
	RetailPrice decimal.NullDecimal
	Cost        decimal.NullDecimal
	CoreCharge  decimal.NullDecimal

	// Second-vendor categorization; the PIES pipeline resolves categories
	// through the lookup feed instead.
	ProductLine string
	Category    string
	SubCategory string

	Features   []string
	Attributes []AttributeRecord
	Packages   []PackageRecord
	Assets     []AssetRecord
}

// AttributeRecord is a free-text attribute observation (name normalized to
// title case at parse time).
type AttributeRecord struct {
	Name  string
	Value string
}

// PackageRecord is one packaging block, unit-normalized at parse time (all
// dimensions in inches, weights in pounds, 2 fraction digits).
type PackageRecord struct {
	Quantity          int
	Weight            decimal.NullDecimal
	DimensionalWeight decimal.NullDecimal
	Height            decimal.NullDecimal
	Length            decimal.NullDecimal
	Width             decimal.NullDecimal
}

// AssetRecord describes one digital asset reference. DisplaySequence orders
// product images; the primary image carries 1 and sorts first, documents
// carry 0.
type AssetRecord struct {
	URL             string
	Type            string
	FileSizeBytes   *int64
	DisplaySequence int
}

// EngineRef is the composite engine identity used by the fitment feed.
// Liters may be null; Aspiration is already decoded to its display name.
type EngineRef struct {
	Configuration string
	Liters        decimal.NullDecimal
	EngineCode    string
	FuelType      string
	FuelDelivery  string
	Aspiration    string
}

// Key returns the engine's composite natural key. Null liters and a missing
// engine code coerce to empty segments.
func (e EngineRef) Key() Key {
	liters := ""
	if e.Liters.Valid {
		liters = e.Liters.Decimal.String()
	}
	return MakeKey(e.Configuration, liters, e.FuelType, e.FuelDelivery, e.EngineCode, e.Aspiration)
}

// VendorFitmentRow is one pre-ranged fitment row from the second-vendor
// feed: a flat engine name and a single note, years already as a range.
type VendorFitmentRow struct {
	Make      string
	Model     string
	SubModel  string
	Engine    string
	StartYear int
	EndYear   int
	Note      string
}
