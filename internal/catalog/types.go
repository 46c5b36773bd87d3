// Package catalog defines the relational model both supplier pipelines
// reconcile into: brand/category/product dimensions, their related
// collections, the vehicle dimension graph, and the fitment fact table.
// Uniqueness lives on natural keys; generated ids exist only as join targets.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Model is the embedded base for every table.
type Model struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time `gorm:"index"`
}

// GetID lets generic code read the generated id off any entity.
func (m *Model) GetID() uint { return m.ID }

type DigitalAssetType struct {
	Model
	Name string `gorm:"size:100;uniqueIndex"`
}

type DigitalAsset struct {
	Model
	TypeID        uint              `gorm:"uniqueIndex:idx_asset_url_type,priority:2"`
	Type          *DigitalAssetType `gorm:"foreignKey:TypeID"`
	URL           string            `gorm:"size:200;uniqueIndex:idx_asset_url_type,priority:1"`
	FileSizeBytes *int64
}

type Brand struct {
	Model
	Name          string        `gorm:"size:100;uniqueIndex"`
	ShortName     string        `gorm:"size:10;uniqueIndex"`
	LogoID        *uint
	Logo          *DigitalAsset `gorm:"foreignKey:LogoID"`
	MarketingCopy string
}

// ProductLine groups second-vendor products under a brand.
type ProductLine struct {
	Model
	Name    string `gorm:"size:150;uniqueIndex:idx_product_line,priority:1"`
	BrandID uint   `gorm:"uniqueIndex:idx_product_line,priority:2"`
	Brand   *Brand `gorm:"foreignKey:BrandID"`
}

// Category is a self-referential tree. Depth is materialized at write time
// and checked against MaxCategoryDepth; see EnsureDepth.
type Category struct {
	Model
	Name     string    `gorm:"size:100;index;uniqueIndex:idx_category_name_parent,priority:1"`
	ParentID *uint     `gorm:"uniqueIndex:idx_category_name_parent,priority:2"`
	Parent   *Category `gorm:"foreignKey:ParentID"`
	Depth    int       `gorm:"not null;default:0"`
}

type Product struct {
	Model
	PartNumber         string  `gorm:"size:50;index;uniqueIndex:idx_product_part_brand,priority:1"`
	InternalPartNumber *string `gorm:"size:30;uniqueIndex"`
	Name               string  `gorm:"size:300;index"`
	BrandID            uint    `gorm:"uniqueIndex:idx_product_part_brand,priority:2"`
	Brand              *Brand  `gorm:"foreignKey:BrandID"`
	ProductLineID      *uint
	ProductLine        *ProductLine `gorm:"foreignKey:ProductLineID"`

	// IsCarbLegal carries no column default: a default tag would make
	// GORM omit explicit false values on insert.
	IsHazardous    bool `gorm:"index"`
	IsCarbLegal    bool `gorm:"index"`
	IsDiscontinued bool `gorm:"index"`
	IsSuperseded   bool `gorm:"index"`
	SupersededBy   *string `gorm:"size:50;index"`
	IsObsolete     bool `gorm:"index"`

	MapPrice    decimal.NullDecimal `gorm:"type:numeric(7,2);index"`
	RetailPrice decimal.NullDecimal `gorm:"type:numeric(7,2);index"`
	Cost        decimal.NullDecimal `gorm:"type:numeric(7,2)"`
	CoreCharge  decimal.NullDecimal `gorm:"type:numeric(7,2)"`

	CategoryID uint      `gorm:"index"`
	Category   *Category `gorm:"foreignKey:CategoryID"`

	Features      []ProductFeature      `gorm:"foreignKey:ProductID"`
	Attributes    []ProductAttribute    `gorm:"foreignKey:ProductID"`
	Packages      []ProductPackaging    `gorm:"foreignKey:ProductID"`
	DigitalAssets []ProductDigitalAsset `gorm:"foreignKey:ProductID"`
}

// ProductFeature is an ordered marketing bullet; ListingSequence is the
// position in the source list.
type ProductFeature struct {
	Model
	Name            string `gorm:"size:300"`
	ListingSequence int
	ProductID       uint `gorm:"index"`
}

// Attribute is scoped to a category; AttributeValue to an attribute.
type Attribute struct {
	Model
	Name       string    `gorm:"size:100;index;uniqueIndex:idx_attribute_name_category,priority:1"`
	CategoryID uint      `gorm:"uniqueIndex:idx_attribute_name_category,priority:2"`
	Category   *Category `gorm:"foreignKey:CategoryID"`
}

type AttributeValue struct {
	Model
	AttributeID uint       `gorm:"uniqueIndex:idx_attribute_value,priority:1"`
	Attribute   *Attribute `gorm:"foreignKey:AttributeID"`
	Value       string     `gorm:"size:300;index;uniqueIndex:idx_attribute_value,priority:2"`
}

type ProductAttribute struct {
	Model
	ProductID   uint            `gorm:"uniqueIndex:idx_product_attribute,priority:1"`
	AttributeID uint            `gorm:"uniqueIndex:idx_product_attribute,priority:2"`
	Attribute   *Attribute      `gorm:"foreignKey:AttributeID"`
	ValueID     uint            `gorm:"uniqueIndex:idx_product_attribute,priority:3"`
	Value       *AttributeValue `gorm:"foreignKey:ValueID"`
}

type ProductPackaging struct {
	Model
	ProductID         uint `gorm:"index"`
	ProductQuantity   int
	Weight            decimal.NullDecimal `gorm:"type:numeric(7,2)"`
	DimensionalWeight decimal.NullDecimal `gorm:"type:numeric(7,2)"`
	Height            decimal.NullDecimal `gorm:"type:numeric(7,2)"`
	Length            decimal.NullDecimal `gorm:"type:numeric(7,2)"`
	Width             decimal.NullDecimal `gorm:"type:numeric(7,2)"`
}

type ProductDigitalAsset struct {
	Model
	ProductID       uint          `gorm:"uniqueIndex:idx_product_asset,priority:1"`
	DigitalAssetID  uint          `gorm:"uniqueIndex:idx_product_asset,priority:2"`
	DigitalAsset    *DigitalAsset `gorm:"foreignKey:DigitalAssetID"`
	DisplaySequence int
}

// ProductCategoryLookup carries the part→category mapping supplied by the
// lightweight flat feed; the XML catalog cannot resolve categories alone.
type ProductCategoryLookup struct {
	Model
	BrandShortName string    `gorm:"size:10;index;uniqueIndex:idx_category_lookup,priority:1"`
	CategoryID     uint      `gorm:"uniqueIndex:idx_category_lookup,priority:2"`
	Category       *Category `gorm:"foreignKey:CategoryID"`
	PartNumber     string    `gorm:"size:50;index;uniqueIndex:idx_category_lookup,priority:3"`
}

type VehicleMake struct {
	Model
	Name string `gorm:"size:100;uniqueIndex"`
}

type VehicleModel struct {
	Model
	Name   string       `gorm:"size:100;index;uniqueIndex:idx_model_name_make,priority:1"`
	MakeID uint         `gorm:"uniqueIndex:idx_model_name_make,priority:2"`
	Make   *VehicleMake `gorm:"foreignKey:MakeID"`
}

type VehicleSubModel struct {
	Model
	Name           string        `gorm:"size:100;index;uniqueIndex:idx_submodel_name_model,priority:1"`
	VehicleModelID uint          `gorm:"uniqueIndex:idx_submodel_name_model,priority:2"`
	VehicleModel   *VehicleModel `gorm:"foreignKey:VehicleModelID"`
}

type FuelType struct {
	Model
	Name string `gorm:"size:20;uniqueIndex"`
}

type FuelDelivery struct {
	Model
	Name string `gorm:"size:10;uniqueIndex"`
}

type EngineAspiration struct {
	Model
	Name string `gorm:"size:12;uniqueIndex"`
}

// VehicleEngine covers both pipelines: the fitment feed supplies the full
// composite identity, the second-vendor feed only a flat name which is stored
// in Configuration with the remaining segments empty.
type VehicleEngine struct {
	Model
	Configuration  string              `gorm:"size:100;index;uniqueIndex:idx_engine,priority:1"`
	Liters         decimal.NullDecimal `gorm:"type:numeric(3,1);index;uniqueIndex:idx_engine,priority:2"`
	EngineCode     *string             `gorm:"size:100;index;uniqueIndex:idx_engine,priority:5"`
	AspirationID   *uint               `gorm:"uniqueIndex:idx_engine,priority:6"`
	Aspiration     *EngineAspiration   `gorm:"foreignKey:AspirationID"`
	FuelTypeID     *uint               `gorm:"uniqueIndex:idx_engine,priority:3"`
	FuelType       *FuelType           `gorm:"foreignKey:FuelTypeID"`
	FuelDeliveryID *uint               `gorm:"uniqueIndex:idx_engine,priority:4"`
	FuelDelivery   *FuelDelivery       `gorm:"foreignKey:FuelDeliveryID"`
}

type Vehicle struct {
	Model
	MakeID         uint             `gorm:"uniqueIndex:idx_vehicle,priority:1"`
	Make           *VehicleMake     `gorm:"foreignKey:MakeID"`
	VehicleModelID uint             `gorm:"uniqueIndex:idx_vehicle,priority:2"`
	VehicleModel   *VehicleModel    `gorm:"foreignKey:VehicleModelID"`
	SubModelID     *uint            `gorm:"uniqueIndex:idx_vehicle,priority:3"`
	SubModel       *VehicleSubModel `gorm:"foreignKey:SubModelID"`
	EngineID       *uint            `gorm:"uniqueIndex:idx_vehicle,priority:4"`
	Engine         *VehicleEngine   `gorm:"foreignKey:EngineID"`
}

// VehicleYear stores one row per vehicle per fitting year. Years stay
// denormalized off the vehicle so one vehicle row can back many fitment
// ranges with different spans.
type VehicleYear struct {
	Model
	VehicleID uint     `gorm:"uniqueIndex:idx_vehicle_year,priority:1"`
	Vehicle   *Vehicle `gorm:"foreignKey:VehicleID"`
	Year      int      `gorm:"index;uniqueIndex:idx_vehicle_year,priority:2"`
}

// ProductFitment is the fact table. Uniqueness includes the note fields so
// one vehicle can carry several disjoint annotated ranges for the same part.
type ProductFitment struct {
	Model
	ProductID    uint     `gorm:"uniqueIndex:idx_fitment,priority:1"`
	Product      *Product `gorm:"foreignKey:ProductID"`
	VehicleID    uint     `gorm:"uniqueIndex:idx_fitment,priority:2"`
	Vehicle      *Vehicle `gorm:"foreignKey:VehicleID"`
	StartYear    int      `gorm:"index;uniqueIndex:idx_fitment,priority:3"`
	EndYear      int      `gorm:"index;uniqueIndex:idx_fitment,priority:4"`
	FitmentInfo1 *string  `gorm:"size:1000;uniqueIndex:idx_fitment,priority:5"`
	FitmentInfo2 *string  `gorm:"size:1000;uniqueIndex:idx_fitment,priority:6"`
}

// Import actions recorded on tracking rows.
const (
	ActionImport  = 1
	ActionArchive = 2
	ActionNone    = 3
)

// ImportTracking is the append-only audit row for one file-processing
// attempt. EndDate is set only on success; StackTrace captures the final
// failure when the retry budget is exhausted.
type ImportTracking struct {
	Model
	TrackingType   string `gorm:"size:50;index"`
	ImportAction   int    `gorm:"index;default:1"`
	FileName       string `gorm:"size:100"`
	StackTrace     *string
	BrandShortName string     `gorm:"size:10;index"`
	StartDate      time.Time  `gorm:"index"`
	EndDate        *time.Time `gorm:"index"`
}
