package reconcile

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"partsfeed/internal/catalog"
	"partsfeed/internal/logger"
	"partsfeed/internal/metrics"
	"partsfeed/internal/store"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, store.AutoMigrate(db))
	return db
}

// newEngine builds a fresh engine and recorder over db. Re-import tests use
// a new engine per run so asset type caches never mask database state.
func newEngine(db *gorm.DB) (*Engine, *metrics.Recorder) {
	rec := metrics.NewRecorder()
	e := New(db, logger.NewNop(), rec, Sizes{
		ProductChunk:       10,
		FitmentChunk:       10,
		CategoryChunk:      10,
		ScratchInsertChunk: 100,
	})
	return e, rec
}

const categoryFeed = "PartTerminologyName|PartNumber\n" +
	"Sway Bar Kit|SW-100\n" +
	"Sway Bar Kit|SW-300\n"

const catalogDoc = `<?xml version="1.0" encoding="UTF-8"?>
<PIES xmlns="http://www.autocare.org">
  <MarketCopy>
    <MarketCopyContent>Premium suspension.</MarketCopyContent>
    <DigitalAssets>
      <DigitalFileInformation>
        <AssetType>LGO</AssetType>
        <URI>https://cdn.example.com/logo.png</URI>
      </DigitalFileInformation>
    </DigitalAssets>
  </MarketCopy>
  <Items>
    <Item>
      <PartNumber>SW-100</PartNumber>
      <BrandLabel>Swayco</BrandLabel>
      <Descriptions>
        <Description DescriptionCode="EXT">Front Sway Bar Kit</Description>
        <Description DescriptionCode="FAB" Sequence="1">Forged steel arms</Description>
        <Description DescriptionCode="FAB" Sequence="2">Powder coated</Description>
      </Descriptions>
      <ProductAttributes>
        <ProductAttribute AttributeID="BAR DIAMETER">32mm</ProductAttribute>
      </ProductAttributes>
      <Prices>
        <Pricing PriceType="RET"><Price>199.95</Price></Pricing>
      </Prices>
      <DigitalAssets>
        <DigitalFileInformation>
          <AssetType>P04</AssetType>
          <URI>https://cdn.example.com/sw100.jpg</URI>
        </DigitalFileInformation>
      </DigitalAssets>
      <Packages>
        <Package>
          <PackageUOM>EA</PackageUOM>
          <QuantityofEaches>1</QuantityofEaches>
        </Package>
      </Packages>
    </Item>
    <Item>
      <PartNumber>SW-300</PartNumber>
      <BrandLabel>Swayco</BrandLabel>
      <Descriptions>
        <Description DescriptionCode="DES">Rear Sway Bar</Description>
      </Descriptions>
    </Item>
  </Items>
</PIES>`

const fitmentHeader = "CatCode|Year|Make|Model|SubModel|EngType|Liter|Fuel|FuelDel|Asp|EngVin|EngDesg|DCIPTDescr|EXPLDescr|VQDescr|FNDescr|EXPPartNo"

func fitmentFeed(rows ...string) *strings.Reader {
	return strings.NewReader(fitmentHeader + "\n" + strings.Join(rows, "\n") + "\n")
}

func importCategories(t *testing.T, db *gorm.DB) {
	t.Helper()
	e, _ := newEngine(db)
	require.NoError(t, e.ImportCategoryLookup(strings.NewReader(categoryFeed), "SWAY", nil))
}

func importCatalog(t *testing.T, db *gorm.DB, doc string) *metrics.Recorder {
	t.Helper()
	e, rec := newEngine(db)
	require.NoError(t, e.ImportCatalog(strings.NewReader(doc), "SWAY", nil))
	return rec
}

func TestImportCategoryLookup(t *testing.T) {
	db := testDB(t)
	e, rec := newEngine(db)
	require.NoError(t, e.ImportCategoryLookup(strings.NewReader(categoryFeed), "SWAY", nil))

	assert.EqualValues(t, 1, rec.Count("category", metrics.OpInsert))
	assert.EqualValues(t, 2, rec.Count("category_lookup", metrics.OpInsert))

	var lookup catalog.ProductCategoryLookup
	require.NoError(t, db.Joins("Category").Where("part_number = ?", "SW-100").First(&lookup).Error)
	assert.Equal(t, "SWAY", lookup.BrandShortName)
	assert.Equal(t, "Sway Bar Kit", lookup.Category.Name)
}

func TestImportCategoryLookupIdempotent(t *testing.T) {
	db := testDB(t)
	importCategories(t, db)

	e, rec := newEngine(db)
	require.NoError(t, e.ImportCategoryLookup(strings.NewReader(categoryFeed), "SWAY", nil))
	assert.Zero(t, rec.Writes())
}

func TestImportCatalogNeedsCategoryFeed(t *testing.T) {
	db := testDB(t)
	e, _ := newEngine(db)
	err := e.ImportCatalog(strings.NewReader(catalogDoc), "SWAY", nil)
	assert.ErrorIs(t, err, ErrMissingCategoryFeed)
}

func TestImportCatalog(t *testing.T) {
	db := testDB(t)
	importCategories(t, db)
	importCatalog(t, db, catalogDoc)

	var brand catalog.Brand
	require.NoError(t, db.Preload("Logo.Type").Where("short_name = ?", "SWAY").First(&brand).Error)
	assert.Equal(t, "Swayco", brand.Name)
	assert.Equal(t, "Premium suspension.", brand.MarketingCopy)
	require.NotNil(t, brand.Logo)
	assert.Equal(t, "https://cdn.example.com/logo.png", brand.Logo.URL)
	assert.Equal(t, "Brand Logo", brand.Logo.Type.Name)

	var product catalog.Product
	require.NoError(t, db.
		Preload("Features").
		Preload("Attributes.Attribute").
		Preload("Attributes.Value").
		Preload("Packages").
		Preload("DigitalAssets.DigitalAsset").
		Preload("Category").
		Where("part_number = ?", "SW-100").First(&product).Error)

	assert.Equal(t, "Front Sway Bar Kit", product.Name)
	assert.Equal(t, "Sway Bar Kit", product.Category.Name)
	require.True(t, product.RetailPrice.Valid)
	assert.True(t, product.RetailPrice.Decimal.Equal(decimal.RequireFromString("199.95")))

	require.Len(t, product.Features, 2)
	require.Len(t, product.Attributes, 1)
	assert.Equal(t, "Bar Diameter", product.Attributes[0].Attribute.Name)
	assert.Equal(t, "32mm", product.Attributes[0].Value.Value)
	require.Len(t, product.Packages, 1)
	require.Len(t, product.DigitalAssets, 1)
	assert.Equal(t, 1, product.DigitalAssets[0].DisplaySequence)

	var count int64
	require.NoError(t, db.Model(&catalog.Product{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestImportCatalogIdempotent(t *testing.T) {
	db := testDB(t)
	importCategories(t, db)
	importCatalog(t, db, catalogDoc)

	rec := importCatalog(t, db, catalogDoc)
	assert.Zero(t, rec.Writes(), rec.Summary())
}

func TestImportCatalogStoresCarbFlagOnFirstImport(t *testing.T) {
	db := testDB(t)
	importCategories(t, db)

	// EMS=2 marks SW-100 not legal for sale in California.
	doc := strings.Replace(catalogDoc,
		"<PartNumber>SW-100</PartNumber>",
		"<PartNumber>SW-100</PartNumber>\n"+
			"      <ExtendedInformation>\n"+
			"        <ExtendedProductInformation EXPICode=\"EMS\">2</ExtendedProductInformation>\n"+
			"      </ExtendedInformation>", 1)
	importCatalog(t, db, doc)

	var p catalog.Product
	require.NoError(t, db.Where("part_number = ?", "SW-100").First(&p).Error)
	assert.False(t, p.IsCarbLegal)
	var p2 catalog.Product
	require.NoError(t, db.Where("part_number = ?", "SW-300").First(&p2).Error)
	assert.True(t, p2.IsCarbLegal)

	rec := importCatalog(t, db, doc)
	assert.Zero(t, rec.Writes(), rec.Summary())
}

func TestImportCatalogPriceChangeKeepsCollections(t *testing.T) {
	db := testDB(t)
	importCategories(t, db)
	importCatalog(t, db, catalogDoc)

	var before catalog.Product
	require.NoError(t, db.Preload("Features").Where("part_number = ?", "SW-100").First(&before).Error)
	beforeIDs := featureRowIDs(before.Features)

	changed := strings.Replace(catalogDoc, "199.95", "219.95", 1)
	rec := importCatalog(t, db, changed)

	assert.EqualValues(t, 1, rec.Count("product", metrics.OpUpdate))
	assert.Zero(t, rec.Count("product_feature", metrics.OpDelete))
	assert.Zero(t, rec.Count("product_feature", metrics.OpInsert))
	assert.Zero(t, rec.Count("product_digital_asset", metrics.OpDelete))

	var after catalog.Product
	require.NoError(t, db.Preload("Features").Where("part_number = ?", "SW-100").First(&after).Error)
	assert.True(t, after.RetailPrice.Decimal.Equal(decimal.RequireFromString("219.95")))
	// The collection rows survive untouched, same primary keys.
	assert.Equal(t, beforeIDs, featureRowIDs(after.Features))
}

func TestImportCatalogFeatureChangeReplacesCollection(t *testing.T) {
	db := testDB(t)
	importCategories(t, db)
	importCatalog(t, db, catalogDoc)

	changed := strings.Replace(catalogDoc, "Powder coated", "Ceramic coated", 1)
	rec := importCatalog(t, db, changed)

	assert.EqualValues(t, 2, rec.Count("product_feature", metrics.OpDelete))
	assert.EqualValues(t, 2, rec.Count("product_feature", metrics.OpInsert))
	assert.Zero(t, rec.Count("product", metrics.OpUpdate))
	assert.Zero(t, rec.Count("product_attribute", metrics.OpDelete))

	var after catalog.Product
	require.NoError(t, db.Preload("Features").Where("part_number = ?", "SW-100").First(&after).Error)
	names := featureNames(after.Features)
	assert.Equal(t, []string{"Forged steel arms", "Ceramic coated"}, names)
}

func TestImportCatalogCategoryChangeAborts(t *testing.T) {
	db := testDB(t)
	importCategories(t, db)
	importCatalog(t, db, catalogDoc)

	// Point SW-100's lookup row at a different category.
	other := catalog.Category{Name: "Control Arms"}
	require.NoError(t, db.Create(&other).Error)
	require.NoError(t, db.Model(&catalog.ProductCategoryLookup{}).
		Where("part_number = ?", "SW-100").
		Update("category_id", other.ID).Error)

	e, _ := newEngine(db)
	err := e.ImportCatalog(strings.NewReader(catalogDoc), "SWAY", nil)
	assert.ErrorIs(t, err, ErrCategoryChanged)
}

func TestImportCatalogResumesFromCheckpoint(t *testing.T) {
	db := testDB(t)
	importCategories(t, db)
	importCatalog(t, db, catalogDoc)

	// A checkpoint past the only chunk means nothing is reconciled, even
	// against a database that would otherwise need writes.
	require.NoError(t, db.Model(&catalog.Product{}).
		Where("part_number = ?", "SW-100").
		Update("name", "stale name").Error)

	e, rec := newEngine(db)
	prog := &Progress{Chunk: 1}
	require.NoError(t, e.ImportCatalog(strings.NewReader(catalogDoc), "SWAY", prog))
	assert.Zero(t, rec.Writes())

	var p catalog.Product
	require.NoError(t, db.Where("part_number = ?", "SW-100").First(&p).Error)
	assert.Equal(t, "stale name", p.Name)
}

func TestChunkRollbackFlushesDimensionCaches(t *testing.T) {
	db := testDB(t)
	e, _ := newEngine(db)

	// Ids seeded inside a rolled-back transaction reference rows that never
	// committed; a failed chunk must not leave them behind.
	e.fuelTypeIDs["GAS"] = 99
	e.aspirationIDs["N/A"] = 99
	e.assetTypeIDs["Brand Logo"] = 99

	err := e.chunkTx(func(tx *gorm.DB) error { return errors.New("chunk failed") })
	require.Error(t, err)
	assert.Empty(t, e.fuelTypeIDs)
	assert.Empty(t, e.aspirationIDs)
	assert.Empty(t, e.assetTypeIDs)

	// A committed chunk keeps the caches warm.
	e.fuelTypeIDs["GAS"] = 7
	require.NoError(t, e.chunkTx(func(tx *gorm.DB) error { return nil }))
	assert.Equal(t, uint(7), e.fuelTypeIDs["GAS"])
}

func TestImportFitmentNeedsBrand(t *testing.T) {
	db := testDB(t)
	e, _ := newEngine(db)
	err := e.ImportFitment(fitmentFeed("C1|2018|Ford|F-150|||||||||||||SW-100"), "SWAY", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog must import first")
}

func TestImportFitment(t *testing.T) {
	db := testDB(t)
	importCategories(t, db)
	importCatalog(t, db, catalogDoc)

	e, rec := newEngine(db)
	feed := fitmentFeed(
		"C1|2018|Ford|F-150|XL|V6|3.5|GAS|FI|N||A||||Crew cab|SW-100",
		"C1|2019|Ford|F-150|XL|V6|3.5|GAS|FI|N||A||||Crew cab|SW-100",
	)
	require.NoError(t, e.ImportFitment(feed, "SWAY", nil))

	assert.EqualValues(t, 1, rec.Count("vehicle_make", metrics.OpInsert))
	assert.EqualValues(t, 1, rec.Count("vehicle_engine", metrics.OpInsert))
	assert.EqualValues(t, 1, rec.Count("product_fitment", metrics.OpInsert))

	var fact catalog.ProductFitment
	require.NoError(t, db.
		Preload("Product").
		Preload("Vehicle.Make").
		Preload("Vehicle.VehicleModel").
		Preload("Vehicle.SubModel").
		Preload("Vehicle.Engine.Aspiration").
		First(&fact).Error)

	assert.Equal(t, "SW-100", fact.Product.PartNumber)
	assert.Equal(t, 2018, fact.StartYear)
	assert.Equal(t, 2019, fact.EndYear)
	require.NotNil(t, fact.FitmentInfo2)
	assert.Equal(t, "Crew cab", *fact.FitmentInfo2)
	assert.Equal(t, "Ford", fact.Vehicle.Make.Name)
	assert.Equal(t, "F-150", fact.Vehicle.VehicleModel.Name)
	assert.Equal(t, "XL", fact.Vehicle.SubModel.Name)
	assert.Equal(t, "N/A", fact.Vehicle.Engine.Aspiration.Name)

	var years int64
	require.NoError(t, db.Model(&catalog.VehicleYear{}).Count(&years).Error)
	assert.EqualValues(t, 2, years)
}

func TestImportFitmentSkipsUnknownParts(t *testing.T) {
	db := testDB(t)
	importCategories(t, db)
	importCatalog(t, db, catalogDoc)

	e, _ := newEngine(db)
	require.NoError(t, e.ImportFitment(fitmentFeed(
		"C1|2018|Ford|F-150|||||||||||||UNKNOWN-PART",
	), "SWAY", nil))

	var facts int64
	require.NoError(t, db.Model(&catalog.ProductFitment{}).Count(&facts).Error)
	assert.Zero(t, facts)
}

func TestImportFitmentIdempotent(t *testing.T) {
	db := testDB(t)
	importCategories(t, db)
	importCatalog(t, db, catalogDoc)

	rows := []string{
		"C1|2018|Ford|F-150|XL|V6|3.5|GAS|FI|N||A||||Crew cab|SW-100",
		"C1|2019|Ford|F-150|XL|V6|3.5|GAS|FI|N||A||||Crew cab|SW-100",
	}
	e, _ := newEngine(db)
	require.NoError(t, e.ImportFitment(fitmentFeed(rows...), "SWAY", nil))

	e2, rec := newEngine(db)
	require.NoError(t, e2.ImportFitment(fitmentFeed(rows...), "SWAY", nil))
	assert.Zero(t, rec.Writes(), rec.Summary())
}

func TestImportFitmentChangeReplacesPartRows(t *testing.T) {
	db := testDB(t)
	importCategories(t, db)
	importCatalog(t, db, catalogDoc)

	e, _ := newEngine(db)
	require.NoError(t, e.ImportFitment(fitmentFeed(
		"C1|2018|Ford|F-150|XL|V6|3.5|GAS|FI|N||A|||||SW-100",
		"C1|2019|Ford|F-150|XL|V6|3.5|GAS|FI|N||A|||||SW-100",
	), "SWAY", nil))

	// A new disjoint year splits the set: the part's stored rows are
	// replaced whole.
	e2, rec := newEngine(db)
	require.NoError(t, e2.ImportFitment(fitmentFeed(
		"C1|2018|Ford|F-150|XL|V6|3.5|GAS|FI|N||A|||||SW-100",
		"C1|2019|Ford|F-150|XL|V6|3.5|GAS|FI|N||A|||||SW-100",
		"C1|2021|Ford|F-150|XL|V6|3.5|GAS|FI|N||A|||||SW-100",
	), "SWAY", nil))

	assert.EqualValues(t, 1, rec.Count("product_fitment", metrics.OpDelete))
	assert.EqualValues(t, 2, rec.Count("product_fitment", metrics.OpInsert))
	// The vehicle graph is shared and stays put.
	assert.Zero(t, rec.Count("vehicle", metrics.OpInsert))

	var facts []catalog.ProductFitment
	require.NoError(t, db.Order("start_year").Find(&facts).Error)
	require.Len(t, facts, 2)
	assert.Equal(t, 2018, facts[0].StartYear)
	assert.Equal(t, 2019, facts[0].EndYear)
	assert.Equal(t, 2021, facts[1].StartYear)
	assert.Equal(t, 2021, facts[1].EndYear)
}

func featureRowIDs(rows []catalog.ProductFeature) []uint {
	ids := make([]uint, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}
