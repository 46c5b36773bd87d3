package vendorcsv

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, src string) []Product {
	t.Helper()
	var out []Product
	require.NoError(t, ParseProducts(strings.NewReader(src), func(p Product) error {
		out = append(out, p)
		return nil
	}))
	return out
}

func TestParseProducts(t *testing.T) {
	src := "PartNumber|InternalPartNumber|PrimaryVendor|ProductLine|Category|SubCategory|Name|Retail|MAP|Cost|CoreCharge|IsCarbLegal|IsDiscontinued|PrimaryImage|Images\n" +
		"SW-100|V-1001|Swayco|Performance|Suspension|Sway Bars|Front Sway Bar|1,299.999|999.99|650.00|25.00|true|false|https://img/main.jpg|https://img/a.jpg;https://img/b.jpg\n"
	products := parseAll(t, src)
	require.Len(t, products, 1)
	p := products[0]

	assert.Equal(t, "SW-100", p.PartNumber)
	assert.Equal(t, "V-1001", p.InternalPartNumber)
	assert.Equal(t, "Swayco", p.Vendor)
	assert.Equal(t, "Performance", p.ProductLine)
	assert.Equal(t, "Suspension", p.Category)
	assert.Equal(t, "Sway Bars", p.SubCategory)
	assert.Equal(t, "Front Sway Bar", p.Name)

	// Thousands separators strip, prices round to cents.
	assert.True(t, p.RetailPrice.Decimal.Equal(decimal.RequireFromString("1300.00")))
	assert.True(t, p.MapPrice.Decimal.Equal(decimal.RequireFromString("999.99")))
	assert.True(t, p.Cost.Decimal.Equal(decimal.RequireFromString("650.00")))
	assert.True(t, p.CoreCharge.Decimal.Equal(decimal.RequireFromString("25.00")))

	assert.True(t, p.IsCarbLegal)
	assert.False(t, p.IsDiscontinued)

	require.Len(t, p.Images, 3)
	assert.Equal(t, "https://img/main.jpg", p.Images[0].URL)
	assert.Equal(t, 1, p.Images[0].DisplaySequence)
	assert.Equal(t, "https://img/a.jpg", p.Images[1].URL)
	assert.Equal(t, 2, p.Images[1].DisplaySequence)
	assert.Equal(t, 3, p.Images[2].DisplaySequence)
}

func TestParseProductsSkipsRowsWithoutInternalPartNumber(t *testing.T) {
	src := "PartNumber|InternalPartNumber|Name\nSW-100||No internal id\nSW-200|V-2|Kept\n"
	products := parseAll(t, src)
	require.Len(t, products, 1)
	assert.Equal(t, "V-2", products[0].InternalPartNumber)
}

func TestParseProductsEmptyCellsLeaveDefaults(t *testing.T) {
	src := "PartNumber|InternalPartNumber|Retail|IsDiscontinued\nSW-100|V-1||\n"
	products := parseAll(t, src)
	require.Len(t, products, 1)
	assert.False(t, products[0].RetailPrice.Valid)
	assert.False(t, products[0].IsDiscontinued)
	assert.Empty(t, products[0].Images)
}

func TestParseProductsBadDecimal(t *testing.T) {
	src := "InternalPartNumber|Retail\nV-1|not-a-price\n"
	err := ParseProducts(strings.NewReader(src), func(Product) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column retail")
}

func TestParseFitment(t *testing.T) {
	src := "InternalPartNumber|Make|Model|SubModel|Engine|StartYear|EndYear|Note\n" +
		"V-1|Ford|F-150|XL|3.5L V6|2015|2018|Crew cab\n" +
		"V-1|Ford|F-150|XLT||2016|2016|\n" +
		"V-2|Dodge|Ram|||2010|2012|\n"
	fitment, err := ParseFitment(strings.NewReader(src))
	require.NoError(t, err)

	require.Len(t, fitment, 2)
	require.Len(t, fitment["V-1"], 2)
	first := fitment["V-1"][0]
	assert.Equal(t, "Ford", first.Make)
	assert.Equal(t, "3.5L V6", first.Engine)
	assert.Equal(t, 2015, first.StartYear)
	assert.Equal(t, 2018, first.EndYear)
	assert.Equal(t, "Crew cab", first.Note)
	require.Len(t, fitment["V-2"], 1)
}

func TestParseFitmentInvertedRange(t *testing.T) {
	src := "InternalPartNumber|Make|Model|StartYear|EndYear\nV-1|Ford|F-150|2018|2015\n"
	_, err := ParseFitment(strings.NewReader(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inverted")
}
