// Package vendorcsv parses the second vendor's pipe-delimited product and
// fitment exports. Product columns resolve through a static field-mapping
// table so upstream column additions are ignored and renames are a
// one-line change.
package vendorcsv

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"partsfeed/internal/parser/flatfile"
	"partsfeed/pkg/records"
)

// Product is one vendor catalog row: the canonical product record plus the
// vendor-pipeline extras that ride alongside it.
type Product struct {
	records.ProductRecord
	Vendor string
	Images []records.AssetRecord
}

// fieldMapping binds a source column to a setter. Columns absent from the
// table are ignored; empty cells leave the target untouched.
type fieldMapping struct {
	column string
	apply  func(*Product, string) error
}

var productMappings = []fieldMapping{
	{"partnumber", func(p *Product, v string) error { p.PartNumber = v; return nil }},
	{"internalpartnumber", func(p *Product, v string) error { p.InternalPartNumber = v; return nil }},
	{"primaryvendor", func(p *Product, v string) error { p.Vendor = v; return nil }},
	{"productline", func(p *Product, v string) error { p.ProductLine = v; return nil }},
	{"category", func(p *Product, v string) error { p.Category = v; return nil }},
	{"subcategory", func(p *Product, v string) error { p.SubCategory = v; return nil }},
	{"name", func(p *Product, v string) error { p.Name = v; return nil }},
	{"retail", decimalField(func(p *Product, d decimal.NullDecimal) { p.RetailPrice = d })},
	{"map", decimalField(func(p *Product, d decimal.NullDecimal) { p.MapPrice = d })},
	{"cost", decimalField(func(p *Product, d decimal.NullDecimal) { p.Cost = d })},
	{"corecharge", decimalField(func(p *Product, d decimal.NullDecimal) { p.CoreCharge = d })},
	{"iscarblegal", boolField(func(p *Product, b bool) { p.IsCarbLegal = b })},
	{"isdiscontinued", boolField(func(p *Product, b bool) { p.IsDiscontinued = b })},
	{"primaryimage", func(p *Product, v string) error {
		p.Images = append(p.Images, records.AssetRecord{URL: v, Type: "Product Image", DisplaySequence: 1})
		return nil
	}},
	{"images", func(p *Product, v string) error {
		seq := 1
		for _, url := range strings.Split(v, ";") {
			url = strings.TrimSpace(url)
			if url == "" {
				continue
			}
			seq++
			p.Images = append(p.Images, records.AssetRecord{URL: url, Type: "Product Image", DisplaySequence: seq})
		}
		return nil
	}},
}

func decimalField(set func(*Product, decimal.NullDecimal)) func(*Product, string) error {
	return func(p *Product, v string) error {
		val, err := decimal.NewFromString(strings.ReplaceAll(v, ",", ""))
		if err != nil {
			return fmt.Errorf("bad decimal %q: %w", v, err)
		}
		set(p, decimal.NewNullDecimal(val.Round(2)))
		return nil
	}
}

func boolField(set func(*Product, bool)) func(*Product, string) error {
	return func(p *Product, v string) error {
		b, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			return fmt.Errorf("bad boolean %q: %w", v, err)
		}
		set(p, b)
		return nil
	}
}

// ParseProducts streams the product export and invokes fn per row. Rows
// without an internal part number are skipped.
func ParseProducts(src io.Reader, fn func(Product) error) error {
	r, err := flatfile.NewPipeReader(src)
	if err != nil {
		return fmt.Errorf("vendorcsv: %w", err)
	}
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("vendorcsv: line %d: %w", r.Line(), err)
		}
		p := Product{}
		p.Features = []string{}
		p.Attributes = []records.AttributeRecord{}
		p.Packages = []records.PackageRecord{}
		p.Assets = []records.AssetRecord{}
		for _, m := range productMappings {
			cell := rec.Get(m.column)
			if cell == "" {
				continue
			}
			if err := m.apply(&p, cell); err != nil {
				return fmt.Errorf("vendorcsv: line %d, column %s: %w", rec.Line(), m.column, err)
			}
		}
		if p.InternalPartNumber == "" {
			continue
		}
		if err := fn(p); err != nil {
			return err
		}
	}
}

// ParseFitment reads the fitment export and groups rows by internal part
// number. Vendor fitment arrives pre-ranged, so no year compression is
// needed here.
func ParseFitment(src io.Reader) (map[string][]records.VendorFitmentRow, error) {
	r, err := flatfile.NewPipeReader(src)
	if err != nil {
		return nil, fmt.Errorf("vendorcsv: %w", err)
	}
	fitment := map[string][]records.VendorFitmentRow{}
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return fitment, nil
		}
		if err != nil {
			return nil, fmt.Errorf("vendorcsv: line %d: %w", r.Line(), err)
		}
		part := rec.Get("internalpartnumber")
		if part == "" {
			continue
		}
		start, err := strconv.Atoi(rec.Get("startyear"))
		if err != nil {
			return nil, fmt.Errorf("vendorcsv: line %d: bad start year %q", rec.Line(), rec.Get("startyear"))
		}
		end, err := strconv.Atoi(rec.Get("endyear"))
		if err != nil {
			return nil, fmt.Errorf("vendorcsv: line %d: bad end year %q", rec.Line(), rec.Get("endyear"))
		}
		if end < start {
			return nil, fmt.Errorf("vendorcsv: line %d: year range %d - %d is inverted", rec.Line(), start, end)
		}
		fitment[part] = append(fitment[part], records.VendorFitmentRow{
			Make:      rec.Get("make"),
			Model:     rec.Get("model"),
			SubModel:  rec.Get("submodel"),
			Engine:    rec.Get("engine"),
			StartYear: start,
			EndYear:   end,
			Note:      rec.Get("note"),
		})
	}
}
