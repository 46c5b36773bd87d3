package reconcile

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/zeebo/xxh3"

	"partsfeed/internal/catalog"
	"partsfeed/pkg/records"
)

// productDiff captures what an incoming record changes on an existing
// product. Collections are replaced whole or left alone; there is no
// row-level merge.
type productDiff struct {
	scalarChanged bool

	replaceFeatures bool
	replaceAttrs    bool
	replacePackages bool
	replaceAssets   bool
}

func (d productDiff) any() bool {
	return d.scalarChanged || d.replaceFeatures || d.replaceAttrs || d.replacePackages || d.replaceAssets
}

// diffProduct compares the incoming record against the loaded existing row
// (relations preloaded) and mutates the row's scalar fields in place. The
// category is identity, not state: a changed category aborts the import.
func diffProduct(existing *catalog.Product, in records.ProductRecord, categoryID uint) (productDiff, error) {
	var d productDiff
	if categoryID != 0 && existing.CategoryID != categoryID {
		return d, fmt.Errorf("%w: part %s", ErrCategoryChanged, existing.PartNumber)
	}
	d.scalarChanged = applyScalars(existing, in)
	d.replaceFeatures = featureFingerprint(featureNames(existing.Features)) != featureFingerprint(in.Features)
	d.replaceAttrs = setFingerprint(existingAttrStrings(existing.Attributes)) != setFingerprint(incomingAttrStrings(in.Attributes))
	d.replacePackages = setFingerprint(existingPackageStrings(existing.Packages)) != setFingerprint(incomingPackageStrings(in.Packages))
	d.replaceAssets = setFingerprint(existingAssetStrings(existing.DigitalAssets)) != setFingerprint(incomingAssetStrings(in.Assets))
	return d, nil
}

func applyScalars(p *catalog.Product, in records.ProductRecord) bool {
	changed := false
	setStr := func(dst *string, v string) {
		if *dst != v {
			*dst = v
			changed = true
		}
	}
	setBool := func(dst *bool, v bool) {
		if *dst != v {
			*dst = v
			changed = true
		}
	}
	setDec := func(dst *decimal.NullDecimal, v decimal.NullDecimal) {
		if !nullDecEqual(*dst, v) {
			*dst = v
			changed = true
		}
	}

	setStr(&p.Name, in.Name)
	setBool(&p.IsHazardous, in.IsHazardous)
	setBool(&p.IsCarbLegal, in.IsCarbLegal)
	setBool(&p.IsDiscontinued, in.IsDiscontinued)
	setBool(&p.IsObsolete, in.IsObsolete)
	setBool(&p.IsSuperseded, in.IsSuperseded)
	if strVal(p.SupersededBy) != in.SupersededBy {
		p.SupersededBy = strPtr(in.SupersededBy)
		changed = true
	}
	setDec(&p.MapPrice, in.MapPrice)
	setDec(&p.RetailPrice, in.RetailPrice)
	setDec(&p.Cost, in.Cost)
	setDec(&p.CoreCharge, in.CoreCharge)
	return changed
}

func nullDecEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func decStr(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}

// featureFingerprint is order-sensitive; feature bullets keep their listing
// order.
func featureFingerprint(items []string) uint64 {
	h := xxh3.New()
	for _, it := range items {
		h.WriteString(it)
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// setFingerprint hashes a canonical sorted serialization, so collection
// comparisons ignore row order and generated ids.
func setFingerprint(items []string) uint64 {
	sort.Strings(items)
	return featureFingerprint(items)
}

func featureNames(rows []catalog.ProductFeature) []string {
	sorted := make([]catalog.ProductFeature, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ListingSequence < sorted[j].ListingSequence })
	names := make([]string, len(sorted))
	for i, r := range sorted {
		names[i] = r.Name
	}
	return names
}

func existingAttrStrings(rows []catalog.ProductAttribute) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		name, value := "", ""
		if r.Attribute != nil {
			name = r.Attribute.Name
		}
		if r.Value != nil {
			value = r.Value.Value
		}
		out = append(out, string(records.MakeKey(name, value)))
	}
	return out
}

func incomingAttrStrings(attrs []records.AttributeRecord) []string {
	out := make([]string, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, string(records.MakeKey(a.Name, a.Value)))
	}
	return out
}

func existingPackageStrings(rows []catalog.ProductPackaging) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, string(records.MakeKey(
			strconv.Itoa(r.ProductQuantity),
			decStr(r.Weight), decStr(r.DimensionalWeight),
			decStr(r.Height), decStr(r.Length), decStr(r.Width),
		)))
	}
	return out
}

func incomingPackageStrings(pkgs []records.PackageRecord) []string {
	out := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, string(records.MakeKey(
			strconv.Itoa(p.Quantity),
			decStr(p.Weight), decStr(p.DimensionalWeight),
			decStr(p.Height), decStr(p.Length), decStr(p.Width),
		)))
	}
	return out
}

func existingAssetStrings(rows []catalog.ProductDigitalAsset) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		url, typeName := "", ""
		var size *int64
		if r.DigitalAsset != nil {
			url = r.DigitalAsset.URL
			size = r.DigitalAsset.FileSizeBytes
			if r.DigitalAsset.Type != nil {
				typeName = r.DigitalAsset.Type.Name
			}
		}
		out = append(out, assetString(url, typeName, size, r.DisplaySequence))
	}
	return out
}

func incomingAssetStrings(assets []records.AssetRecord) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, assetString(a.URL, a.Type, a.FileSizeBytes, a.DisplaySequence))
	}
	return out
}

func assetString(url, typeName string, size *int64, seq int) string {
	sizeStr := ""
	if size != nil {
		sizeStr = strconv.FormatInt(*size, 10)
	}
	return string(records.MakeKey(url, typeName, sizeStr, strconv.Itoa(seq)))
}
