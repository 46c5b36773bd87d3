// Package pies parses PIES catalog XML documents into canonical product
// records. The document carries no top-level brand element, so the scanner
// reads forward until it has seen the MarketCopy block and the first Item,
// derives the brand from those, and then streams the remaining items one at
// a time without materializing the document.
package pies

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"partsfeed/pkg/records"
)

// Namespace is the Autocare PIES XML namespace.
const Namespace = "http://www.autocare.org"

// ErrNoBrand is returned when the document ends before both a MarketCopy
// block and an Item element were seen.
var ErrNoBrand = errors.New("pies: no marketing copy or brand name found in document")

var (
	imageTypeRe = regexp.MustCompile(`^P[0-9]+$`)

	docAssetTypes = map[string]string{
		"WAR": "Warranty",
		"OWN": "Owners Manual",
		"INS": "Install Instructions",
	}

	productImageType = "Product Image"

	cmToInches    = decimal.RequireFromString("0.3937007874")
	kgToPounds    = decimal.RequireFromString("2.20462")
	attributeCase = cases.Title(language.English)
)

// Scanner streams product records out of one PIES document.
type Scanner struct {
	dec       *xml.Decoder
	shortName string

	brand    records.BrandRecord
	buffered []records.ProductRecord
	scanned  bool
}

// NewScanner wraps src. Call Brand before Next.
func NewScanner(src io.Reader, brandShortName string) *Scanner {
	return &Scanner{dec: xml.NewDecoder(src), shortName: brandShortName}
}

// Brand scans forward until the brand identity is known and returns it.
// Items consumed during the scan are buffered and replayed by Next.
func (s *Scanner) Brand() (records.BrandRecord, error) {
	if s.scanned {
		return s.brand, nil
	}
	var haveCopy, haveName bool
	for !(haveCopy && haveName) {
		tok, err := s.dec.Token()
		if err == io.EOF {
			return records.BrandRecord{}, ErrNoBrand
		}
		if err != nil {
			return records.BrandRecord{}, fmt.Errorf("pies: read token: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "MarketCopy":
			var mc xmlMarketCopy
			if err := s.dec.DecodeElement(&mc, &start); err != nil {
				return records.BrandRecord{}, fmt.Errorf("pies: decode MarketCopy: %w", err)
			}
			s.brand.MarketingCopy = mc.Content
			for _, asset := range mc.Assets {
				if asset.AssetType == "LGO" {
					s.brand.Logo = &records.AssetRecord{
						URL:           asset.URI,
						Type:          "Brand Logo",
						FileSizeBytes: parseFileSize(asset.FileSize),
					}
					break
				}
			}
			haveCopy = true
		case "Item":
			var item xmlItem
			if err := s.dec.DecodeElement(&item, &start); err != nil {
				return records.BrandRecord{}, fmt.Errorf("pies: decode Item: %w", err)
			}
			if !haveName {
				s.brand.Name = item.BrandLabel
				haveName = true
			}
			s.buffered = append(s.buffered, buildProduct(item))
		}
	}
	s.brand.ShortName = s.shortName
	s.scanned = true
	return s.brand, nil
}

// Next returns the next product record, or io.EOF when the document is
// exhausted. Brand must have been called first.
func (s *Scanner) Next() (records.ProductRecord, error) {
	if !s.scanned {
		return records.ProductRecord{}, errors.New("pies: Next called before Brand")
	}
	if len(s.buffered) > 0 {
		p := s.buffered[0]
		s.buffered = s.buffered[1:]
		return p, nil
	}
	for {
		tok, err := s.dec.Token()
		if err == io.EOF {
			return records.ProductRecord{}, io.EOF
		}
		if err != nil {
			return records.ProductRecord{}, fmt.Errorf("pies: read token: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Item" {
			continue
		}
		var item xmlItem
		if err := s.dec.DecodeElement(&item, &start); err != nil {
			return records.ProductRecord{}, fmt.Errorf("pies: decode Item: %w", err)
		}
		return buildProduct(item), nil
	}
}

type xmlMarketCopy struct {
	Content string     `xml:"MarketCopyContent"`
	Assets  []xmlAsset `xml:"DigitalAssets>DigitalFileInformation"`
}

type xmlItem struct {
	PartNumber            string           `xml:"PartNumber"`
	BrandLabel            string           `xml:"BrandLabel"`
	HazardousMaterialCode string           `xml:"HazardousMaterialCode"`
	Descriptions          []xmlDescription `xml:"Descriptions>Description"`
	Attributes            []xmlAttribute   `xml:"ProductAttributes>ProductAttribute"`
	ExtendedInfo          []xmlExtended    `xml:"ExtendedInformation>ExtendedProductInformation"`
	Prices                []xmlPricing     `xml:"Prices>Pricing"`
	Assets                []xmlAsset       `xml:"DigitalAssets>DigitalFileInformation"`
	Packages              []xmlPackage     `xml:"Packages>Package"`
}

type xmlDescription struct {
	Code     string `xml:"DescriptionCode,attr"`
	Sequence string `xml:"Sequence,attr"`
	Text     string `xml:",chardata"`
}

type xmlAttribute struct {
	AttributeID string `xml:"AttributeID,attr"`
	Value       string `xml:",chardata"`
}

type xmlExtended struct {
	Code  string `xml:"EXPICode,attr"`
	Value string `xml:",chardata"`
}

type xmlPricing struct {
	PriceType string `xml:"PriceType,attr"`
	Price     string `xml:"Price"`
}

type xmlAsset struct {
	AssetType string `xml:"AssetType"`
	FileName  string `xml:"FileName"`
	URI       string `xml:"URI"`
	FileSize  string `xml:"FileSize"`
	Country   string `xml:"Country"`
}

type xmlPackage struct {
	UOM        string        `xml:"PackageUOM"`
	Quantity   string        `xml:"QuantityofEaches"`
	Dimensions *xmlDimension `xml:"Dimensions"`
	Weights    *xmlWeights   `xml:"Weights"`
}

type xmlDimension struct {
	UOM    string `xml:"UOM,attr"`
	Length string `xml:"Length"`
	Width  string `xml:"Width"`
	Height string `xml:"Height"`
}

type xmlWeights struct {
	UOM               string `xml:"UOM,attr"`
	Weight            string `xml:"Weight"`
	DimensionalWeight string `xml:"DimensionalWeight"`
}

func buildProduct(item xmlItem) records.ProductRecord {
	p := records.ProductRecord{
		PartNumber:  item.PartNumber,
		IsHazardous: strings.EqualFold(item.HazardousMaterialCode, "y"),
		Features:    []string{},
		Attributes:  []records.AttributeRecord{},
		Packages:    []records.PackageRecord{},
		Assets:      []records.AssetRecord{},
	}
	applyDescriptions(&p, item.Descriptions)
	applyAttributes(&p, item.Attributes)
	applyExtendedInfo(&p, item.ExtendedInfo)
	applyPrices(&p, item.Prices)
	applyAssets(&p, item.Assets)
	applyPackages(&p, item.Packages)
	return p
}

// applyDescriptions picks the product name (EXT beats DES, part number is
// the fallback) and collects FAB rows as features ordered by sequence.
func applyDescriptions(p *records.ProductRecord, descs []xmlDescription) {
	var ext, des string
	features := map[string]string{}
	for _, d := range descs {
		switch d.Code {
		case "EXT":
			ext = d.Text
		case "DES":
			des = d.Text
		case "FAB":
			features[d.Sequence] = d.Text
		}
	}
	p.Name = p.PartNumber
	if ext != "" {
		p.Name = ext
	} else if des != "" {
		p.Name = des
	}
	sequences := make([]string, 0, len(features))
	for seq := range features {
		sequences = append(sequences, seq)
	}
	sort.Strings(sequences)
	for _, seq := range sequences {
		p.Features = append(p.Features, features[seq])
	}
}

func applyAttributes(p *records.ProductRecord, attrs []xmlAttribute) {
	for _, a := range attrs {
		p.Attributes = append(p.Attributes, records.AttributeRecord{
			Name:  strings.TrimSpace(attributeCase.String(strings.ToLower(a.AttributeID))),
			Value: strings.TrimSpace(a.Value),
		})
	}
}

func applyExtendedInfo(p *records.ProductRecord, infos []xmlExtended) {
	notForCA := false
	for _, info := range infos {
		switch info.Code {
		case "EMS":
			if info.Value == "2" {
				notForCA = true
			}
		case "LIF":
			switch info.Value {
			case "7":
				p.IsSuperseded = true
			case "8":
				p.IsDiscontinued = true
			case "9":
				p.IsObsolete = true
			}
		case "PTS":
			p.SupersededBy = info.Value
		}
	}
	p.IsCarbLegal = !notForCA
	// A replacement part number without the superseded flag is noise.
	if !p.IsSuperseded {
		p.SupersededBy = ""
	}
}

func applyPrices(p *records.ProductRecord, prices []xmlPricing) {
	for _, pr := range prices {
		val, err := decimal.NewFromString(strings.TrimSpace(pr.Price))
		if err != nil {
			continue
		}
		rounded := decimal.NewNullDecimal(val.Round(2))
		switch pr.PriceType {
		case "RMP":
			p.MapPrice = rounded
		case "RET":
			p.RetailPrice = rounded
		}
	}
}

// applyAssets keeps US assets that are either product images (P01, P04, ...)
// or one of the known document types. The P04 view is the primary image and
// always sorts first; other images are numbered in file order after it.
func applyAssets(p *records.ProductRecord, assets []xmlAsset) {
	sequence := 1
	for _, a := range assets {
		if a.Country != "" && a.Country != "US" {
			continue
		}
		isImage := imageTypeRe.MatchString(a.AssetType)
		typeName, isDoc := docAssetTypes[a.AssetType]
		if !isImage && !isDoc {
			continue
		}
		rec := records.AssetRecord{
			URL:           a.URI,
			FileSizeBytes: parseFileSize(a.FileSize),
		}
		if isImage {
			rec.Type = productImageType
			if a.AssetType == "P04" {
				rec.DisplaySequence = 1
			} else {
				sequence++
				rec.DisplaySequence = sequence
			}
		} else {
			rec.Type = typeName
		}
		p.Assets = append(p.Assets, rec)
	}
}

// applyPackages keeps "each" packaging only and normalizes dimensions to
// inches and weights to pounds, rounded to 2 places.
func applyPackages(p *records.ProductRecord, pkgs []xmlPackage) {
	for _, pkg := range pkgs {
		if pkg.UOM != "EA" {
			continue
		}
		qty, err := strconv.Atoi(strings.TrimSpace(pkg.Quantity))
		if err != nil {
			continue
		}
		rec := records.PackageRecord{Quantity: qty}
		if d := pkg.Dimensions; d != nil {
			rec.Length = toInches(d.Length, d.UOM)
			rec.Width = toInches(d.Width, d.UOM)
			rec.Height = toInches(d.Height, d.UOM)
		}
		if w := pkg.Weights; w != nil {
			rec.Weight = toPounds(w.Weight, w.UOM)
			rec.DimensionalWeight = toPounds(w.DimensionalWeight, w.UOM)
		}
		p.Packages = append(p.Packages, rec)
	}
}

func toInches(raw, unit string) decimal.NullDecimal {
	val, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.NullDecimal{}
	}
	if unit == "CM" {
		val = val.Mul(cmToInches)
	}
	return decimal.NewNullDecimal(val.Round(2))
}

func toPounds(raw, unit string) decimal.NullDecimal {
	val, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.NullDecimal{}
	}
	if unit == "GT" {
		val = val.Mul(kgToPounds)
	}
	return decimal.NewNullDecimal(val.Round(2))
}

func parseFileSize(raw string) *int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
