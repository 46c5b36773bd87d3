// Package importer turns pending feed files into audited import runs: it
// decodes the file naming convention, decides per file whether to import,
// archive or wait, and wraps each import in a bounded retry loop with a
// resumption checkpoint and an audit row.
package importer

import (
	"archive/zip"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// FeedType identifies which of the three supplier feeds a file carries.
type FeedType string

const (
	FeedCategoryLookup FeedType = "pies_flat"
	FeedCatalog        FeedType = "pies"
	FeedFitment        FeedType = "aces"

	// FeedVendor is the generic vendor CSV import. It arrives as loose CSV
	// files rather than named zips, so it never goes through ParseFileName.
	FeedVendor FeedType = "vendor"
)

// ErrBadFileName is returned for pending files that violate the naming
// convention. Such files are rejected, not silently skipped.
var ErrBadFileName = errors.New("importer: file name does not match {brand}{YYYYMMDD}_{type}.zip")

// fileNameRe decodes {brand_short_name}{8-digit date}_{type code}.zip.
var fileNameRe = regexp.MustCompile(`^(.+?)([0-9]{8})_(.+?)\.zip$`)

var typeCodes = map[string]FeedType{
	"N1":         FeedFitment,
	"PIES67":     FeedCatalog,
	"PIES67Flat": FeedCategoryLookup,
}

// zipMembers names the data file each feed type carries inside its zip.
var zipMembers = map[FeedType]string{
	FeedCategoryLookup: "piesdata67.txt",
	FeedCatalog:        "pies67.xml",
	FeedFitment:        "n1parts.txt",
}

// FileInfo is one pending feed file decoded from its name.
type FileInfo struct {
	Name           string
	BrandShortName string
	Date           time.Time
	Type           FeedType
}

// ParseFileName decodes a pending file's name into its brand, feed date and
// feed type.
func ParseFileName(name string) (FileInfo, error) {
	m := fileNameRe.FindStringSubmatch(name)
	if m == nil {
		return FileInfo{}, fmt.Errorf("%w: %q", ErrBadFileName, name)
	}
	date, err := time.Parse("20060102", m[2])
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %q: bad date %q", ErrBadFileName, name, m[2])
	}
	feedType, ok := typeCodes[m[3]]
	if !ok {
		return FileInfo{}, fmt.Errorf("%w: %q: unknown type code %q", ErrBadFileName, name, m[3])
	}
	return FileInfo{
		Name:           name,
		BrandShortName: m[1],
		Date:           date,
		Type:           feedType,
	}, nil
}

// FindZipMember locates the expected data member for the feed type inside
// the zip, matching by suffix case-insensitively.
func FindZipMember(zr *zip.Reader, feedType FeedType) (*zip.File, error) {
	want := zipMembers[feedType]
	for _, f := range zr.File {
		if strings.Contains(strings.ToLower(f.Name), want) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("importer: no %s member found for %s feed", want, feedType)
}
