// Package piesflat parses the flattened PIES category feed. The file maps
// part numbers to terminology names and is the only source of product
// categorization for the catalog pipeline, so it must land before the
// catalog XML for the same brand is imported.
package piesflat

import (
	"errors"
	"fmt"
	"io"

	"partsfeed/internal/parser/flatfile"
	"partsfeed/pkg/records"
)

const (
	colCategory   = "partterminologyname"
	colPartNumber = "partnumber"
)

// Entry is one part-to-category observation.
type Entry struct {
	BrandShortName string
	PartNumber     string
	Category       string
}

// Chunk is a batch of entries deduplicated by lookup key, plus the distinct
// category names and part numbers it touches.
type Chunk struct {
	Entries     map[records.Key]Entry
	Categories  map[string]struct{}
	PartNumbers map[string]struct{}
}

func newChunk() Chunk {
	return Chunk{
		Entries:     map[records.Key]Entry{},
		Categories:  map[string]struct{}{},
		PartNumbers: map[string]struct{}{},
	}
}

// ForEachChunk streams the feed and invokes fn once per chunkSize distinct
// entries plus once for the remainder. fn errors abort the scan.
func ForEachChunk(src io.Reader, brandShortName string, chunkSize int, fn func(Chunk) error) error {
	if chunkSize <= 0 {
		return errors.New("piesflat: chunk size must be positive")
	}
	r, err := flatfile.NewPipeReader(src)
	if err != nil {
		return fmt.Errorf("piesflat: %w", err)
	}
	if !r.HasColumn(colCategory) || !r.HasColumn(colPartNumber) {
		return errors.New("piesflat: feed is missing the category or part number column")
	}

	chunk := newChunk()
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("piesflat: line %d: %w", r.Line(), err)
		}
		category, partNumber := rec.Get(colCategory), rec.Get(colPartNumber)
		if category == "" || partNumber == "" {
			continue
		}
		key := records.MakeKey(brandShortName, category, partNumber)
		chunk.Entries[key] = Entry{
			BrandShortName: brandShortName,
			PartNumber:     partNumber,
			Category:       category,
		}
		chunk.Categories[category] = struct{}{}
		chunk.PartNumbers[partNumber] = struct{}{}
		if len(chunk.Entries) == chunkSize {
			if err := fn(chunk); err != nil {
				return err
			}
			chunk = newChunk()
		}
	}
	if len(chunk.Entries) > 0 {
		return fn(chunk)
	}
	return nil
}
