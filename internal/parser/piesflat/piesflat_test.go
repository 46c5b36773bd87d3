package piesflat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partsfeed/pkg/records"
)

func TestForEachChunk(t *testing.T) {
	src := strings.NewReader("PartTerminologyName|PartNumber|Extra\n" +
		"Sway Bar Kit|P100|x\n" +
		"Sway Bar Kit|P200|x\n" +
		"Control Arm|P300|x\n" +
		"|P400|x\n" +
		"Control Arm||x\n")

	var chunks []Chunk
	err := ForEachChunk(src, "SWAY", 2, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)

	// Three valid rows, chunked at two entries plus the remainder; rows
	// missing either column are skipped.
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0].Entries, 2)
	assert.Len(t, chunks[1].Entries, 1)

	key := records.MakeKey("SWAY", "Sway Bar Kit", "P100")
	entry, ok := chunks[0].Entries[key]
	require.True(t, ok)
	assert.Equal(t, "SWAY", entry.BrandShortName)
	assert.Equal(t, "P100", entry.PartNumber)
	assert.Equal(t, "Sway Bar Kit", entry.Category)

	assert.Equal(t, map[string]struct{}{"Sway Bar Kit": {}}, chunks[0].Categories)
	assert.Equal(t, map[string]struct{}{"P100": {}, "P200": {}}, chunks[0].PartNumbers)
}

func TestForEachChunkMissingColumns(t *testing.T) {
	err := ForEachChunk(strings.NewReader("foo|bar\n1|2\n"), "SWAY", 10, func(Chunk) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing the category or part number column")
}

func TestForEachChunkDeduplicatesRepeats(t *testing.T) {
	src := strings.NewReader("PartTerminologyName|PartNumber\n" +
		"Sway Bar Kit|P100\n" +
		"Sway Bar Kit|P100\n")
	var total int
	err := ForEachChunk(src, "SWAY", 10, func(c Chunk) error {
		total += len(c.Entries)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
