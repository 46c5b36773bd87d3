package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressYears(t *testing.T) {
	tests := []struct {
		name  string
		years []int
		want  []YearRange
	}{
		{
			name:  "empty input",
			years: nil,
			want:  nil,
		},
		{
			name:  "single year",
			years: []int{2014},
			want:  []YearRange{{2014, 2014}},
		},
		{
			name:  "contiguous run",
			years: []int{2014, 2015, 2016},
			want:  []YearRange{{2014, 2016}},
		},
		{
			name:  "unordered with duplicates",
			years: []int{2016, 2014, 2015, 2014, 2016},
			want:  []YearRange{{2014, 2016}},
		},
		{
			name:  "gap splits ranges",
			years: []int{2010, 2011, 2013, 2014},
			want:  []YearRange{{2010, 2011}, {2013, 2014}},
		},
		{
			name:  "isolated years stay separate",
			years: []int{1999, 2005, 2012},
			want:  []YearRange{{1999, 1999}, {2005, 2005}, {2012, 2012}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompressYears(tt.years))
		})
	}
}

func TestCompressYearsRoundTrip(t *testing.T) {
	years := []int{2001, 2002, 2003, 2007, 2009, 2010}
	var expanded []int
	for _, r := range CompressYears(years) {
		expanded = append(expanded, r.Years()...)
	}
	assert.Equal(t, years, expanded)
}

func TestFormatYearSpan(t *testing.T) {
	assert.Equal(t, "2014", FormatYearSpan(2014, 2014))
	assert.Equal(t, "2014 - 2017", FormatYearSpan(2014, 2017))
}

func TestMakeKeyPositional(t *testing.T) {
	// An empty middle segment must not collapse: (a, "", b) and (a, b, "")
	// identify different tuples.
	require.NotEqual(t, MakeKey("a", "", "b"), MakeKey("a", "b", ""))
	require.NotEqual(t, MakeKey("ab", "c"), MakeKey("a", "bc"))
	assert.Equal(t, MakeKey("2014", "2016", "v"), Key("v").Prefixed("2014", "2016"))
}

func TestFitmentChunkCompress(t *testing.T) {
	chunk := NewFitmentChunk()
	vehicle := MakeKey("Ford", "F-150", "XL", "engine")
	fitKey := MakeKey(string(vehicle), "note", "")

	chunk.PartFitment["P100"] = map[Key]*FitmentObservation{
		fitKey: {
			PartNumber: "P100",
			VehicleKey: vehicle,
			Years:      map[int]struct{}{2018: {}, 2019: {}, 2021: {}},
			Info1:      "note",
		},
	}
	chunk.Compress()

	groups := chunk.PartFitment["P100"]
	require.Len(t, groups, 2)

	first, ok := groups[fitKey.Prefixed("2018", "2019")]
	require.True(t, ok)
	assert.Equal(t, 2018, first.StartYear)
	assert.Equal(t, 2019, first.EndYear)
	assert.Nil(t, first.Years)
	assert.Equal(t, "note", first.Info1)

	second, ok := groups[fitKey.Prefixed("2021", "2021")]
	require.True(t, ok)
	assert.Equal(t, 2021, second.StartYear)
	assert.Equal(t, 2021, second.EndYear)
}
