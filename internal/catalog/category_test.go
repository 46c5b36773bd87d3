package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCategory(t *testing.T) {
	root := &Category{Name: "Suspension", Depth: 0}
	require.NoError(t, ValidateCategory(root))

	sub := &Category{Name: "Sway Bars", Depth: 1, Parent: root}
	require.NoError(t, ValidateCategory(sub))
}

func TestValidateCategoryDepthMismatch(t *testing.T) {
	root := &Category{Name: "Suspension", Depth: 0}
	bad := &Category{Name: "Sway Bars", Depth: 0, Parent: root}
	err := ValidateCategory(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parent chain says 1")
}

func TestValidateCategoryTooDeep(t *testing.T) {
	root := &Category{Name: "Suspension", Depth: 0}
	mid := &Category{Name: "Sway Bars", Depth: 1, Parent: root}
	deep := &Category{Name: "End Links", Depth: 2, Parent: mid}
	assert.ErrorIs(t, ValidateCategory(deep), ErrCategoryTooDeep)
}

func TestValidateCategoryCycle(t *testing.T) {
	a := &Category{Name: "A", Depth: 1}
	b := &Category{Name: "B", Depth: 1, Parent: a}
	a.Parent = b
	assert.ErrorIs(t, ValidateCategory(a), ErrCategoryCycle)
}
