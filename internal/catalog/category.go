package catalog

import (
	"errors"
	"fmt"
)

// MaxCategoryDepth bounds the category tree: 0 = top level, 1 = sub-category.
const MaxCategoryDepth = 2

var (
	ErrCategoryCycle   = errors.New("catalog: category parent chain contains a cycle")
	ErrCategoryTooDeep = errors.New("catalog: category exceeds maximum depth")
)

// ValidateCategory walks the parent chain (which must be loaded in memory)
// and checks the tree invariants before the row is written: the chain must
// terminate, and the materialized depth must match the chain length and stay
// inside MaxCategoryDepth.
func ValidateCategory(c *Category) error {
	depth := 0
	seen := map[*Category]struct{}{c: {}}
	for p := c.Parent; p != nil; p = p.Parent {
		if _, ok := seen[p]; ok {
			return ErrCategoryCycle
		}
		seen[p] = struct{}{}
		depth++
		if depth >= MaxCategoryDepth {
			return fmt.Errorf("%w: %q at depth %d", ErrCategoryTooDeep, c.Name, depth)
		}
	}
	if c.Depth != depth {
		return fmt.Errorf("catalog: category %q has depth %d, parent chain says %d", c.Name, c.Depth, depth)
	}
	return nil
}
