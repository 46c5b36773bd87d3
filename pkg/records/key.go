package records

import "strings"

// keySep joins key segments. Using an ASCII unit separator instead of bare
// concatenation means two keys can only collide if a feed value itself
// contains 0x1F, which the delimited feeds cannot produce.
const keySep = "\x1f"

// Key is a composite natural key: the ordered field values that identify a
// dimension row across re-imports, independent of generated ids. Keys built
// from the same logical tuple compare equal, so they serve as map keys for
// the bulk get-or-create lookups.
type Key string

// MakeKey builds a Key from ordered segments. Missing/NULL segments must be
// passed as empty strings so optional fields keep their position.
func MakeKey(parts ...string) Key {
	return Key(strings.Join(parts, keySep))
}

// Prefixed returns a new Key with extra leading segments, used where a
// grouping key extends an existing one (e.g. year span + vehicle key).
func (k Key) Prefixed(parts ...string) Key {
	return Key(strings.Join(parts, keySep) + keySep + string(k))
}
