package store

// PairKey returns the canonical identity of the conversation between a
// and b: both identifiers sorted ascending. Sorting at write time makes
// "the pair regardless of order" a single equality match instead of an
// OR over two orderings.
func PairKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}
