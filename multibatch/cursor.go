package multibatch

import "math/rand"

// Mode selects the iteration contract of a MultiBatcher.
type Mode int

const (
	// Training recycles every source endlessly, reshuffling its row order on
	// each wraparound. The produced sequence is unbounded.
	Training Mode = iota

	// Validation traverses every source once, in deterministic row order, and
	// bounds the sequence so the largest source completes one full pass.
	Validation
)

// cursor is the per-source, per-epoch iteration state: a permutation of
// [0, rows) (identity order in validation mode) and a read offset into it.
// Cursors are not safe for concurrent use.
type cursor struct {
	rows           int
	mode           Mode
	yieldRemainder bool
	rng            *rand.Rand
	perm           []int
	offset         int
}

// newCursor creates fresh cursor state. In training mode the permutation is
// drawn from a source-specific seeded generator, so identical seeds reproduce
// identical index sequences.
func newCursor(rows int, mode Mode, yieldRemainder bool, seed int64) *cursor {
	c := &cursor{rows: rows, mode: mode, yieldRemainder: yieldRemainder}
	if mode == Training {
		c.rng = rand.New(rand.NewSource(seed))
		c.perm = c.rng.Perm(rows)
	}
	return c
}

// next returns the next n row indices. In training mode it never exhausts:
// reaching the end of the permutation draws a new one (the recycling event)
// and continues, wrapping as many times as needed when n exceeds the source
// size. In validation mode it walks [0, rows) once; when fewer than n indices
// remain it either contributes the short remainder and then empty slices
// (yield-remainder enabled) or signals exhaustion with ok=false.
func (c *cursor) next(n int) (indices []int, ok bool) {
	if n == 0 {
		return nil, true
	}
	if c.mode == Validation {
		remaining := c.rows - c.offset
		if remaining >= n {
			indices = identity(c.offset, c.offset+n)
			c.offset += n
			return indices, true
		}
		if !c.yieldRemainder {
			return nil, false
		}
		if remaining == 0 {
			return nil, true
		}
		indices = identity(c.offset, c.rows)
		c.offset = c.rows
		return indices, true
	}

	indices = make([]int, 0, n)
	for len(indices) < n {
		if c.offset == len(c.perm) {
			c.perm = c.rng.Perm(c.rows)
			c.offset = 0
		}
		take := n - len(indices)
		if rest := len(c.perm) - c.offset; take > rest {
			take = rest
		}
		indices = append(indices, c.perm[c.offset:c.offset+take]...)
		c.offset += take
	}
	return indices, true
}

func identity(lo, hi int) []int {
	out := make([]int, hi-lo)
	for i := range out {
		out[i] = lo + i
	}
	return out
}
