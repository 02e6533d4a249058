package notes

import (
	"math/bits"
	"sort"
)

// Selector picks which notes cover a spend. It returns indexes into ns in consumption order and
// false when the notes cannot cover amount.
type Selector interface {
	Select(ns []*Note, amount uint64) ([]int, bool)
}

// LastInFirstOut consumes the most recently added notes first until the running sum covers the
// amount. At least one note is always consumed.
type LastInFirstOut struct{}

// Select implements Selector.
func (LastInFirstOut) Select(ns []*Note, amount uint64) ([]int, bool) {
	var (
		picked []int
		sum    uint64
	)
	for i := len(ns) - 1; i >= 0; i-- {
		picked = append(picked, i)
		sum = saturatingAdd(sum, ns[i].Amount)
		if sum >= amount {
			return picked, true
		}
	}
	return nil, false
}

// LargestFirst consumes the largest notes first, which minimises the number of inputs.
type LargestFirst struct{}

// Select implements Selector.
func (LargestFirst) Select(ns []*Note, amount uint64) ([]int, bool) {
	order := make([]int, len(ns))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return ns[order[a]].Amount > ns[order[b]].Amount
	})

	var sum uint64
	for n, i := range order {
		sum = saturatingAdd(sum, ns[i].Amount)
		if sum >= amount {
			return order[:n+1], true
		}
	}
	return nil, false
}

func saturatingAdd(a, b uint64) uint64 {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return s
}
