package dispatch

import (
	"sort"
	"sync/atomic"

	"github.com/asiatensor/soulx-validator/core"
)

// Allocator orders contenders before the sequential attempt loop.
// "stake" prefers higher-capacity miners (capacity derives from stake);
// "equal" rotates the starting point so load spreads evenly.
type Allocator struct {
	strategy string
	rotation uint64
}

// NewAllocator builds an allocator for the configured strategy.
func NewAllocator(strategy string) *Allocator {
	return &Allocator{strategy: strategy}
}

// Order returns the contenders in attempt order. The input slice is not
// modified.
func (a *Allocator) Order(contenders []core.Contender) []core.Contender {
	out := append([]core.Contender(nil), contenders...)
	if len(out) < 2 {
		return out
	}

	switch a.strategy {
	case "equal":
		offset := int(atomic.AddUint64(&a.rotation, 1)) % len(out)
		rotated := make([]core.Contender, 0, len(out))
		rotated = append(rotated, out[offset:]...)
		rotated = append(rotated, out[:offset]...)
		return rotated
	default: // stake
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Capacity > out[j].Capacity
		})
		return out
	}
}
