package clock

// VectorClock maps node ID to a monotonically increasing event counter.
// It provides a causal partial order across nodes without a global clock.
type VectorClock map[string]uint64

// NewVectorClock returns an empty vector clock.
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Copy returns an independent copy of the clock.
func (vc VectorClock) Copy() VectorClock {
	out := make(VectorClock, len(vc))
	for node, counter := range vc {
		out[node] = counter
	}
	return out
}

// Tick increments the owner node's counter and returns the new value.
// Every event authored on a node ticks before emission.
func (vc VectorClock) Tick(node string) uint64 {
	vc[node]++
	return vc[node]
}

// Merge takes the per-node maximum of vc and other, then ticks the owner.
// This is the merge-on-receive rule.
func (vc VectorClock) Merge(other VectorClock, owner string) {
	for node, counter := range other {
		if counter > vc[node] {
			vc[node] = counter
		}
	}
	vc.Tick(owner)
}

// Ordering is the causal relation between two vector clocks.
type Ordering int

const (
	// OrderEqual means both clocks are identical.
	OrderEqual Ordering = iota

	// OrderBefore means the receiver causally precedes the argument.
	OrderBefore

	// OrderAfter means the receiver causally follows the argument.
	OrderAfter

	// OrderConcurrent means neither clock descends from the other.
	OrderConcurrent
)

// String returns the string representation of the ordering.
func (o Ordering) String() string {
	switch o {
	case OrderEqual:
		return "equal"
	case OrderBefore:
		return "before"
	case OrderAfter:
		return "after"
	case OrderConcurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// Compare computes the causal relation between vc and other.
func (vc VectorClock) Compare(other VectorClock) Ordering {
	less, greater := false, false

	for node, counter := range vc {
		oc := other[node]
		if counter < oc {
			less = true
		} else if counter > oc {
			greater = true
		}
	}
	for node, oc := range other {
		if _, seen := vc[node]; seen {
			continue
		}
		if oc > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return OrderConcurrent
	case less:
		return OrderBefore
	case greater:
		return OrderAfter
	default:
		return OrderEqual
	}
}

// Descends reports whether vc reflects everything other has seen.
// An event depending on another must descend from its clock.
func (vc VectorClock) Descends(other VectorClock) bool {
	ord := vc.Compare(other)
	return ord == OrderEqual || ord == OrderAfter
}
