package gate

// Set hands gates to workers. A shared set gives every worker the same gate,
// so one throttled response pauses all of them; otherwise each worker owns
// its own gate and only pauses itself.
type Set struct {
	shared bool
	gates  []*Gate
}

// NewSet builds the gates for workers workers using factory
func NewSet(shared bool, workers int, factory func() *Gate) *Set {
	if workers < 1 {
		workers = 1
	}
	s := &Set{shared: shared}
	if shared {
		s.gates = []*Gate{factory()}
		return s
	}
	s.gates = make([]*Gate, workers)
	for i := range s.gates {
		s.gates[i] = factory()
	}
	return s
}

// Shared reports whether all workers share one gate
func (s *Set) Shared() bool {
	return s.shared
}

// For returns the gate of worker i
func (s *Set) For(i int) *Gate {
	if s.shared {
		return s.gates[0]
	}
	return s.gates[i%len(s.gates)]
}

// All returns the distinct gates in the set
func (s *Set) All() []*Gate {
	return s.gates
}
