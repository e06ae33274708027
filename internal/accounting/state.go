package accounting

// state is the cache of a calculated value. A nil result means dirty, so a
// cached result and the calculated flag cannot disagree.
type state[T any] struct {
	result *T
}

func (s state[T]) calculated() bool {
	return s.result != nil
}

func (s state[T]) get() (T, bool) {
	if s.result == nil {
		var zero T
		return zero, false
	}
	return *s.result, true
}

func (s *state[T]) set(v T) {
	s.result = &v
}

func (s *state[T]) invalidate() {
	s.result = nil
}
