package step

import (
	"errors"
	"fmt"
	"sort"
)

// Ordering errors.
var (
	ErrEmptyName     = errors.New("step name is empty")
	ErrDuplicateStep = errors.New("duplicate step name")
	ErrNilStep       = errors.New("step is nil")
)

// Validate checks that every step is non-nil, named, and uniquely named.
func Validate(steps []Step) error {
	seen := make(map[string]int, len(steps))
	for i, s := range steps {
		if s == nil {
			return fmt.Errorf("%w: position %d", ErrNilStep, i)
		}
		name := s.Name()
		if name == "" {
			return fmt.Errorf("%w: position %d", ErrEmptyName, i)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%w: %q at positions %d and %d", ErrDuplicateStep, name, prev, i)
		}
		seen[name] = i
	}
	return nil
}

// Sort returns a copy of steps in execution order: ascending phase, ties
// kept in registration order. The input slice is not modified.
func Sort(steps []Step) []Step {
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Phase() < sorted[j].Phase()
	})
	return sorted
}

// Names returns the step names in order.
func Names(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name()
	}
	return names
}
