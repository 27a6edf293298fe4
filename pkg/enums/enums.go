// Package enums holds the string enums persisted in the database and sent
// over the wire.
package enums

import "fmt"

// set is the closed list of values for one enum.
type set[T ~string] []T

func (s set[T]) has(v T) bool {
	for _, c := range s {
		if c == v {
			return true
		}
	}
	return false
}

func (s set[T]) parse(kind, raw string) (T, error) {
	if v := T(raw); s.has(v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
