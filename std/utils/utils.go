package utils

import (
	"golang.org/x/exp/constraints"
)

// NDNnetVersion is set from source control at build time.
var NDNnetVersion string = "unknown"

// If is the ternary operator (eager evaluation)
func If[T any](cond bool, t, f T) T {
	if cond {
		return t
	} else {
		return f
	}
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp[T constraints.Unsigned](n, align T) T {
	return (n + align - 1) &^ (align - 1)
}
