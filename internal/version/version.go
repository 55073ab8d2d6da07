// Package version implements dotted-tuple version comparison for the
// self-update orchestrator. Versions are compared numerically component
// by component; a missing trailing component is treated as 0
// ("1.2" == "1.2.0").
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than
// b. Returns an error if either string has a non-numeric component.
func Compare(a, b string) (int, error) {
	pa, err := parse(a)
	if err != nil {
		return 0, err
	}
	pb, err := parse(b)
	if err != nil {
		return 0, err
	}

	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if x != y {
			if x < y {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, nil
}

func parse(v string) ([]int, error) {
	v = strings.TrimPrefix(v, "v")
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("version: invalid component %q in %q: %w", p, v, err)
		}
		out[i] = n
	}
	return out, nil
}
