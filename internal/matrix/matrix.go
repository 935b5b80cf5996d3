// Package matrix expands a job's strategy matrix into concrete cells.
//
// Expansion is deterministic: axes are walked in sorted name order and
// values in declaration order, so the N-th cell of a given matrix is stable
// across runs and hosts.
package matrix

import (
	"fmt"
	"sort"
	"strings"
)

// Cell is one concrete combination of matrix values.
type Cell struct {
	// Values maps axis name to the selected value.
	Values map[string]string
}

// Label renders the parenthesized cell suffix, e.g. "(ubuntu-24.04, 3.13)".
// Values appear in sorted axis order. A cell without values has no label.
func (c Cell) Label() string {
	if len(c.Values) == 0 {
		return ""
	}
	axes := make([]string, 0, len(c.Values))
	for axis := range c.Values {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	parts := make([]string, 0, len(axes))
	for _, axis := range axes {
		parts = append(parts, c.Values[axis])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// JobName combines the job identifier with the cell label.
func (c Cell) JobName(jobID string) string {
	label := c.Label()
	if label == "" {
		return jobID
	}
	return fmt.Sprintf("%s %s", jobID, label)
}

// Expand produces the cartesian product of the axes minus excluded
// combinations. A nil or empty matrix yields a single empty cell so jobs
// without a strategy still run exactly once.
func Expand(axes map[string][]string, excludes []map[string]string) []Cell {
	if len(axes) == 0 {
		return []Cell{{Values: map[string]string{}}}
	}

	names := make([]string, 0, len(axes))
	for name := range axes {
		names = append(names, name)
	}
	sort.Strings(names)

	cells := []Cell{{Values: map[string]string{}}}
	for _, name := range names {
		values := axes[name]
		next := make([]Cell, 0, len(cells)*len(values))
		for _, cell := range cells {
			for _, value := range values {
				combined := make(map[string]string, len(cell.Values)+1)
				for k, v := range cell.Values {
					combined[k] = v
				}
				combined[name] = value
				next = append(next, Cell{Values: combined})
			}
		}
		cells = next
	}

	if len(excludes) == 0 {
		return cells
	}
	kept := cells[:0]
	for _, cell := range cells {
		if !excluded(cell, excludes) {
			kept = append(kept, cell)
		}
	}
	return kept
}

// An exclude entry removes every cell whose values match all of its pairs;
// a partial entry therefore excludes a whole slice of the product.
func excluded(cell Cell, excludes []map[string]string) bool {
	for _, exclude := range excludes {
		matches := true
		for axis, value := range exclude {
			if cell.Values[axis] != value {
				matches = false
				break
			}
		}
		if matches && len(exclude) > 0 {
			return true
		}
	}
	return false
}
