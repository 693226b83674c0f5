// Package ordered combines result sets that were each read in key order.
package ordered

import (
	"cmp"
	"slices"
)

// Merge returns the union of lists ordered ascending by key. Items whose id
// was already emitted are dropped, so overlapping result sets collapse to one
// entry per id. Items with equal keys keep their input order, earlier lists
// first.
func Merge[T any, K cmp.Ordered](key func(T) K, id func(T) string, lists ...[]T) []T {
	return MergeFunc(func(a, b T) int { return cmp.Compare(key(a), key(b)) }, id, lists...)
}

// MergeFunc is Merge with an explicit comparison. Inputs that are not sorted
// by compare are sorted (stably) before merging.
func MergeFunc[T any](compare func(a, b T) int, id func(T) string, lists ...[]T) []T {
	total := 0
	sorted := make([][]T, 0, len(lists))
	for _, list := range lists {
		if len(list) == 0 {
			continue
		}
		total += len(list)
		if !slices.IsSortedFunc(list, compare) {
			list = slices.Clone(list)
			slices.SortStableFunc(list, compare)
		}
		sorted = append(sorted, list)
	}

	out := make([]T, 0, total)
	seen := make(map[string]struct{}, total)
	heads := make([]int, len(sorted))
	for {
		next := -1
		for i, list := range sorted {
			if heads[i] >= len(list) {
				continue
			}
			if next < 0 || compare(list[heads[i]], sorted[next][heads[next]]) < 0 {
				next = i
			}
		}
		if next < 0 {
			return out
		}
		item := sorted[next][heads[next]]
		heads[next]++
		if id != nil {
			key := id(item)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, item)
	}
}
