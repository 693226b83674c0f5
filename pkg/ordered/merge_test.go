package ordered

import (
	"math/rand"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id  string
	key int
}

func itemKey(i item) int { return i.key }

func itemID(i item) string { return i.id }

func ids(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name  string
		lists [][]item
		want  []string
	}{
		{
			name: "empty",
			want: []string{},
		},
		{
			name:  "interleaved",
			lists: [][]item{{{"a", 1}, {"c", 3}}, {{"b", 2}, {"d", 4}}},
			want:  []string{"a", "b", "c", "d"},
		},
		{
			name:  "ties keep list order",
			lists: [][]item{{{"x", 5}}, {{"y", 5}}},
			want:  []string{"x", "y"},
		},
		{
			name:  "duplicates collapse",
			lists: [][]item{{{"a", 1}, {"b", 2}}, {{"b", 2}, {"c", 3}}},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "unsorted input is sorted first",
			lists: [][]item{{{"c", 3}, {"a", 1}}, {{"b", 2}}},
			want:  []string{"a", "b", "c"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Merge(itemKey, itemID, tc.lists...)
			assert.Equal(t, tc.want, ids(got))
		})
	}
}

func TestMergeRandomisedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		var lists [][]item
		unique := map[string]bool{}
		for l := 0; l < 1+rng.Intn(4); l++ {
			var list []item
			for n := 0; n < rng.Intn(10); n++ {
				id := strconv.Itoa(rng.Intn(30))
				list = append(list, item{id: id, key: keyFor(id)})
				unique[id] = true
			}
			slices.SortStableFunc(list, func(a, b item) int { return a.key - b.key })
			lists = append(lists, list)
		}

		got := Merge(itemKey, itemID, lists...)
		require.Len(t, got, len(unique))
		require.True(t, slices.IsSortedFunc(got, func(a, b item) int { return a.key - b.key }))
	}
}

// keyFor keeps keys stable per id so duplicates are genuine repeats.
func keyFor(id string) int {
	n, _ := strconv.Atoi(id)
	return n % 7
}

func TestMergeNilIDKeepsEverything(t *testing.T) {
	got := Merge(itemKey, nil, []item{{"a", 1}}, []item{{"a", 1}})
	assert.Len(t, got, 2)
}
