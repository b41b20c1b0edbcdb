package handlers

import (
	"sort"
	"strconv"
	"strings"
)

// parseMultiInput interprets whitespace-separated tokens as 1-based list
// indexes, index ranges ("2-5"), or raw IDs. A number within [1, total] is an
// index; anything else numeric is an ID. Returned indexes are 0-based, sorted
// and deduplicated.
func parseMultiInput(raw string, total int) ([]int, []string) {
	indexSet := map[int]bool{}
	idSet := map[string]bool{}

	for _, tok := range strings.Fields(raw) {
		if lo, hi, ok := strings.Cut(tok, "-"); ok {
			a, errA := strconv.Atoi(lo)
			b, errB := strconv.Atoi(hi)
			if errA != nil || errB != nil || a > b {
				continue
			}
			for i := a; i <= b; i++ {
				if i >= 1 && i <= total {
					indexSet[i-1] = true
				}
			}
			continue
		}

		n, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		if n >= 1 && n <= total {
			indexSet[n-1] = true
		} else if n > 0 {
			idSet[tok] = true
		}
	}

	indexes := make([]int, 0, len(indexSet))
	for i := range indexSet {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	return indexes, sortedSet(idSet)
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
