package urlpath

import (
	"github.com/pkg/errors"
)

var ErrAmbiguous = errors.New("ambiguous match")

// MatchPartialPathsReversed re-associates current urlpaths with new ones.
//
// Each new path is matched against the current paths by comparing path parts
// from the last one backwards until a single candidate remains. Unmatched
// current paths are kept. The returned slice is aligned with current, the int
// is the number of replaced entries.
func MatchPartialPathsReversed(current, updated []string, ignoreAmbiguous bool) ([]string, int, error) {
	candidates := make([][]string, len(current))
	for i, up := range current {
		parts, err := Parts(up)
		if err != nil {
			return nil, 0, err
		}
		candidates[i] = parts
	}

	result := make([]string, len(current))
	copy(result, current)

	all := make([]int, len(current))
	for i := range all {
		all[i] = i
	}

	replaced := make(map[int]bool)
	for _, up := range updated {
		parts, err := Parts(up)
		if err != nil {
			return nil, 0, err
		}

		idx, ok, err := matchReversed(parts, all, candidates, 1)
		if err != nil {
			if ignoreAmbiguous && errors.Is(err, ErrAmbiguous) {
				continue
			}
			return nil, 0, errors.Wrapf(err, "%s", up)
		}

		if ok {
			for _, i := range idx {
				result[i] = up
				replaced[i] = true
			}
		}
	}

	changed := 0
	for i := range replaced {
		if result[i] != current[i] {
			changed++
		}
	}

	return result, changed, nil
}

// matchReversed narrows the candidate set by comparing the k-th part from the
// end. Identical part sequences in current count as one candidate.
func matchReversed(x []string, set []int, candidates [][]string, k int) ([]int, bool, error) {
	if k > len(x) {
		return nil, false, errors.Wrapf(ErrAmbiguous, "%v matches %d paths", x, len(set))
	}

	xi := x[len(x)-k]
	var next []int
	for _, i := range set {
		c := candidates[i]
		if len(c) >= k && c[len(c)-k] == xi {
			next = append(next, i)
		}
	}

	switch {
	case len(next) == 0:
		return nil, false, nil
	case sameParts(next, candidates):
		return next, true, nil
	default:
		return matchReversed(x, next, candidates, k+1)
	}
}

func sameParts(set []int, candidates [][]string) bool {
	first := candidates[set[0]]
	for _, i := range set[1:] {
		c := candidates[i]
		if len(c) != len(first) {
			return false
		}
		for j := range c {
			if c[j] != first[j] {
				return false
			}
		}
	}
	return true
}
