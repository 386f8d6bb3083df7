package images

import (
	"strconv"
	"strings"
)

// Less orders ids part by part. Parts that are plain integers sort before
// other parts and compare numerically, everything else compares as
// strings. A shorter id sorts before a longer id it prefixes. Ties are
// broken by site so that ids differing only in site stay distinct.
func Less(a, b ImageID) bool {
	l := smallestPartsLen(a.parts, b.parts)

	for i := 0; i < l; i++ {
		if c := comparePart(a.parts[i], b.parts[i]); c != 0 {
			return c < 0
		}
	}

	if len(a.parts) != len(b.parts) {
		return len(a.parts) < len(b.parts)
	}

	return a.site < b.site
}

func comparePart(a, b string) int {
	an, aInt := convertToINT(a)
	bn, bInt := convertToINT(b)

	switch {
	case aInt && bInt:
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return strings.Compare(a, b)
	case aInt:
		return -1
	case bInt:
		return 1
	}

	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func smallestPartsLen(a, b []string) int {
	if len(a) > len(b) {
		return len(b)
	}

	return len(a)
}

// convertToINT accepts only canonical unsigned integers, "007", "+1" and
// "-0" stay strings.
func convertToINT(s string) (int, bool) {
	if s == "" || (s[0] == '0' && len(s) > 1) {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}

	return n, true
}

func byImageID(a, b interface{}) bool {
	return Less(a.(keyed).key(), b.(keyed).key())
}

// keyed is implemented by everything stored in an id ordered btree.
type keyed interface {
	key() ImageID
}

type idKey ImageID

func (k idKey) key() ImageID { return ImageID(k) }
