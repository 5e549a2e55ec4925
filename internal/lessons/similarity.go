package lessons

import "strings"

// DuplicateThreshold is the Jaccard similarity at or above which two
// constraints are considered the same lesson.
const DuplicateThreshold = 0.80

// Similarity computes token-overlap (Jaccard) similarity between two
// strings: lowercase, whitespace-tokenized word sets, intersection over
// union. Two empty strings yield 0, never a division by zero. This is a
// deliberately cheap lexical heuristic, not semantic matching.
func Similarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	union := len(setB)
	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// IsDuplicate reports whether the constraint matches any existing lesson's
// constraint at or above the duplicate threshold.
func IsDuplicate(constraint string, existing []Lesson) bool {
	for _, l := range existing {
		if Similarity(constraint, l.Constraint) >= DuplicateThreshold {
			return true
		}
	}
	return false
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}
