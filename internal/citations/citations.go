// Package citations extracts and validates the [i] references a generated
// answer makes against the numbered context it was shown.
package citations

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/mixmentor/mixmentor/internal/metrics"
)

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Result of validating an answer's citations
type Result struct {
	Citations []int // Valid, deduplicated, ascending
	Invalid   bool  // True when any reference fell outside 1..n
}

// Validate extracts every [integer] reference from answer, deduplicates, and
// keeps those within 1..n. Out-of-range references set Invalid; they never
// fail the request. Validation is idempotent: validating an answer built
// from the returned citation set reports no invalid references.
func Validate(answer string, n int) Result {
	matches := citationPattern.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return Result{}
	}

	seen := make(map[int]bool, len(matches))
	var out []int
	invalid := false
	for _, m := range matches {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			// Digits too large for int still count as a bad reference
			invalid = true
			continue
		}
		if idx < 1 || idx > n {
			invalid = true
			continue
		}
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	sort.Ints(out)

	if invalid {
		metrics.InvalidCitations.Inc()
	}
	return Result{Citations: out, Invalid: invalid}
}
