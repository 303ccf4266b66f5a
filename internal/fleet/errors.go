package fleet

import (
	"fmt"
	"slices"
	"strings"
)

// AggregateError lists every year that failed in a run.
type AggregateError struct {
	Total    int
	Failures map[int]error
}

// Years returns the failed years in ascending order.
func (e *AggregateError) Years() []int {
	years := make([]int, 0, len(e.Failures))
	for y := range e.Failures {
		years = append(years, y)
	}

	slices.Sort(years)

	return years
}

func (e *AggregateError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%d of %d years failed", len(e.Failures), e.Total)

	for i, y := range e.Years() {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}

		fmt.Fprintf(&b, "%d: %v", y, e.Failures[y])
	}

	return b.String()
}

func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, y := range e.Years() {
		errs = append(errs, e.Failures[y])
	}

	return errs
}
