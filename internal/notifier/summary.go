package notifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/censo_downloader/internal/ces"
	"github.com/italolelis/censo_downloader/internal/fleet"
)

// Summary renders a one-message description of a run.
func Summary(r *fleet.Report) string {
	if r == nil {
		return "no run report"
	}

	var b strings.Builder

	if err := r.Err(); err != nil {
		var agg *fleet.AggregateError
		errors.As(err, &agg)

		years := agg.Years()
		fmt.Fprintf(&b, "%d of %d %s years failed:", len(years), len(r.Years), r.Table.Slug())

		for i, y := range years {
			var stageErr *ces.StageError
			if errors.As(r.Failures[y], &stageErr) {
				fmt.Fprintf(&b, "%s%d (%s)", sep(i), y, stageErr.Stage)
			} else {
				fmt.Fprintf(&b, "%s%d", sep(i), y)
			}
		}
	} else {
		fmt.Fprintf(&b, "all %d %s years materialized", len(r.Years), r.Table.Slug())
	}

	var written int64
	for _, res := range r.Results {
		if !res.Cached {
			written += res.Bytes
		}
	}

	fmt.Fprintf(&b, "; downloaded %d (%s), cached %d, run %s",
		len(r.Downloaded()), humanize.Bytes(uint64(written)), len(r.Cached()), r.RunID)

	return b.String()
}

func sep(i int) string {
	if i == 0 {
		return " "
	}

	return ", "
}
