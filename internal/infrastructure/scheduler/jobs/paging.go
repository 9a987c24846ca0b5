package jobs

import (
	"context"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/pkg/timeutil"
)

// Yesterday returns the business day before now in loc.
func Yesterday(now time.Time, loc *time.Location) shared.Date {
	return shared.DateIn(timeutil.Yesterday(now, loc), loc)
}

// forEachActive loads every active schedule of the kind page by page, then
// calls fn for each. Loading first keeps the paging stable while fn changes
// schedule statuses. An empty kind walks all kinds.
func forEachActive(ctx context.Context, repo schedule.Repository, kind schedule.Kind, pageSize int, fn func(*schedule.Schedule)) error {
	var all []*schedule.Schedule
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := repo.ListActive(ctx, schedule.ListFilter{Kind: kind, Limit: pageSize, Offset: offset})
		if err != nil {
			return err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}
	for _, s := range all {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fn(s)
	}
	return nil
}
