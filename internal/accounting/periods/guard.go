package periods

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// Finder returns the period covering a date, or ErrPeriodNotFound.
type Finder interface {
	FindByDate(ctx context.Context, date time.Time) (Period, error)
}

// AssertPostable rejects dates outside any period or inside a locked one. It
// is a pure function of the entry date; already posted entries are never
// re-checked.
func AssertPostable(ctx context.Context, finder Finder, date time.Time) (Period, error) {
	period, err := finder.FindByDate(ctx, date)
	if err != nil {
		if errors.Is(err, ErrPeriodNotFound) {
			return Period{}, accounting.ErrPeriodNotFound
		}
		return Period{}, err
	}
	if period.Status == PeriodStatusLocked {
		return Period{}, &accounting.PeriodLockedError{
			PeriodID:  period.ID,
			Name:      period.Name,
			StartDate: period.StartDate,
			EndDate:   period.EndDate,
		}
	}
	return period, nil
}
