package periods

import (
	"errors"
	"strings"
	"time"
)

// PeriodStatus enumerates accounting period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

var (
	// ErrPeriodOverlap indicates the date range intersects another period.
	ErrPeriodOverlap = errors.New("periods: date range overlaps an existing period")
	// ErrPeriodNotFound indicates an unknown period id.
	ErrPeriodNotFound = errors.New("periods: period not found")
	// ErrPeriodAlreadyLocked indicates a repeated lock.
	ErrPeriodAlreadyLocked = errors.New("periods: period already locked")
	// ErrPeriodNotLocked indicates unlock of an open period.
	ErrPeriodNotLocked = errors.New("periods: period not locked")
	// ErrPeriodNotOpen indicates a change to a locked period.
	ErrPeriodNotOpen = errors.New("periods: only open periods can change")
	// ErrPeriodHasEntries indicates journal entries fall inside the period.
	ErrPeriodHasEntries = errors.New("periods: period has journal entries")
)

// Period is a contiguous date range with a lock status.
type Period struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	StartDate time.Time    `json:"start_date"`
	EndDate   time.Time    `json:"end_date"`
	Status    PeriodStatus `json:"status"`
	LockedBy  *int64       `json:"locked_by,omitempty"`
	LockedAt  *time.Time   `json:"locked_at,omitempty"`
	LockNotes string       `json:"lock_notes,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Contains reports whether date falls in [StartDate, EndDate] by calendar day.
func (p Period) Contains(date time.Time) bool {
	d := truncateDay(date)
	return !d.Before(truncateDay(p.StartDate)) && !d.After(truncateDay(p.EndDate))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CreatePeriodInput captures validation rules for new periods.
type CreatePeriodInput struct {
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Validate ensures the create period input is coherent.
func (in CreatePeriodInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("periods: name required")
	}
	return validateRange(in.StartDate, in.EndDate)
}

// UpdatePeriodInput changes name or dates of an open period.
type UpdatePeriodInput struct {
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Validate ensures the update input is coherent.
func (in UpdatePeriodInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("periods: name required")
	}
	return validateRange(in.StartDate, in.EndDate)
}

func validateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return errors.New("periods: start and end date required")
	}
	if start.After(end) {
		return errors.New("periods: start date cannot be after end date")
	}
	return nil
}

// validateTransition checks a status change against the lock policy.
func validateTransition(current, target PeriodStatus) error {
	switch {
	case current == PeriodStatusLocked && target == PeriodStatusLocked:
		return ErrPeriodAlreadyLocked
	case current == PeriodStatusOpen && target == PeriodStatusOpen:
		return ErrPeriodNotLocked
	}
	return nil
}
