package models

import (
	"fmt"
	"time"
)

// Filters narrows search results by artifact attributes. A nil *Filters matches everything.
type Filters struct {
	Statuses      []ConsumptionStatus `json:"consumption_status,omitempty"`
	MinImportance *float64            `json:"min_importance,omitempty"`
	DateFrom      *time.Time          `json:"date_from,omitempty"`
	DateTo        *time.Time          `json:"date_to,omitempty"`
}

// Validate checks that every set filter value is usable.
func (f *Filters) Validate() error {
	if f == nil {
		return nil
	}
	for _, s := range f.Statuses {
		if !s.Valid() {
			return &ValidationError{Field: "consumption_status", Message: fmt.Sprintf("unknown status %q", s)}
		}
	}
	if f.MinImportance != nil && (*f.MinImportance < 0 || *f.MinImportance > 1) {
		return &ValidationError{Field: "min_importance", Message: "must be within [0,1]"}
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return &ValidationError{Field: "date_from", Message: "must not be after date_to"}
	}
	return nil
}

// IsEmpty reports whether the filters would accept every artifact.
func (f *Filters) IsEmpty() bool {
	return f == nil || (len(f.Statuses) == 0 && f.MinImportance == nil && f.DateFrom == nil && f.DateTo == nil)
}

// Matches reports whether a passes every set filter.
func (f *Filters) Matches(a *Artifact) bool {
	if f == nil {
		return true
	}
	if len(f.Statuses) > 0 {
		allowed := false
		for _, s := range f.Statuses {
			if a.ConsumptionStatus == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	if f.MinImportance != nil && a.ImportanceScore < *f.MinImportance {
		return false
	}
	if f.DateFrom != nil && !a.CreatedAt.IsZero() && a.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && !a.CreatedAt.IsZero() && a.CreatedAt.After(*f.DateTo) {
		return false
	}
	return true
}

// UnconsumedOnly returns filters that keep artifacts the user has not finished with.
func UnconsumedOnly() *Filters {
	return &Filters{Statuses: []ConsumptionStatus{StatusUnconsumed, StatusReading}}
}
