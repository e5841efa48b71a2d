// Package fine computes due dates and overdue fines at calendar-day granularity.
package fine

import (
	"strings"
	"time"

	"circulationapi/internal/entity"
)

const (
	DefaultLoanPeriodDays = 14
	DefaultFinePerDay     = entity.Money(100)

	// TypeReference titles circulate for a shorter period and cost double when late.
	TypeReference = "Reference"
)

// Rule is the lending rule applied to a book type.
type Rule struct {
	LoanPeriodDays int
	FinePerDay     entity.Money
}

// Policy maps book types onto rules. Lookup is case-insensitive; unknown types
// fall back to Default.
type Policy struct {
	Default Rule
	ByType  map[string]Rule
}

// NewPolicy builds the standard policy from the default rule: reference books
// get half the period (at least one day) and twice the daily fine.
func NewPolicy(loanPeriodDays int, finePerDay entity.Money) Policy {
	ref := Rule{LoanPeriodDays: loanPeriodDays / 2, FinePerDay: finePerDay * 2}
	if ref.LoanPeriodDays < 1 {
		ref.LoanPeriodDays = 1
	}
	return Policy{
		Default: Rule{LoanPeriodDays: loanPeriodDays, FinePerDay: finePerDay},
		ByType: map[string]Rule{
			strings.ToLower(TypeReference): ref,
		},
	}
}

// DefaultPolicy is 14 days at $1.00 per day.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultLoanPeriodDays, DefaultFinePerDay)
}

func (p Policy) RuleFor(bookType string) Rule {
	if r, ok := p.ByType[strings.ToLower(bookType)]; ok {
		return r
	}
	return p.Default
}

// DueDate returns the calendar date a loan started on borrowedOn must be back.
func (p Policy) DueDate(borrowedOn time.Time, bookType string) time.Time {
	return Day(borrowedOn).AddDate(0, 0, p.RuleFor(bookType).LoanPeriodDays)
}

// Fine returns the amount owed when a loan due on dueOn is returned on returnedOn.
func (p Policy) Fine(dueOn, returnedOn time.Time, bookType string) entity.Money {
	days := DaysBetween(dueOn, returnedOn)
	if days <= 0 {
		return 0
	}
	return entity.Money(days) * p.RuleFor(bookType).FinePerDay
}

// Day truncates t to midnight UTC of its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts calendar days from a to b, negative when b is earlier.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}
