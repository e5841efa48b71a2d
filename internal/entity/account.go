package entity

import (
	"sort"
	"time"
)

// Role decides which administrative operations an account may perform.
type Role string

const (
	RoleMember Role = "MEMBER"
	RoleAdmin  Role = "ADMIN"
)

// ParseRole maps client input onto a Role. Empty input means MEMBER.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case "", RoleMember, "member":
		return RoleMember, true
	case RoleAdmin, "admin":
		return RoleAdmin, true
	default:
		return "", false
	}
}

// Loan is an active borrowing of one title by one account.
type Loan struct {
	BorrowedOn time.Time `json:"borrowed_on"`
	DueOn      time.Time `json:"due_on"`
}

type Account struct {
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Role         Role            `json:"role"`
	ActiveLoans  map[string]Loan `json:"active_loans"`
	Favourites   map[string]bool `json:"-"`
	TotalFine    Money           `json:"total_fine"`
	Version      int64           `json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewAccount returns an account with no loans, no favourites and no fine.
func NewAccount(username, passwordHash string, role Role, now time.Time) Account {
	return Account{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		ActiveLoans:  map[string]Loan{},
		Favourites:   map[string]bool{},
		CreatedAt:    now,
	}
}

// Clone returns a deep copy so callers can mutate it without touching the original.
func (a Account) Clone() Account {
	out := a
	out.ActiveLoans = make(map[string]Loan, len(a.ActiveLoans))
	for k, v := range a.ActiveLoans {
		out.ActiveLoans[k] = v
	}
	out.Favourites = make(map[string]bool, len(a.Favourites))
	for k := range a.Favourites {
		out.Favourites[k] = true
	}
	return out
}

// BorrowedTitles returns the titles of active loans in ascending order.
func (a Account) BorrowedTitles() []string {
	out := make([]string, 0, len(a.ActiveLoans))
	for t := range a.ActiveLoans {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// FavouriteTitles returns the favourites in ascending order.
func (a Account) FavouriteTitles() []string {
	out := make([]string, 0, len(a.Favourites))
	for t := range a.Favourites {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
