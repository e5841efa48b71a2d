// Package access decides who may see a catalog title and who may perform
// account-level operations.
package access

import (
	"fmt"
	"sort"

	"circulationapi/internal/entity"
)

// Principal is the caller identity an engine operation runs as. The zero value
// is an anonymous caller.
type Principal struct {
	Username string
	Role     entity.Role
}

func Anonymous() Principal { return Principal{} }

func PrincipalOf(a entity.Account) Principal {
	return Principal{Username: a.Username, Role: a.Role}
}

func (p Principal) IsAnonymous() bool { return p.Username == "" }

func (p Principal) IsAdmin() bool { return p.Role == entity.RoleAdmin }

// CanSee reports whether b is visible to p: public titles to everyone, private
// titles to their owner and to administrators.
func CanSee(p Principal, b entity.Book) bool {
	if !b.IsPrivate() || p.IsAdmin() {
		return true
	}
	return !p.IsAnonymous() && b.Owner == p.Username
}

// FilterCatalog keeps the books visible to p, ordered by title.
func FilterCatalog(p Principal, books []entity.Book) []entity.Book {
	out := make([]entity.Book, 0, len(books))
	for _, b := range books {
		if CanSee(p, b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

func RequireAdmin(p Principal) error {
	if !p.IsAdmin() {
		return fmt.Errorf("%w: administrator role required", entity.ErrForbidden)
	}
	return nil
}

// RequireSelfOrAdmin allows reading username's account data.
func RequireSelfOrAdmin(p Principal, username string) error {
	if p.IsAdmin() || (!p.IsAnonymous() && p.Username == username) {
		return nil
	}
	return fmt.Errorf("%w: cannot access account %q", entity.ErrForbidden, username)
}

// RequireSelf allows mutating username's loans and favourites. Administrators
// do not act on behalf of other accounts.
func RequireSelf(p Principal, username string) error {
	if !p.IsAnonymous() && p.Username == username {
		return nil
	}
	return fmt.Errorf("%w: cannot act for account %q", entity.ErrForbidden, username)
}

// RequireVisible fails with ErrForbidden when b is private to someone else.
func RequireVisible(p Principal, b entity.Book) error {
	if !CanSee(p, b) {
		return fmt.Errorf("%w: %q is private", entity.ErrForbidden, b.Title)
	}
	return nil
}
