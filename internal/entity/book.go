package entity

import "time"

// Visibility is the access scope of a catalog title.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// ParseVisibility maps client input onto a Visibility. Empty input means PUBLIC.
func ParseVisibility(s string) (Visibility, bool) {
	switch Visibility(s) {
	case "", VisibilityPublic, "public":
		return VisibilityPublic, true
	case VisibilityPrivate, "private":
		return VisibilityPrivate, true
	default:
		return "", false
	}
}

type Book struct {
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	Type            string     `json:"type"`
	Category        string     `json:"category"`
	CopiesTotal     int        `json:"copies_total"`
	CopiesAvailable int        `json:"copies"`
	Owner           string     `json:"owner,omitempty"` // empty for system-owned titles
	Visibility      Visibility `json:"visibility"`
	Version         int64      `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
}

// IsPrivate reports whether the title is restricted to its owner and admins.
func (b Book) IsPrivate() bool {
	return b.Visibility == VisibilityPrivate
}
