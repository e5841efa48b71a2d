package entity

import "time"

type Action string

const (
	ActionBorrow Action = "BORROW"
	ActionReturn Action = "RETURN"
)

// Transaction is one entry of the circulation log. Seq orders the log and is
// assigned by the store at commit.
type Transaction struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Title      string    `json:"title"`
	Action     Action    `json:"action"`
	Fine       Money     `json:"fine"`
	OccurredAt time.Time `json:"occurred_at"`
}
