// Package stats reports library-wide counters.
package stats

import (
	"context"

	"circulationapi/internal/store"
)

type Stats struct {
	TotalBooks    int `json:"totalBooks"`
	ActiveBorrows int `json:"activeBorrows"`
	TotalUsers    int `json:"totalUsers"`
}

// Snapshotter is the part of the store the aggregator reads.
type Snapshotter interface {
	Snapshot() store.Snapshot
}

type Aggregator struct {
	source Snapshotter
}

func NewAggregator(source Snapshotter) *Aggregator {
	return &Aggregator{source: source}
}

// Stats counts books, accounts and active loans from a single snapshot, so
// the numbers always agree with each other.
func (a *Aggregator) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	snap := a.source.Snapshot()

	s := Stats{
		TotalBooks: len(snap.Books),
		TotalUsers: len(snap.Accounts),
	}
	for _, acct := range snap.Accounts {
		s.ActiveBorrows += len(acct.ActiveLoans)
	}
	return s, nil
}
