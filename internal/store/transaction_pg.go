package store

import (
	"context"
	"time"

	"circulationapi/internal/entity"

	"github.com/jackc/pgx/v5/pgxpool"
)

type TransactionPG struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewTransactionPG(db *pgxpool.Pool, timeout time.Duration) *TransactionPG {
	return &TransactionPG{db: db, timeout: timeout}
}

func (r *TransactionPG) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// Append stores tx once; replays of the same id are ignored.
func (r *TransactionPG) Append(ctx context.Context, tx entity.Transaction) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.append(timeoutCtx, r.db, tx)
}

func (r *TransactionPG) append(ctx context.Context, q execer, tx entity.Transaction) error {
	const query = `
	INSERT INTO transactions (seq, id, username, title, action, fine_cents, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING
	`
	_, err := q.Exec(ctx, query, tx.Seq, tx.ID, tx.Username, tx.Title, string(tx.Action), int64(tx.Fine), tx.OccurredAt)
	return err
}

// List returns the log oldest first; an empty username returns every entry.
func (r *TransactionPG) List(ctx context.Context, username string) ([]entity.Transaction, error) {
	const query = `
	SELECT seq, id::text, username, title, action, fine_cents, occurred_at
	FROM transactions
	WHERE $1 = '' OR username = $1
	ORDER BY seq ASC
	`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Transaction
	for rows.Next() {
		var (
			tx        entity.Transaction
			action    string
			fineCents int64
		)
		if err := rows.Scan(&tx.Seq, &tx.ID, &tx.Username, &tx.Title, &action, &fineCents, &tx.OccurredAt); err != nil {
			return nil, err
		}
		tx.Action = entity.Action(action)
		tx.Fine = entity.Money(fineCents)
		out = append(out, tx)
	}
	return out, rows.Err()
}
