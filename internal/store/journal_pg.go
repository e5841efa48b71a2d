package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"circulationapi/internal/entity"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGJournal persists committed records to PostgreSQL and restores them at startup.
type PGJournal struct {
	db      *pgxpool.Pool
	timeout time.Duration

	Books        *BookPG
	Accounts     *AccountPG
	Transactions *TransactionPG
}

func NewPGJournal(db *pgxpool.Pool, timeout time.Duration) *PGJournal {
	return &PGJournal{
		db:           db,
		timeout:      timeout,
		Books:        NewBookPG(db, timeout),
		Accounts:     NewAccountPG(db, timeout),
		Transactions: NewTransactionPG(db, timeout),
	}
}

func (j *PGJournal) SaveBook(ctx context.Context, b entity.Book) error {
	return j.Books.Save(ctx, b)
}

func (j *PGJournal) SaveAccount(ctx context.Context, a entity.Account) error {
	return j.Accounts.Save(ctx, a)
}

func (j *PGJournal) AppendTransaction(ctx context.Context, tx entity.Transaction) error {
	return j.Transactions.Append(ctx, tx)
}

// SaveChange writes every record of c in one database transaction, so a
// borrow or return is persisted whole or not at all.
func (j *PGJournal) SaveChange(ctx context.Context, c Change) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	tx, err := j.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, a := range c.Accounts {
		if err := j.Accounts.save(ctx, tx, a); err != nil {
			return fmt.Errorf("save account %q: %w", a.Username, err)
		}
	}
	for _, b := range c.Books {
		if err := j.Books.save(ctx, tx, b); err != nil {
			return fmt.Errorf("save book %q: %w", b.Title, err)
		}
	}
	for _, t := range c.Transactions {
		if err := j.Transactions.append(ctx, tx, t); err != nil {
			return fmt.Errorf("append transaction %s: %w", t.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// Restore loads every persisted record into s.
func (j *PGJournal) Restore(ctx context.Context, s *Store) error {
	books, err := j.Books.List(ctx)
	if err != nil {
		return err
	}
	accounts, err := j.Accounts.List(ctx)
	if err != nil {
		return err
	}
	txs, err := j.Transactions.List(ctx, "")
	if err != nil {
		return err
	}
	return s.Load(books, accounts, txs)
}
