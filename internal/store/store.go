// Package store owns every Book and Account record. Each record is guarded by
// its own lock; multi-record mutations lock the account before the book and
// commit clones back in one step, so readers never observe a partial change.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"circulationapi/internal/entity"

	"golang.org/x/sync/semaphore"
)

// ErrInvariant is returned when a mutation would leave a record inconsistent.
var ErrInvariant = errors.New("store invariant violated")

//go:generate mockgen -destination=mocks/mock_journal.go -package=mocks circulationapi/internal/store Journal

// Journal persists committed records. Implementations are called outside of
// any store lock.
type Journal interface {
	SaveBook(ctx context.Context, b entity.Book) error
	SaveAccount(ctx context.Context, a entity.Account) error
	AppendTransaction(ctx context.Context, tx entity.Transaction) error
}

// ChangeJournal is implemented by journals that can persist a whole Change
// atomically. WriteBehind prefers it over the per-record Journal methods.
type ChangeJournal interface {
	SaveChange(ctx context.Context, c Change) error
}

// Change is the set of records written by one commit.
type Change struct {
	Books        []entity.Book
	Accounts     []entity.Account
	Transactions []entity.Transaction
}

func (c Change) empty() bool {
	return len(c.Books) == 0 && len(c.Accounts) == 0 && len(c.Transactions) == 0
}

// Observer is notified after each commit, once all locks are released.
type Observer interface {
	Committed(c Change)
}

// Mutation is handed to update callbacks. Account and Book point at private
// clones; they replace the stored records only if the callback returns nil.
type Mutation struct {
	Account *entity.Account
	Book    *entity.Book
	log     []entity.Transaction
}

// Log records a transaction to be committed together with the mutation.
func (m *Mutation) Log(tx entity.Transaction) {
	m.log = append(m.log, tx)
}

// Snapshot is a consistent copy of the whole store.
type Snapshot struct {
	Books    []entity.Book
	Accounts []entity.Account
}

type bookRecord struct {
	sem  *semaphore.Weighted
	book entity.Book
}

type accountRecord struct {
	sem     *semaphore.Weighted
	account entity.Account
}

type Store struct {
	// mapMu guards the maps only, never record contents.
	mapMu    sync.RWMutex
	books    map[string]*bookRecord
	accounts map[string]*accountRecord

	// commitMu is held shared while records are written back and exclusively
	// while a snapshot is copied.
	commitMu sync.RWMutex

	txMu  sync.Mutex
	txs   []entity.Transaction
	txSeq int64

	observer Observer
}

type Option func(*Store)

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

func New(opts ...Option) *Store {
	s := &Store{
		books:    make(map[string]*bookRecord),
		accounts: make(map[string]*accountRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the store contents, typically with records restored from the
// journal at startup. Every loan must belong to a known book and each book must
// satisfy copiesAvailable = copiesTotal - holders. Transactions are ordered by
// Seq.
func (s *Store) Load(books []entity.Book, accounts []entity.Account, txs []entity.Transaction) error {
	bm := make(map[string]*bookRecord, len(books))
	for _, b := range books {
		if err := checkBook(b); err != nil {
			return err
		}
		bm[b.Title] = &bookRecord{sem: semaphore.NewWeighted(1), book: b}
	}
	am := make(map[string]*accountRecord, len(accounts))
	holders := make(map[string]int, len(books))
	for _, a := range accounts {
		if err := checkAccount(a); err != nil {
			return err
		}
		for title := range a.ActiveLoans {
			if _, ok := bm[title]; !ok {
				return fmt.Errorf("%w: %q holds unknown book %q", ErrInvariant, a.Username, title)
			}
			holders[title]++
		}
		am[a.Username] = &accountRecord{sem: semaphore.NewWeighted(1), account: a.Clone()}
	}
	for title, rec := range bm {
		if want := rec.book.CopiesTotal - holders[title]; rec.book.CopiesAvailable != want {
			return fmt.Errorf("%w: %q has %d copies available, %d expected from %d loans",
				ErrInvariant, title, rec.book.CopiesAvailable, want, holders[title])
		}
	}

	log := append([]entity.Transaction(nil), txs...)
	sort.SliceStable(log, func(i, j int) bool { return log[i].Seq < log[j].Seq })
	var seq int64
	if len(log) > 0 {
		seq = log[len(log)-1].Seq
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.mapMu.Lock()
	s.books, s.accounts = bm, am
	s.mapMu.Unlock()

	s.txMu.Lock()
	s.txs, s.txSeq = log, seq
	s.txMu.Unlock()
	return nil
}

func (s *Store) bookRec(title string) (*bookRecord, error) {
	s.mapMu.RLock()
	rec, ok := s.books[title]
	s.mapMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: book %q", entity.ErrNotFound, title)
	}
	return rec, nil
}

func (s *Store) accountRec(username string) (*accountRecord, error) {
	s.mapMu.RLock()
	rec, ok := s.accounts[username]
	s.mapMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: account %q", entity.ErrNotFound, username)
	}
	return rec, nil
}

// acquire takes sem and reports ctx cancellation even when the semaphore was free.
func acquire(ctx context.Context, sem *semaphore.Weighted) error {
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		sem.Release(1)
		return err
	}
	return nil
}

func (s *Store) GetBook(ctx context.Context, title string) (entity.Book, error) {
	rec, err := s.bookRec(title)
	if err != nil {
		return entity.Book{}, err
	}
	if err := acquire(ctx, rec.sem); err != nil {
		return entity.Book{}, err
	}
	defer rec.sem.Release(1)
	return rec.book, nil
}

func (s *Store) GetAccount(ctx context.Context, username string) (entity.Account, error) {
	rec, err := s.accountRec(username)
	if err != nil {
		return entity.Account{}, err
	}
	if err := acquire(ctx, rec.sem); err != nil {
		return entity.Account{}, err
	}
	defer rec.sem.Release(1)
	return rec.account.Clone(), nil
}

// CreateBook inserts b, failing with entity.ErrConflict if the title is taken.
func (s *Store) CreateBook(ctx context.Context, b entity.Book) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkBook(b); err != nil {
		return err
	}
	b.Version = 1

	s.mapMu.Lock()
	if _, ok := s.books[b.Title]; ok {
		s.mapMu.Unlock()
		return fmt.Errorf("%w: book %q", entity.ErrConflict, b.Title)
	}
	s.books[b.Title] = &bookRecord{sem: semaphore.NewWeighted(1), book: b}
	s.mapMu.Unlock()

	s.notify(Change{Books: []entity.Book{b}})
	return nil
}

// CreateAccount inserts a, failing with entity.ErrConflict if the username is taken.
func (s *Store) CreateAccount(ctx context.Context, a entity.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkAccount(a); err != nil {
		return err
	}
	a = a.Clone()
	a.Version = 1

	s.mapMu.Lock()
	if _, ok := s.accounts[a.Username]; ok {
		s.mapMu.Unlock()
		return fmt.Errorf("%w: account %q", entity.ErrConflict, a.Username)
	}
	s.accounts[a.Username] = &accountRecord{sem: semaphore.NewWeighted(1), account: a}
	s.mapMu.Unlock()

	s.notify(Change{Accounts: []entity.Account{a.Clone()}})
	return nil
}

// UpsertBook creates b or replaces the stored record with the same title.
func (s *Store) UpsertBook(ctx context.Context, b entity.Book) error {
	err := s.CreateBook(ctx, b)
	if !errors.Is(err, entity.ErrConflict) {
		return err
	}
	return s.UpdateBook(ctx, b.Title, func(m *Mutation) error {
		version := m.Book.Version
		*m.Book = b
		m.Book.Version = version
		return nil
	})
}

// UpsertAccount creates a or replaces the stored record with the same username.
func (s *Store) UpsertAccount(ctx context.Context, a entity.Account) error {
	err := s.CreateAccount(ctx, a)
	if !errors.Is(err, entity.ErrConflict) {
		return err
	}
	return s.UpdateAccount(ctx, a.Username, func(m *Mutation) error {
		version := m.Account.Version
		*m.Account = a.Clone()
		m.Account.Version = version
		return nil
	})
}

// UpdateBook runs fn against a clone of the book and commits it if fn succeeds.
func (s *Store) UpdateBook(ctx context.Context, title string, fn func(m *Mutation) error) error {
	return s.update(ctx, "", title, fn)
}

// UpdateAccount runs fn against a clone of the account and commits it if fn succeeds.
func (s *Store) UpdateAccount(ctx context.Context, username string, fn func(m *Mutation) error) error {
	return s.update(ctx, username, "", fn)
}

// UpdateAccountAndBook locks the account, then the book, and commits both
// clones together if fn succeeds.
func (s *Store) UpdateAccountAndBook(ctx context.Context, username, title string, fn func(m *Mutation) error) error {
	return s.update(ctx, username, title, fn)
}

func (s *Store) update(ctx context.Context, username, title string, fn func(m *Mutation) error) error {
	change, err := s.commit(ctx, username, title, fn)
	if err != nil {
		return err
	}
	s.notify(change)
	return nil
}

func (s *Store) commit(ctx context.Context, username, title string, fn func(m *Mutation) error) (Change, error) {
	var (
		arec *accountRecord
		brec *bookRecord
		err  error
	)
	if username != "" {
		if arec, err = s.accountRec(username); err != nil {
			return Change{}, err
		}
	}
	if title != "" {
		if brec, err = s.bookRec(title); err != nil {
			return Change{}, err
		}
	}

	if arec != nil {
		if err := acquire(ctx, arec.sem); err != nil {
			return Change{}, err
		}
		defer arec.sem.Release(1)
	}
	if brec != nil {
		if err := acquire(ctx, brec.sem); err != nil {
			return Change{}, err
		}
		defer brec.sem.Release(1)
	}

	m := &Mutation{}
	if arec != nil {
		a := arec.account.Clone()
		m.Account = &a
	}
	if brec != nil {
		b := brec.book
		m.Book = &b
	}
	if err := fn(m); err != nil {
		return Change{}, err
	}

	var change Change
	if m.Account != nil {
		if m.Account.Username != username {
			return Change{}, fmt.Errorf("%w: account key changed", ErrInvariant)
		}
		if err := checkAccount(*m.Account); err != nil {
			return Change{}, err
		}
		m.Account.Version = arec.account.Version + 1
		change.Accounts = []entity.Account{m.Account.Clone()}
	}
	if m.Book != nil {
		if m.Book.Title != title {
			return Change{}, fmt.Errorf("%w: book key changed", ErrInvariant)
		}
		if err := checkBook(*m.Book); err != nil {
			return Change{}, err
		}
		m.Book.Version = brec.book.Version + 1
		change.Books = []entity.Book{*m.Book}
	}

	s.commitMu.RLock()
	if arec != nil {
		arec.account = *m.Account
	}
	if brec != nil {
		brec.book = *m.Book
	}
	if len(m.log) > 0 {
		s.txMu.Lock()
		for i := range m.log {
			s.txSeq++
			m.log[i].Seq = s.txSeq
		}
		s.txs = append(s.txs, m.log...)
		s.txMu.Unlock()
	}
	s.commitMu.RUnlock()
	change.Transactions = m.log

	return change, nil
}

func (s *Store) notify(c Change) {
	if s.observer != nil && !c.empty() {
		s.observer.Committed(c)
	}
}

// Snapshot copies every record at a single instant. Writers are held off only
// while the copy is taken.
func (s *Store) Snapshot() Snapshot {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()

	snap := Snapshot{
		Books:    make([]entity.Book, 0, len(s.books)),
		Accounts: make([]entity.Account, 0, len(s.accounts)),
	}
	for _, rec := range s.books {
		snap.Books = append(snap.Books, rec.book)
	}
	for _, rec := range s.accounts {
		snap.Accounts = append(snap.Accounts, rec.account.Clone())
	}
	return snap
}

func (s *Store) AllBooks() []entity.Book {
	return s.Snapshot().Books
}

func (s *Store) AllAccounts() []entity.Account {
	return s.Snapshot().Accounts
}

// Transactions returns the circulation log of username, oldest first. An empty
// username returns the whole log.
func (s *Store) Transactions(username string) []entity.Transaction {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	out := make([]entity.Transaction, 0)
	for _, tx := range s.txs {
		if username == "" || tx.Username == username {
			out = append(out, tx)
		}
	}
	return out
}

func checkBook(b entity.Book) error {
	switch {
	case b.Title == "":
		return fmt.Errorf("%w: book without title", ErrInvariant)
	case b.CopiesTotal < 0:
		return fmt.Errorf("%w: %q has negative copies", ErrInvariant, b.Title)
	case b.CopiesAvailable < 0 || b.CopiesAvailable > b.CopiesTotal:
		return fmt.Errorf("%w: %q has %d of %d copies available", ErrInvariant, b.Title, b.CopiesAvailable, b.CopiesTotal)
	}
	return nil
}

func checkAccount(a entity.Account) error {
	switch {
	case a.Username == "":
		return fmt.Errorf("%w: account without username", ErrInvariant)
	case a.TotalFine < 0:
		return fmt.Errorf("%w: %q has a negative fine", ErrInvariant, a.Username)
	}
	return nil
}
