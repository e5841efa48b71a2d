package circulation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"circulationapi/internal/access"
	"circulationapi/internal/auth"
	"circulationapi/internal/entity"
	"circulationapi/internal/fine"
	"circulationapi/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultMemberLimit = 3
	DefaultAdminLimit  = 10
)

// Limits caps the number of simultaneous loans per role. Zero or less means
// unlimited.
type Limits struct {
	Member int
	Admin  int
}

func DefaultLimits() Limits {
	return Limits{Member: DefaultMemberLimit, Admin: DefaultAdminLimit}
}

func (l Limits) For(r entity.Role) int {
	if r == entity.RoleAdmin {
		return l.Admin
	}
	return l.Member
}

// NewBook is the input of AddBook. A nil Owner means the requester owns the
// book; only admins may name another owner or "" for a system-owned title.
type NewBook struct {
	Title      string
	Author     string
	Copies     int
	Type       string
	Category   string
	Owner      *string
	Visibility string
}

type BorrowResult struct {
	Title           string    `json:"title"`
	BorrowedOn      time.Time `json:"borrowed_on"`
	DueOn           time.Time `json:"due_on"`
	CopiesAvailable int       `json:"copies_available"`
}

type ReturnResult struct {
	Title       string       `json:"title"`
	ReturnedOn  time.Time    `json:"returned_on"`
	DaysOverdue int          `json:"days_overdue"`
	Fine        entity.Money `json:"fine"`
	TotalFine   entity.Money `json:"total_fine"`
}

type Option func(*Service)

func WithPolicy(p fine.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithLimits(l Limits) Option {
	return func(s *Service) { s.limits = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service runs every circulation operation against the store. Callers pass
// the acting identity explicitly; nothing is read from ambient state.
type Service struct {
	store  *store.Store
	policy fine.Policy
	limits Limits
	now    func() time.Time
	logger zerolog.Logger
}

// NewService creates a new circulation service.
func NewService(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		policy: fine.DefaultPolicy(),
		limits: DefaultLimits(),
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) today() time.Time {
	return fine.Day(s.now())
}

// principal resolves username to an identity. Unknown or empty names are
// reported with ok=false.
func (s *Service) principal(ctx context.Context, username string) (access.Principal, bool, error) {
	if username == "" {
		return access.Anonymous(), false, nil
	}
	a, err := s.store.GetAccount(ctx, username)
	if errors.Is(err, entity.ErrNotFound) {
		return access.Anonymous(), false, nil
	}
	if err != nil {
		return access.Principal{}, false, err
	}
	return access.PrincipalOf(a), true, nil
}

func (s *Service) AddBook(ctx context.Context, actor string, in NewBook) (entity.Book, error) {
	p, ok, err := s.principal(ctx, actor)
	if err != nil {
		return entity.Book{}, err
	}
	if !ok {
		return entity.Book{}, fmt.Errorf("%w: unknown account %q", entity.ErrUnauthorized, actor)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return entity.Book{}, fmt.Errorf("%w: title is required", entity.ErrInvalidInput)
	}
	if in.Copies < 0 {
		return entity.Book{}, fmt.Errorf("%w: copies must not be negative", entity.ErrInvalidInput)
	}
	vis, valid := entity.ParseVisibility(in.Visibility)
	if !valid {
		return entity.Book{}, fmt.Errorf("%w: visibility %q", entity.ErrInvalidInput, in.Visibility)
	}

	owner := p.Username
	if in.Owner != nil && *in.Owner != p.Username {
		if err := access.RequireAdmin(p); err != nil {
			return entity.Book{}, err
		}
		owner = *in.Owner
		if owner != "" {
			if _, err := s.store.GetAccount(ctx, owner); err != nil {
				return entity.Book{}, err
			}
		}
	}

	b := entity.Book{
		Title:           title,
		Author:          strings.TrimSpace(in.Author),
		Type:            strings.TrimSpace(in.Type),
		Category:        strings.TrimSpace(in.Category),
		CopiesTotal:     in.Copies,
		CopiesAvailable: in.Copies,
		Owner:           owner,
		Visibility:      vis,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.CreateBook(ctx, b); err != nil {
		return entity.Book{}, err
	}
	b.Version = 1

	s.logger.Info().Str("actor", p.Username).Str("title", b.Title).Int("copies", b.CopiesTotal).Msg("book added")
	return b, nil
}

// ListCatalog returns the books requester may see, sorted by title. An empty or
// unknown requester sees public books only.
func (s *Service) ListCatalog(ctx context.Context, requester string) ([]entity.Book, error) {
	p, _, err := s.principal(ctx, requester)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return access.FilterCatalog(p, s.store.AllBooks()), nil
}

func (s *Service) Borrow(ctx context.Context, username, title string) (BorrowResult, error) {
	var res BorrowResult
	today := s.today()

	err := s.store.UpdateAccountAndBook(ctx, username, title, func(m *store.Mutation) error {
		p := access.PrincipalOf(*m.Account)
		if err := access.RequireVisible(p, *m.Book); err != nil {
			return err
		}
		if _, ok := m.Account.ActiveLoans[title]; ok {
			return fmt.Errorf("%w: %q by %q", entity.ErrAlreadyBorrowed, title, username)
		}
		if limit := s.limits.For(m.Account.Role); limit > 0 && len(m.Account.ActiveLoans) >= limit {
			return fmt.Errorf("%w: %q has %d active loans", entity.ErrLimitReached, username, len(m.Account.ActiveLoans))
		}
		if m.Book.CopiesAvailable == 0 {
			return fmt.Errorf("%w: %q", entity.ErrOutOfStock, title)
		}

		due := s.policy.DueDate(today, m.Book.Type)
		m.Book.CopiesAvailable--
		m.Account.ActiveLoans[title] = entity.Loan{BorrowedOn: today, DueOn: due}
		m.Log(entity.Transaction{
			ID:         uuid.NewString(),
			Username:   username,
			Title:      title,
			Action:     entity.ActionBorrow,
			OccurredAt: s.now().UTC(),
		})

		res = BorrowResult{Title: title, BorrowedOn: today, DueOn: due, CopiesAvailable: m.Book.CopiesAvailable}
		return nil
	})
	if err != nil {
		return BorrowResult{}, err
	}

	s.logger.Info().Str("username", username).Str("title", title).Time("due_on", res.DueOn).Msg("book borrowed")
	return res, nil
}

func (s *Service) Return(ctx context.Context, username, title string) (ReturnResult, error) {
	var res ReturnResult
	today := s.today()

	err := s.store.UpdateAccountAndBook(ctx, username, title, func(m *store.Mutation) error {
		loan, ok := m.Account.ActiveLoans[title]
		if !ok {
			return fmt.Errorf("%w: %q has no loan of %q", entity.ErrNotFound, username, title)
		}

		charged := s.policy.Fine(loan.DueOn, today, m.Book.Type)
		if m.Book.CopiesAvailable < m.Book.CopiesTotal {
			m.Book.CopiesAvailable++
		}
		delete(m.Account.ActiveLoans, title)
		m.Account.TotalFine += charged
		m.Log(entity.Transaction{
			ID:         uuid.NewString(),
			Username:   username,
			Title:      title,
			Action:     entity.ActionReturn,
			Fine:       charged,
			OccurredAt: s.now().UTC(),
		})

		overdue := fine.DaysBetween(loan.DueOn, today)
		if overdue < 0 {
			overdue = 0
		}
		res = ReturnResult{
			Title:       title,
			ReturnedOn:  today,
			DaysOverdue: overdue,
			Fine:        charged,
			TotalFine:   m.Account.TotalFine,
		}
		return nil
	})
	if err != nil {
		return ReturnResult{}, err
	}

	s.logger.Info().Str("username", username).Str("title", title).Stringer("fine", res.Fine).Msg("book returned")
	return res, nil
}

// ToggleFavorite flips title in username's favourites and reports whether it
// is a favourite afterwards.
func (s *Service) ToggleFavorite(ctx context.Context, username, title string) (bool, error) {
	b, err := s.store.GetBook(ctx, title)
	if err != nil {
		return false, err
	}

	var favourite bool
	err = s.store.UpdateAccount(ctx, username, func(m *store.Mutation) error {
		if err := access.RequireVisible(access.PrincipalOf(*m.Account), b); err != nil {
			return err
		}
		if m.Account.Favourites[title] {
			delete(m.Account.Favourites, title)
		} else {
			m.Account.Favourites[title] = true
		}
		favourite = m.Account.Favourites[title]
		return nil
	})
	if err != nil {
		return false, err
	}
	return favourite, nil
}

func (s *Service) Register(ctx context.Context, actor, username, password string, role entity.Role) (entity.Account, error) {
	p, _, err := s.principal(ctx, actor)
	if err != nil {
		return entity.Account{}, err
	}
	if err := access.RequireAdmin(p); err != nil {
		return entity.Account{}, err
	}
	return s.createAccount(ctx, username, password, role)
}

func (s *Service) createAccount(ctx context.Context, username, password string, role entity.Role) (entity.Account, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return entity.Account{}, fmt.Errorf("%w: username and password are required", entity.ErrInvalidInput)
	}
	if role != entity.RoleMember && role != entity.RoleAdmin {
		return entity.Account{}, fmt.Errorf("%w: role %q", entity.ErrInvalidInput, role)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return entity.Account{}, fmt.Errorf("hash password: %w", err)
	}
	a := entity.NewAccount(username, hash, role, s.now().UTC())
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return entity.Account{}, err
	}
	a.Version = 1

	s.logger.Info().Str("username", username).Str("role", string(role)).Msg("account registered")
	return a, nil
}

// Login checks the credentials. Unknown users and wrong passwords both yield
// entity.ErrUnauthorized.
func (s *Service) Login(ctx context.Context, username, password string) (access.Principal, error) {
	a, err := s.store.GetAccount(ctx, username)
	if errors.Is(err, entity.ErrNotFound) {
		return access.Principal{}, fmt.Errorf("%w: invalid credentials", entity.ErrUnauthorized)
	}
	if err != nil {
		return access.Principal{}, err
	}
	if !auth.VerifyPassword(a.PasswordHash, password) {
		return access.Principal{}, fmt.Errorf("%w: invalid credentials", entity.ErrUnauthorized)
	}
	return access.PrincipalOf(a), nil
}

func (s *Service) ListAccounts(ctx context.Context, actor string) ([]entity.Account, error) {
	p, _, err := s.principal(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	accounts := s.store.AllAccounts()
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Username < accounts[j].Username })
	return accounts, nil
}

func (s *Service) GetAccount(ctx context.Context, actor, username string) (entity.Account, error) {
	p, _, err := s.principal(ctx, actor)
	if err != nil {
		return entity.Account{}, err
	}
	if err := access.RequireSelfOrAdmin(p, username); err != nil {
		return entity.Account{}, err
	}
	return s.store.GetAccount(ctx, username)
}

func (s *Service) History(ctx context.Context, actor, username string) ([]entity.Transaction, error) {
	if _, err := s.GetAccount(ctx, actor, username); err != nil {
		return nil, err
	}
	return s.store.Transactions(username), nil
}

// EnsureAdmin creates the bootstrap administrator when no account exists yet.
// It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	if len(s.store.AllAccounts()) > 0 {
		return false, nil
	}
	_, err := s.createAccount(ctx, username, password, entity.RoleAdmin)
	if errors.Is(err, entity.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger.Warn().Str("username", username).Msg("bootstrap administrator created")
	return true, nil
}
