package store

import (
	"context"
	"time"

	"circulationapi/internal/entity"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type AccountPG struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewAccountPG(db *pgxpool.Pool, timeout time.Duration) *AccountPG {
	return &AccountPG{db: db, timeout: timeout}
}

func (r *AccountPG) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// Save upserts a unless the stored row already carries a newer version. Loans
// and favourites travel with the account as JSONB so one statement keeps them
// consistent.
func (r *AccountPG) Save(ctx context.Context, a entity.Account) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.save(timeoutCtx, r.db, a)
}

func (r *AccountPG) save(ctx context.Context, q execer, a entity.Account) error {
	const query = `
	INSERT INTO accounts (username, password_hash, role, active_loans, favourites, total_fine_cents, version, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (username) DO UPDATE SET
		password_hash = EXCLUDED.password_hash,
		role = EXCLUDED.role,
		active_loans = EXCLUDED.active_loans,
		favourites = EXCLUDED.favourites,
		total_fine_cents = EXCLUDED.total_fine_cents,
		version = EXCLUDED.version,
		updated_at = NOW()
	WHERE accounts.version < EXCLUDED.version
	`
	loans, err := json.Marshal(a.ActiveLoans)
	if err != nil {
		return err
	}
	favourites, err := json.Marshal(a.FavouriteTitles())
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, query,
		a.Username, a.PasswordHash, string(a.Role), loans, favourites,
		int64(a.TotalFine), a.Version, a.CreatedAt,
	)
	return err
}

func (r *AccountPG) List(ctx context.Context) ([]entity.Account, error) {
	const query = `
	SELECT username, password_hash, role, active_loans, favourites, total_fine_cents, version, created_at
	FROM accounts
	ORDER BY username ASC
	`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Account
	for rows.Next() {
		var (
			a          entity.Account
			role       string
			loans      []byte
			favourites []byte
			fineCents  int64
		)
		if err := rows.Scan(&a.Username, &a.PasswordHash, &role, &loans, &favourites, &fineCents, &a.Version, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Role = entity.Role(role)
		a.TotalFine = entity.Money(fineCents)
		a.ActiveLoans = map[string]entity.Loan{}
		if len(loans) > 0 {
			if err := json.Unmarshal(loans, &a.ActiveLoans); err != nil {
				return nil, err
			}
		}
		var titles []string
		if len(favourites) > 0 {
			if err := json.Unmarshal(favourites, &titles); err != nil {
				return nil, err
			}
		}
		a.Favourites = make(map[string]bool, len(titles))
		for _, t := range titles {
			a.Favourites[t] = true
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
