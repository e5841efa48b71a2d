package store

import (
	"context"
	"time"

	"circulationapi/internal/entity"

	"github.com/jackc/pgx/v5/pgxpool"
)

type BookPG struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewBookPG(db *pgxpool.Pool, timeout time.Duration) *BookPG {
	return &BookPG{db: db, timeout: timeout}
}

func (r *BookPG) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// Save upserts b unless the stored row already carries a newer version.
func (r *BookPG) Save(ctx context.Context, b entity.Book) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.save(timeoutCtx, r.db, b)
}

func (r *BookPG) save(ctx context.Context, q execer, b entity.Book) error {
	const query = `
	INSERT INTO books (title, author, book_type, category, copies_total, copies_available, owner, visibility, version, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)
	ON CONFLICT (title) DO UPDATE SET
		author = EXCLUDED.author,
		book_type = EXCLUDED.book_type,
		category = EXCLUDED.category,
		copies_total = EXCLUDED.copies_total,
		copies_available = EXCLUDED.copies_available,
		owner = EXCLUDED.owner,
		visibility = EXCLUDED.visibility,
		version = EXCLUDED.version,
		updated_at = NOW()
	WHERE books.version < EXCLUDED.version
	`
	visibility := b.Visibility
	if visibility == "" {
		visibility = entity.VisibilityPublic
	}
	_, err := q.Exec(ctx, query,
		b.Title, b.Author, b.Type, b.Category, b.CopiesTotal, b.CopiesAvailable,
		b.Owner, string(visibility), b.Version, b.CreatedAt,
	)
	return err
}

func (r *BookPG) List(ctx context.Context) ([]entity.Book, error) {
	const query = `
	SELECT title, author, book_type, category, copies_total, copies_available,
	       COALESCE(owner, ''), visibility, version, created_at
	FROM books
	ORDER BY title ASC
	`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Book
	for rows.Next() {
		var b entity.Book
		var visibility string
		if err := rows.Scan(
			&b.Title, &b.Author, &b.Type, &b.Category, &b.CopiesTotal, &b.CopiesAvailable,
			&b.Owner, &visibility, &b.Version, &b.CreatedAt,
		); err != nil {
			return nil, err
		}
		b.Visibility = entity.Visibility(visibility)
		out = append(out, b)
	}
	return out, rows.Err()
}
