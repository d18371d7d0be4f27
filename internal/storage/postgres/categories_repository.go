package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eventboard/server/internal/domain/events"
	"github.com/eventboard/server/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var _ events.CategoryRepository = (*CategoryRepository)(nil)

type CategoryRepository struct {
	db queryer
}

const categoryColumns = `id, name, version, created_at, updated_at`

func scanCategory(row pgx.Row) (*events.Category, error) {
	var (
		c         events.Category
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		c.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		c.UpdatedAt = updatedAt.Time
	}
	return &c, nil
}

func (r *CategoryRepository) Get(ctx context.Context, id int64) (*events.Category, error) {
	c, err := scanCategory(r.db.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

func (r *CategoryRepository) Create(ctx context.Context, name string) (*events.Category, error) {
	c, err := scanCategory(r.db.QueryRow(ctx, `
INSERT INTO categories (name, version) VALUES ($1, $2)
RETURNING `+categoryColumns, name, events.InitialVersion))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, events.ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (r *CategoryRepository) UpdateIfVersion(ctx context.Context, id int64, expected int64, patch events.CategoryPatch) (c *events.Category, err error) {
	start := time.Now()
	defer func() { metrics.RecordQuery("update_category", start, err) }()

	c, err = scanCategory(r.db.QueryRow(ctx, `
UPDATE categories
   SET name = COALESCE($3::text, name),
       version = version + 1,
       updated_at = now()
 WHERE id = $1 AND version = $2
RETURNING `+categoryColumns, id, expected, patch.Name))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, events.ErrVersionConflict
		case isUniqueViolation(err):
			return nil, events.ErrAlreadyExists
		}
		return nil, fmt.Errorf("update category: %w", err)
	}
	return c, nil
}

func (r *CategoryRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return events.ErrNotFound
	}
	return nil
}

func (r *CategoryRepository) List(ctx context.Context) ([]events.Category, error) {
	rows, err := r.db.Query(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]events.Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan categories: %w", err)
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return items, nil
}
