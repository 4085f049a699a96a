package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/schema"
)

const blogColumns = `id, name, url, scraping_schema, proposed_schema, scraping_successful,
	refinement_attempts, last_checked, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBlog(row scanner) (blog.Profile, error) {
	var (
		p                 blog.Profile
		accepted, pending []byte
	)
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.URL,
		&accepted,
		&pending,
		&p.Successful,
		&p.Attempts,
		&p.LastChecked,
		&p.CreatedAt,
	); err != nil {
		return blog.Profile{}, err
	}
	var err error
	if p.Schema, err = decodeSchema(accepted); err != nil {
		return blog.Profile{}, err
	}
	if p.Proposed, err = decodeSchema(pending); err != nil {
		return blog.Profile{}, err
	}
	return p, nil
}

// AddBlog registers a blog. A repeated URL yields blog.ErrDuplicateURL.
func (g *Gateway) AddBlog(ctx context.Context, name, url string) (blog.Profile, error) {
	row := g.pool.QueryRow(ctx, `
INSERT INTO blogs (name, url, scraping_successful, refinement_attempts, created_at)
VALUES ($1, $2, false, 0, now())
RETURNING `+blogColumns, name, url)
	p, err := scanBlog(row)
	if err != nil {
		if isUniqueViolation(err) {
			return blog.Profile{}, fmt.Errorf("add blog %q: %w", url, blog.ErrDuplicateURL)
		}
		return blog.Profile{}, fmt.Errorf("add blog: %w", err)
	}
	return p, nil
}

// GetBlog loads one blog profile.
func (g *Gateway) GetBlog(ctx context.Context, id int64) (blog.Profile, error) {
	row := g.pool.QueryRow(ctx, `SELECT `+blogColumns+` FROM blogs WHERE id = $1`, id)
	p, err := scanBlog(row)
	if err != nil {
		return blog.Profile{}, notFound(err, fmt.Sprintf("get blog %d", id))
	}
	return p, nil
}

// ListBlogs returns every blog ordered by id.
func (g *Gateway) ListBlogs(ctx context.Context) ([]blog.Profile, error) {
	rows, err := g.pool.Query(ctx, `SELECT `+blogColumns+` FROM blogs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list blogs: %w", err)
	}
	defer rows.Close()
	var out []blog.Profile
	for rows.Next() {
		p, err := scanBlog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan blog: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list blogs: %w", err)
	}
	return out, nil
}

// UpsertBlogSchema writes the schema and success flag in one statement.
func (g *Gateway) UpsertBlogSchema(ctx context.Context, id int64, s schema.Schema, accepted bool) error {
	raw, err := encodeSchema(s)
	if err != nil {
		return err
	}
	query := `UPDATE blogs SET proposed_schema = $2, scraping_successful = false WHERE id = $1`
	if accepted {
		query = `UPDATE blogs SET scraping_schema = $2, proposed_schema = NULL, scraping_successful = true WHERE id = $1`
	}
	return g.execOne(ctx, fmt.Sprintf("upsert schema for blog %d", id), query, id, raw)
}

// IncrementAttempts bumps the refinement counter atomically.
func (g *Gateway) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	var n int
	err := g.pool.QueryRow(ctx,
		`UPDATE blogs SET refinement_attempts = refinement_attempts + 1 WHERE id = $1 RETURNING refinement_attempts`,
		id,
	).Scan(&n)
	if err != nil {
		return 0, notFound(err, fmt.Sprintf("increment attempts for blog %d", id))
	}
	return n, nil
}

// ResetAttempts zeroes the refinement counter.
func (g *Gateway) ResetAttempts(ctx context.Context, id int64) error {
	return g.execOne(ctx, fmt.Sprintf("reset attempts for blog %d", id),
		`UPDATE blogs SET refinement_attempts = 0 WHERE id = $1`, id)
}

// TouchChecked records when the blog was last checked.
func (g *Gateway) TouchChecked(ctx context.Context, id int64, at time.Time) error {
	return g.execOne(ctx, fmt.Sprintf("touch blog %d", id),
		`UPDATE blogs SET last_checked = $2 WHERE id = $1`, id, at)
}

// MarkUnsuccessful clears the success flag.
func (g *Gateway) MarkUnsuccessful(ctx context.Context, id int64) error {
	return g.execOne(ctx, fmt.Sprintf("mark blog %d unsuccessful", id),
		`UPDATE blogs SET scraping_successful = false WHERE id = $1`, id)
}

func (g *Gateway) execOne(ctx context.Context, what, query string, args ...any) error {
	tag, err := g.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, blog.ErrNotFound)
	}
	return nil
}
